// Package store implements the identity-link store on SQLite: one-time
// onboarding codes, account links between local users and remote game
// identities, and per-player report channel links. The store is shared by
// every chat session and the REST command surface, so reads are concurrent
// and writes serialized; OTP redemption is a single transaction so a code
// can never be redeemed twice.
package store

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// otpCodeSpace is the exclusive upper bound for generated codes (6 digits).
const otpCodeSpace = 1_000_000

// ErrAlreadyLinked indicates an account link for the pair already exists.
// Links are never silently overwritten.
var ErrAlreadyLinked = errors.New("account link already exists")

// ErrCodeNotFound indicates the OTP code does not exist (never issued, or
// already redeemed and deleted).
var ErrCodeNotFound = errors.New("otp code not found")

// ErrNotLinked indicates the local user has no account link yet.
var ErrNotLinked = errors.New("user is not linked")

// Link is one account link row, for the status surfaces.
type Link struct {
	UserID    string
	RemoteID  string
	ChannelID string
}

// Store wraps the SQLite connection.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the store at the given path and migrates the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", dbPath, err)
	}

	// SQLite does not support concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	log.Info().Str("path", dbPath).Msg("identity-link store opened")
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS otp_codes (
			remote_id TEXT NOT NULL,
			code INTEGER NOT NULL UNIQUE,
			PRIMARY KEY (remote_id)
		);

		CREATE TABLE IF NOT EXISTS account_links (
			remote_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (remote_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS channel_links (
			remote_id TEXT NOT NULL PRIMARY KEY,
			channel_id TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_account_links_user ON account_links(user_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetUserID returns the local user linked to a remote identity.
func (s *Store) GetUserID(remoteID string) (string, bool, error) {
	var userID string
	err := s.db.QueryRow("SELECT user_id FROM account_links WHERE remote_id = ?", remoteID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

// GetRemoteID returns the remote identity linked to a local user.
func (s *Store) GetRemoteID(userID string) (string, bool, error) {
	var remoteID string
	err := s.db.QueryRow("SELECT remote_id FROM account_links WHERE user_id = ?", userID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return remoteID, true, nil
}

// AddLink creates an account link. Fails with ErrAlreadyLinked rather than
// overwriting an existing pair.
func (s *Store) AddLink(userID, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow(
		"SELECT 1 FROM account_links WHERE remote_id = ? AND user_id = ?", remoteID, userID,
	).Scan(&exists)
	if err == nil {
		return ErrAlreadyLinked
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = s.db.Exec("INSERT INTO account_links (remote_id, user_id) VALUES (?, ?)", remoteID, userID)
	return err
}

// DeleteLink removes the account link and channel link for a remote id.
func (s *Store) DeleteLink(remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM account_links WHERE remote_id = ?", remoteID); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM channel_links WHERE remote_id = ?", remoteID)
	return err
}

// GetChannel returns the report channel configured for a remote identity.
func (s *Store) GetChannel(remoteID string) (string, bool, error) {
	var channelID string
	err := s.db.QueryRow("SELECT channel_id FROM channel_links WHERE remote_id = ?", remoteID).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return channelID, true, nil
}

// SetChannel records the report channel for the remote identity linked to a
// local user. The user must already be linked.
func (s *Store) SetChannel(userID, channelID string) error {
	remoteID, ok, err := s.GetRemoteID(userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotLinked)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO channel_links (remote_id, channel_id) VALUES (?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET channel_id = excluded.channel_id`,
		remoteID, channelID)
	return err
}

// GetOrCreateOTP returns the onboarding code for a remote identity, minting
// one on first use. Reissuing never creates duplicate codes for the same
// identity.
func (s *Store) GetOrCreateOTP(remoteID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var code int
	err := s.db.QueryRow("SELECT code FROM otp_codes WHERE remote_id = ?", remoteID).Scan(&code)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	for {
		code, err = randomCode()
		if err != nil {
			return 0, err
		}
		var taken int
		err = s.db.QueryRow("SELECT 1 FROM otp_codes WHERE code = ?", code).Scan(&taken)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return 0, err
		}
	}

	if _, err := s.db.Exec("INSERT INTO otp_codes (remote_id, code) VALUES (?, ?)", remoteID, code); err != nil {
		return 0, err
	}
	return code, nil
}

// IsCodeValid returns the remote identity a code was issued for.
func (s *Store) IsCodeValid(code int) (string, bool, error) {
	var remoteID string
	err := s.db.QueryRow("SELECT remote_id FROM otp_codes WHERE code = ?", code).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return remoteID, true, nil
}

// DeleteCode removes any code issued to a remote identity.
func (s *Store) DeleteCode(remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM otp_codes WHERE remote_id = ?", remoteID)
	return err
}

// Redeem validates a code, creates the account link and burns the code in
// one transaction. A code is redeemable at most once; a concurrent second
// redemption observes the deletion and fails with ErrCodeNotFound.
func (s *Store) Redeem(code int, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin redeem transaction: %w", err)
	}
	defer tx.Rollback()

	var remoteID string
	err = tx.QueryRow("SELECT remote_id FROM otp_codes WHERE code = ?", code).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", err
	}

	var exists int
	err = tx.QueryRow(
		"SELECT 1 FROM account_links WHERE remote_id = ? AND user_id = ?", remoteID, userID,
	).Scan(&exists)
	if err == nil {
		return "", ErrAlreadyLinked
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if _, err := tx.Exec("INSERT INTO account_links (remote_id, user_id) VALUES (?, ?)", remoteID, userID); err != nil {
		return "", err
	}
	if _, err := tx.Exec("DELETE FROM otp_codes WHERE remote_id = ?", remoteID); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit redeem transaction: %w", err)
	}
	return remoteID, nil
}

// ListLinks returns all account links with their channel configuration.
func (s *Store) ListLinks() ([]Link, error) {
	rows, err := s.db.Query(`
		SELECT a.user_id, a.remote_id, COALESCE(c.channel_id, '')
		FROM account_links a
		LEFT JOIN channel_links c ON c.remote_id = a.remote_id
		ORDER BY a.user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.UserID, &l.RemoteID, &l.ChannelID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func randomCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpCodeSpace))
	if err != nil {
		return 0, fmt.Errorf("failed to generate otp code: %w", err)
	}
	return int(n.Int64()), nil
}
