// Package tracker implements the per-player live-match state machine. It
// consumes decoded game presence and drives three transitions per player:
// create (first in-game observation with a loaded map), update (score
// change pushed to the report renderer) and end (scoreboard reset back to
// zero, the only end-of-match signal the presence feed carries).
package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/valobridge-project/valobridge/internal/events"
	"github.com/valobridge-project/valobridge/internal/util"
	"github.com/valobridge-project/valobridge/internal/xmpp"
)

// LinkStore is the slice of the identity-link store the tracker consults
// before creating a match: tracking is pointless until the remote player is
// linked to a local user with a report channel.
type LinkStore interface {
	GetUserID(remoteID string) (string, bool, error)
	GetChannel(remoteID string) (string, bool, error)
	GetOrCreateOTP(remoteID string) (int, error)
}

// Reporter posts and updates rendered match cards on a channel, returning
// the message handle used for idempotent future updates.
type Reporter interface {
	Post(ctx context.Context, channelID string, report *Report) (string, error)
	Update(ctx context.Context, channelID, messageID string, report *Report) (string, error)
}

// NameResolver resolves a player id to a display name and tagline.
type NameResolver interface {
	ResolveName(ctx context.Context, playerID string) (name, tagline string, err error)
}

// Catalog supplies read-once display metadata for new matches.
type Catalog interface {
	MapName(matchMapURL string) (string, bool)
	MapImage(matchMapURL string) (string, bool)
	PlayerCardIcon(cardID string) (string, bool)
	RankName(tier int) string
}

// MatchState is one live match being tracked for a remote player. Entries
// are owned exclusively by the tracker; nothing else holds one across calls.
type MatchState struct {
	PlayerID   string
	AllyScore  int
	EnemyScore int
	Ended      bool

	// Read-once display metadata fetched on creation.
	GameName     string
	TagLine      string
	MapName      string
	MapImageURL  string
	CardIconURL  string
	QueueID      string
	AccountLevel int
	RankName     string

	// Destination and handle for report updates.
	ChannelID string
	MessageID string
}

func (m *MatchState) report() *Report {
	return &Report{
		PlayerID:     m.PlayerID,
		GameName:     m.GameName,
		TagLine:      m.TagLine,
		QueueID:      m.QueueID,
		MapName:      m.MapName,
		AllyScore:    m.AllyScore,
		EnemyScore:   m.EnemyScore,
		AccountLevel: m.AccountLevel,
		RankName:     m.RankName,
		CardIconURL:  m.CardIconURL,
		MapImageURL:  m.MapImageURL,
		Ended:        m.Ended,
	}
}

// Tracker holds the live matches for one chat session. All transitions for
// the same player are serialized under the tracker mutex; updates arrive in
// receive order from the single session read loop.
type Tracker struct {
	mu      sync.Mutex
	matches map[string]*MatchState

	account  string
	store    LinkStore
	reporter Reporter
	names    NameResolver
	catalog  Catalog
	bus      *events.Bus
	logger   zerolog.Logger
}

var _ xmpp.PresenceSink = (*Tracker)(nil)

// New creates a tracker for one session.
func New(account string, store LinkStore, reporter Reporter, names NameResolver, catalog Catalog, bus *events.Bus) *Tracker {
	return &Tracker{
		matches:  make(map[string]*MatchState),
		account:  account,
		store:    store,
		reporter: reporter,
		names:    names,
		catalog:  catalog,
		bus:      bus,
		logger:   util.ComponentLogger("tracker").With().Str("account", account).Logger(),
	}
}

// HandlePresence applies one presence observation. The returned reply, if
// non-empty, is an onboarding prompt the session should send back to the
// player over chat. Presence without game state or outside an active match
// is ignored entirely and never touches existing entries.
func (t *Tracker) HandlePresence(ctx context.Context, fromJID string, gp *xmpp.GamePresence) (reply string, err error) {
	if gp == nil || !gp.InGame() {
		return "", nil
	}

	playerID := xmpp.PlayerIDFromJID(fromJID)
	if playerID == "" {
		return "", fmt.Errorf("presence stanza has no sender")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	match, exists := t.matches[playerID]
	if !exists {
		return t.create(ctx, playerID, gp)
	}
	return "", t.update(ctx, match, gp)
}

// create handles the first in-game observation for a player. An empty map
// id means the session is still loading its lobby; wait for the next
// observation instead of creating a half-populated entry.
func (t *Tracker) create(ctx context.Context, playerID string, gp *xmpp.GamePresence) (string, error) {
	if gp.MatchMap == "" {
		return "", nil
	}

	// Linking gates tracking entirely: an unlinked player gets an OTP
	// prompt, a linked player without a channel gets a setup prompt.
	if _, linked, err := t.store.GetUserID(playerID); err != nil {
		return "", fmt.Errorf("link lookup for %s: %w", playerID, err)
	} else if !linked {
		code, err := t.store.GetOrCreateOTP(playerID)
		if err != nil {
			return "", fmt.Errorf("otp issuance for %s: %w", playerID, err)
		}
		return fmt.Sprintf("Please link your Discord account with /link using this OTP code: %06d", code), nil
	}

	channelID, ok, err := t.store.GetChannel(playerID)
	if err != nil {
		return "", fmt.Errorf("channel lookup for %s: %w", playerID, err)
	}
	if !ok {
		return "Please link a report channel using /link_channel", nil
	}

	match := &MatchState{
		PlayerID:     playerID,
		AllyScore:    gp.AllyScore,
		EnemyScore:   gp.EnemyScore,
		QueueID:      gp.QueueID,
		AccountLevel: gp.AccountLevel,
		RankName:     t.catalog.RankName(gp.CompetitiveTier),
		ChannelID:    channelID,
	}

	if name, tagline, err := t.names.ResolveName(ctx, playerID); err != nil {
		t.logger.Warn().Err(err).Str("player", playerID).Msg("name lookup failed, using player id")
		match.GameName = playerID
	} else {
		match.GameName, match.TagLine = name, tagline
	}

	if mapName, ok := t.catalog.MapName(gp.MatchMap); ok {
		match.MapName = mapName
	} else {
		match.MapName = gp.MatchMap
	}
	if image, ok := t.catalog.MapImage(gp.MatchMap); ok {
		match.MapImageURL = image
	}
	if icon, ok := t.catalog.PlayerCardIcon(gp.PlayerCardID); ok {
		match.CardIconURL = icon
	}

	t.matches[playerID] = match
	t.pushReport(ctx, match)

	t.logger.Info().
		Str("player", playerID).
		Str("map", match.MapName).
		Str("queue", match.QueueID).
		Msg("match created")

	t.emit(ctx, events.EventMatchCreated, match)
	return "", nil
}

// update applies a subsequent observation to a live entry. A scoreboard
// reset from a positive total to exactly zero is the terminal signal; the
// entry is removed in the same cycle and the score is not touched again.
func (t *Tracker) update(ctx context.Context, match *MatchState, gp *xmpp.GamePresence) error {
	prevTotal := match.AllyScore + match.EnemyScore
	newTotal := gp.AllyScore + gp.EnemyScore

	if prevTotal > 0 && newTotal == 0 {
		match.Ended = true
		delete(t.matches, match.PlayerID)

		t.logger.Info().
			Str("player", match.PlayerID).
			Int("ally", match.AllyScore).
			Int("enemy", match.EnemyScore).
			Msg("match ended")

		t.emit(ctx, events.EventMatchEnded, match)
		return nil
	}

	match.AllyScore = gp.AllyScore
	match.EnemyScore = gp.EnemyScore
	t.pushReport(ctx, match)
	t.emit(ctx, events.EventMatchUpdated, match)
	return nil
}

// pushReport renders the current state to the report channel. A failed post
// leaves the handle empty so the next cycle retries with a fresh post; no
// report failure may abort the transition that triggered it.
func (t *Tracker) pushReport(ctx context.Context, match *MatchState) {
	var (
		handle string
		err    error
	)
	if match.MessageID == "" {
		handle, err = t.reporter.Post(ctx, match.ChannelID, match.report())
	} else {
		handle, err = t.reporter.Update(ctx, match.ChannelID, match.MessageID, match.report())
	}
	if err != nil {
		t.logger.Error().Err(err).Str("player", match.PlayerID).Msg("failed to push match report")
		return
	}
	match.MessageID = handle
}

func (t *Tracker) emit(ctx context.Context, eventType events.EventType, match *MatchState) {
	if t.bus == nil {
		return
	}
	t.bus.Emit(ctx, events.Event{
		Type:   eventType,
		Source: "tracker:" + t.account,
		Payload: events.MatchPayload{
			Account:    t.account,
			PlayerID:   match.PlayerID,
			GameName:   match.GameName,
			TagLine:    match.TagLine,
			MapName:    match.MapName,
			QueueID:    match.QueueID,
			AllyScore:  match.AllyScore,
			EnemyScore: match.EnemyScore,
		},
	})
}

// Active returns a snapshot of the live matches, for the status surfaces.
func (t *Tracker) Active() []MatchState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]MatchState, 0, len(t.matches))
	for _, m := range t.matches {
		out = append(out, *m)
	}
	return out
}

// Len returns the number of live matches.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.matches)
}

// DropAll clears every entry. Called when the owning session closes; match
// state is ephemeral and never survives a reconnect.
func (t *Tracker) DropAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.matches = make(map[string]*MatchState)
}
