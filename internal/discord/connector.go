// Package discord implements the report renderer boundary: posting and
// updating rendered match cards as channel embeds over the Discord REST
// API, plus bearer-token verification for the management API.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/valobridge-project/valobridge/internal/tracker"
)

const (
	defaultAPIURL  = "https://discord.com/api/v10"
	tokenCacheTTL  = 20 * time.Minute
	requestTimeout = 10 * time.Second
)

// User is a Discord user from the OAuth2 API.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Connector talks to the Discord REST API with a bot token. It implements
// tracker.Reporter: Post/Update return the message id used as the
// idempotent handle for later updates of the same card.
type Connector struct {
	mu sync.RWMutex

	apiURL   string
	botToken string
	client   *http.Client

	tokenCache map[string]cachedToken
}

type cachedToken struct {
	user      User
	expiresAt time.Time
}

// NewConnector creates a connector with the given bot token.
func NewConnector(botToken string) *Connector {
	return &Connector{
		apiURL:     defaultAPIURL,
		botToken:   botToken,
		client:     &http.Client{Timeout: requestTimeout},
		tokenCache: make(map[string]cachedToken),
	}
}

// Post publishes a new match card on the channel and returns its message id.
func (c *Connector) Post(ctx context.Context, channelID string, report *tracker.Report) (string, error) {
	url := fmt.Sprintf("%s/channels/%s/messages", c.apiURL, channelID)
	return c.sendCard(ctx, http.MethodPost, url, report)
}

// Update edits an existing match card in place. Safe to call repeatedly
// with the same handle.
func (c *Connector) Update(ctx context.Context, channelID, messageID string, report *tracker.Report) (string, error) {
	url := fmt.Sprintf("%s/channels/%s/messages/%s", c.apiURL, channelID, messageID)
	return c.sendCard(ctx, http.MethodPatch, url, report)
}

func (c *Connector) sendCard(ctx context.Context, method, url string, report *tracker.Report) (string, error) {
	payload, err := json.Marshal(buildCardPayload(report))
	if err != nil {
		return "", fmt.Errorf("failed to marshal match card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.botToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("discord request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read discord response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("discord returned status %d: %s", resp.StatusCode, string(body))
	}

	var msg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("failed to decode discord message: %w", err)
	}
	if msg.ID == "" {
		return "", fmt.Errorf("discord response missing message id")
	}

	log.Debug().Str("message_id", msg.ID).Str("player", report.PlayerID).Msg("match card pushed")
	return msg.ID, nil
}

// buildCardPayload renders a report into a Discord embed payload.
func buildCardPayload(report *tracker.Report) map[string]any {
	author := fmt.Sprintf("%s#%s - %s %d-%d",
		report.GameName, report.TagLine, report.QueueID, report.AllyScore, report.EnemyScore)

	embed := map[string]any{
		"title":       fmt.Sprintf("%s — %s", report.MapName, report.Status()),
		"color":       report.Color(),
		"description": fmt.Sprintf("Score: **%d - %d**", report.AllyScore, report.EnemyScore),
		"author": map[string]any{
			"name":     author,
			"icon_url": report.CardIconURL,
		},
		"fields": []map[string]any{
			{"name": "Level", "value": fmt.Sprintf("%d", report.AccountLevel), "inline": true},
			{"name": "Rank", "value": report.RankName, "inline": true},
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if report.MapImageURL != "" {
		embed["image"] = map[string]any{"url": report.MapImageURL}
	}

	return map[string]any{
		"embeds": []map[string]any{embed},
	}
}

// VerifyToken verifies a Discord OAuth2 bearer token and returns the user.
// Results are cached to keep management API calls off Discord's rate limits.
func (c *Connector) VerifyToken(ctx context.Context, token string) (*User, error) {
	c.mu.RLock()
	cached, ok := c.tokenCache[token]
	c.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		user := cached.user
		return &user, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/users/@me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord token verification failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		delete(c.tokenCache, token)
		c.mu.Unlock()
		return nil, fmt.Errorf("invalid or expired discord token")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("discord returned status %d: %s", resp.StatusCode, string(body))
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode discord user: %w", err)
	}

	c.mu.Lock()
	c.tokenCache[token] = cachedToken{user: user, expiresAt: time.Now().Add(tokenCacheTTL)}
	c.mu.Unlock()
	return &user, nil
}
