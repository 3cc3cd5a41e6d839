// Package refdata loads the static game catalogs (maps, player cards) the
// report cards need, plus the fixed rank-tier table. Catalogs are fetched
// once, explicitly, at process start and injected by reference; nothing
// here runs network I/O at package load time.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://valorant-api.com"

// MapInfo is one playable map record.
type MapInfo struct {
	UUID        string `json:"uuid"`
	DisplayName string `json:"displayName"`
	MapURL      string `json:"mapUrl"`
	Splash      string `json:"splash"`
}

// PlayerCard is one player-card record.
type PlayerCard struct {
	UUID        string `json:"uuid"`
	DisplayName string `json:"displayName"`
	DisplayIcon string `json:"displayIcon"`
}

// Catalog holds the loaded reference data. Read-only after Load, so lookups
// need no locking beyond the loaded flag.
type Catalog struct {
	mu     sync.RWMutex
	loaded bool

	baseURL string
	http    *http.Client

	mapsByURL map[string]MapInfo
	cards     map[string]PlayerCard
}

// NewCatalog creates an empty catalog against the game-data API at baseURL.
// An empty baseURL selects the public API.
func NewCatalog(baseURL string) *Catalog {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Catalog{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		mapsByURL: make(map[string]MapInfo),
		cards:     make(map[string]PlayerCard),
	}
}

// Load fetches the map and player-card catalogs. Call once at startup.
func (c *Catalog) Load(ctx context.Context) error {
	var maps []MapInfo
	if err := c.fetch(ctx, "/v1/maps", &maps); err != nil {
		return fmt.Errorf("failed to load map catalog: %w", err)
	}

	var cards []PlayerCard
	if err := c.fetch(ctx, "/v1/playercards", &cards); err != nil {
		return fmt.Errorf("failed to load player-card catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range maps {
		if m.MapURL != "" {
			c.mapsByURL[m.MapURL] = m
		}
	}
	for _, card := range cards {
		c.cards[card.UUID] = card
	}
	c.loaded = true

	log.Info().
		Int("maps", len(c.mapsByURL)).
		Int("player_cards", len(c.cards)).
		Msg("reference catalogs loaded")
	return nil
}

// fetch gets one catalog endpoint; payloads are wrapped in a "data" field.
func (c *Catalog) fetch(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return json.Unmarshal(wrapper.Data, out)
}

// MapName resolves a presence matchMap url to a display name.
func (c *Catalog) MapName(matchMapURL string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mapsByURL[matchMapURL]
	if !ok {
		return "", false
	}
	return m.DisplayName, true
}

// MapImage resolves a presence matchMap url to its splash image url.
func (c *Catalog) MapImage(matchMapURL string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mapsByURL[matchMapURL]
	if !ok || m.Splash == "" {
		return "", false
	}
	return m.Splash, true
}

// PlayerCardIcon resolves a player-card id to its icon url.
func (c *Catalog) PlayerCardIcon(cardID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	card, ok := c.cards[cardID]
	if !ok || card.DisplayIcon == "" {
		return "", false
	}
	return card.DisplayIcon, true
}

// Loaded reports whether Load has completed.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}
