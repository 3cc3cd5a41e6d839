package riot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const nameServicePath = "/name-service/v2/players"

// PlayerName is a display name resolved from the name service.
type PlayerName struct {
	GameName string `json:"GameName"`
	TagLine  string `json:"TagLine"`
}

// String renders the name in the usual Name#Tag form.
func (n PlayerName) String() string {
	return n.GameName + "#" + n.TagLine
}

// ResolveName resolves a player id to its display name and tagline using
// the client's own resolved region.
func (c *Client) ResolveName(ctx context.Context, playerID string) (string, string, error) {
	region, err := c.ResolveRegion(ctx)
	if err != nil {
		return "", "", err
	}
	name, err := c.LookupName(ctx, region, playerID)
	if err != nil {
		return "", "", err
	}
	return name.GameName, name.TagLine, nil
}

// LookupName resolves the display name for a player id against the region's
// persistent-data server. Requires the entitlement and access tokens, so the
// full exchange chain runs on first use.
func (c *Client) LookupName(ctx context.Context, region Region, playerID string) (PlayerName, error) {
	access, err := c.AccessToken(ctx)
	if err != nil {
		return PlayerName{}, err
	}
	entitlement, err := c.EntitlementToken(ctx)
	if err != nil {
		return PlayerName{}, err
	}

	payload, err := json.Marshal([]string{playerID})
	if err != nil {
		return PlayerName{}, err
	}

	base := region.PDServerURL()
	if c.pdBaseURL != "" {
		base = c.pdBaseURL
	}
	url := base + nameServicePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return PlayerName{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("X-Riot-Entitlements-JWT", entitlement)

	resp, err := c.http.Do(req)
	if err != nil {
		return PlayerName{}, fmt.Errorf("name lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PlayerName{}, fmt.Errorf("failed to read name lookup response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return PlayerName{}, fmt.Errorf("name service returned status %d: %s", resp.StatusCode, string(body))
	}

	var names []PlayerName
	if err := json.Unmarshal(body, &names); err != nil {
		return PlayerName{}, fmt.Errorf("failed to decode name lookup response: %w", err)
	}
	if len(names) == 0 {
		return PlayerName{}, fmt.Errorf("name service returned no entries for %s", playerID)
	}
	return names[0], nil
}
