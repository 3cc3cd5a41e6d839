// Package riot implements the multi-step Riot authentication chain and the
// small set of authenticated API calls the bridge needs: region affinity
// resolution and display-name lookups. Tokens are derived in a fixed order
// (access/id pair, then entitlement, PAS and region) and memoized for the
// lifetime of one chat session.
package riot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/valobridge-project/valobridge/internal/util"
)

const (
	defaultAuthURL        = "https://auth.riotgames.com/api/v1/authorization"
	defaultEntitlementURL = "https://entitlements.auth.riotgames.com/api/token/v1"
	defaultUserInfoURL    = "https://auth.riotgames.com/userinfo"
	defaultGeoURL         = "https://riot-geo.pas.si.riotgames.com/pas/v1/product/valorant"
	defaultPASURL         = "https://riot-geo.pas.si.riotgames.com/pas/v1/service/chat"

	clientUserAgent = "RiotClient/91.0.2.1870 riot-status (Windows;10;;Professional, x64)"
	requestTimeout  = 30 * time.Second
)

// Endpoints holds the auth service URLs. Overridable so tests can point the
// client at a local server.
type Endpoints struct {
	AuthURL        string
	EntitlementURL string
	UserInfoURL    string
	GeoURL         string
	PASURL         string
}

// DefaultEndpoints returns the production Riot endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthURL:        defaultAuthURL,
		EntitlementURL: defaultEntitlementURL,
		UserInfoURL:    defaultUserInfoURL,
		GeoURL:         defaultGeoURL,
		PASURL:         defaultPASURL,
	}
}

// TokenSet is a snapshot of the credential chain for one session. Fields are
// empty until the corresponding exchange has run.
type TokenSet struct {
	AccessToken      string
	IDToken          string
	EntitlementToken string
	PASToken         string
}

// Client drives the Riot authentication flow and caches the resulting
// tokens. The flow mutates session cookies held in the client's jar, so one
// Client must not be shared between game accounts.
type Client struct {
	mu sync.Mutex

	http      *http.Client
	endpoints Endpoints
	pdBaseURL string // overrides the region-derived pd server when set
	logger    zerolog.Logger

	username string
	password string

	tokens TokenSet
	region *Region
}

// NewClient creates a client for one account. The cookie jar is required:
// the authorization-init call establishes a pending-auth session that the
// credential PUT and any MFA resubmission depend on.
func NewClient(username, password string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		http: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
		endpoints: DefaultEndpoints(),
		logger:    util.ComponentLogger("riot").With().Str("account", username).Logger(),
		username:  username,
		password:  password,
	}
}

// Tokens returns a snapshot of the current token set.
func (c *Client) Tokens() TokenSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// Reset discards all cached tokens and the resolved region. Called before a
// full reconnect so the next session runs the exchange chain from scratch.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = TokenSet{}
	c.region = nil
	jar, _ := cookiejar.New(nil)
	c.http.Jar = jar
}

// authResponse is the discriminated response shape of the authorization
// endpoint. Only the fields the flow branches on are decoded.
type authResponse struct {
	Type  string `json:"type"`
	Error string `json:"error"`

	Response struct {
		Parameters struct {
			URI string `json:"uri"`
		} `json:"parameters"`
	} `json:"response"`

	Multifactor struct {
		Email      string `json:"email"`
		CodeLength int    `json:"multiFactorCodeLength"`
	} `json:"multifactor"`
}

// Authenticate runs the primary credential exchange: an authorization-init
// POST establishing the pending-auth cookies, then a PUT carrying the
// username and password. On success the access and id tokens are parsed out
// of the URL-fragment field of the response and cached.
//
// A multi-factor challenge surfaces as *MultiFactorError; the caller should
// collect a code and call SubmitMFACode on this same client.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokens.AccessToken != "" {
		return nil
	}

	if err := c.initAuthSession(ctx); err != nil {
		return err
	}

	body := map[string]string{
		"language": "en_US",
		"password": c.password,
		"remember": "true",
		"type":     "auth",
		"username": c.username,
	}

	resp, err := c.putAuth(ctx, body)
	if err != nil {
		return err
	}

	return c.consumeAuthResponse(resp)
}

// SubmitMFACode completes a pending multi-factor flow by resubmitting the
// code. The response carries the same fragment-encoded token pair as the
// primary exchange and is parsed identically.
func (c *Client) SubmitMFACode(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := map[string]string{
		"type":           "multifactor",
		"code":           code,
		"rememberDevice": "true",
	}

	resp, err := c.putAuth(ctx, body)
	if err != nil {
		return err
	}

	return c.consumeAuthResponse(resp)
}

// initAuthSession performs the authorization-init POST. Its only effect is
// the pending-auth cookie set on the shared jar.
func (c *Client) initAuthSession(ctx context.Context) error {
	payload := map[string]string{
		"acr_values":    "urn:riot:bronze",
		"claims":        "",
		"client_id":     "riot-client",
		"nonce":         "oYnVwCSrlS5IHKh7iI16oQ",
		"redirect_uri":  "http://localhost/redirect",
		"response_type": "token id_token",
		"scope":         "openid link ban lol_region",
	}

	var discard authResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoints.AuthURL, payload, &discard); err != nil {
		return fmt.Errorf("authorization init failed: %w", err)
	}
	return nil
}

func (c *Client) putAuth(ctx context.Context, body map[string]string) (*authResponse, error) {
	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPut, c.endpoints.AuthURL, body, &resp); err != nil {
		return nil, fmt.Errorf("credential exchange failed: %w", err)
	}
	return &resp, nil
}

// consumeAuthResponse inspects the response discriminator and either caches
// the token pair or surfaces the failure. Caller holds c.mu.
func (c *Client) consumeAuthResponse(resp *authResponse) error {
	switch resp.Type {
	case "response":
		tokens, err := ParseFragmentTokens(resp.Response.Parameters.URI)
		if err != nil {
			return fmt.Errorf("token exchange response: %w", err)
		}
		access, ok := tokens["access_token"]
		if !ok || access == "" {
			return fmt.Errorf("token exchange response missing access_token")
		}
		c.tokens.AccessToken = access
		c.tokens.IDToken = tokens["id_token"]
		c.logger.Info().Msg("authenticated with riot")
		return nil

	case "multifactor":
		return &MultiFactorError{
			Email:      resp.Multifactor.Email,
			CodeLength: resp.Multifactor.CodeLength,
		}

	case "error", "auth_failure":
		return ErrInvalidCredentials

	default:
		if resp.Error != "" {
			return fmt.Errorf("auth endpoint error %q: %w", resp.Error, ErrInvalidCredentials)
		}
		return fmt.Errorf("unexpected auth response type %q", resp.Type)
	}
}

// ParseFragmentTokens extracts key=value pairs from the URL-fragment query
// string the auth endpoint embeds in its JSON response, e.g.
// "http://localhost/redirect#access_token=AAA&id_token=BBB".
func ParseFragmentTokens(uri string) (map[string]string, error) {
	_, fragment, found := strings.Cut(uri, "#")
	if !found {
		return nil, fmt.Errorf("no fragment in redirect uri %q", uri)
	}

	tokens := make(map[string]string)
	for _, pair := range strings.Split(fragment, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed fragment pair %q", pair)
		}
		tokens[key] = value
	}
	return tokens, nil
}

// AccessToken returns the cached access token, running the primary exchange
// if it has not happened yet.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.tokens.AccessToken
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	return c.Tokens().AccessToken, nil
}

// IDToken returns the cached id token. It is produced atomically with the
// access token, so this never triggers a separate network call.
func (c *Client) IDToken(ctx context.Context) (string, error) {
	if _, err := c.AccessToken(ctx); err != nil {
		return "", err
	}
	return c.Tokens().IDToken, nil
}

// EntitlementToken exchanges the access token for an entitlement token via
// a single POST with an empty JSON body. Cached after the first call.
func (c *Client) EntitlementToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.tokens.EntitlementToken
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	access, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	var out struct {
		EntitlementsToken string `json:"entitlements_token"`
	}
	if err := c.doBearerJSON(ctx, http.MethodPost, c.endpoints.EntitlementURL, access, map[string]string{}, &out); err != nil {
		return "", fmt.Errorf("entitlement exchange failed: %w", err)
	}
	if out.EntitlementsToken == "" {
		return "", fmt.Errorf("entitlement exchange returned empty token")
	}

	c.mu.Lock()
	c.tokens.EntitlementToken = out.EntitlementsToken
	c.mu.Unlock()
	return out.EntitlementsToken, nil
}

// PASToken fetches the chat-service PAS token. The endpoint returns the
// token as a raw text body, not JSON.
func (c *Client) PASToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.tokens.PASToken
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	access, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.PASURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pas token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read pas token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pas token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	token := strings.TrimSpace(string(body))
	c.mu.Lock()
	c.tokens.PASToken = token
	c.mu.Unlock()
	return token, nil
}

// ResolveRegion resolves the live region affinity from the geo endpoint
// using the id token. Resolved once per session.
func (c *Client) ResolveRegion(ctx context.Context) (Region, error) {
	c.mu.Lock()
	if c.region != nil {
		region := *c.region
		c.mu.Unlock()
		return region, nil
	}
	c.mu.Unlock()

	access, err := c.AccessToken(ctx)
	if err != nil {
		return Region{}, err
	}
	idToken, err := c.IDToken(ctx)
	if err != nil {
		return Region{}, err
	}

	var out struct {
		Affinities struct {
			Live string `json:"live"`
		} `json:"affinities"`
	}
	if err := c.doBearerJSON(ctx, http.MethodPut, c.endpoints.GeoURL, access, map[string]string{"id_token": idToken}, &out); err != nil {
		return Region{}, fmt.Errorf("region affinity lookup failed: %w", err)
	}

	region, err := RegionFromAffinity(out.Affinities.Live)
	if err != nil {
		return Region{}, err
	}

	c.mu.Lock()
	c.region = &region
	c.mu.Unlock()

	c.logger.Info().
		Str("region", region.Region).
		Str("shard", region.Shard).
		Str("chat_host", region.ChatHost()).
		Msg("region resolved")

	return region, nil
}

// doJSON performs a JSON request without auth headers and decodes the body.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	return c.do(ctx, method, url, "", body, out)
}

// doBearerJSON performs a JSON request with a Bearer token.
func (c *Client) doBearerJSON(ctx context.Context, method, url, bearer string, body, out any) error {
	return c.do(ctx, method, url, bearer, body, out)
}

func (c *Client) do(ctx context.Context, method, url, bearer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", clientUserAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d: %s", url, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}
