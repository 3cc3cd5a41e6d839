package riot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthServer simulates the authorization endpoint: the init POST sets
// the pending-auth cookie, the credential PUT answers with whatever
// response the test configured.
type fakeAuthServer struct {
	t *testing.T

	authResponse map[string]any
	mfaResponse  map[string]any

	initCalls atomic.Int32
	putCalls  atomic.Int32
}

func (f *fakeAuthServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			f.initCalls.Add(1)
			http.SetCookie(w, &http.Cookie{Name: "asid", Value: "pending-session"})
			json.NewEncoder(w).Encode(map[string]any{"type": "auth"})

		case http.MethodPut:
			f.putCalls.Add(1)
			if c, err := r.Cookie("asid"); err != nil || c.Value != "pending-session" {
				f.t.Error("credential PUT arrived without the pending-auth cookie")
			}

			var body map[string]string
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

			resp := f.authResponse
			if body["type"] == "multifactor" {
				resp = f.mfaResponse
			}
			json.NewEncoder(w).Encode(resp)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func successResponse(access, id string) map[string]any {
	return map[string]any{
		"type": "response",
		"response": map[string]any{
			"parameters": map[string]any{
				"uri": fmt.Sprintf("http://localhost/redirect#access_token=%s&id_token=%s&expires_in=3600", access, id),
			},
		},
	}
}

func newTestClient(authURL string) *Client {
	c := NewClient("tester", "hunter2")
	c.endpoints.AuthURL = authURL
	return c
}

func TestParseFragmentTokens(t *testing.T) {
	tokens, err := ParseFragmentTokens("http://localhost/redirect#access_token=AAA&id_token=BBB&expires_in=3600")
	require.NoError(t, err)
	assert.Equal(t, "AAA", tokens["access_token"])
	assert.Equal(t, "BBB", tokens["id_token"])
	assert.Equal(t, "3600", tokens["expires_in"])
}

func TestParseFragmentTokens_NoFragment(t *testing.T) {
	_, err := ParseFragmentTokens("http://localhost/redirect")
	assert.Error(t, err)
}

func TestParseFragmentTokens_MalformedPair(t *testing.T) {
	_, err := ParseFragmentTokens("http://localhost/redirect#access_token")
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	fake := &fakeAuthServer{t: t, authResponse: successResponse("AAA", "BBB")}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(srv.URL)
	require.NoError(t, c.Authenticate(context.Background()))

	tokens := c.Tokens()
	assert.Equal(t, "AAA", tokens.AccessToken)
	assert.Equal(t, "BBB", tokens.IDToken)

	// Already authenticated: no further network traffic.
	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, int32(1), fake.putCalls.Load())
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	fake := &fakeAuthServer{t: t, authResponse: map[string]any{"type": "auth_failure"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, c.Tokens().AccessToken)
}

func TestAuthenticate_MultiFactor(t *testing.T) {
	fake := &fakeAuthServer{
		t: t,
		authResponse: map[string]any{
			"type": "multifactor",
			"multifactor": map[string]any{
				"email":                 "t***@example.com",
				"multiFactorCodeLength": 6,
			},
		},
		mfaResponse: successResponse("AAA", "BBB"),
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(srv.URL)
	err := c.Authenticate(context.Background())
	require.True(t, IsMultiFactor(err))

	var mfa *MultiFactorError
	require.True(t, errors.As(err, &mfa))
	assert.Equal(t, "t***@example.com", mfa.Email)
	assert.Equal(t, 6, mfa.CodeLength)

	// Completing the challenge on the same client reuses the pending session.
	require.NoError(t, c.SubmitMFACode(context.Background(), "123456"))
	assert.Equal(t, "AAA", c.Tokens().AccessToken)
}

func TestEntitlementToken(t *testing.T) {
	fake := &fakeAuthServer{t: t, authResponse: successResponse("AAA", "BBB")}
	authSrv := httptest.NewServer(fake.handler())
	defer authSrv.Close()

	var entCalls atomic.Int32
	entSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entCalls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer AAA", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"entitlements_token": "ENT"})
	}))
	defer entSrv.Close()

	c := newTestClient(authSrv.URL)
	c.endpoints.EntitlementURL = entSrv.URL

	token, err := c.EntitlementToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ENT", token)

	// Memoized on repeat.
	_, err = c.EntitlementToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), entCalls.Load())
}

func TestPASToken_RawTextBody(t *testing.T) {
	fake := &fakeAuthServer{t: t, authResponse: successResponse("AAA", "BBB")}
	authSrv := httptest.NewServer(fake.handler())
	defer authSrv.Close()

	pasSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer AAA", r.Header.Get("Authorization"))
		// The endpoint answers plain text, not JSON.
		fmt.Fprint(w, "PAS-TOKEN\n")
	}))
	defer pasSrv.Close()

	c := newTestClient(authSrv.URL)
	c.endpoints.PASURL = pasSrv.URL

	token, err := c.PASToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PAS-TOKEN", token)
}

func TestResolveRegion(t *testing.T) {
	fake := &fakeAuthServer{t: t, authResponse: successResponse("AAA", "BBB")}
	authSrv := httptest.NewServer(fake.handler())
	defer authSrv.Close()

	var geoCalls atomic.Int32
	geoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		geoCalls.Add(1)
		assert.Equal(t, http.MethodPut, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BBB", body["id_token"])

		json.NewEncoder(w).Encode(map[string]any{
			"affinities": map[string]string{"live": "eu"},
		})
	}))
	defer geoSrv.Close()

	c := newTestClient(authSrv.URL)
	c.endpoints.GeoURL = geoSrv.URL

	region, err := c.ResolveRegion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eu", region.Region)
	assert.Equal(t, "eu", region.Shard)

	// Resolved once per session.
	_, err = c.ResolveRegion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), geoCalls.Load())
}

func TestLookupName(t *testing.T) {
	fake := &fakeAuthServer{t: t, authResponse: successResponse("AAA", "BBB")}
	authSrv := httptest.NewServer(fake.handler())
	defer authSrv.Close()

	entSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"entitlements_token": "ENT"})
	}))
	defer entSrv.Close()

	pdSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Bearer AAA", r.Header.Get("Authorization"))
		assert.Equal(t, "ENT", r.Header.Get("X-Riot-Entitlements-JWT"))

		var ids []string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ids))
		assert.Equal(t, []string{"player-1"}, ids)

		json.NewEncoder(w).Encode([]PlayerName{{GameName: "Jett", TagLine: "EUW"}})
	}))
	defer pdSrv.Close()

	c := newTestClient(authSrv.URL)
	c.endpoints.EntitlementURL = entSrv.URL
	c.pdBaseURL = pdSrv.URL

	name, err := c.LookupName(context.Background(), Region{Region: "eu", Shard: "eu"}, "player-1")
	require.NoError(t, err)
	assert.Equal(t, "Jett#EUW", name.String())
}

func TestReset(t *testing.T) {
	fake := &fakeAuthServer{t: t, authResponse: successResponse("AAA", "BBB")}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestClient(srv.URL)
	require.NoError(t, c.Authenticate(context.Background()))
	require.NotEmpty(t, c.Tokens().AccessToken)

	c.Reset()
	assert.Empty(t, c.Tokens().AccessToken)

	// A fresh exchange runs after reset.
	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, int32(2), fake.putCalls.Load())
}

func TestRegionChatHosts(t *testing.T) {
	tests := []struct {
		affinity string
		region   string
		shard    string
		chatHost string
	}{
		{"eu", "eu", "eu", "ru1.chat.si.riotgames.com"},
		{"na", "na", "na", "na2.chat.si.riotgames.com"},
		{"br", "br", "na", "br.chat.si.riotgames.com"},
		{"ap", "ap", "ap", "as2.chat.si.riotgames.com"},
	}

	for _, tt := range tests {
		region, err := RegionFromAffinity(tt.affinity)
		require.NoError(t, err, tt.affinity)
		assert.Equal(t, tt.region, region.Region)
		assert.Equal(t, tt.shard, region.Shard)
		assert.Equal(t, tt.chatHost, region.ChatHost())
	}

	_, err := RegionFromAffinity("moon")
	assert.Error(t, err)

	// Unknown regions still get a syntactically valid chat host.
	unknown := Region{Region: "xx", Shard: "xx"}
	assert.Equal(t, "xx.chat.si.riotgames.com", unknown.ChatHost())
}
