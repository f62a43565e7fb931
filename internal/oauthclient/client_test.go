package oauthclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsxsync/queue-service/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestClient_Token_StaticTokenNeverHitsTheNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("static token configured, the token endpoint must not be called")
	}))
	defer server.Close()

	c := New(server.URL, "id", "secret", "permanent-token", testLogger(t))
	token, err := c.Token(t.Context())

	require.NoError(t, err)
	assert.Equal(t, "permanent-token", token)
}

func TestClient_Token_FetchesAndCachesUntilExpiry(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-1",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	c := New(server.URL, "id", "secret", "", testLogger(t))

	tok1, err := c.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok1)

	tok2, err := c.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok2)
	assert.Equal(t, 1, calls, "a non-expired token must be served from cache")
}

func TestClient_Refresh_AlwaysHitsTheEndpointEvenIfNotExpired(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok-refreshed",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	c := New(server.URL, "id", "secret", "", testLogger(t))
	_, err := c.Token(t.Context())
	require.NoError(t, err)

	tok, err := c.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "tok-refreshed", tok)
	assert.Equal(t, 2, calls)
}

func TestClient_Token_ErrorsOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := New(server.URL, "id", "secret", "", testLogger(t))
	_, err := c.Token(t.Context())

	assert.Error(t, err)
}

func TestToken_IsExpired(t *testing.T) {
	assert.False(t, Token{Permanent: true}.IsExpired())
	assert.False(t, Token{}.IsExpired(), "zero ExpiresAt means not yet fetched, not expired")
	assert.True(t, Token{ExpiresAt: time.Now().Add(-time.Minute)}.IsExpired())
	assert.False(t, Token{ExpiresAt: time.Now().Add(time.Minute)}.IsExpired())
}
