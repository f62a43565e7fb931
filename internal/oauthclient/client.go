// Package oauthclient acquires and refreshes the vendor OAuth bearer token
// used by internal/vendorclient. Generalizes the teacher's user-facing JWT
// token-pair shape (pkg/auth/jwt.go) to a vendor-issued access token.
package oauthclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lsxsync/queue-service/internal/platform/logger"
)

// Token is a vendor-issued bearer token. Permanent (never-expiring) tokens
// are tolerated: ExpiresAt is the zero value and IsExpired always reports
// false for them, per spec.md §2's "permanent-token tolerance".
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	Permanent   bool
}

func (t Token) IsExpired() bool {
	if t.Permanent {
		return false
	}
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// Client acquires and refreshes tokens against the vendor's OAuth token
// endpoint, or tolerates a statically configured permanent token.
type Client struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	logger       *logger.Logger

	mu           sync.Mutex
	current      Token
	staticToken  string
}

func New(tokenURL, clientID, clientSecret, staticToken string, log *logger.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		staticToken:  staticToken,
		logger:       log,
	}
}

// Token returns a valid access token, refreshing it first if expired. If a
// static (permanent) token was configured, it is always returned as-is.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.staticToken != "" {
		return c.staticToken, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current.IsExpired() && c.current.AccessToken != "" {
		return c.current.AccessToken, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh forces a token refresh regardless of expiry, used by the HTTP
// client's 401-refresh-and-retry path (spec.md §4.3).
func (c *Client) Refresh(ctx context.Context) (string, error) {
	if c.staticToken != "" {
		return c.staticToken, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.current = Token{
		AccessToken: body.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	c.logger.Info("oauth token refreshed", "event", "oauth.refreshed", "expires_in_s", body.ExpiresIn)
	return c.current.AccessToken, nil
}
