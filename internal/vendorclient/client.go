// Package vendorclient implements the shared HTTP-client policy layer for
// outbound Lightspeed X-Series calls: breaker + limiter + retry + 401
// refresh + idempotency header (spec.md §4.3).
package vendorclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lsxsync/queue-service/internal/breaker"
	"github.com/lsxsync/queue-service/internal/oauthclient"
	"github.com/lsxsync/queue-service/internal/platform/apperrors"
	"github.com/lsxsync/queue-service/internal/platform/logger"
	"github.com/lsxsync/queue-service/internal/platform/metrics"
	"github.com/lsxsync/queue-service/internal/ratelimiter"
)

// Response is the normalized shape of a vendor HTTP call.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Config configures the client's policy knobs. The values are fixed for the
// client's lifetime: cmd/main.go fills Enabled once at startup from the
// runtime config store's vend.http.enabled flag, and the other fields from
// the bootstrap config (internal/platform/config).
type Config struct {
	Enabled       bool
	APIBase       string
	Timeout       time.Duration
	RetryAttempts int
	RateLimitKey  string
}

// Client is the shared vendor HTTP client.
type Client struct {
	http      *http.Client
	oauth     *oauthclient.Client
	breaker   *breaker.Breaker
	limiter   *ratelimiter.Limiter
	logger    *logger.Logger
	cfg       Config
	window    *statusWindow
}

func New(cfg Config, oauth *oauthclient.Client, br *breaker.Breaker, lim *ratelimiter.Limiter, log *logger.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &Client{
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		oauth:   oauth,
		breaker: br,
		limiter: lim,
		logger:  log,
		cfg:     cfg,
		window:  newStatusWindow(15 * time.Minute),
	}
}

// Rate5xx reports the fraction of calls within the trailing window that
// returned a 5xx status, feeding the health grader's vendor.rate_5xx_5m.
func (c *Client) Rate5xx(window time.Duration) float64 {
	return c.window.rateWhere(window, func(status int) bool { return status >= 500 })
}

// Rate429 reports the fraction of calls within the trailing window that
// returned 429, feeding vendor.rate_429_5m.
func (c *Client) Rate429(window time.Duration) float64 {
	return c.window.rateWhere(window, func(status int) bool { return status == http.StatusTooManyRequests })
}

// BreakerTripped exposes vend.cb.tripped for the grader without requiring
// it to hold the breaker registry directly.
func (c *Client) BreakerTripped() bool {
	return c.breaker.Tripped()
}

// statusWindow is an in-memory ring of recent call outcomes used to compute
// rolling error rates. Process-local only: each replica grades its own
// traffic, which matches the grader's "read locally observed metrics" scope.
type statusWindow struct {
	mu      sync.Mutex
	retain  time.Duration
	records []statusRecord
}

type statusRecord struct {
	at     time.Time
	status int
}

func newStatusWindow(retain time.Duration) *statusWindow {
	return &statusWindow{retain: retain}
}

func (w *statusWindow) record(status int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, statusRecord{at: time.Now(), status: status})
	w.prune()
}

func (w *statusWindow) prune() {
	cutoff := time.Now().Add(-w.retain)
	i := 0
	for i < len(w.records) && w.records[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.records = w.records[i:]
	}
}

func (w *statusWindow) rateWhere(window time.Duration, match func(status int) bool) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := time.Now().Add(-window)
	total, matched := 0, 0
	for _, r := range w.records {
		if r.at.Before(cutoff) {
			continue
		}
		total++
		if match(r.status) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

// Request performs one logical vendor call with the full policy wrap:
// enabled check, breaker, rate limit, retry with backoff, 401-refresh.
func (c *Client) Request(ctx context.Context, method, pathOrURL string, body interface{}, idempotencyKey string) (*Response, error) {
	if !c.cfg.Enabled {
		return nil, apperrors.New(apperrors.KindInternal, "VEND_HTTP_DISABLED", "outbound vendor HTTP is disabled", nil)
	}

	if !c.breaker.Allow() {
		return nil, apperrors.BreakerOpen(c.breaker.Until().Format(time.RFC3339))
	}

	if !c.limiter.Allow(ctx, c.cfg.RateLimitKey) {
		return nil, apperrors.RateLimited(60)
	}

	fullURL := c.resolveURL(pathOrURL)

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, apperrors.Internal("failed to marshal request body", err)
		}
	}

	maxAttempts := c.cfg.RetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	refreshedOnce := false
	for attempt := 1; attempt <= maxAttempts+1; attempt++ {
		resp, err := c.doOnce(ctx, method, fullURL, bodyBytes, idempotencyKey)
		if err != nil {
			lastErr = err
			c.breaker.RecordFailure()
			if attempt <= maxAttempts {
				sleepWithJitter(attempt)
				continue
			}
			break
		}

		switch {
		case resp.Status == http.StatusUnauthorized && !refreshedOnce:
			refreshedOnce = true
			if _, refreshErr := c.oauth.Refresh(ctx); refreshErr != nil {
				c.breaker.RecordFailure()
				return nil, apperrors.Unauthorized("vendor rejected credentials and refresh failed: " + refreshErr.Error())
			}
			continue
		case resp.Status == http.StatusConflict:
			// Duplicate per idempotency: coerce to success (spec.md §4.2).
			c.breaker.RecordSuccess()
			return resp, nil
		case resp.Status == http.StatusTooManyRequests || resp.Status >= 500:
			c.breaker.RecordFailure()
			lastErr = apperrors.TransientVendor(fmt.Sprintf("vendor returned status %d", resp.Status), resp.Status)
			if attempt <= maxAttempts {
				sleepWithJitter(attempt)
				continue
			}
		case resp.Status >= 400:
			c.breaker.RecordSuccess()
			return resp, apperrors.Validation(fmt.Sprintf("vendor rejected request with status %d", resp.Status), map[string]interface{}{
				"status": resp.Status,
				"body":   string(resp.Body),
			})
		default:
			c.breaker.RecordSuccess()
			return resp, nil
		}
	}

	if lastErr == nil {
		lastErr = apperrors.TransientVendor("exhausted retries with no successful response", 0)
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, fullURL string, bodyBytes []byte, idempotencyKey string) (*Response, error) {
	start := time.Now()

	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	token, err := c.oauth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire oauth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.VendorHTTPStatusTotal.WithLabelValues("network_error").Inc()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	statusClass := fmt.Sprintf("%dxx", resp.StatusCode/100)
	metrics.VendorHTTPLatencyMs.WithLabelValues(method, statusClass).Observe(float64(latency.Milliseconds()))
	metrics.VendorHTTPStatusTotal.WithLabelValues(statusClass).Inc()
	c.window.record(resp.StatusCode)

	return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: respBody}, nil
}

func (c *Client) resolveURL(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL
	}
	base := strings.TrimRight(c.cfg.APIBase, "/")
	u, err := url.Parse(base + "/" + strings.TrimLeft(pathOrURL, "/"))
	if err != nil {
		return base + pathOrURL
	}
	return u.String()
}

// sleepWithJitter implements spec.md §4.3's retry sleep:
// min(250ms*attempts + rand(0..250ms), 1200ms).
func sleepWithJitter(attempt int) {
	d := time.Duration(attempt)*250*time.Millisecond + time.Duration(rand.Int63n(int64(250*time.Millisecond)))
	if d > 1200*time.Millisecond {
		d = 1200 * time.Millisecond
	}
	time.Sleep(d)
}
