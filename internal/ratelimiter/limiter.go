// Package ratelimiter implements the Postgres-backed minute-bucket counter
// from spec.md §3 ("Rate-limit counter — composite key (rl_key,
// window_start)"), mirrored by an in-process token bucket so the HTTP
// client doesn't round-trip the database on every outbound call.
package ratelimiter

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lsxsync/queue-service/internal/platform/logger"
)

// Limiter enforces a per-minute budget for a single rl_key (e.g.
// "vend.http"). The in-memory rate.Limiter is authoritative within one
// process; the Postgres row records every allowed call so other processes
// can see the count. A mirror starts with a full budget when Configure is
// called; it is not seeded from the Postgres row.
type Limiter struct {
	db     *sql.DB
	logger *logger.Logger

	mu       sync.Mutex
	mirrors  map[string]*rate.Limiter
	perMinut map[string]int
}

func New(db *sql.DB, log *logger.Logger) *Limiter {
	return &Limiter{
		db:       db,
		logger:   log,
		mirrors:  make(map[string]*rate.Limiter),
		perMinut: make(map[string]int),
	}
}

// Configure sets (or updates) the per-minute budget for a key.
func (l *Limiter) Configure(key string, perMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perMinut[key] = perMinute
	l.mirrors[key] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(maxInt(perMinute, 1))), maxInt(perMinute, 1))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Allow consumes a token from the in-memory mirror, and opportunistically
// persists the increment to the Postgres minute-bucket counter so other
// processes can converge. Returns false if the in-process budget for the
// current minute is exhausted.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	l.mu.Lock()
	mirror, ok := l.mirrors[key]
	l.mu.Unlock()
	if !ok {
		l.Configure(key, 120)
		l.mu.Lock()
		mirror = l.mirrors[key]
		l.mu.Unlock()
	}

	if !mirror.Allow() {
		return false
	}

	if err := l.incrementCounter(ctx, key); err != nil {
		l.logger.Warn("rate limiter: failed to sync counter to store", "event", "ratelimit.sync_failed", "key", key, "error", err)
	}
	return true
}

func (l *Limiter) incrementCounter(ctx context.Context, key string) error {
	windowStart := time.Now().UTC().Truncate(time.Minute)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO rate_limit_counters (rl_key, window_start, counter, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (rl_key, window_start) DO UPDATE SET
			counter = rate_limit_counters.counter + 1,
			updated_at = NOW()`, key, windowStart)
	if err != nil {
		return fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return nil
}

// CurrentCount reads back the Postgres counter for the current minute
// window. Nothing in the service calls it, so a restart does not carry the
// current window's count into the in-memory mirror.
func (l *Limiter) CurrentCount(ctx context.Context, key string) (int, error) {
	windowStart := time.Now().UTC().Truncate(time.Minute)
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT counter FROM rate_limit_counters WHERE rl_key = $1 AND window_start = $2`,
		key, windowStart).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// GC deletes rate-limit-counter rows older than retain. Nothing in the
// service schedules or calls it.
func (l *Limiter) GC(ctx context.Context, retain time.Duration) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE window_start < NOW() - ($1 || ' seconds')::interval`, retain.Seconds())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
