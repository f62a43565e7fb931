// Package configstore implements the runtime, DB-backed configuration
// store from spec.md §3/§9: a namespaced key/value table with typed
// accessors, an in-memory TTL cache, and a flag registry replacing the
// "string-keyed feature flags read ad hoc" anti-pattern named in §9.
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lsxsync/queue-service/internal/platform/logger"
	"github.com/lsxsync/queue-service/internal/platform/tracing"
)

// Entry is one row of the configuration table.
type Entry struct {
	Key              string         `db:"key"`
	Value            string         `db:"value"`
	PrevValue        sql.NullString `db:"prev_value"`
	PrevExpiresAt    sql.NullTime   `db:"prev_expires_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Store is the namespaced key/value configuration store. Writes always go
// through here; the cache has a TTL and is invalidated explicitly on
// writes (spec.md §5 "Configuration cache: in-memory with TTL or explicit
// invalidation on writes").
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func New(db *sqlx.DB, ttl time.Duration, log *logger.Logger) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{db: db, logger: log, ttl: ttl, cache: make(map[string]cacheEntry)}
}

// Get returns the raw string value for key, consulting the cache first.
// The empty string with ok=false means the key is unset.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := s.cacheGet(key); ok {
		return v, true, nil
	}

	ctx, span := tracing.StartDBSpan(ctx, "configstore", "Get")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	var e Entry
	err = s.db.GetContext(ctx, &e, `SELECT key, value, prev_value, prev_expires_at, updated_at FROM config_entries WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		err = nil
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read config key %q: %w", key, err)
	}

	s.cacheSet(key, e.Value)
	return e.Value, true, nil
}

// GetWithPrev returns the current value plus an optional previous value and
// its expiry, for secret-rotation overlap reads (spec.md §3, §5).
func (s *Store) GetWithPrev(ctx context.Context, key string) (current, prev string, prevExpiresAt time.Time, err error) {
	ctx, span := tracing.StartDBSpan(ctx, "configstore", "GetWithPrev")
	defer func() { tracing.EndDBSpan(span, err) }()

	var e Entry
	err = s.db.GetContext(ctx, &e, `SELECT key, value, prev_value, prev_expires_at, updated_at FROM config_entries WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, nil
	}
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to read config key %q: %w", key, err)
	}
	if e.PrevValue.Valid {
		prev = e.PrevValue.String
	}
	if e.PrevExpiresAt.Valid {
		prevExpiresAt = e.PrevExpiresAt.Time
	}
	return e.Value, prev, prevExpiresAt, nil
}

// Set writes key=value, invalidating the cache entry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	ctx, span := tracing.StartDBSpan(ctx, "configstore", "Set")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config_entries (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config key %q: %w", key, err)
	}
	s.cacheInvalidate(key)
	return nil
}

// Rotate shifts the current value into prev_value with an expiry, and sets
// a new current value — the overlap-rotation idiom from spec.md §3/§5/§6
// (`/keys.rotate`).
func (s *Store) Rotate(ctx context.Context, key, newValue string, overlap time.Duration) error {
	ctx, span := tracing.StartDBSpan(ctx, "configstore", "Rotate")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config_entries (key, value, prev_value, prev_expires_at, updated_at)
		VALUES ($1, $2, NULL, NULL, NOW())
		ON CONFLICT (key) DO UPDATE SET
			prev_value = config_entries.value,
			prev_expires_at = NOW() + ($3 || ' seconds')::interval,
			value = EXCLUDED.value,
			updated_at = NOW()`, key, newValue, overlap.Seconds())
	if err != nil {
		return fmt.Errorf("failed to rotate config key %q: %w", key, err)
	}
	s.cacheInvalidate(key)
	s.logger.Info("config key rotated", "event", "config.rotated", "key", key, "overlap_s", overlap.Seconds())
	return nil
}

func (s *Store) cacheGet(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.cache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (s *Store) cacheSet(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(s.ttl)}
}

func (s *Store) cacheInvalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
}

// Typed accessors, decoding booleans and JSON the way spec.md §3 requires.

func (s *Store) GetBool(ctx context.Context, key string, def bool) bool {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (s *Store) GetInt(ctx context.Context, key string, def int) int {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Store) GetDuration(ctx context.Context, key string, def time.Duration) time.Duration {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func (s *Store) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return true, json.Unmarshal([]byte(v), out)
}

func (s *Store) GetTime(ctx context.Context, key string) (time.Time, bool) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *Store) SetBool(ctx context.Context, key string, v bool) error {
	return s.Set(ctx, key, strconv.FormatBool(v))
}

func (s *Store) SetInt(ctx context.Context, key string, v int) error {
	return s.Set(ctx, key, strconv.Itoa(v))
}
