package configstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, cache: make(map[string]cacheEntry)}
}

func TestCache_SetThenGetWithinTTL(t *testing.T) {
	s := newTestStore(time.Minute)
	s.cacheSet("k", "v")

	v, ok := s.cacheGet("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCache_GetMissOnUnknownKey(t *testing.T) {
	s := newTestStore(time.Minute)
	_, ok := s.cacheGet("missing")
	assert.False(t, ok)
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	s := newTestStore(10 * time.Millisecond)
	s.cacheSet("k", "v")

	time.Sleep(20 * time.Millisecond)

	_, ok := s.cacheGet("k")
	assert.False(t, ok, "entry should have expired")
}

func TestCache_InvalidateRemovesEntry(t *testing.T) {
	s := newTestStore(time.Minute)
	s.cacheSet("k", "v")
	s.cacheInvalidate("k")

	_, ok := s.cacheGet("k")
	assert.False(t, ok)
}
