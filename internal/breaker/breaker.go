// Package breaker implements the tripped/until-epoch circuit breaker
// consulted by the HTTP client before every outbound vendor call
// (spec.md §4.3, §9).
package breaker

import (
	"sync"
	"time"
)

// Breaker is a consecutive-failure-counting circuit breaker. It trips after
// threshold consecutive failures and stays open until cooldown elapses.
type Breaker struct {
	mu           sync.RWMutex
	threshold    int
	cooldown     time.Duration
	failureCount int
	tripped      bool
	until        time.Time
}

// New builds a Breaker that trips after threshold consecutive failures and
// stays open for cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed, closing the breaker first if
// the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return true
	}
	if time.Now().After(b.until) {
		b.tripped = false
		b.failureCount = 0
		return true
	}
	return false
}

// Until returns the epoch at which a tripped breaker will allow calls
// again. Zero value if not tripped.
func (b *Breaker) Until() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.until
}

// Tripped reports the current state without mutating it.
func (b *Breaker) Tripped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tripped && time.Now().Before(b.until)
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.tripped = false
}

// RecordFailure increments the consecutive-failure count and trips the
// breaker once threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	if b.failureCount >= b.threshold {
		b.tripped = true
		b.until = time.Now().Add(b.cooldown)
	}
}

// Registry holds named breakers, one per outbound circuit (currently just
// the vendor HTTP client, but kept keyed for future circuits).
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

func (r *Registry) Get(name string, threshold int, cooldown time.Duration) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(threshold, cooldown)
	r.breakers[name] = b
	return b
}
