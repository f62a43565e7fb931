package ratelimiter

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	routeCleanupInterval = 5 * time.Minute
	routeCleanupTTL      = 10 * time.Minute
)

type routeEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RouteLimiter rate-limits admin endpoints per spec.md §6 ("every admin
// endpoint enforces a per-route minute bucket"), keyed by route+client IP
// with TTL-based cleanup to bound memory growth.
type RouteLimiter struct {
	mu      sync.RWMutex
	entries map[string]*routeEntry
	stopCh  chan struct{}
	stopped bool
}

func NewRouteLimiter() *RouteLimiter {
	rl := &RouteLimiter{
		entries: make(map[string]*routeEntry),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RouteLimiter) cleanupLoop() {
	ticker := time.NewTicker(routeCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RouteLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) > routeCleanupTTL {
			delete(rl.entries, key)
		}
	}
}

func (rl *RouteLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.stopped {
		rl.stopped = true
		close(rl.stopCh)
	}
}

func (rl *RouteLimiter) getLimiter(key string, requestsPerMinute int) *rate.Limiter {
	now := time.Now()

	rl.mu.RLock()
	e, exists := rl.entries[key]
	rl.mu.RUnlock()
	if exists {
		rl.mu.Lock()
		e.lastSeen = now
		rl.mu.Unlock()
		return e.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if e, exists = rl.entries[key]; exists {
		e.lastSeen = now
		return e.limiter
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)
	rl.entries[key] = &routeEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// Middleware returns gin middleware enforcing requestsPerMinute for the
// given route name, keyed additionally by client IP.
func (rl *RouteLimiter) Middleware(routeName string, requestsPerMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := routeName + "|" + c.ClientIP()
		if !rl.getLimiter(key, requestsPerMinute).Allow() {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"ok": false,
				"error": gin.H{
					"code":    "rate_limited",
					"message": "too many requests, try again later",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
