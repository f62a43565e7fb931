// Package middleware implements the gin middleware chain for the
// operational HTTP surface (spec.md §6): request id, panic recovery,
// structured access logging, CORS, security headers, IP rate limiting,
// and the admin bearer-token gate.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lsxsync/queue-service/internal/configstore"
	"github.com/lsxsync/queue-service/internal/platform/logger"
)

const MaxRequestSize = 10 << 20 // 10MB

// RequestID adds (or forwards) a unique request id for correlation.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestSizeLimit caps the body gin will read for any request.
func RequestSizeLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestSize)
		c.Next()
	}
}

// InputValidation rejects malformed common headers before a handler ever
// sees the request.
func InputValidation() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(c.GetHeader("User-Agent")) > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": "User-Agent header too long"}})
			c.Abort()
			return
		}
		if c.Request.Method == http.MethodPost {
			ct := c.GetHeader("Content-Type")
			if ct != "" && !strings.Contains(ct, "application/json") && !strings.Contains(ct, "application/x-www-form-urlencoded") {
				c.JSON(http.StatusUnsupportedMediaType, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": "unsupported content type"}})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// Logger logs one structured line per request after it completes.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}
		requestID := c.GetString("request_id")

		c.Next()

		log.Info("http request",
			"event", "api.request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", path,
			"status_code", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// Recovery turns a panic into a 500 with the envelope error shape instead
// of killing the process.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString("request_id")
				log.Error("panic recovered", "event", "api.panic", "request_id", requestID, "error", err, "stack", string(debug.Stack()))
				c.JSON(http.StatusInternalServerError, gin.H{
					"ok": false,
					"error": gin.H{
						"code":       "internal",
						"message":    "internal server error",
						"request_id": requestID,
					},
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// CORS allows operator tooling served from a different origin to call the
// admin API. allowedOrigins of ["*"] allows any origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowed := false
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Header("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds the standard hardening headers to every response.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RateLimiter tracks one token bucket per client IP.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     int
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     requestsPerMinute,
		burst:    requestsPerMinute,
	}
}

func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[ip]
	rl.mu.RUnlock()
	if !exists {
		rl.mu.Lock()
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.rate)), rl.burst)
		rl.limiters[ip] = limiter
		rl.mu.Unlock()
	}
	return limiter
}

// RateLimit applies a per-IP request budget ahead of the admin routes.
func RateLimit(requestsPerMinute int) gin.HandlerFunc {
	limiter := NewRateLimiter(requestsPerMinute)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.GetLimiter(ip).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"ok": false, "error": gin.H{"code": "rate_limited", "message": "rate limit exceeded"}})
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminAuth implements spec.md §6's bearer-token gate: a token matches
// current ADMIN_BEARER_TOKEN OR the previous token while its
// ADMIN_BEARER_TOKEN_PREV_EXPIRES_AT hasn't passed yet, compared in
// constant time. With no token configured the route operates open for
// bootstrapping, and every request through it is logged as a warning.
func AdminAuth(config *configstore.Store, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		current, prev, prevExpiresAt, err := config.GetWithPrev(ctx, configstore.FlagAdminBearerToken)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": "failed to read admin credentials"}})
			c.Abort()
			return
		}

		if current == "" {
			log.Warn("admin route reached with no ADMIN_BEARER_TOKEN configured, operating open", "event", "api.admin_auth_bootstrap", "path", c.Request.URL.Path)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": gin.H{"code": "unauthorized", "message": "bearer token required"}})
			c.Abort()
			return
		}

		matchesCurrent := subtle.ConstantTimeCompare([]byte(token), []byte(current)) == 1
		matchesPrev := prev != "" && time.Now().Before(prevExpiresAt) && subtle.ConstantTimeCompare([]byte(token), []byte(prev)) == 1
		if !matchesCurrent && !matchesPrev {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": gin.H{"code": "unauthorized", "message": "invalid bearer token"}})
			c.Abort()
			return
		}

		c.Next()
	}
}
