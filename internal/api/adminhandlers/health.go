// Package adminhandlers implements the §6 operator HTTP surface: health,
// metrics, job submission, queue/DLQ control, webhook test/replay, runner
// control, reaping, key rotation, and the watchdog endpoint.
package adminhandlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsxsync/queue-service/internal/configstore"
	"github.com/lsxsync/queue-service/internal/queue"
)

// HealthHandler serves GET /health: a liveness probe plus a snapshot of the
// flags and counts an operator needs at a glance (spec.md §6).
type HealthHandler struct {
	db     *sql.DB
	jobs   *queue.Repository
	config *configstore.Store
}

func NewHealthHandler(db *sql.DB, jobs *queue.Repository, config *configstore.Store) *HealthHandler {
	return &HealthHandler{db: db, jobs: jobs, config: config}
}

func (h *HealthHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	dbOK := true
	if err := h.db.PingContext(ctx); err != nil {
		dbOK = false
	}

	counts, err := h.jobs.CountsByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{
			"db_ok": dbOK, "status": "degraded", "error": err.Error(),
		}})
		return
	}

	status := http.StatusOK
	overall := "ok"
	if !dbOK {
		status = http.StatusServiceUnavailable
		overall = "down"
	}

	c.JSON(status, gin.H{"ok": dbOK, "data": gin.H{
		"status":          overall,
		"db_ok":           dbOK,
		"time":            time.Now().UTC().Format(time.RFC3339),
		"pending":         counts.Pending,
		"working":         counts.Working,
		"done_1m":         counts.Done1m,
		"queue_kill_all":  h.config.GetBool(ctx, configstore.FlagQueueKillAll, false),
		"runner_enabled":  h.config.GetBool(ctx, configstore.FlagRunnerEnabled, true),
		"webhook_enabled": h.config.GetBool(ctx, configstore.FlagWebhookEnabled, true),
		"ui_readonly":     h.config.GetBool(ctx, configstore.FlagUIReadonly, false),
	}})
}

// Metrics serves GET /metrics as the standard Prometheus text exposition.
func Metrics() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
