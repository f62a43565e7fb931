package adminhandlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/configstore"
	"github.com/lsxsync/queue-service/internal/queue"
)

// QueueHandler serves the /queue.* operator endpoints from spec.md §6.
type QueueHandler struct {
	jobs   *queue.Repository
	config *configstore.Store
}

func NewQueueHandler(jobs *queue.Repository, config *configstore.Store) *QueueHandler {
	return &QueueHandler{jobs: jobs, config: config}
}

// Status serves GET /queue.status: counts, paused types, and per-type caps.
func (h *QueueHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.jobs.CountsByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	oldestAge, _ := h.jobs.OldestPendingAgeSeconds(ctx)

	paused := []string{}
	caps := gin.H{}
	for _, t := range queue.AllJobTypes {
		if h.config.GetBool(ctx, configstore.FlagVendQueuePause+string(t), false) {
			paused = append(paused, string(t))
		}
		caps[string(t)] = h.config.GetInt(ctx, configstore.FlagVendQueueMaxConcurrency+string(t), configstore.DefaultMaxConcurrencyPerType)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{
		"pending":             counts.Pending,
		"working":             counts.Working,
		"done_1m":             counts.Done1m,
		"oldest_pending_age_s": oldestAge,
		"paused_types":        paused,
		"max_concurrency":     caps,
		"queue_kill_all":      h.config.GetBool(ctx, configstore.FlagQueueKillAll, false),
		"runner_enabled":      h.config.GetBool(ctx, configstore.FlagRunnerEnabled, true),
		"continuous_enabled":  h.config.GetBool(ctx, configstore.FlagVendQueueContinuous, true),
	}})
}

type jobTypeRequest struct {
	Type string `json:"type" binding:"required"`
}

// Pause serves POST /queue.pause: sets vend_queue_pause.<type>.
func (h *QueueHandler) Pause(c *gin.Context) {
	var req jobTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}
	if err := h.config.SetBool(c.Request.Context(), configstore.FlagVendQueuePause+req.Type, true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"paused": req.Type}})
}

// Resume serves POST /queue.resume: clears vend_queue_pause.<type>.
func (h *QueueHandler) Resume(c *gin.Context) {
	var req jobTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}
	if err := h.config.SetBool(c.Request.Context(), configstore.FlagVendQueuePause+req.Type, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"resumed": req.Type}})
}

type concurrencyUpdateRequest struct {
	Type        string `json:"type" binding:"required"`
	Concurrency int    `json:"concurrency" binding:"required"`
}

// ConcurrencyUpdate serves POST /queue.concurrency.update: sets
// vend.queue.max_concurrency.<type>.
func (h *QueueHandler) ConcurrencyUpdate(c *gin.Context) {
	var req concurrencyUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}
	if req.Concurrency < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": "concurrency must be >= 1"}})
		return
	}
	if err := h.config.SetInt(c.Request.Context(), configstore.FlagVendQueueMaxConcurrency+req.Type, req.Concurrency); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"type": req.Type, "concurrency": req.Concurrency}})
}
