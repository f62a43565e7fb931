package adminhandlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/configstore"
	"github.com/lsxsync/queue-service/internal/platform/logger"
	"github.com/lsxsync/queue-service/internal/queue"
)

// RunnerHandler serves /runner.* endpoints. It tracks the continuous-mode
// goroutine that /runner.continuous starts; the loop started by main is
// separate and is paused or resumed only through the
// configstore.FlagVendQueueContinuous flag that /runner.continuous writes.
type RunnerHandler struct {
	runner *queue.Runner
	config *configstore.Store
	logger *logger.Logger

	mu          sync.Mutex
	cancelRun   context.CancelFunc
}

func NewRunnerHandler(runner *queue.Runner, config *configstore.Store, log *logger.Logger) *RunnerHandler {
	return &RunnerHandler{runner: runner, config: config, logger: log}
}

type runnerKickRequest struct {
	Limit int    `json:"limit"`
	Type  string `json:"type"`
}

// Kick serves POST /runner.kick: a single synchronous claim-and-dispatch
// burst, useful for operators draining a backlog without waiting on the
// continuous tick.
func (h *RunnerHandler) Kick(c *gin.Context) {
	var req runnerKickRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.runner.Run(c.Request.Context(), req.Limit, queue.JobType(req.Type))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}, "data": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": result})
}

type runnerContinuousRequest struct {
	Enabled  bool `json:"enabled"`
	TickMs   int  `json:"tick_ms"`
}

// Continuous serves POST /runner.continuous: toggles continuous-mode
// draining. It writes configstore.FlagVendQueueContinuous, which every
// RunContinuous loop checks each tick; when enabling it also starts a
// RunContinuous loop of its own if none is tracked, and when disabling it
// cancels only that tracked loop.
func (h *RunnerHandler) Continuous(c *gin.Context) {
	var req runnerContinuousRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}

	ctx := c.Request.Context()
	if err := h.config.SetBool(ctx, configstore.FlagVendQueueContinuous, req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if req.Enabled {
		if h.cancelRun != nil {
			c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"already_running": true}})
			return
		}
		tick := time.Duration(req.TickMs) * time.Millisecond
		if tick <= 0 {
			tick = 5 * time.Second
		}
		runCtx, cancel := context.WithCancel(context.Background())
		h.cancelRun = cancel
		go h.runner.RunContinuous(runCtx, tick)
		h.logger.Info("runner: continuous mode started via api", "event", "api.runner_continuous_started", "tick_ms", tick.Milliseconds())
	} else if h.cancelRun != nil {
		h.cancelRun()
		h.cancelRun = nil
		h.logger.Info("runner: continuous mode stopped via api", "event", "api.runner_continuous_stopped")
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"enabled": req.Enabled}})
}
