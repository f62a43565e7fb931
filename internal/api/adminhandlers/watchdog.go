package adminhandlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/grader"
)

// WatchdogHandler serves GET/POST /watchdog: synchronous invocation of the
// health grader's gather-grade-act cycle, for operators who don't want to
// wait for the next scheduled tick.
type WatchdogHandler struct {
	grader *grader.Grader
}

func NewWatchdogHandler(g *grader.Grader) *WatchdogHandler {
	return &WatchdogHandler{grader: g}
}

func (h *WatchdogHandler) Run(c *gin.Context) {
	result, err := h.grader.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{
		"grade":   result.Grade,
		"reasons": result.Reasons,
		"actions": result.Actions,
		"at":      result.At,
	}})
}
