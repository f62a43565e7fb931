package adminhandlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/queue"
)

// ReapHandler serves /reap and /reap.emergency: on-demand invocation of the
// lease/heartbeat reaper (spec.md §4.1). No background schedule runs the
// reaper; these two endpoints are its only callers.
type ReapHandler struct {
	jobs *queue.Repository
}

func NewReapHandler(jobs *queue.Repository) *ReapHandler {
	return &ReapHandler{jobs: jobs}
}

type reapRequest struct {
	OlderThanS int `json:"older_than_s"`
}

// Reap serves POST /reap using the normal stuck-lease threshold.
func (h *ReapHandler) Reap(c *gin.Context) {
	var req reapRequest
	_ = c.ShouldBindJSON(&req)
	olderThan := time.Duration(req.OlderThanS) * time.Second
	if olderThan <= 0 {
		olderThan = queue.DefaultLeaseTTL
	}
	n, err := h.jobs.Reap(c.Request.Context(), olderThan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"reaped": n}})
}

// Emergency serves POST /reap.emergency: a more aggressive threshold for
// when operators suspect a stuck fleet and want every questionable lease
// reset immediately rather than waiting for the normal TTL.
func (h *ReapHandler) Emergency(c *gin.Context) {
	n, err := h.jobs.Reap(c.Request.Context(), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"reaped": n}})
}
