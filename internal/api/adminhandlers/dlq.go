package adminhandlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/queue"
)

// DLQHandler serves the /dlq.* operator endpoints.
type DLQHandler struct {
	jobs *queue.Repository
}

func NewDLQHandler(jobs *queue.Repository) *DLQHandler {
	return &DLQHandler{jobs: jobs}
}

// List serves GET /dlq.list for operator inspection ahead of a redrive or
// purge decision.
func (h *DLQHandler) List(c *gin.Context) {
	entries, err := h.jobs.ListDLQ(c.Request.Context(), 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"entries": entries}})
}

type dlqRedriveRequest struct {
	IDs     []int64 `json:"ids" binding:"required"`
	DelayS  int     `json:"delay_s"`
}

// Redrive serves POST /dlq.redrive.
func (h *DLQHandler) Redrive(c *gin.Context) {
	var req dlqRedriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}
	delay := time.Duration(req.DelayS) * time.Second
	n, err := h.jobs.RedriveDLQ(c.Request.Context(), req.IDs, delay)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"redriven": n}})
}

type dlqPurgeRequest struct {
	IDs []int64 `json:"ids" binding:"required"`
}

// Purge serves POST /dlq.purge: permanent deletion, no undo.
func (h *DLQHandler) Purge(c *gin.Context) {
	var req dlqPurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}
	n, err := h.jobs.PurgeDLQ(c.Request.Context(), req.IDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"purged": n}})
}
