package adminhandlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/queue"
)

// JobHandler serves POST /job: manual enqueue of an operator-triggered job,
// bypassing whatever upstream event would normally produce it.
type JobHandler struct {
	jobs *queue.Repository
}

func NewJobHandler(jobs *queue.Repository) *JobHandler {
	return &JobHandler{jobs: jobs}
}

type createJobRequest struct {
	Type           string          `json:"type" binding:"required"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (h *JobHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	jobID, err := h.jobs.Enqueue(ctx, queue.JobType(req.Type), payload, req.IdempotencyKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"job_id": jobID}})
}
