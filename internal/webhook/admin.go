package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/configstore"
	"github.com/lsxsync/queue-service/internal/queue"
)

// TestRequest is the body for POST /webhook.test: an operator-triggered
// self-test that signs and delivers a synthetic event through the same
// path a real vendor webhook would take.
type TestRequest struct {
	WebhookType string          `json:"webhook_type" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
}

// Test signs a synthetic payload with the current secret and feeds it
// through Handle exactly as an inbound request would be, so the self-test
// exercises the real verification path rather than a shortcut.
func (r *Receiver) Test(c *gin.Context) {
	ctx := c.Request.Context()

	var req TestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	secret, _, _, err := r.config.GetWithPrev(ctx, configstore.FlagVendWebhookSecret)
	if err != nil || secret == "" {
		c.JSON(http.StatusFailedDependency, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": "no webhook secret configured for self-test"}})
		return
	}

	webhookID := fmt.Sprintf("selftest-%d", time.Now().UnixNano())
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	signature := hmacBase64(secret, []byte(timestamp+"."+string(payload)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": gin.H{"code": "internal", "message": err.Error()}})
		return
	}
	httpReq.Header.Set("X-LS-Webhook-Id", webhookID)
	httpReq.Header.Set("X-LS-Event-Type", req.WebhookType)
	httpReq.Header.Set("X-LS-Timestamp", timestamp)
	httpReq.Header.Set("X-LS-Signature", signature)
	httpReq.Body = io.NopCloser(bytes.NewReader(payload))

	testCtx, _ := gin.CreateTestContext(c.Writer)
	testCtx.Request = httpReq
	r.Handle(testCtx)

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"webhook_id": webhookID, "dispatched": true}})
}

// ReplayRequest is the body for POST /webhook.replay.
type ReplayRequest struct {
	EventIDs []int64 `json:"event_ids" binding:"required"`
}

// Replay re-enqueues the webhook.event fanout job for previously stored
// events, marking each row replayed and recording the source event it was
// replayed from.
func (r *Receiver) Replay(c *gin.Context) {
	ctx := c.Request.Context()

	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": err.Error()}})
		return
	}

	replayed := 0
	for _, id := range req.EventIDs {
		var webhookID, webhookType string
		err := r.db.QueryRowContext(ctx, `SELECT webhook_id, webhook_type FROM webhook_events WHERE id = $1`, id).Scan(&webhookID, &webhookType)
		if err != nil {
			r.logger.Warn("webhook.replay: event not found", "event", "webhook.replay_not_found", "event_id", id, "error", err)
			continue
		}

		idemKey := fmt.Sprintf("webhook:%s:replay:%d", webhookID, time.Now().UnixNano())
		jobID, err := r.jobs.Enqueue(ctx, queue.TypeWebhookEvent, map[string]interface{}{
			"webhook_id":   webhookID,
			"webhook_type": webhookType,
		}, idemKey)
		if err != nil {
			r.logger.Error("webhook.replay: enqueue failed", "event", "webhook.replay_enqueue_failed", "event_id", id, "error", err)
			continue
		}

		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO webhook_events (webhook_id, webhook_type, raw_payload, status, received_at, processing_attempts, queue_job_id, replayed_from)
			SELECT webhook_id || '-replay-' || $2, webhook_type, raw_payload, 'replayed', NOW(), 0, $3, id
			FROM webhook_events WHERE id = $1`, id, time.Now().UnixNano(), jobID); err != nil {
			r.logger.Warn("webhook.replay: failed to record replay row", "event", "webhook.replay_record_failed", "event_id", id, "error", err)
		}
		replayed++
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"replayed": replayed}})
}
