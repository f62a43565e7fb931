package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lsxsync/queue-service/internal/configstore"
	"github.com/lsxsync/queue-service/internal/platform/apperrors"
	"github.com/lsxsync/queue-service/internal/platform/logger"
	"github.com/lsxsync/queue-service/internal/platform/tracing"
	"github.com/lsxsync/queue-service/internal/queue"
)

// Receiver implements the §4.4 contract: it owns webhook_events rows and
// may create exactly one linked fanout job per event (the fanout job may
// itself spawn multiple downstream jobs per fanout.go's routing table).
type Receiver struct {
	db     *sql.DB
	config *configstore.Store
	jobs   *queue.Repository
	logger *logger.Logger
}

func NewReceiver(db *sql.DB, config *configstore.Store, jobs *queue.Repository, log *logger.Logger) *Receiver {
	return &Receiver{db: db, config: config, jobs: jobs, logger: log}
}

// Handle implements POST /webhook.
func (r *Receiver) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	if !r.config.GetBool(ctx, configstore.FlagWebhookEnabled, true) {
		c.JSON(http.StatusForbidden, gin.H{"ok": false, "error": gin.H{"code": "webhook_disabled", "message": "webhook ingress is disabled"}})
		return
	}

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": gin.H{"code": "invalid_input", "message": "failed to read request body"}})
		return
	}

	payload := rawBody
	if ct := c.ContentType(); ct == "application/x-www-form-urlencoded" {
		if err := c.Request.ParseForm(); err == nil {
			payload = []byte(c.Request.PostForm.Get("payload"))
		}
	}

	webhookID := c.GetHeader("X-LS-Webhook-Id")
	webhookType := c.GetHeader("X-LS-Event-Type")
	timestamp := c.GetHeader("X-LS-Timestamp")
	lsSignature := c.GetHeader("X-LS-Signature")
	xSignature := c.GetHeader("X-Signature")

	verified, verifyErr := r.verifyRequest(ctx, rawBody, timestamp, lsSignature, xSignature)

	hmacRequired := r.config.GetBool(ctx, configstore.FlagVendWebhookHMACRequired, true)
	openMode := r.config.GetBool(ctx, configstore.FlagVendWebhookOpenMode, false)
	openModeUntil, _ := r.config.GetTime(ctx, configstore.FlagVendWebhookOpenModeUntil)
	openModeActive := openMode && time.Now().Before(openModeUntil)

	if !verified {
		if hmacRequired && !openModeActive {
			r.recordFailure(ctx, webhookID, webhookType, rawBody, c.ClientIP(), "signature verification failed")
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": gin.H{"code": "unauthorized", "message": "signature verification failed"}})
			return
		}
		if verifyErr != nil {
			r.logger.Warn("webhook accepted unsigned under open_mode", "event", "webhook.unsigned_accepted", "webhook_id", webhookID)
		}
	}

	toleranceS := r.config.GetInt(ctx, configstore.FlagVendWebhookToleranceS, configstore.DefaultWebhookToleranceS)
	if timestamp != "" && !withinSkew(timestamp, toleranceS) {
		r.recordFailure(ctx, webhookID, webhookType, rawBody, c.ClientIP(), "timestamp outside tolerance window")
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": gin.H{"code": "unauthorized", "message": "timestamp outside tolerance window"}})
		return
	}

	headersJSON, _ := json.Marshal(c.Request.Header)

	eventID, inserted, err := r.insertEvent(ctx, webhookID, webhookType, rawBody, payload, headersJSON, c.ClientIP())
	if err != nil {
		r.logger.Error("webhook: failed to persist event", "event", "webhook.persist_failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"status": "accepted"}})
		return
	}
	if !inserted {
		// Duplicate webhook_id: idempotent 200 without re-processing
		// (spec.md §4.4 step 6, §8 invariant).
		c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"status": "duplicate", "event_id": eventID}})
		return
	}

	if r.config.GetBool(ctx, configstore.FlagWebhookFanoutEnabled, true) {
		idemKey := "webhook:" + webhookID
		jobID, jobErr := r.jobs.Enqueue(ctx, queue.TypeWebhookEvent, map[string]interface{}{
			"webhook_id":   webhookID,
			"webhook_type": webhookType,
		}, idemKey)
		if jobErr != nil {
			r.logger.Error("webhook: failed to enqueue fanout job", "event", "webhook.fanout_enqueue_failed", "error", jobErr, "webhook_id", webhookID)
		} else {
			_ = r.linkJob(ctx, eventID, jobID)
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "data": gin.H{"status": "received", "event_id": eventID}})
}

func (r *Receiver) verifyRequest(ctx context.Context, rawBody []byte, timestamp, lsSignature, xSignature string) (bool, error) {
	signature, err := extractSignature(lsSignature, xSignature)
	if err != nil {
		return false, err
	}

	current, prev, prevExpiresAt, err := r.config.GetWithPrev(ctx, configstore.FlagVendWebhookSecret)
	if err != nil {
		return false, err
	}

	if verifyHMAC(rawBody, timestamp, signature, current) {
		return true, nil
	}
	if prev != "" && time.Now().Before(prevExpiresAt) {
		return verifyHMAC(rawBody, timestamp, signature, prev), nil
	}
	return false, nil
}

func withinSkew(timestamp string, toleranceS int) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	delta := time.Now().Unix() - ts
	if delta < 0 {
		delta = -delta
	}
	return delta <= int64(toleranceS)
}

func (r *Receiver) insertEvent(ctx context.Context, webhookID, webhookType string, rawBody []byte, payload, headers []byte, sourceIP string) (int64, bool, error) {
	ctx, span := tracing.StartDBSpan(ctx, "webhook.receiver", "insertEvent")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events (webhook_id, webhook_type, raw_payload, payload, headers, source_ip, status, received_at, processing_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 'received', NOW(), 0)
		ON CONFLICT (webhook_id) DO NOTHING
		RETURNING id`, webhookID, webhookType, rawBody, payload, headers, sourceIP).Scan(&id)
	if err == sql.ErrNoRows {
		err = r.db.QueryRowContext(ctx, `SELECT id FROM webhook_events WHERE webhook_id = $1`, webhookID).Scan(&id)
		if err != nil {
			return 0, false, err
		}
		return id, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *Receiver) linkJob(ctx context.Context, eventID, jobID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET status = 'processing', queue_job_id = $2 WHERE id = $1`, eventID, jobID)
	return err
}

func (r *Receiver) recordFailure(ctx context.Context, webhookID, webhookType string, rawBody []byte, sourceIP, reason string) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (webhook_id, webhook_type, raw_payload, status, received_at, processing_attempts, error_message, source_ip)
		VALUES ($1, $2, $3, 'failed', NOW(), 1, $4, $5)
		ON CONFLICT (webhook_id) DO NOTHING`, webhookID, webhookType, rawBody, reason, sourceIP)
	if err != nil {
		r.logger.Error("webhook: failed to record failure row", "event", "webhook.record_failure_error", "error", err)
	}
	r.incrementFailedCount(ctx)
	r.degradeHealth(ctx, reason)
}

func (r *Receiver) incrementFailedCount(ctx context.Context) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_stats (id, failed_count, updated_at) VALUES (1, 1, NOW())
		ON CONFLICT (id) DO UPDATE SET failed_count = webhook_stats.failed_count + 1, updated_at = NOW()`)
	if err != nil {
		r.logger.Warn("webhook: failed to increment failed_count", "event", "webhook.stats_error", "error", err)
	}
}

func (r *Receiver) degradeHealth(ctx context.Context, reason string) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_health (id, health_status, last_reason, updated_at) VALUES (1, 'degraded', $1, NOW())
		ON CONFLICT (id) DO UPDATE SET health_status = 'degraded', last_reason = $1, updated_at = NOW()`, reason)
	if err != nil {
		r.logger.Warn("webhook: failed to degrade health row", "event", "webhook.health_error", "error", err)
	}
}

// ProcessFanoutJob is the queue.TypeWebhookEvent handler body. It is called
// from the runner's handler table rather than invoked directly by HTTP code,
// keeping the fanout decision (which downstream job types a webhook_type
// produces) next to the routing table it reads from.
func ProcessFanoutJob(ctx context.Context, db *sql.DB, jobs *queue.Repository, payload json.RawMessage) error {
	var body struct {
		WebhookID   string `json:"webhook_id"`
		WebhookType string `json:"webhook_type"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return apperrors.Validation("invalid webhook.event payload", nil)
	}

	var rawPayload []byte
	err := db.QueryRowContext(ctx, `SELECT raw_payload FROM webhook_events WHERE webhook_id = $1`, body.WebhookID).Scan(&rawPayload)
	if err != nil {
		return fmt.Errorf("failed to load webhook event %q: %w", body.WebhookID, err)
	}

	for i, downstreamType := range DownstreamTypes(body.WebhookType) {
		idemKey := fmt.Sprintf("webhook:%s:fanout:%d", body.WebhookID, i)
		downstreamPayload := map[string]interface{}{
			"webhook_id":   body.WebhookID,
			"webhook_type": body.WebhookType,
			"raw_payload":  json.RawMessage(rawPayload),
		}
		if _, err := jobs.Enqueue(ctx, downstreamType, downstreamPayload, idemKey); err != nil {
			return fmt.Errorf("failed to enqueue downstream job %s for webhook %q: %w", downstreamType, body.WebhookID, err)
		}
	}

	_, err = db.ExecContext(ctx, `UPDATE webhook_events SET status = 'completed', processed_at = NOW() WHERE webhook_id = $1`, body.WebhookID)
	return err
}
