// Package webhook implements the vendor webhook receiver: signature
// verification, idempotent event persistence, and fanout into downstream
// jobs (spec.md §4.4).
package webhook

import (
	"database/sql"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusReplayed   Status = "replayed"
)

// Event is a persisted inbound webhook delivery.
type Event struct {
	ID                  int64
	WebhookID            string
	WebhookType          string
	RawPayload           []byte
	Payload              json.RawMessage
	Headers              json.RawMessage
	SourceIP             string
	Status               Status
	ReceivedAt           time.Time
	ProcessedAt          sql.NullTime
	ProcessingAttempts   int
	ErrorMessage         sql.NullString
	QueueJobID           sql.NullInt64
	ReplayedFrom         sql.NullInt64
}
