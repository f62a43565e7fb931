// Package queue implements the durable job-queue engine: enqueue, claim,
// heartbeat, complete, fail, reap, and DLQ move/redrive, plus the runner
// that drains the table through type-specific handlers.
package queue

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// JobType enumerates the handler catalogue from the job-type contract.
type JobType string

const (
	TypeCreateConsignment     JobType = "create_consignment"
	TypeUpdateConsignment     JobType = "update_consignment"
	TypeCancelConsignment     JobType = "cancel_consignment"
	TypeEditConsignmentLines  JobType = "edit_consignment_lines"
	TypeMarkTransferPartial   JobType = "mark_transfer_partial"
	TypePushInventoryAdjust   JobType = "push_inventory_adjustment"
	TypePushProductUpdate     JobType = "push_product_update"
	TypeInventoryCommand      JobType = "inventory.command"
	TypePullProducts          JobType = "pull_products"
	TypePullInventory         JobType = "pull_inventory"
	TypePullConsignments      JobType = "pull_consignments"
	TypeWebhookEvent          JobType = "webhook.event"
	TypeReconcileDiscrepancies JobType = "reconcile_discrepancies"
)

// AllJobTypes enumerates the full handler catalogue from the job-type
// contract, used wherever every type must be considered regardless of
// what is currently present in a batch (pause checks, /queue.status).
var AllJobTypes = []JobType{
	TypeCreateConsignment, TypeUpdateConsignment, TypeCancelConsignment,
	TypeEditConsignmentLines, TypeMarkTransferPartial, TypePushInventoryAdjust,
	TypePushProductUpdate, TypeInventoryCommand, TypePullProducts,
	TypePullInventory, TypePullConsignments, TypeWebhookEvent, TypeReconcileDiscrepancies,
}

const (
	DefaultMaxAttempts = 6
	DefaultPriority    = 5
	DefaultLeaseTTL    = 60 * time.Second
)

// Job is a unit of work as defined in spec.md §3.
type Job struct {
	ID             int64
	IdempotencyKey sql.NullString
	Type           JobType
	Priority       int
	Payload        json.RawMessage
	Status         Status
	Attempts       int
	MaxAttempts    int
	LastError      sql.NullString
	NextRunAt      sql.NullTime
	LeasedUntil    sql.NullTime
	HeartbeatAt    sql.NullTime
	StartedAt      sql.NullTime
	FinishedAt     sql.NullTime
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LogLevel is the severity of a JobLog entry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// JobLog is an append-only breadcrumb keyed by job id.
type JobLog struct {
	ID            int64
	JobID         int64
	Level         LogLevel
	Message       string
	CorrelationID sql.NullString
	CreatedAt     time.Time
}

// FailCode mirrors the §7 error taxonomy kinds, used to group DLQ/`failed`
// rows the same way operators already see them in counters.
type FailCode string

const (
	FailInvalidInput    FailCode = "invalid_input"
	FailUnauthorized    FailCode = "unauthorized"
	FailRateLimited     FailCode = "rate_limited"
	FailBreakerOpen     FailCode = "breaker_open"
	FailTransientVendor FailCode = "transient_vendor"
	FailDuplicate       FailCode = "duplicate"
	FailValidation      FailCode = "validation"
	FailInternal        FailCode = "internal"
)

// DLQEntry is a frozen copy of a job at the moment of permanent failure.
type DLQEntry struct {
	ID             int64
	OriginalJobID  int64
	IdempotencyKey sql.NullString
	Type           JobType
	Priority       int
	Payload        json.RawMessage
	Attempts       int
	MaxAttempts    int
	FailCode       FailCode
	FailMessage    string
	MovedAt        time.Time
	CreatedAt      time.Time
}

// ClaimResult summarizes a run() invocation per spec.md §4.2.
type ClaimResult struct {
	Claimed   int
	Completed int
	Failed    int
	Requeued  int
	DLQd      int
}
