package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/lsxsync/queue-service/internal/platform/logger"
	"github.com/lsxsync/queue-service/internal/platform/tracing"
)

// Repository owns job rows exclusively, per spec.md §3's ownership rule.
type Repository struct {
	db     *sql.DB
	logger *logger.Logger
}

func NewRepository(db *sql.DB, log *logger.Logger) *Repository {
	return &Repository{db: db, logger: log}
}

// Enqueue inserts a pending job. If idempotencyKey is already bound, the
// existing job id is returned without mutation (spec.md §4.1).
func (r *Repository) Enqueue(ctx context.Context, jobType JobType, payload interface{}, idempotencyKey string) (int64, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "Enqueue")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	payloadJSON, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		err = fmt.Errorf("failed to marshal job payload: %w", marshalErr)
		return 0, err
	}

	var key sql.NullString
	if idempotencyKey != "" {
		key = sql.NullString{String: idempotencyKey, Valid: true}
	}

	var id int64
	query := `
		INSERT INTO jobs (idempotency_key, type, priority, payload, status, attempts, max_attempts, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, NOW(), NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query, key, string(jobType), DefaultPriority, payloadJSON, DefaultMaxAttempts).Scan(&id)
	if err == sql.ErrNoRows {
		// Idempotency key already bound; look up the existing row.
		err = r.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE idempotency_key = $1`, key).Scan(&id)
		if err != nil {
			r.logger.Error("enqueue: failed to resolve existing idempotency key", "event", "job.enqueue_lookup_failed", "error", err)
			return 0, fmt.Errorf("failed to resolve existing job for idempotency key: %w", err)
		}
		r.logger.Debug("enqueue: idempotency key already bound", "event", "job.enqueue_duplicate", "job_id", id, "idempotency_key", idempotencyKey)
		return id, nil
	}
	if err != nil {
		r.logger.Error("enqueue: insert failed", "event", "job.enqueue_failed", "error", err)
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	r.logger.Info("job enqueued", "event", "job.enqueued", "job_id", id, "type", jobType)
	return id, nil
}

// ClaimBatch atomically selects up to limit eligible rows and transitions
// them to working. The select-and-update happens in a single statement so
// no external transaction is required to hold the row locks: an UPDATE
// driven by a SELECT ... FOR UPDATE SKIP LOCKED subquery locks and mutates
// the chosen rows atomically, guaranteeing two concurrent callers observe
// disjoint id sets (spec.md §8).
func (r *Repository) ClaimBatch(ctx context.Context, limit int, jobType JobType, leaseTTL time.Duration) ([]*Job, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "ClaimBatch")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}

	args := []interface{}{limit, leaseTTL.Seconds()}
	typeFilter := ""
	if jobType != "" {
		typeFilter = "AND type = $3"
		args = append(args, string(jobType))
	}

	query := fmt.Sprintf(`
		UPDATE jobs
		SET status = 'working',
		    leased_until = NOW() + ($2 || ' seconds')::interval,
		    started_at = COALESCE(started_at, NOW()),
		    attempts = attempts + 1,
		    heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND (next_run_at IS NULL OR next_run_at <= NOW())
			  %s
			ORDER BY priority ASC, updated_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, idempotency_key, type, priority, payload, status, attempts, max_attempts,
		          last_error, next_run_at, leased_until, heartbeat_at, started_at, finished_at, created_at, updated_at`,
		typeFilter)

	rows, queryErr := r.db.QueryContext(ctx, query, args...)
	if queryErr != nil {
		err = fmt.Errorf("failed to claim batch: %w", queryErr)
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			r.logger.Error("claim_batch: failed to scan job", "event", "job.claim_scan_failed", "error", scanErr)
			continue
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		err = rowsErr
		return nil, err
	}
	return jobs, nil
}

// Heartbeat extends a working job's lease.
func (r *Repository) Heartbeat(ctx context.Context, jobID int64, leaseTTL time.Duration) error {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "Heartbeat")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE jobs
		SET leased_until = NOW() + ($2 || ' seconds')::interval, heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'working'`,
		jobID, leaseTTL.Seconds())
	return err
}

// Complete transitions a job to done and appends a completion log line.
func (r *Repository) Complete(ctx context.Context, jobID int64) error {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "Complete")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	if _, e := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'done', finished_at = NOW(), leased_until = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $1`, jobID); e != nil {
		err = e
		return err
	}
	err = appendLog(ctx, r.db, jobID, LogInfo, "job.completed", "")
	return err
}

// Fail requeues the job with backoff, or moves it to the DLQ once
// max_attempts is reached. Non-retryable kinds (validation, invalid_input,
// unauthorized, duplicate) are frozen to the DLQ on first occurrence
// regardless of attempts remaining, per spec.md §4.2/§7.
func (r *Repository) Fail(ctx context.Context, jobID int64, failCode FailCode, errMsg string, retryable bool) error {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "Fail")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	var attempts, maxAttempts int
	err = r.db.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = $1`, jobID).Scan(&attempts, &maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to load job for fail(): %w", err)
	}

	if retryable && attempts < maxAttempts {
		delay := Backoff(attempts)
		_, err = r.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'pending', last_error = $2, next_run_at = NOW() + ($3 || ' seconds')::interval,
			    leased_until = NULL, heartbeat_at = NULL, updated_at = NOW()
			WHERE id = $1`, jobID, errMsg, delay.Seconds())
		if err != nil {
			return err
		}
		return appendLog(ctx, r.db, jobID, LogWarn, fmt.Sprintf("job.retry: %s", errMsg), "")
	}

	return r.moveToDLQ(ctx, jobID, failCode, errMsg)
}

func (r *Repository) moveToDLQ(ctx context.Context, jobID int64, failCode FailCode, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dlq_entries (original_job_id, idempotency_key, type, priority, payload, attempts, max_attempts, fail_code, fail_message, moved_at, created_at)
		SELECT id, idempotency_key, type, priority, payload, attempts, max_attempts, $2, $3, NOW(), NOW()
		FROM jobs WHERE id = $1`, jobID, string(failCode), errMsg)
	if err != nil {
		return fmt.Errorf("failed to copy job to dlq: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete job after dlq move: %w", err)
	}
	return appendLog(ctx, r.db, jobID, LogError, fmt.Sprintf("job.dlq: %s", errMsg), "")
}

// Reap resets working rows back to pending when their lease has expired or
// their heartbeat or start time is older than olderThan, returning the number
// reset.
func (r *Repository) Reap(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "Reap")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	res, execErr := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', leased_until = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE status = 'working'
		  AND (
		    leased_until < NOW()
		    OR heartbeat_at < NOW() - ($1 || ' seconds')::interval
		    OR started_at < NOW() - ($1 || ' seconds')::interval
		  )`, olderThan.Seconds())
	if execErr != nil {
		err = execErr
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("reaper reset stuck jobs", "event", "job.reaped", "count", n)
	}
	return int(n), nil
}

// RedriveDLQ re-enqueues DLQ rows as pending jobs with decremented attempts,
// deduplicated on idempotency key via ON CONFLICT DO NOTHING.
func (r *Repository) RedriveDLQ(ctx context.Context, dlqIDs []int64, delay time.Duration) (int, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "RedriveDLQ")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	if delay <= 0 {
		delay = 60 * time.Second
	}

	redriven := 0
	for _, id := range dlqIDs {
		res, execErr := r.db.ExecContext(ctx, `
			INSERT INTO jobs (idempotency_key, type, priority, payload, status, attempts, max_attempts, next_run_at, created_at, updated_at)
			SELECT idempotency_key, type, priority, payload, 'pending', GREATEST(attempts - 1, 0), max_attempts,
			       NOW() + ($2 || ' seconds')::interval, NOW(), NOW()
			FROM dlq_entries WHERE id = $1
			ON CONFLICT (idempotency_key) DO NOTHING`, id, delay.Seconds())
		if execErr != nil {
			err = execErr
			return redriven, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			redriven++
		}
	}
	return redriven, nil
}

// Backoff computes spec.md §4.1's retry delay:
// min(base*2^(attempts-1), cap) + jitter(0..base).
func Backoff(attempts int) time.Duration {
	const base = 10 * time.Second
	const cap_ = 300 * time.Second

	if attempts < 1 {
		attempts = 1
	}
	d := base * time.Duration(1<<uint(attempts-1))
	if d > cap_ {
		d = cap_
	}
	jitter := time.Duration(rand.Int63n(int64(base)))
	return d + jitter
}

func scanJob(rows *sql.Rows) (*Job, error) {
	var j Job
	var typ string
	err := rows.Scan(
		&j.ID, &j.IdempotencyKey, &typ, &j.Priority, &j.Payload, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.LastError, &j.NextRunAt, &j.LeasedUntil,
		&j.HeartbeatAt, &j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	j.Type = JobType(typ)
	return &j, err
}

// Execer abstracts *sql.DB/*sql.Tx for helpers used both with and without
// an explicit transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func appendLog(ctx context.Context, ex Execer, jobID int64, level LogLevel, message, correlationID string) error {
	if correlationID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			correlationID = sc.TraceID().String()
		}
	}
	var corr sql.NullString
	if correlationID != "" {
		corr = sql.NullString{String: correlationID, Valid: true}
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, level, message, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())`, jobID, string(level), message, corr)
	return err
}
