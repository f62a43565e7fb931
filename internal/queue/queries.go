package queue

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/lsxsync/queue-service/internal/platform/tracing"
)

// StatusCounts is the `/queue.status` response shape: counts by status.
type StatusCounts struct {
	Pending int
	Working int
	Done1m  int
	Failed  int
}

// CountsByStatus answers the queue.status endpoint and feeds the health
// grader's metrics (spec.md §4.5).
func (r *Repository) CountsByStatus(ctx context.Context) (StatusCounts, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "CountsByStatus")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	var c StatusCounts
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'working') AS working,
			COUNT(*) FILTER (WHERE status = 'done' AND finished_at > NOW() - INTERVAL '1 minute') AS done_1m
		FROM jobs`).Scan(&c.Pending, &c.Working, &c.Done1m)
	if err != nil {
		return c, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return c, nil
}

// OldestPendingAgeSeconds reports the age of the oldest pending row, 0 if
// none are pending. Feeds the health grader's RED/AMBER triggers.
func (r *Repository) OldestPendingAgeSeconds(ctx context.Context) (float64, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "OldestPendingAgeSeconds")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	var ageSeconds float64
	err = r.db.QueryRowContext(ctx, `
		SELECT COALESCE(EXTRACT(EPOCH FROM (NOW() - MIN(created_at))), 0)
		FROM jobs WHERE status = 'pending'`).Scan(&ageSeconds)
	return ageSeconds, err
}

// WorkingCountsByType reports the current number of working rows per job
// type, used by the runner to cap claims against vend.queue.max_concurrency.
// <type> before they are claimed rather than only policing dispatch
// afterward.
func (r *Repository) WorkingCountsByType(ctx context.Context) (map[JobType]int, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "WorkingCountsByType")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	rows, queryErr := r.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM jobs WHERE status = 'working' GROUP BY type`)
	if queryErr != nil {
		err = queryErr
		return nil, err
	}
	defer rows.Close()

	counts := make(map[JobType]int)
	for rows.Next() {
		var typ string
		var n int
		if scanErr := rows.Scan(&typ, &n); scanErr != nil {
			err = scanErr
			return nil, err
		}
		counts[JobType(typ)] = n
	}
	return counts, rows.Err()
}

// StuckWorkingCount counts working rows whose lease expired more than
// threshold ago without being reaped yet.
func (r *Repository) StuckWorkingCount(ctx context.Context, thresholdMinutes int) (int, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "StuckWorkingCount")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	var n int
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE status = 'working' AND leased_until < NOW() - ($1 || ' minutes')::interval`,
		thresholdMinutes).Scan(&n)
	return n, err
}

// ListDLQ returns DLQ entries for operator inspection/redrive selection.
func (r *Repository) ListDLQ(ctx context.Context, limit int) ([]*DLQEntry, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "ListDLQ")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	rows, queryErr := r.db.QueryContext(ctx, `
		SELECT id, original_job_id, idempotency_key, type, priority, payload, attempts, max_attempts,
		       fail_code, fail_message, moved_at, created_at
		FROM dlq_entries ORDER BY moved_at DESC LIMIT $1`, limit)
	if queryErr != nil {
		err = queryErr
		return nil, err
	}
	defer rows.Close()

	var entries []*DLQEntry
	for rows.Next() {
		var e DLQEntry
		var typ, failCode string
		if scanErr := rows.Scan(&e.ID, &e.OriginalJobID, &e.IdempotencyKey, &typ, &e.Priority, &e.Payload,
			&e.Attempts, &e.MaxAttempts, &failCode, &e.FailMessage, &e.MovedAt, &e.CreatedAt); scanErr != nil {
			err = scanErr
			return nil, err
		}
		e.Type = JobType(typ)
		e.FailCode = FailCode(failCode)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PurgeDLQ deletes the given DLQ rows permanently.
func (r *Repository) PurgeDLQ(ctx context.Context, ids []int64) (int, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.repository", "PurgeDLQ")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	res, execErr := r.db.ExecContext(ctx, `DELETE FROM dlq_entries WHERE id = ANY($1)`, pq.Array(ids))
	if execErr != nil {
		err = execErr
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
