package queue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lsxsync/queue-service/internal/platform/tracing"
)

// CursorStore persists per-entity `ls_sync_cursors` rows: the last
// successfully consumed vendor position for a `pull_*` job (spec.md §3).
// Advance is only ever called after a page is fully processed, mirroring
// the safe-checkpoint pattern of only moving a watermark past work that has
// actually landed.
type CursorStore struct {
	db *sql.DB
}

func NewCursorStore(db *sql.DB) *CursorStore {
	return &CursorStore{db: db}
}

// Get returns the stored cursor for entity, or "" if none exists yet.
func (s *CursorStore) Get(ctx context.Context, entity string) (string, error) {
	ctx, span := tracing.StartDBSpan(ctx, "queue.cursor", "Get")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	var cursor string
	err = s.db.QueryRowContext(ctx, `SELECT cursor FROM ls_sync_cursors WHERE entity = $1`, entity).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read sync cursor for %q: %w", entity, err)
	}
	return cursor, nil
}

// Advance upserts the cursor for entity. Called once per page after that
// page's downstream effects are durable, so a crash mid-page replays the
// page rather than silently skipping it.
func (s *CursorStore) Advance(ctx context.Context, entity, cursor string) error {
	ctx, span := tracing.StartDBSpan(ctx, "queue.cursor", "Advance")
	var err error
	defer func() { tracing.EndDBSpan(span, err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ls_sync_cursors (entity, cursor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (entity) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = NOW()`, entity, cursor)
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor for %q: %w", entity, err)
	}
	return nil
}
