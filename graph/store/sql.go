package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// sqlQueries holds the dialect-specific statements used by sqlBackend.
type sqlQueries struct {
	// load selects (revision, state, updated_at) for one run_id.
	load string
	// insert creates a run at revision 1 and must affect zero rows when the
	// run already exists.
	insert string
	// update sets (state, revision, updated_at) for (run_id, expected revision).
	update string
	// revision selects the current revision for a run_id.
	revision string
}

// sqlBackend implements revision-checked load/save on top of database/sql.
// SQLiteStore and MySQLStore differ only in schema and dialect.
type sqlBackend[S any] struct {
	db      *sql.DB
	queries sqlQueries
	now     func() time.Time
}

func (b *sqlBackend[S]) load(ctx context.Context, runID string) (Snapshot[S], bool, error) {
	var (
		revision  int
		stateJSON []byte
		updated   string
	)
	err := b.db.QueryRowContext(ctx, b.queries.load, runID).Scan(&revision, &stateJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot[S]{}, false, nil
	}
	if err != nil {
		return Snapshot[S]{}, false, fmt.Errorf("failed to load run state: %w", err)
	}

	var state S
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return Snapshot[S]{}, false, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return Snapshot[S]{}, false, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	return Snapshot[S]{
		RunID:     runID,
		Revision:  revision,
		State:     state,
		UpdatedAt: updatedAt,
	}, true, nil
}

func (b *sqlBackend[S]) save(ctx context.Context, runID string, state S, expectedRevision int) (Snapshot[S], error) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return Snapshot[S]{}, fmt.Errorf("failed to marshal state: %w", err)
	}

	updatedAt := b.now().UTC()
	stamp := updatedAt.Format(time.RFC3339Nano)
	next := expectedRevision + 1

	var res sql.Result
	if expectedRevision == 0 {
		res, err = b.db.ExecContext(ctx, b.queries.insert, runID, next, string(stateJSON), stamp)
	} else {
		res, err = b.db.ExecContext(ctx, b.queries.update, string(stateJSON), next, stamp, runID, expectedRevision)
	}
	if err != nil {
		return Snapshot[S]{}, fmt.Errorf("failed to save run state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Snapshot[S]{}, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected != 1 {
		return Snapshot[S]{}, conflict("save", runID, expectedRevision, b.currentRevision(ctx, runID))
	}

	var stored S
	if err := json.Unmarshal(stateJSON, &stored); err != nil {
		return Snapshot[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return Snapshot[S]{
		RunID:     runID,
		Revision:  next,
		State:     stored,
		UpdatedAt: updatedAt,
	}, nil
}

// currentRevision is best effort and only used to enrich conflict errors.
func (b *sqlBackend[S]) currentRevision(ctx context.Context, runID string) int {
	var revision int
	err := b.db.QueryRowContext(ctx, b.queries.revision, runID).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0
	}
	if err != nil {
		return -1
	}
	return revision
}
