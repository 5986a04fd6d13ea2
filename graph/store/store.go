// Package store provides durable persistence for workflow run state.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConflict is returned by Save when the stored revision does not match
// the revision the writer observed. Two writers racing on the same run ID
// cannot both succeed.
var ErrConflict = errors.New("revision conflict")

// ErrInvalidRunID is returned when a run ID is empty or whitespace only.
var ErrInvalidRunID = errors.New("invalid run ID")

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store is closed")

// Store persists one state snapshot per run ID.
//
// It is the only component allowed to persist or retrieve run state across
// process restarts. Implementations:
//   - MemStore: in-memory, for tests and single-process use
//   - FileStore: one JSON document per run, atomic write-then-rename
//   - SQLiteStore: single-file database
//   - MySQLStore: shared relational database
//
// Save is effectively atomic: a Load issued after Save returns observes the
// full new snapshot, never a partial write.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type Store[S any] interface {
	// Load returns the most recent snapshot for runID.
	//
	// Returns found=false with a nil error when the run has no history.
	// Storage faults are returned as *StorageError.
	Load(ctx context.Context, runID string) (snap Snapshot[S], found bool, err error)

	// Save overwrites the snapshot for runID with state.
	//
	// expectedRevision is the revision the caller last observed (0 when the
	// run does not exist yet). On mismatch Save fails with a *StorageError
	// wrapping ErrConflict and nothing is written. On success the returned
	// snapshot carries Revision == expectedRevision+1.
	Save(ctx context.Context, runID string, state S, expectedRevision int) (Snapshot[S], error)
}

// Snapshot is a persisted state together with its concurrency token.
type Snapshot[S any] struct {
	// RunID identifies the run this snapshot belongs to.
	RunID string `json:"runId"`

	// Revision increases by one on every successful Save.
	Revision int `json:"revision"`

	// State is the full persisted state.
	State S `json:"state"`

	// UpdatedAt is when the snapshot was written.
	UpdatedAt time.Time `json:"updatedAt"`
}

// StorageError reports a storage-layer fault.
//
// Callers must treat any StorageError as fatal for the current operation:
// a failed persist means in-memory state cannot be trusted to be durable.
type StorageError struct {
	// Op is the failing operation ("load" or "save").
	Op string

	// RunID is the run being accessed.
	RunID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return "store " + e.Op + " " + e.RunID + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, runID string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, RunID: runID, Err: err}
}

func validateRunID(op, runID string) error {
	if strings.TrimSpace(runID) == "" {
		return &StorageError{Op: op, RunID: runID, Err: ErrInvalidRunID}
	}
	return nil
}

func conflict(op, runID string, expected, actual int) error {
	return &StorageError{
		Op:    op,
		RunID: runID,
		Err:   &conflictError{expected: expected, actual: actual},
	}
}

// conflictError details a revision mismatch and unwraps to ErrConflict.
// actual is -1 when the backend cannot report the stored revision.
type conflictError struct {
	expected int
	actual   int
}

func (e *conflictError) Error() string {
	if e.actual < 0 {
		return fmt.Sprintf("revision conflict: expected revision %d", e.expected)
	}
	return fmt.Sprintf("revision conflict: expected revision %d, found %d", e.expected, e.actual)
}

func (e *conflictError) Unwrap() error { return ErrConflict }
