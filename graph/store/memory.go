package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// Designed for:
//   - Testing and development
//   - Single-process workflows
//   - Short-lived workflows where persistence isn't required
//
// MemStore is thread-safe. States are deep-copied (JSON round trip) on Save
// and on Load, so a caller mutating a state it saved or loaded never changes
// what is stored.
//
// Data is lost when the process terminates. Use FileStore, SQLiteStore or
// MySQLStore when runs must survive restarts.
type MemStore[S any] struct {
	mu    sync.RWMutex
	snaps map[string]memRecord // runID -> encoded snapshot
	now   func() time.Time
}

type memRecord struct {
	revision  int
	state     []byte
	updatedAt time.Time
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore[graph.RunState]()
//	engine := graph.New(st)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		snaps: make(map[string]memRecord),
		now:   time.Now,
	}
}

// Load returns the latest snapshot for runID.
func (m *MemStore[S]) Load(_ context.Context, runID string) (Snapshot[S], bool, error) {
	if err := validateRunID("load", runID); err != nil {
		return Snapshot[S]{}, false, err
	}

	m.mu.RLock()
	rec, ok := m.snaps[runID]
	m.mu.RUnlock()

	if !ok {
		return Snapshot[S]{}, false, nil
	}

	var state S
	if err := json.Unmarshal(rec.state, &state); err != nil {
		return Snapshot[S]{}, false, storageErr("load", runID, fmt.Errorf("failed to unmarshal state: %w", err))
	}

	return Snapshot[S]{
		RunID:     runID,
		Revision:  rec.revision,
		State:     state,
		UpdatedAt: rec.updatedAt,
	}, true, nil
}

// Save replaces the snapshot for runID if expectedRevision matches.
func (m *MemStore[S]) Save(_ context.Context, runID string, state S, expectedRevision int) (Snapshot[S], error) {
	if err := validateRunID("save", runID); err != nil {
		return Snapshot[S]{}, err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return Snapshot[S]{}, storageErr("save", runID, fmt.Errorf("failed to marshal state: %w", err))
	}

	// Decode before taking the lock so the returned state is an independent copy.
	var stored S
	if err := json.Unmarshal(data, &stored); err != nil {
		return Snapshot[S]{}, storageErr("save", runID, fmt.Errorf("failed to unmarshal state: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.snaps[runID].revision
	if current != expectedRevision {
		return Snapshot[S]{}, conflict("save", runID, expectedRevision, current)
	}

	rec := memRecord{
		revision:  current + 1,
		state:     data,
		updatedAt: m.now(),
	}
	m.snaps[runID] = rec

	return Snapshot[S]{
		RunID:     runID,
		Revision:  rec.revision,
		State:     stored,
		UpdatedAt: rec.updatedAt,
	}, nil
}

// RunIDs returns the IDs of all stored runs in no particular order.
func (m *MemStore[S]) RunIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		ids = append(ids, id)
	}
	return ids
}
