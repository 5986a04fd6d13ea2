package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It stores run state in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-host deployments that need runs to survive restarts
//
// Features:
//   - Single file database (e.g., "./runs.db")
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//   - Revision-checked writes: each Save is one conditional statement
//
// Schema:
//   - run_states: one row per run (run_id, revision, state JSON, updated_at)
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type SQLiteStore[S any] struct {
	backend sqlBackend[S]
	mu      sync.RWMutex
	closed  bool
	path    string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./runs.db" - file in current directory
//   - "/var/lib/flowstate/runs.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore[graph.RunState]("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close() // Ignore close error when returning pragma error
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore[S]{
		backend: sqlBackend[S]{
			db: db,
			queries: sqlQueries{
				load:     `SELECT revision, state, updated_at FROM run_states WHERE run_id = ?`,
				insert:   `INSERT INTO run_states (run_id, revision, state, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(run_id) DO NOTHING`,
				update:   `UPDATE run_states SET state = ?, revision = ?, updated_at = ? WHERE run_id = ? AND revision = ?`,
				revision: `SELECT revision FROM run_states WHERE run_id = ?`,
			},
			now: time.Now,
		},
		path: path,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close() // Ignore close error when returning table creation error
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS run_states (
			run_id TEXT NOT NULL PRIMARY KEY,
			revision INTEGER NOT NULL,
			state TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := s.backend.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create run_states table: %w", err)
	}
	return nil
}

// Load returns the latest snapshot for runID (implements Store interface).
func (s *SQLiteStore[S]) Load(ctx context.Context, runID string) (Snapshot[S], bool, error) {
	if err := validateRunID("load", runID); err != nil {
		return Snapshot[S]{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot[S]{}, false, storageErr("load", runID, ErrClosed)
	}

	snap, found, err := s.backend.load(ctx, runID)
	return snap, found, storageErr("load", runID, err)
}

// Save writes state for runID if expectedRevision matches (implements Store interface).
func (s *SQLiteStore[S]) Save(ctx context.Context, runID string, state S, expectedRevision int) (Snapshot[S], error) {
	if err := validateRunID("save", runID); err != nil {
		return Snapshot[S]{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot[S]{}, storageErr("save", runID, ErrClosed)
	}

	snap, err := s.backend.save(ctx, runID, state, expectedRevision)
	return snap, storageErr("save", runID, err)
}

// Close closes the database connection.
//
// After Close, all operations return an error wrapping ErrClosed.
// Calling Close multiple times is safe.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore[S]) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.backend.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}
