package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Designed for:
//   - Production runs that must survive process and host restarts
//   - Several engine processes sharing one database (each run still has a
//     single owner; revision checks reject a second concurrent writer)
//
// Schema:
//   - run_states: one row per run (run_id, revision, state JSON, updated_at)
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	backend sqlBackend[S]
	mu      sync.RWMutex
	closed  bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/workflows
//	user:password@tcp(127.0.0.1:3306)/workflows?timeout=5s
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Load the DSN from
//	configuration or the environment (FLOWSTATE_STORE_DSN).
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)  // prevent stale connections
	db.SetConnMaxIdleTime(10 * time.Minute) // max idle time before closing

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return newMySQLStore[S](ctx, db)
}

func newMySQLStore[S any](ctx context.Context, db *sql.DB) (*MySQLStore[S], error) {
	m := &MySQLStore[S]{
		backend: sqlBackend[S]{
			db: db,
			queries: sqlQueries{
				load:     `SELECT revision, state, updated_at FROM run_states WHERE run_id = ?`,
				insert:   `INSERT IGNORE INTO run_states (run_id, revision, state, updated_at) VALUES (?, ?, ?, ?)`,
				update:   `UPDATE run_states SET state = ?, revision = ?, updated_at = ? WHERE run_id = ? AND revision = ?`,
				revision: `SELECT revision FROM run_states WHERE run_id = ?`,
			},
			now: time.Now,
		},
	}

	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS run_states (
			run_id VARCHAR(255) NOT NULL PRIMARY KEY,
			revision INT NOT NULL,
			state JSON NOT NULL,
			updated_at VARCHAR(40) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.backend.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create run_states table: %w", err)
	}
	return nil
}

// Load returns the latest snapshot for runID (implements Store interface).
func (m *MySQLStore[S]) Load(ctx context.Context, runID string) (Snapshot[S], bool, error) {
	if err := validateRunID("load", runID); err != nil {
		return Snapshot[S]{}, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Snapshot[S]{}, false, storageErr("load", runID, ErrClosed)
	}

	snap, found, err := m.backend.load(ctx, runID)
	return snap, found, storageErr("load", runID, err)
}

// Save writes state for runID if expectedRevision matches (implements Store interface).
func (m *MySQLStore[S]) Save(ctx context.Context, runID string, state S, expectedRevision int) (Snapshot[S], error) {
	if err := validateRunID("save", runID); err != nil {
		return Snapshot[S]{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Snapshot[S]{}, storageErr("save", runID, ErrClosed)
	}

	snap, err := m.backend.save(ctx, runID, state, expectedRevision)
	return snap, storageErr("save", runID, err)
}

// Close closes the database connection. Calling Close multiple times is safe.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.backend.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.backend.db.PingContext(ctx)
}
