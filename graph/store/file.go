package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore is a filesystem implementation of Store[S].
//
// Each run is stored as a single JSON document:
//
//	<dir>/<escaped-run-id>.json
//
// Writes go to a temporary file in the same directory which is synced and
// then renamed over the target, followed by a directory sync. A reader
// therefore observes either the previous document or the new one, never a
// torn write, even if the process dies mid-save.
//
// Revision checks are serialized by an in-process mutex. Two processes
// sharing a directory are not coordinated; use SQLiteStore or MySQLStore
// for that.
type FileStore[S any] struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// fileDocument is the on-disk layout of a run.
type fileDocument[S any] struct {
	RunID     string    `json:"runId"`
	Revision  int       `json:"revision"`
	UpdatedAt time.Time `json:"updatedAt"`
	State     S         `json:"state"`
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore[S any](dir string) (*FileStore[S], error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore[S]{dir: dir, now: time.Now}, nil
}

// Dir returns the directory holding run documents.
func (f *FileStore[S]) Dir() string {
	return f.dir
}

func (f *FileStore[S]) path(runID string) string {
	return filepath.Join(f.dir, url.PathEscape(runID)+".json")
}

// Load reads the document for runID.
func (f *FileStore[S]) Load(_ context.Context, runID string) (Snapshot[S], bool, error) {
	if err := validateRunID("load", runID); err != nil {
		return Snapshot[S]{}, false, err
	}

	doc, found, err := f.read(runID)
	if err != nil || !found {
		return Snapshot[S]{}, false, storageErr("load", runID, err)
	}

	return Snapshot[S]{
		RunID:     runID,
		Revision:  doc.Revision,
		State:     doc.State,
		UpdatedAt: doc.UpdatedAt,
	}, true, nil
}

// Save atomically replaces the document for runID.
func (f *FileStore[S]) Save(ctx context.Context, runID string, state S, expectedRevision int) (Snapshot[S], error) {
	if err := validateRunID("save", runID); err != nil {
		return Snapshot[S]{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot[S]{}, storageErr("save", runID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current := 0
	existing, found, err := f.read(runID)
	if err != nil {
		return Snapshot[S]{}, storageErr("save", runID, err)
	}
	if found {
		current = existing.Revision
	}
	if current != expectedRevision {
		return Snapshot[S]{}, conflict("save", runID, expectedRevision, current)
	}

	doc := fileDocument[S]{
		RunID:     runID,
		Revision:  current + 1,
		UpdatedAt: f.now().UTC(),
		State:     state,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Snapshot[S]{}, storageErr("save", runID, fmt.Errorf("failed to marshal state: %w", err))
	}
	if err := writeFileAtomic(f.path(runID), data, 0o644); err != nil {
		return Snapshot[S]{}, storageErr("save", runID, fmt.Errorf("failed to write run file: %w", err))
	}

	// Return what a subsequent Load would see.
	var stored fileDocument[S]
	if err := json.Unmarshal(data, &stored); err != nil {
		return Snapshot[S]{}, storageErr("save", runID, fmt.Errorf("failed to unmarshal state: %w", err))
	}
	return Snapshot[S]{
		RunID:     runID,
		Revision:  stored.Revision,
		State:     stored.State,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

func (f *FileStore[S]) read(runID string) (fileDocument[S], bool, error) {
	var doc fileDocument[S]
	data, err := os.ReadFile(f.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, fmt.Errorf("failed to read run file: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false, fmt.Errorf("failed to unmarshal run file: %w", err)
	}
	return doc, true, nil
}

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place, then syncs the directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	// Some platforms reject fsync on directories; the rename is already done.
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
