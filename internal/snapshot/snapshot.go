// Package snapshot persists the full result set of one ingestion run as a
// single JSON artifact that each run fully replaces.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mohammad-safakhou/medwatch/models"
)

// PersistError is fatal to a run's completion. The previous snapshot stays
// valid: writes go to a temp file first and only a successful write is
// renamed over the artifact.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string { return fmt.Sprintf("persist snapshot %s: %v", e.Path, e.Err) }
func (e *PersistError) Unwrap() error { return e.Err }

// Store owns the snapshot file; it is the only writer. Concurrent readers
// (the dashboard layer) never observe a partially written file thanks to the
// write-to-temp-then-rename sequence.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

// Save atomically replaces the snapshot artifact.
func (s *Store) Save(snap models.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &PersistError{Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PersistError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	return nil
}

// Load reads the current snapshot. A missing file is the empty snapshot, not
// an error: first runs and fresh deployments start from zero records.
func (s *Store) Load() (models.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Snapshot{Records: []models.ArticleRecord{}}, nil
		}
		return models.Snapshot{}, fmt.Errorf("load snapshot %s: %w", s.path, err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	if snap.Records == nil {
		snap.Records = []models.ArticleRecord{}
	}
	return snap, nil
}
