package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists the session table as a single JSON document, rewritten
// wholesale on every save. A missing file is an empty table.
type FileStore struct {
	path string
}

// NewFileStore constructs a FileStore for the given path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &FileStore{path: path}, nil
}

// Load reads the session table from disk.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if s == nil || s.path == "" {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return Snapshot{}, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap, nil
}

// Save rewrites the session table atomically via a temp file + rename so a
// crash mid-write never leaves a truncated table behind.
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	if s == nil || s.path == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
