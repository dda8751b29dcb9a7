package whitelist

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileStore persists the whitelist as a JSON array of entries, the layout the
// gateway's state file has always used. The file is rewritten wholesale per
// mutation via temp file + rename.
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

// Load reads the whitelist from disk; a missing file is an empty table.
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

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	snap := make(Snapshot, len(entries))
	for _, e := range entries {
		snap[e.ID] = e
	}
	return snap, nil
}

// Save rewrites the whitelist file, oldest entry first for stable diffs.
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	if s == nil || s.path == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entries := make([]Entry, 0, len(snap))
	for _, e := range snap {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].AddedAt.Before(entries[j].AddedAt)
	})

	data, err := json.MarshalIndent(entries, "", "  ")
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
