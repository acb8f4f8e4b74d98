package allowlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

type fileFormat struct {
	Plates []string `json:"plates"`
}

// FileStore keeps the list in a JSON file {"plates": [...]}.
type FileStore struct {
	mu   sync.RWMutex
	path string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

// Plates returns the stored list; a missing file is an empty list.
func (f *FileStore) Plates(_ context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read allow-list: %w", err)
	}
	var doc fileFormat
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse allow-list %s: %w", f.path, err)
	}
	if doc.Plates == nil {
		return []string{}, nil
	}
	return doc.Plates, nil
}

// Replace writes to a temp file in the same directory and renames it over
// the old file, so readers see either the old or the new list.
func (f *FileStore) Replace(_ context.Context, plates []string) error {
	data, err := json.MarshalIndent(fileFormat{Plates: Clean(plates)}, "", "  ")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create allow-list dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".allowlist-*.json")
	if err != nil {
		return fmt.Errorf("create temp allow-list: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write allow-list: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync allow-list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close allow-list: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace allow-list: %w", err)
	}
	return nil
}
