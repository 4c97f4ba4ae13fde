package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinytelemetry/msgrelay/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// FileStore keeps the cursor as a small JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store at path. The parent directory is created on
// the first Save.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cursor: path is empty")
	}
	return &FileStore{path: path}, nil
}

// Path returns the cursor file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the cursor. A missing file yields the zero state.
func (f *FileStore) Load(_ context.Context) (model.CursorState, error) {
	var state model.CursorState
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return state, fmt.Errorf("cursor: read %s: %w", f.path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("cursor: parse %s: %w", f.path, err)
	}
	return state, nil
}

// Save writes state to a temp file, syncs it, then renames it over the
// cursor file.
func (f *FileStore) Save(_ context.Context, state model.CursorState) error {
	if err := os.MkdirAll(filepath.Dir(f.path), defaultDirMode); err != nil {
		return fmt.Errorf("cursor: mkdir: %w", err)
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("cursor: marshal: %w", err)
	}
	payload = append(payload, '\n')

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, payload, defaultFileMode); err != nil {
		return fmt.Errorf("cursor: write tmp: %w", err)
	}

	fh, err := os.OpenFile(tmp, os.O_RDWR, defaultFileMode)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cursor: open tmp: %w", err)
	}
	if err := fh.Sync(); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("cursor: sync tmp: %w", err)
	}
	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cursor: close tmp: %w", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cursor: rename: %w", err)
	}
	return nil
}
