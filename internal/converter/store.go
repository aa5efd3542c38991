package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ryanuber/go-glob"
)

// Store is a flat collection of named files the converter reads from and
// writes to.
type Store interface {
	// List returns the names matching pattern in a stable order.
	List(ctx context.Context, pattern string) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

// DirStore is a Store over the regular files of one directory. Sub
// directories are not descended into.
type DirStore struct {
	dir string
}

// NewDirStore creates a store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// List returns the file names in the directory matching pattern.
func (s *DirStore) List(ctx context.Context, pattern string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", s.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if pattern == "" || glob.Glob(pattern, entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Read returns the contents of the named file.
func (s *DirStore) Read(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, name))
}

// Write replaces the named file, creating the directory if needed.
func (s *DirStore) Write(ctx context.Context, name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}
	return os.WriteFile(filepath.Join(s.dir, name), data, 0o644)
}

func (s *DirStore) String() string {
	return s.dir
}
