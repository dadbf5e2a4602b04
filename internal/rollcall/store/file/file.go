// Package file persists the attendance list as a JSON file named after the
// storage key, e.g. ./data/attendanceData.json.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// New returns a store writing <dir>/<store.Key>.json on fsys. The directory
// is created on first save.
func New(fsys afero.Fs, dir string) *Store {
	return &Store{
		fs:   fsys,
		path: filepath.Join(dir, store.Key+".json"),
	}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(_ context.Context) ([]types.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.AttendanceRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return store.Decode(b)
}

// Save writes to a temp file and renames it over the target so a crash
// mid-write never leaves a truncated array behind.
func (s *Store) Save(_ context.Context, records []types.AttendanceRecord) error {
	b, err := store.Encode(records)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(s.path), err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
