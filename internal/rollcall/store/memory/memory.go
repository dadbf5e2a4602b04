package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

// Store keeps the encoded attendance list in process memory, the way the
// browser kept it in localStorage. Intended for tests and dev.
type Store struct {
	mu    sync.RWMutex
	value []byte
	saves int
}

func New() *Store {
	return &Store{}
}

// NewWithRecords returns a store pre-seeded as if records had been saved.
func NewWithRecords(records []types.AttendanceRecord) (*Store, error) {
	b, err := store.Encode(records)
	if err != nil {
		return nil, err
	}
	return &Store{value: b}, nil
}

func (s *Store) Load(_ context.Context) ([]types.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.Decode(s.value)
}

func (s *Store) Save(_ context.Context, records []types.AttendanceRecord) error {
	b, err := store.Encode(records)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = b
	s.saves++
	return nil
}

// Raw returns a copy of the stored JSON. Test-only helper.
func (s *Store) Raw() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.value))
	copy(out, s.value)
	return out
}

// Saves reports how many times Save succeeded. Test-only helper.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
