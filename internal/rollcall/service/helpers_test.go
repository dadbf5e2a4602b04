package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store/memory"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable clock shared by a book and its test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// newTestBook builds a Book on an in-memory persister in UTC with a fake
// clock, returning all three.
func newTestBook(t *testing.T, start time.Time) (*service.Book, *memory.Store, *fakeClock) {
	t.Helper()

	st := memory.New()
	clock := newFakeClock(start)
	book, err := service.LoadBook(context.Background(), st,
		service.WithLocation(time.UTC),
		service.WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("LoadBook: %v", err)
	}
	return book, st, clock
}

// failingPersister fails every Save after the first okSaves.
type failingPersister struct {
	okSaves int
	saves   int
}

var errDiskFull = errors.New("disk full")

func (p *failingPersister) Load(context.Context) ([]types.AttendanceRecord, error) {
	return []types.AttendanceRecord{}, nil
}

func (p *failingPersister) Save(context.Context, []types.AttendanceRecord) error {
	p.saves++
	if p.saves > p.okSaves {
		return errDiskFull
	}
	return nil
}
