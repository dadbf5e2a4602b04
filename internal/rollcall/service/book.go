package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

var (
	ErrDuplicate     = errors.New("already marked present today")
	ErrNotConfirmed  = errors.New("clearing records requires confirmation")
	ErrInvalidRecord = errors.New("student id is required")
)

const dayLayout = "2006-01-02"

// Book owns the attendance list. Every successful Add and Clear is written
// through to the persister before it becomes visible, so the persisted set
// always equals what List returns.
type Book struct {
	mu        sync.Mutex
	records   []types.AttendanceRecord
	persister store.Persister
	loc       *time.Location
	now       func() time.Time
}

type BookOption func(*Book)

// WithLocation sets the zone calendar days are computed in. Default: time.Local.
func WithLocation(loc *time.Location) BookOption {
	return func(b *Book) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) BookOption {
	return func(b *Book) {
		if now != nil {
			b.now = now
		}
	}
}

// LoadBook builds a Book from whatever p has stored.
func LoadBook(ctx context.Context, p store.Persister, opts ...BookOption) (*Book, error) {
	b := &Book{
		persister: p,
		loc:       time.Local,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	records, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	b.records = records
	return b, nil
}

// Add appends rec unless the same student already has a record on the same
// calendar day. A zero Timestamp is stamped with the current time.
func (b *Book) Add(ctx context.Context, rec types.AttendanceRecord) (types.AttendanceRecord, error) {
	rec.StudentID = strings.TrimSpace(rec.StudentID)
	if rec.StudentID == "" {
		return types.AttendanceRecord{}, ErrInvalidRecord
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = b.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()

	b.mu.Lock()
	defer b.mu.Unlock()

	day := b.dayOf(rec.Timestamp)
	for _, r := range b.records {
		if r.StudentID == rec.StudentID && b.dayOf(r.Timestamp) == day {
			return r, fmt.Errorf("%w: %s", ErrDuplicate, rec.StudentID)
		}
	}

	next := make([]types.AttendanceRecord, len(b.records), len(b.records)+1)
	copy(next, b.records)
	next = append(next, rec)

	if err := b.persister.Save(ctx, next); err != nil {
		return types.AttendanceRecord{}, fmt.Errorf("persist attendance: %w", err)
	}
	b.records = next
	return rec, nil
}

// List returns a copy of all records in insertion order.
func (b *Book) List() []types.AttendanceRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.AttendanceRecord, len(b.records))
	copy(out, b.records)
	return out
}

// Today returns the records whose calendar day is the current one.
func (b *Book) Today() []types.AttendanceRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	today := b.dayOf(b.now())
	var out []types.AttendanceRecord
	for _, r := range b.records {
		if b.dayOf(r.Timestamp) == today {
			out = append(out, r)
		}
	}
	return out
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Clear removes every record once confirmed is true and returns how many
// were removed. The empty set is persisted before memory is cleared.
func (b *Book) Clear(ctx context.Context, confirmed bool) (int, error) {
	if !confirmed {
		return 0, ErrNotConfirmed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.persister.Save(ctx, []types.AttendanceRecord{}); err != nil {
		return 0, fmt.Errorf("persist attendance: %w", err)
	}
	n := len(b.records)
	b.records = nil
	return n, nil
}

func (b *Book) Now() time.Time { return b.now() }

func (b *Book) Location() *time.Location { return b.loc }

func (b *Book) dayOf(t time.Time) string {
	return t.In(b.loc).Format(dayLayout)
}
