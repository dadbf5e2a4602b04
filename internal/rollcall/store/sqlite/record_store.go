package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Rollcall/server/internal/db"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

// RecordStore persists the attendance list as a JSON array in the kv_store
// row keyed by store.Key.
type RecordStore struct {
	db     *sql.DB
	writer *dbpkg.Writer
	key    string
	now    func() time.Time
}

func NewRecordStore(db *sql.DB, writer *dbpkg.Writer) *RecordStore {
	return &RecordStore{
		db:     db,
		writer: writer,
		key:    store.Key,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RecordStore) Load(ctx context.Context) ([]types.AttendanceRecord, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
SELECT value FROM kv_store WHERE key = ?;
`, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return []types.AttendanceRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Load query: %w", err)
	}

	return store.Decode([]byte(value))
}

func (s *RecordStore) Save(ctx context.Context, records []types.AttendanceRecord) error {
	b, err := store.Encode(records)
	if err != nil {
		return err
	}
	nowMs := s.now().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO kv_store(key, value, updated_at_ms) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value = excluded.value,
  updated_at_ms = excluded.updated_at_ms;
`, s.key, string(b), nowMs); err != nil {
			return fmt.Errorf("Save upsert: %w", err)
		}
		return nil
	})
}
