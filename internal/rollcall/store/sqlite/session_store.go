package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Rollcall/server/internal/db"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
)

type SessionStore struct {
	db     *sql.DB
	writer *dbpkg.Writer
}

func NewSessionStore(db *sql.DB, writer *dbpkg.Writer) *SessionStore {
	return &SessionStore{db: db, writer: writer}
}

func (s *SessionStore) BeginSession(ctx context.Context, rec store.SessionRecord) error {
	id := strings.TrimSpace(rec.SessionID)
	if id == "" {
		return fmt.Errorf("BeginSession: empty session id")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO scan_sessions(session_id, source, started_at_ms)
VALUES (?, ?, ?);
`, id, rec.Source, rec.StartedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("BeginSession insert: %w", err)
		}
		return nil
	})
}

// EndSession stamps ended_at and the final counters. A session that was
// never begun (e.g. the begin write failed) is inserted whole.
func (s *SessionStore) EndSession(ctx context.Context, rec store.SessionRecord) error {
	ended := time.Now().UTC()
	if rec.EndedAt != nil {
		ended = rec.EndedAt.UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = ended
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO scan_sessions(
  session_id, source, started_at_ms, ended_at_ms, recorded, duplicates, malformed
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  ended_at_ms = excluded.ended_at_ms,
  recorded    = excluded.recorded,
  duplicates  = excluded.duplicates,
  malformed   = excluded.malformed;
`,
			rec.SessionID, rec.Source, rec.StartedAt.UTC().UnixMilli(), ended.UnixMilli(),
			rec.Recorded, rec.Duplicates, rec.Malformed,
		); err != nil {
			return fmt.Errorf("EndSession upsert: %w", err)
		}
		return nil
	})
}

// RecentSessions returns up to limit sessions, newest first. limit <= 0
// returns all of them.
func (s *SessionStore) RecentSessions(ctx context.Context, limit int) ([]store.SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, source, started_at_ms, ended_at_ms, recorded, duplicates, malformed
FROM scan_sessions
ORDER BY started_at_ms DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentSessions query: %w", err)
	}
	defer rows.Close()

	var out []store.SessionRecord
	for rows.Next() {
		var (
			rec       store.SessionRecord
			startedMs int64
			endedMs   sql.NullInt64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Source, &startedMs, &endedMs,
			&rec.Recorded, &rec.Duplicates, &rec.Malformed); err != nil {
			return nil, fmt.Errorf("RecentSessions scan: %w", err)
		}
		rec.StartedAt = time.UnixMilli(startedMs).UTC()
		if endedMs.Valid {
			t := time.UnixMilli(endedMs.Int64).UTC()
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("RecentSessions rows: %w", err)
	}
	return out, nil
}

// PruneEndedBefore deletes finished sessions whose ended_at_ms is before
// cutoff. Returns the number of rows deleted.
func (s *SessionStore) PruneEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM scan_sessions
WHERE ended_at_ms IS NOT NULL AND ended_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneEndedBefore: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// CloseOpenSessions sets ended_at_ms = started_at_ms on every session that
// was never ended, so an unclean exit cannot leave rows PruneEndedBefore skips.
func (s *SessionStore) CloseOpenSessions(ctx context.Context) (int64, error) {
	var closed int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE scan_sessions
SET ended_at_ms = started_at_ms
WHERE ended_at_ms IS NULL;
`)
		if err != nil {
			return fmt.Errorf("CloseOpenSessions: %w", err)
		}
		closed, _ = res.RowsAffected()
		return nil
	})
	return closed, err
}
