package store

import (
	"context"
	"time"
)

// SessionRecord is one start/stop cycle of the scanner.
type SessionRecord struct {
	SessionID  string     `json:"session_id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Recorded   int        `json:"recorded"`
	Duplicates int        `json:"duplicates"`
	Malformed  int        `json:"malformed"`
}

// SessionStore keeps a history of scanner sessions. Sessions are written
// once on start and once on stop.
type SessionStore interface {
	BeginSession(ctx context.Context, rec SessionRecord) error
	EndSession(ctx context.Context, rec SessionRecord) error
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)

	// PruneEndedBefore deletes sessions that ended before cutoff and
	// returns how many were removed. Open sessions are never pruned.
	PruneEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CloseOpenSessions ends every session that has no end time, stamping
	// it with its own start time, and returns how many it closed.
	CloseOpenSessions(ctx context.Context) (int64, error)
}
