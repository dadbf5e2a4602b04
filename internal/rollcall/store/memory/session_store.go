package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
)

// SessionStore is an in-memory scanner session history.
type SessionStore struct {
	mu       sync.Mutex
	sessions []store.SessionRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

func (s *SessionStore) BeginSession(_ context.Context, rec store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, rec)
	return nil
}

func (s *SessionStore) EndSession(_ context.Context, rec store.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].SessionID == rec.SessionID {
			s.sessions[i] = rec
			return nil
		}
	}
	s.sessions = append(s.sessions, rec)
	return nil
}

// RecentSessions returns newest first.
func (s *SessionStore) RecentSessions(_ context.Context, limit int) ([]store.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.SessionRecord, 0, len(s.sessions))
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.sessions[i])
	}
	return out, nil
}

func (s *SessionStore) PruneEndedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	kept := s.sessions[:0]
	for _, rec := range s.sessions {
		if rec.EndedAt != nil && rec.EndedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.sessions = kept
	return deleted, nil
}

func (s *SessionStore) CloseOpenSessions(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed int64
	for i := range s.sessions {
		if s.sessions[i].EndedAt == nil {
			ended := s.sessions[i].StartedAt
			s.sessions[i].EndedAt = &ended
			closed++
		}
	}
	return closed, nil
}
