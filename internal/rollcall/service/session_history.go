package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
)

const defaultTrimEvery = 6 * time.Hour

// HistoryConfig bounds the scanner session log.
type HistoryConfig struct {
	// Retention is how long a finished session is kept. Zero keeps
	// everything.
	Retention time.Duration

	// TrimEvery is the pause between trims. Defaults to 6h.
	TrimEvery time.Duration
}

// SessionHistory looks after the scanner session log outside of the loop
// itself. Recover repairs what an unclean exit left behind; Run drops
// finished sessions once they age out.
type SessionHistory struct {
	sessions store.SessionStore
	cfg      HistoryConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewSessionHistory(s store.SessionStore, cfg HistoryConfig, logger *slog.Logger) *SessionHistory {
	if cfg.TrimEvery <= 0 {
		cfg.TrimEvery = defaultTrimEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHistory{sessions: s, cfg: cfg, logger: logger, now: time.Now}
}

// Recover ends sessions that were begun but never ended. No scanner can be
// running in this process yet, so any open session belongs to a previous
// one that died. Call it before the scanner is constructed.
func (h *SessionHistory) Recover(ctx context.Context) (int64, error) {
	closed, err := h.sessions.CloseOpenSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("close dangling sessions: %w", err)
	}
	if closed > 0 {
		h.logger.WarnContext(ctx, "closed sessions left open by a previous run", "sessions", closed)
	}
	return closed, nil
}

// Trim deletes finished sessions older than the retention window. With no
// retention it does nothing.
func (h *SessionHistory) Trim(ctx context.Context) (int64, error) {
	if h.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := h.now().UTC().Add(-h.cfg.Retention)
	deleted, err := h.sessions.PruneEndedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim sessions: %w", err)
	}
	if deleted > 0 {
		h.logger.InfoContext(ctx, "session history trimmed", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// Run trims straight away and then TrimEvery after each trim finishes,
// until ctx is done. It returns at once when retention is zero.
func (h *SessionHistory) Run(ctx context.Context) {
	if h.cfg.Retention <= 0 {
		h.logger.InfoContext(ctx, "session history kept indefinitely")
		return
	}
	h.logger.InfoContext(ctx, "session history trimming",
		"retention", h.cfg.Retention, "every", h.cfg.TrimEvery)

	wait := time.NewTimer(0)
	defer wait.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wait.C:
		}
		if _, err := h.Trim(ctx); err != nil && ctx.Err() == nil {
			h.logger.ErrorContext(ctx, "session history trim failed", "error", err)
		}
		wait.Reset(h.cfg.TrimEvery)
	}
}
