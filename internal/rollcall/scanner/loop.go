// Package scanner runs the capture/decode loop: one frame per tick, decoded
// and handed to a Processor, with a cooldown after every new record.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/capture"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

var ErrAlreadyRunning = errors.New("scanner already running")

const (
	DefaultFrameInterval = 33 * time.Millisecond
	DefaultCooldown      = 2 * time.Second
)

// Processor handles one decoded payload.
type Processor interface {
	Process(ctx context.Context, raw string) (types.ScanResponse, error)
}

// Opener acquires the frame source for one session.
type Opener func(ctx context.Context) (capture.Source, error)

// Observer is told when the loop starts and stops.
type Observer interface {
	ScannerStarted(sessionID string)
	ScannerStopped(sessionID string)
}

type Config struct {
	// FrameInterval is the tick period; at most one frame is processed per
	// tick. Defaults to 33ms.
	FrameInterval time.Duration

	// Cooldown pauses decoding after a new record. Defaults to 2s.
	Cooldown time.Duration
}

type Option func(*Loop)

func WithSessionStore(s store.SessionStore) Option {
	return func(l *Loop) { l.sessions = s }
}

func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observer = o }
}

// Loop owns the capture device between Start and Stop. Start and Stop are
// serialised; a second Start while running fails with ErrAlreadyRunning.
type Loop struct {
	open     Opener
	decoder  capture.Decoder
	proc     Processor
	sessions store.SessionStore
	observer Observer
	logger   *slog.Logger
	cfg      Config

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	src       capture.Source

	mu      sync.Mutex
	status  types.ScannerStatus
	session store.SessionRecord
}

func New(open Opener, dec capture.Decoder, proc Processor, cfg Config, logger *slog.Logger, opts ...Option) *Loop {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loop{
		open:    open,
		decoder: dec,
		proc:    proc,
		logger:  logger,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start opens the source and begins ticking. The loop is detached from
// ctx's cancellation (a start request finishing must not stop the scanner)
// but keeps its values.
func (l *Loop) Start(ctx context.Context) error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel != nil {
		return ErrAlreadyRunning
	}

	src, err := l.open(ctx)
	if err != nil {
		if !errors.Is(err, capture.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
		l.setMessage(types.StatusError, "Error accessing camera: "+err.Error())
		l.logger.ErrorContext(ctx, "scanner start failed", "error", err)
		return err
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	l.mu.Lock()
	l.status = types.ScannerStatus{
		Running:   true,
		SessionID: id,
		StartedAt: &now,
		Message:   "Scanner started. Point camera at QR code.",
		Kind:      types.StatusSuccess,
	}
	l.session = store.SessionRecord{SessionID: id, Source: src.Name(), StartedAt: now}
	l.mu.Unlock()

	if l.sessions != nil {
		if err := l.sessions.BeginSession(ctx, l.session); err != nil {
			l.logger.WarnContext(ctx, "session begin not recorded", "session_id", id, "error", err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.done = make(chan struct{})
	l.src = src
	go l.run(loopCtx, src, l.done)

	if l.observer != nil {
		l.observer.ScannerStarted(id)
	}
	l.logger.InfoContext(ctx, "scanner started", "session_id", id, "source", src.Name(),
		"frame_interval", l.cfg.FrameInterval, "cooldown", l.cfg.Cooldown)
	return nil
}

// Stop cancels the pending tick, waits for the loop to exit and releases the
// source. Stopping a stopped loop is a no-op.
func (l *Loop) Stop() error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel == nil {
		return nil
	}

	l.cancel()
	<-l.done
	closeErr := l.src.Close()
	l.cancel, l.done, l.src = nil, nil, nil

	ended := time.Now().UTC()
	l.mu.Lock()
	l.status.Running = false
	l.status.Message = "Scanner stopped."
	l.status.Kind = types.StatusInfo
	sess := l.session
	sess.EndedAt = &ended
	sess.Recorded = l.status.Recorded
	sess.Duplicates = l.status.Duplicates
	sess.Malformed = l.status.Malformed
	l.mu.Unlock()

	if l.sessions != nil {
		if err := l.sessions.EndSession(context.Background(), sess); err != nil {
			l.logger.Warn("session end not recorded", "session_id", sess.SessionID, "error", err)
		}
	}
	if l.observer != nil {
		l.observer.ScannerStopped(sess.SessionID)
	}
	l.logger.Info("scanner stopped", "session_id", sess.SessionID,
		"recorded", sess.Recorded, "duplicates", sess.Duplicates, "malformed", sess.Malformed)

	if closeErr != nil {
		return fmt.Errorf("release source: %w", closeErr)
	}
	return nil
}

func (l *Loop) Status() types.ScannerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Loop) Running() bool {
	return l.Status().Running
}

func (l *Loop) run(ctx context.Context, src capture.Source, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !l.tick(ctx, src) {
			continue
		}

		cooldown := time.NewTimer(l.cfg.Cooldown)
		select {
		case <-ctx.Done():
			cooldown.Stop()
			return
		case <-cooldown.C:
		}
		ticker.Reset(l.cfg.FrameInterval)
	}
}

// tick processes at most one frame and reports whether it produced a new
// record. Once a frame has been taken from the source it is handled to the
// end: Stop waits for it and the record is persisted even though ctx is
// cancelled by then.
func (l *Loop) tick(ctx context.Context, src capture.Source) bool {
	if ctx.Err() != nil {
		return false
	}
	img, err := src.Frame()
	if err != nil {
		if !errors.Is(err, capture.ErrNoFrame) {
			l.logger.DebugContext(ctx, "frame read failed", "error", err)
		}
		return false
	}

	raw, err := l.decoder.Decode(img)
	if err != nil {
		return false
	}

	resp, err := l.proc.Process(context.WithoutCancel(ctx), raw)
	l.note(resp, err)
	return err == nil && resp.Outcome == types.OutcomeRecorded
}

func (l *Loop) note(resp types.ScanResponse, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch resp.Outcome {
	case types.OutcomeRecorded:
		l.status.Recorded++
		l.status.Kind = types.StatusSuccess
	case types.OutcomeDuplicate:
		l.status.Duplicates++
		l.status.Kind = types.StatusError
	case types.OutcomeMalformed:
		l.status.Malformed++
		l.status.Kind = types.StatusError
	default:
		l.status.Kind = types.StatusError
		l.status.Message = "Error processing QR code"
		if err != nil {
			l.status.Message += ": " + err.Error()
		}
		return
	}
	l.status.Message = resp.Message
}

func (l *Loop) setMessage(kind types.StatusKind, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Kind = kind
	l.status.Message = msg
}
