// Package app wires configuration to concrete storage and frame sources.
// Both binaries build their dependencies through it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/BrandonDHaskell/Rollcall/server/internal/config"
	"github.com/BrandonDHaskell/Rollcall/server/internal/db"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/capture"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/scanner"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store/file"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store/memory"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store/mongo"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store/sqlite"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

var (
	ErrUnknownBackend = errors.New("unknown storage backend")
	ErrUnknownSource  = errors.New("unknown frame source")
)

const mongoConnectTimeout = 10 * time.Second

// Storage bundles the attendance persister with the session history.
// Backends without a session table keep sessions in memory.
type Storage struct {
	Backend  string
	Records  store.Persister
	Sessions store.SessionStore

	closers []func() error
}

// Close releases backend resources in reverse order of acquisition.
func (s *Storage) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// OpenStorage builds the configured backend. fsys backs the file backend.
func OpenStorage(ctx context.Context, cfg config.Config, fsys afero.Fs, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Storage{Backend: cfg.Storage.Backend}

	switch cfg.Storage.Backend {
	case "sqlite":
		conn, err := db.Open(ctx, db.Config{Path: cfg.Storage.DBPath})
		if err != nil {
			return nil, err
		}
		writer := db.NewWriter(conn)
		s.closers = append(s.closers, conn.Close, func() error { writer.Close(); return nil })

		if cfg.Env == "dev" && cfg.SeedDev {
			if err := seedDev(ctx, conn, logger); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		s.Records = sqlite.NewRecordStore(conn, writer)
		s.Sessions = sqlite.NewSessionStore(conn, writer)
		logger.InfoContext(ctx, "storage ready", "backend", "sqlite", "path", cfg.Storage.DBPath)

	case "file":
		fstore := file.New(fsys, cfg.Storage.DataDir)
		s.Records = fstore
		s.Sessions = memory.NewSessionStore()
		logger.InfoContext(ctx, "storage ready", "backend", "file", "path", fstore.Path())

	case "mongo":
		cctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
		defer cancel()
		client, err := mongo.Connect(cctx, cfg.Storage.MongoURI, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { return client.Disconnect(context.Background()) })
		s.Records = mongo.NewFromClient(client, cfg.Storage.MongoDB)
		s.Sessions = memory.NewSessionStore()
		logger.InfoContext(ctx, "storage ready", "backend", "mongo", "database", cfg.Storage.MongoDB)

	case "memory":
		s.Records = memory.New()
		s.Sessions = memory.NewSessionStore()
		logger.WarnContext(ctx, "storage is in-memory; records are lost on exit")

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Storage.Backend)
	}
	return s, nil
}

// OpenBook loads the record store from p in the configured timezone.
func OpenBook(ctx context.Context, cfg config.Config, p store.Persister) (*service.Book, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return service.LoadBook(ctx, p, service.WithLocation(loc))
}

// NewOpener returns the frame source opener for the configured source.
func NewOpener(cfg config.ScannerConfig, fsys afero.Fs) (scanner.Opener, error) {
	switch cfg.Source {
	case "camera":
		device := cfg.CameraDevice
		return func(context.Context) (capture.Source, error) {
			return capture.OpenCamera(device)
		}, nil
	case "images":
		dir := cfg.ImageDir
		return func(context.Context) (capture.Source, error) {
			src, err := capture.OpenDir(fsys, dir)
			if err != nil {
				return nil, err
			}
			return src, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source)
	}
}

// DemoRecords is the dev seed: three students checked in earlier today.
func DemoRecords(now time.Time) []types.AttendanceRecord {
	base := now.UTC().Truncate(time.Minute)
	return []types.AttendanceRecord{
		{StudentID: "S001", StudentName: "Ada Lovelace", Timestamp: base.Add(-30 * time.Minute)},
		{StudentID: "S002", StudentName: "Alan Turing", Timestamp: base.Add(-20 * time.Minute)},
		{StudentID: "S003", StudentName: "Grace Hopper", Timestamp: base.Add(-10 * time.Minute)},
	}
}

func seedDev(ctx context.Context, conn *sql.DB, logger *slog.Logger) error {
	records := DemoRecords(time.Now())
	value, err := store.Encode(records)
	if err != nil {
		return err
	}
	inserted, err := db.SeedDev(ctx, conn, db.SeedDevOptions{Key: store.Key, Value: value})
	if err != nil {
		return err
	}
	if inserted {
		logger.InfoContext(ctx, "seeded dev attendance records", "count", len(records))
	}
	return nil
}
