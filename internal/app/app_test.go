package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/BrandonDHaskell/Rollcall/server/internal/app"
	"github.com/BrandonDHaskell/Rollcall/server/internal/config"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/capture"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(backend string) config.Config {
	cfg := config.Defaults()
	cfg.Storage.Backend = backend
	cfg.Timezone = "UTC"
	return cfg
}

// ── OpenStorage ──────────────────────────────────────────────────────────────

func TestOpenStorage_SQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("sqlite")
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "rollcall.db")

	s, err := app.OpenStorage(ctx, cfg, afero.NewMemMapFs(), silentLogger())
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	book, err := app.OpenBook(ctx, cfg, s.Records)
	if err != nil {
		t.Fatalf("OpenBook: %v", err)
	}
	if _, err := book.Add(ctx, types.AttendanceRecord{StudentID: "S1", StudentName: "Ada"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := app.OpenStorage(ctx, cfg, afero.NewMemMapFs(), silentLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	records, err := s2.Records.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 || records[0].StudentID != "S1" {
		t.Errorf("unexpected records after reopen: %+v", records)
	}
}

func TestOpenStorage_SQLite_SeedDev(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("sqlite")
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "rollcall.db")
	cfg.SeedDev = true

	s, err := app.OpenStorage(ctx, cfg, afero.NewMemMapFs(), silentLogger())
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	defer s.Close()

	records, err := s.Records.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != len(app.DemoRecords(time.Now())) {
		t.Errorf("expected demo records, got %d", len(records))
	}
}

func TestOpenStorage_SQLite_NoSeedInProd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("sqlite")
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "rollcall.db")
	cfg.Env = "prod"
	cfg.SeedDev = true

	s, err := app.OpenStorage(ctx, cfg, afero.NewMemMapFs(), silentLogger())
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	defer s.Close()

	records, _ := s.Records.Load(ctx)
	if len(records) != 0 {
		t.Errorf("prod must not seed, got %d records", len(records))
	}
}

func TestOpenStorage_File(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	cfg := testConfig("file")
	cfg.Storage.DataDir = "/var/rollcall"

	s, err := app.OpenStorage(ctx, cfg, fsys, silentLogger())
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	defer s.Close()

	if err := s.Records.Save(ctx, []types.AttendanceRecord{{StudentID: "S1", StudentName: "Ada", Timestamp: time.Now()}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ok, _ := afero.Exists(fsys, "/var/rollcall/attendanceData.json"); !ok {
		t.Error("expected attendanceData.json on the filesystem")
	}
	if s.Sessions == nil {
		t.Error("expected a session store")
	}
}

func TestOpenStorage_Memory(t *testing.T) {
	s, err := app.OpenStorage(context.Background(), testConfig("memory"), nil, silentLogger())
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	if s.Records == nil || s.Sessions == nil {
		t.Fatal("expected memory stores")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpenStorage_UnknownBackend(t *testing.T) {
	_, err := app.OpenStorage(context.Background(), testConfig("redis"), nil, silentLogger())
	if !errors.Is(err, app.ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestOpenBook_BadTimezone(t *testing.T) {
	s, _ := app.OpenStorage(context.Background(), testConfig("memory"), nil, silentLogger())
	cfg := testConfig("memory")
	cfg.Timezone = "Nowhere/Special"

	if _, err := app.OpenBook(context.Background(), cfg, s.Records); err == nil {
		t.Fatal("expected timezone error")
	}
}

// ── NewOpener ────────────────────────────────────────────────────────────────

func TestNewOpener_Images_EmptyDir(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = fsys.MkdirAll("/frames", 0o755)

	open, err := app.NewOpener(config.ScannerConfig{Source: "images", ImageDir: "/frames"}, fsys)
	if err != nil {
		t.Fatalf("NewOpener: %v", err)
	}
	src, err := open(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if src != nil {
		t.Error("expected nil source on failure")
	}
}

func TestNewOpener_UnknownSource(t *testing.T) {
	_, err := app.NewOpener(config.ScannerConfig{Source: "webrtc"}, afero.NewMemMapFs())
	if !errors.Is(err, app.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}
