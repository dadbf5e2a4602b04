package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultPath = "./data/rollcall.db"

// pragmas applied to every connection. WAL plus a busy timeout keeps the
// HTTP readers from tripping over the single writer.
const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

type Config struct {
	Path string // e.g. "./data/rollcall.db"
}

// Open creates the parent directory if needed, opens the database with a
// single connection and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	return open(ctx, fmt.Sprintf("file:%s?%s", cfg.Path, pragmas))
}

// OpenMemory opens a private in-memory database. name must be unique per
// caller; the shared cache keeps it alive as long as the pool is open.
func OpenMemory(ctx context.Context, name string) (*sql.DB, error) {
	return open(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", name, pragmas))
}

func open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}
