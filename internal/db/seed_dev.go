package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// Key and Value are written to kv_store unless Key already holds data.
	Key   string
	Value []byte
}

// SeedDev pre-populates a fresh dev database. Existing values are never
// overwritten. It reports whether a row was inserted.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) (bool, error) {
	if opt.Key == "" {
		return false, fmt.Errorf("seed: empty key")
	}
	now := time.Now().UTC().UnixMilli()

	res, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO kv_store(key, value, updated_at_ms)
VALUES (?, ?, ?);`, opt.Key, string(opt.Value), now)
	if err != nil {
		return false, fmt.Errorf("seed %s: %w", opt.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seed %s: %w", opt.Key, err)
	}
	return n == 1, nil
}
