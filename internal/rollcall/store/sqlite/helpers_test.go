package sqlite_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/BrandonDHaskell/Rollcall/server/internal/db"
)

// openTestDB returns an in-memory SQLite connection with the production
// PRAGMAs and schema. It is closed when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenMemory(context.Background(), "test_"+t.Name())
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Writer backed by conn, closed when the test
// finishes.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Writer {
	t.Helper()

	w := db.NewWriter(conn)
	t.Cleanup(func() { w.Close() })
	return w
}
