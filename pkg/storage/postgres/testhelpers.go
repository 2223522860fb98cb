package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for tests

	"github.com/platinummonkey/flowguard/pkg/observability"
)

var testDBCounter atomic.Int64

// NewTestDB returns a migrated in-memory SQLite database private to the calling test.
// The schema is identical to the PostgreSQL one so stores can be exercised without a server.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:flowguard_test_%d?mode=memory&cache=shared&_foreign_keys=off", testDBCounter.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(context.Background(), db, observability.NewNopLogger()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// CountRows returns the number of rows in table matching workspace_id, or all rows when
// workspaceID is empty
func CountRows(t testing.TB, db *sql.DB, table, workspaceID string) int {
	t.Helper()

	var n int
	var err error
	if workspaceID == "" {
		err = db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
	} else {
		err = db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE workspace_id = $1", workspaceID).Scan(&n)
	}
	if err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}
