// Package dbtest opens migrated in-memory databases for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/ansarisultan/lexachat-server/internal/db"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// Open returns a single-connection in-memory database with the schema applied.
// Callers must not hold a *sql.Rows open while issuing another query.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, db.Migrate(context.Background(), database))
	return database
}
