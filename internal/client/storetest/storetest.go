// Package storetest opens a migrated vault cache store for tests.
package storetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/client/migrations"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// OpenDB returns a migrated store backed by a file in t.TempDir().
// A file is used instead of :memory: so every pooled connection sees the same data.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", dbx.SQLiteDSN(filepath.Join(t.TempDir(), "vault.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}

// InsertItem adds a bare item row and returns its id.
func InsertItem(t testing.TB, db dbx.DBTX, parentID int64, path, typ string) int64 {
	t.Helper()
	res, err := db.ExecContext(context.Background(), `
		INSERT INTO item_metadata (name, type, parent_id, path, path_lower, status)
		VALUES (?, ?, ?, ?, lower(?), 'uploaded')`,
		filepath.Base(path), typ, parentID, path, path)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}
