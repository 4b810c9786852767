// Package testdb opens throwaway sqlite databases with the schema applied.
package testdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"fknsrs.biz/p/sorm"
	_ "github.com/mattn/go-sqlite3"

	"fknsrs.biz/p/recall/internal/migrations"
)

func init() {
	sorm.SetParameterPrefix("?")
}

const DSNOptions = "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"

func Open(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "test.db")+DSNOptions)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		t.Fatal(err)
	}

	return db
}

// Exec runs a statement that the test cannot continue without.
func Exec(t testing.TB, db *sql.DB, query string, args ...interface{}) sql.Result {
	t.Helper()

	res, err := db.Exec(query, args...)
	if err != nil {
		t.Fatal(err)
	}

	return res
}

func Count(t testing.TB, db *sql.DB, query string, args ...interface{}) int {
	t.Helper()

	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatal(err)
	}

	return n
}
