package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/ctxlogger"
)

//go:embed sql/*.sql
var migrationFS embed.FS

type Migration struct {
	Version string
	SQL     string
}

func Load() ([]Migration, error) {
	entries, err := migrationFS.ReadDir("sql")
	if err != nil {
		return nil, fmt.Errorf("migrations.Load: could not read migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var a []Migration
	for _, name := range names {
		d, err := migrationFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, fmt.Errorf("migrations.Load: could not read %s: %w", name, err)
		}

		a = append(a, Migration{Version: strings.TrimSuffix(name, ".sql"), SQL: string(d)})
	}

	return a, nil
}

// Apply runs every migration that isn't yet recorded in schema_migrations,
// each in its own transaction, and returns the versions it applied.
func Apply(ctx context.Context, db *sql.DB) ([]string, error) {
	migrations, err := Load()
	if err != nil {
		return nil, fmt.Errorf("migrations.Apply: %w", err)
	}

	if _, err := db.ExecContext(ctx, "create table if not exists schema_migrations (version text primary key, applied_at datetime not null default current_timestamp)"); err != nil {
		return nil, fmt.Errorf("migrations.Apply: could not create schema_migrations: %w", err)
	}

	l := ctxlogger.GetLogger(ctx)

	var applied []string

	for _, m := range migrations {
		ok, err := applyOne(ctx, db, m)
		if err != nil {
			return applied, fmt.Errorf("migrations.Apply: %w", err)
		}
		if !ok {
			continue
		}

		l.WithFields(logrus.Fields{"migration.version": m.Version}).Info("applied migration")

		applied = append(applied, m.Version)
	}

	return applied, nil
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("applyOne: could not begin transaction for %s: %w", m.Version, err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "select count(1) from schema_migrations where version = ?", m.Version).Scan(&count); err != nil {
		return false, fmt.Errorf("applyOne: could not check %s: %w", m.Version, err)
	}
	if count > 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return false, fmt.Errorf("applyOne: could not apply %s: %w", m.Version, err)
	}

	if _, err := tx.ExecContext(ctx, "insert into schema_migrations (version) values (?)", m.Version); err != nil {
		return false, fmt.Errorf("applyOne: could not record %s: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("applyOne: could not commit %s: %w", m.Version, err)
	}

	return true, nil
}
