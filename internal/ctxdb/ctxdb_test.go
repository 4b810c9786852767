package ctxdb

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/recall/internal/dbsavepoint"
)

func openDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("create table things (name text not null)"); err != nil {
		t.Fatal(err)
	}

	return db
}

func names(t *testing.T, db *sql.DB) []string {
	rows, err := db.Query("select name from things order by name")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var a []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatal(err)
		}
		a = append(a, s)
	}

	return a
}

func TestUsingTxWithoutDB(t *testing.T) {
	a := assert.New(t)

	a.ErrorIs(UsingTx(context.Background(), nil, func(ctx context.Context, tx *sql.Tx) error { return nil }), ErrNoDB)
}

func TestUsingTxCommitAndRollback(t *testing.T) {
	a := assert.New(t)

	db := openDB(t)
	ctx := WithDB(context.Background(), db)

	a.NoError(UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		a.Equal(tx, GetTx(ctx))
		_, err := tx.ExecContext(ctx, "insert into things (name) values ('kept')")
		return err
	}))

	a.ErrorContains(UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "insert into things (name) values ('dropped')"); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	}), "abort")

	a.Equal([]string{"kept"}, names(t, db))
}

func TestSavepointInsideTx(t *testing.T) {
	a := assert.New(t)

	db := openDB(t)
	ctx := WithDB(context.Background(), db)

	a.NoError(UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "insert into things (name) values ('outer')"); err != nil {
			return err
		}

		err := UsingSavepoint(ctx, "inner", func(ctx context.Context, sp *dbsavepoint.Savepoint) error {
			if _, err := sp.ExecContext(ctx, "insert into things (name) values ('inner')"); err != nil {
				return err
			}
			return fmt.Errorf("inner failed")
		})
		a.ErrorContains(err, "inner failed")

		return UsingSavepoint(ctx, "second", func(ctx context.Context, sp *dbsavepoint.Savepoint) error {
			if err := UsingSavepoint(ctx, "nested", func(ctx context.Context, sp *dbsavepoint.Savepoint) error {
				a.Equal("second__nested", sp.Name())
				_, err := sp.ExecContext(ctx, "insert into things (name) values ('nested')")
				return err
			}); err != nil {
				return err
			}

			_, err := sp.ExecContext(ctx, "insert into things (name) values ('second')")
			return err
		})
	}))

	a.Equal([]string{"nested", "outer", "second"}, names(t, db))
}

func TestSavepointFinished(t *testing.T) {
	a := assert.New(t)

	db := openDB(t)
	ctx := context.Background()

	sp, err := dbsavepoint.CreateFromDB(ctx, db, "only")
	a.NoError(err)
	a.NoError(sp.Release(ctx))

	_, err = sp.ExecContext(ctx, "insert into things (name) values ('late')")
	a.ErrorIs(err, dbsavepoint.ErrAlreadyReleased)
	a.ErrorIs(sp.Rollback(ctx), dbsavepoint.ErrAlreadyReleased)

	var n int
	a.Error(sp.QueryRowContext(ctx, "select count(*) from things").Scan(&n))

	_, err = dbsavepoint.CreateFromDB(ctx, db, "bad name")
	a.ErrorIs(err, dbsavepoint.ErrInvalidName)
}

func TestUsingTxValue(t *testing.T) {
	a := assert.New(t)

	db := openDB(t)
	ctx := WithDB(context.Background(), db)

	n, err := UsingTxValue(ctx, nil, func(ctx context.Context, tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, "insert into things (name) values ('a'), ('b')")
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
	a.NoError(err)
	a.Equal(int64(2), n)

	n, err = UsingTxValue(ctx, nil, func(ctx context.Context, tx *sql.Tx) (int64, error) {
		if _, err := tx.ExecContext(ctx, "insert into things (name) values ('c')"); err != nil {
			return 0, err
		}
		return 1, fmt.Errorf("abort")
	})
	a.ErrorContains(err, "abort")
	a.Zero(n)

	a.Equal([]string{"a", "b"}, names(t, db))
}
