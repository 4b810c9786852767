// Package dbsavepoint wraps SQL savepoints so a block of statements inside a
// transaction can fail without aborting the whole transaction.
package dbsavepoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidName       = errors.New("dbsavepoint: savepoint names may only contain letters, digits, and underscores")
	ErrAlreadyRolledBack = errors.New("dbsavepoint: savepoint already rolled back")
	ErrAlreadyReleased   = errors.New("dbsavepoint: savepoint already released")
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

type state int

const (
	open state = iota
	released
	rolledBack
)

type Savepoint struct {
	tx     *sql.Tx
	name   string
	ownsTx bool
	state  state
}

func create(ctx context.Context, tx *sql.Tx, name string, ownsTx bool) (*Savepoint, error) {
	if _, err := tx.ExecContext(ctx, "savepoint "+name); err != nil {
		return nil, fmt.Errorf("dbsavepoint: could not create savepoint %s: %w", name, err)
	}

	return &Savepoint{tx: tx, name: name, ownsTx: ownsTx}, nil
}

// CreateFromDB starts a transaction that lives exactly as long as the
// savepoint.
func CreateFromDB(ctx context.Context, db *sql.DB, name string) (*Savepoint, error) {
	if !nameRE.MatchString(name) {
		return nil, ErrInvalidName
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dbsavepoint: could not begin transaction: %w", err)
	}

	sp, err := create(ctx, tx, name, true)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	return sp, nil
}

func CreateFromTx(ctx context.Context, tx *sql.Tx, name string) (*Savepoint, error) {
	if !nameRE.MatchString(name) {
		return nil, ErrInvalidName
	}

	return create(ctx, tx, name, false)
}

// CreateFromParent nests a savepoint inside sp. The nested savepoint's SQL
// name is prefixed with the parent's so siblings at different depths don't
// collide.
func CreateFromParent(ctx context.Context, sp *Savepoint, name string) (*Savepoint, error) {
	if !nameRE.MatchString(name) {
		return nil, ErrInvalidName
	}
	if err := sp.check(); err != nil {
		return nil, err
	}

	return create(ctx, sp.tx, sp.name+"__"+name, false)
}

func (sp *Savepoint) Name() string { return sp.name }

func (sp *Savepoint) check() error {
	switch sp.state {
	case released:
		return ErrAlreadyReleased
	case rolledBack:
		return ErrAlreadyRolledBack
	default:
		return nil
	}
}

func (sp *Savepoint) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := sp.check(); err != nil {
		return nil, err
	}

	return sp.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext can't hand back a *sql.Row carrying our own error, so on a
// finished savepoint the query runs against an already cancelled context and
// Scan reports the cancellation.
func (sp *Savepoint) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if sp.check() != nil {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		ctx = cancelled
	}

	return sp.tx.QueryRowContext(ctx, query, args...)
}

func (sp *Savepoint) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := sp.check(); err != nil {
		return nil, err
	}

	return sp.tx.ExecContext(ctx, query, args...)
}

func (sp *Savepoint) Create(ctx context.Context, name string) (*Savepoint, error) {
	return CreateFromParent(ctx, sp, name)
}

func (sp *Savepoint) Release(ctx context.Context) error {
	if err := sp.check(); err != nil {
		return err
	}
	sp.state = released

	if _, err := sp.tx.ExecContext(ctx, "release savepoint "+sp.name); err != nil {
		return fmt.Errorf("dbsavepoint: could not release savepoint %s: %w", sp.name, err)
	}

	if sp.ownsTx {
		return sp.tx.Commit()
	}

	return nil
}

func (sp *Savepoint) Rollback(ctx context.Context) error {
	if err := sp.check(); err != nil {
		return err
	}
	sp.state = rolledBack

	// rolling back to a savepoint leaves it open; release it so the
	// enclosing transaction can carry on as if it never existed
	for _, stmt := range []string{"rollback to savepoint ", "release savepoint "} {
		if _, err := sp.tx.ExecContext(ctx, stmt+sp.name); err != nil {
			return fmt.Errorf("dbsavepoint: could not roll back savepoint %s: %w", sp.name, err)
		}
	}

	if sp.ownsTx {
		return sp.tx.Rollback()
	}

	return nil
}
