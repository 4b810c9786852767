// Package library is the per-user store for folders, videos, tags and
// profiles. Every operation is scoped by user id, and rows belonging to other
// users behave exactly as if they did not exist.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fknsrs.biz/p/sorm"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound        = fmt.Errorf("not found")
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrInvalidURL      = fmt.Errorf("Invalid YouTube URL")
	ErrDefaultFolder   = fmt.Errorf("Cannot delete default Inbox folder")
	ErrFolderNotEmpty  = fmt.Errorf("Cannot delete folder with videos. Move videos first.")
	ErrNoDefaultFolder = fmt.Errorf("Default folder not found")
	ErrAlreadySaved    = fmt.Errorf("Video already exists in your library")
)

type Querier interface {
	sorm.Querier
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// InputError carries a message fit for showing to the user.
type InputError struct {
	Message string
}

func invalidInput(format string, args ...interface{}) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

func (e *InputError) Error() string { return e.Message }
func (e *InputError) Unwrap() error { return ErrInvalidInput }

type AlreadySavedError struct {
	Title      string
	FolderName string
}

func (e *AlreadySavedError) Error() string {
	return `"` + e.Title + `" is already saved in "` + e.FolderName + `"`
}

func (e *AlreadySavedError) Unwrap() error { return ErrAlreadySaved }

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

// IsConflict reports whether err came from another connection writing the
// same rows first. Running the whole transaction again sees that write.
func IsConflict(err error) bool {
	if isUniqueViolation(err) {
		return true
	}

	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}

	return false
}

func isForeignKeyViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}

	return false
}

func intList(ids []int) string {
	a := make([]string, len(ids))
	for i, id := range ids {
		a[i] = strconv.Itoa(id)
	}

	return strings.Join(a, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
