// Package sqlitelogger wraps a database/sql driver so that statements and
// transactions are logged through the logger found in the query's context.
package sqlitelogger

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	proxy "github.com/shogo82148/go-sql-proxy"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxlogger"
	"fknsrs.biz/p/recall/internal/stackutil"
)

const stackDepth = 100

var (
	ErrCancelLogging = errors.New("cancel logging")
)

type Stats struct {
	Start        time.Time
	Duration     time.Duration
	Stack        []runtime.Frame
	RowsAffected int64

	query     string
	queryText string
	queryArgs []driver.NamedValue
}

// Query returns the statement with its arguments substituted in.
func (s *Stats) Query() string {
	if s.query == "" && s.queryText != "" {
		s.query = printQuery(s.queryText, s.queryArgs)
	}
	return s.query
}

type Filter interface {
	PreCollection(ctx context.Context, stats *Stats) error
	PreLogging(ctx context.Context, stats *Stats) error
	HideStackFrame(ctx context.Context, frame runtime.Frame) (bool, error)
}

type logger struct {
	filters []Filter
}

func (l *logger) start(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
	now, err := ctxclock.Now(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Start:        now,
		Stack:        stackutil.GetStack(stackDepth, 2),
		RowsAffected: -1,
	}

	if stmt != nil {
		stats.queryText = stmt.QueryString
		stats.queryArgs = args
	}

	for _, filter := range l.filters {
		if err := filter.PreCollection(ctx, stats); err != nil {
			if errors.Is(err, ErrCancelLogging) {
				return nil, nil
			}

			return nil, err
		}
	}

	return stats, nil
}

func (l *logger) finish(ctx context.Context, upperError error, qctx interface{}, kind string, result driver.Result) error {
	if upperError != nil {
		return upperError
	}

	stats, ok := qctx.(*Stats)
	if !ok || stats == nil {
		return nil
	}

	now, err := ctxclock.Now(ctx)
	if err != nil {
		return err
	}

	stats.Duration = now.Sub(stats.Start)

	if result != nil {
		if n, err := result.RowsAffected(); err == nil {
			stats.RowsAffected = n
		}
	}

	for _, filter := range l.filters {
		if err := filter.PreLogging(ctx, stats); err != nil {
			if errors.Is(err, ErrCancelLogging) {
				return nil
			}

			return err
		}
	}

	prefix := "sql." + kind

	fields := logrus.Fields{
		prefix + ".start":    stats.Start.Format(time.RFC3339),
		prefix + ".duration": stats.Duration,
	}
	if q := stats.Query(); q != "" {
		fields[prefix+".content"] = q
	}
	if stats.RowsAffected >= 0 {
		fields[prefix+".rows_affected"] = stats.RowsAffected
	}

	n := 0
frames:
	for _, frame := range stats.Stack {
		for _, filter := range l.filters {
			hide, err := filter.HideStackFrame(ctx, frame)
			if err != nil {
				return err
			}
			if hide {
				continue frames
			}
		}

		fields[fmt.Sprintf("%s.stack.%02d", prefix, n)] = stackutil.FormatStackFrame(frame)
		n++
	}

	ctxlogger.GetLogger(ctx).WithFields(fields).Info("sql " + strings.ReplaceAll(kind, "_", " "))

	return nil
}

func New(wrapped driver.Driver, filters ...Filter) driver.Driver {
	l := &logger{filters: filters}

	return proxy.NewProxyContext(wrapped, &proxy.HooksContext{
		PrePrepare: func(ctx context.Context, stmt *proxy.Stmt) (interface{}, error) {
			return l.start(ctx, stmt, nil)
		},
		PostPrepare: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, err error) error {
			return l.finish(ctx, err, qctx, "prepare", nil)
		},
		PreExec: func(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
			return l.start(ctx, stmt, args)
		},
		PostExec: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, args []driver.NamedValue, res driver.Result, err error) error {
			return l.finish(ctx, err, qctx, "exec", res)
		},
		PreQuery: func(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
			return l.start(ctx, stmt, args)
		},
		PostQuery: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, args []driver.NamedValue, _ driver.Rows, err error) error {
			return l.finish(ctx, err, qctx, "query", nil)
		},
		PreBegin: func(ctx context.Context, conn *proxy.Conn) (interface{}, error) {
			return l.start(ctx, nil, nil)
		},
		PostBegin: func(ctx context.Context, qctx interface{}, conn *proxy.Conn, err error) error {
			return l.finish(ctx, err, qctx, "tx_begin", nil)
		},
		PreCommit: func(ctx context.Context, tx *proxy.Tx) (interface{}, error) {
			return l.start(ctx, nil, nil)
		},
		PostCommit: func(ctx context.Context, qctx interface{}, tx *proxy.Tx, err error) error {
			return l.finish(ctx, err, qctx, "tx_commit", nil)
		},
		PreRollback: func(ctx context.Context, tx *proxy.Tx) (interface{}, error) {
			return l.start(ctx, nil, nil)
		},
		PostRollback: func(ctx context.Context, qctx interface{}, tx *proxy.Tx, err error) error {
			return l.finish(ctx, err, qctx, "tx_rollback", nil)
		},
	})
}

type BasicFilter struct {
	CancelAll                bool
	LogSlowerThan            time.Duration
	IgnorePackageStackFrames []string
	// IgnoreFunctionQueries drops anything issued with one of these
	// functions on the stack.
	IgnoreFunctionQueries []string
}

func (b *BasicFilter) PreCollection(ctx context.Context, stats *Stats) error {
	if b.CancelAll {
		return ErrCancelLogging
	}

	for _, frame := range stats.Stack {
		for _, functionName := range b.IgnoreFunctionQueries {
			if frame.Function == functionName {
				return ErrCancelLogging
			}
		}
	}

	return nil
}

func (b *BasicFilter) PreLogging(ctx context.Context, stats *Stats) error {
	if b.CancelAll {
		return ErrCancelLogging
	}

	if b.LogSlowerThan != 0 && stats.Duration < b.LogSlowerThan {
		return ErrCancelLogging
	}

	return nil
}

func (b *BasicFilter) HideStackFrame(ctx context.Context, frame runtime.Frame) (bool, error) {
	return stackutil.InPackages(frame, b.IgnorePackageStackFrames...), nil
}

// printQuery substitutes ?, ?NNN and $NNN placeholders outside of quoted
// strings, and collapses whitespace.
func printQuery(query string, args []driver.NamedValue) string {
	var b strings.Builder

	next := 0
	space := false
	var quote rune

	for i := 0; i < len(query); i++ {
		c := rune(query[i])

		if !unicode.IsSpace(c) || quote != 0 {
			space = false
		}

		if quote != 0 {
			b.WriteByte(query[i])
			if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
			b.WriteByte(query[i])
		case '?', '$':
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}

			index := -1
			if j > i+1 {
				if n, err := strconv.Atoi(query[i+1 : j]); err == nil {
					index = n - 1
					next = n
				}
			} else if c == '?' {
				index = next
				next++
			}

			if index < 0 || index >= len(args) {
				b.WriteString(query[i:j])
			} else {
				b.WriteString(formatArg(args[index].Value))
			}

			i = j - 1
		default:
			if unicode.IsSpace(c) {
				if !space {
					b.WriteByte(' ')
					space = true
				}
				continue
			}
			b.WriteByte(query[i])
		}
	}

	return strings.TrimSpace(b.String())
}

func formatArg(v driver.Value) string {
	switch e := v.(type) {
	case nil:
		return "NULL"
	case bool:
		return strconv.FormatBool(e)
	case int64:
		return strconv.FormatInt(e, 10)
	case float64:
		return strconv.FormatFloat(e, 'f', -1, 64)
	case time.Time:
		return "'" + e.Format(time.RFC3339Nano) + "'"
	case []byte:
		return quoteOrDescribe(string(e))
	case string:
		return quoteOrDescribe(e)
	default:
		return quoteOrDescribe(fmt.Sprintf("%v", e))
	}
}

func quoteOrDescribe(s string) string {
	if r, ok := printable(s); !ok {
		return fmt.Sprintf("[%d bytes of binary data (%q)]", len(s), r)
	}

	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func printable(s string) (rune, bool) {
	for _, r := range s {
		if r == utf8.RuneError || unicode.IsControl(r) || !unicode.IsPrint(r) {
			return r, false
		}
	}

	return 0, true
}
