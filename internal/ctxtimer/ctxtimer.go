// Package ctxtimer records named marks on a per-request timer and measures
// elapsed time against the clock from ctxclock.
package ctxtimer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxlogger"
)

var (
	ErrNoTimer = errors.New("no timer in context")
	ErrNoMark  = errors.New("no mark with this name")
)

type Timer struct {
	m     sync.RWMutex
	marks map[string]time.Time
}

func NewTimer() *Timer {
	return &Timer{marks: make(map[string]time.Time)}
}

func (t *Timer) Mark(name string, at time.Time) {
	t.m.Lock()
	defer t.m.Unlock()

	t.marks[name] = at
}

func (t *Timer) Elapsed(name string, at time.Time) (time.Duration, error) {
	t.m.RLock()
	defer t.m.RUnlock()

	start, ok := t.marks[name]
	if !ok {
		return 0, fmt.Errorf("ctxtimer.Timer.Elapsed: %w: %s", ErrNoMark, name)
	}

	return at.Sub(start), nil
}

// context registration

var timerKey int

// WithTimer stores t in ctx. A nil t stores a fresh timer.
func WithTimer(ctx context.Context, t *Timer) context.Context {
	if t == nil {
		t = NewTimer()
	}

	return context.WithValue(ctx, &timerKey, t)
}

func GetTimer(ctx context.Context) *Timer {
	if v := ctx.Value(&timerKey); v != nil {
		return v.(*Timer)
	}

	return nil
}

// MarkNow marks name on the timer in ctx with the time from ctx's clock.
func MarkNow(ctx context.Context, name string) error {
	t := GetTimer(ctx)
	if t == nil {
		return fmt.Errorf("ctxtimer.MarkNow: %w", ErrNoTimer)
	}

	now, err := ctxclock.Now(ctx)
	if err != nil {
		return fmt.Errorf("ctxtimer.MarkNow: %w", err)
	}

	t.Mark(name, now)

	return nil
}

func ElapsedNow(ctx context.Context, name string) (time.Duration, error) {
	t := GetTimer(ctx)
	if t == nil {
		return 0, fmt.Errorf("ctxtimer.ElapsedNow: %w", ErrNoTimer)
	}

	now, err := ctxclock.Now(ctx)
	if err != nil {
		return 0, fmt.Errorf("ctxtimer.ElapsedNow: %w", err)
	}

	return t.Elapsed(name, now)
}

// Stopwatch marks name on the timer in ctx and returns a function reporting
// the time elapsed since. Without a usable timer it measures with the clock
// in ctx, or the wall clock.
func Stopwatch(ctx context.Context, name string) func() time.Duration {
	if err := MarkNow(ctx, name); err == nil {
		return func() time.Duration {
			d, err := ElapsedNow(ctx, name)
			if err != nil {
				return 0
			}
			return d
		}
	}

	start := ctxclock.NowOr(ctx)

	return func() time.Duration {
		return ctxclock.NowOr(ctx).Sub(start)
	}
}

// middleware

const requestMark = "ctxtimer.request"

// Register gives each request the timer t, or a fresh one when t is nil.
func Register(t *Timer) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithTimer(r.Context(), t)))
	}
}

func AddLoggerHooks() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	before := func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
		if err := MarkNow(r.Context(), requestMark); err != nil {
			l.WithError(err).Warn("timer middleware could not mark request start")
		}

		return l
	}

	after := func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
		d, err := ElapsedNow(r.Context(), requestMark)
		if err != nil {
			l.WithError(err).Warn("timer middleware could not get request duration")
			return l
		}

		return l.WithField("http.duration", d)
	}

	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(ctxlogger.AddHookPair(r.Context(), before, after)))
	}
}
