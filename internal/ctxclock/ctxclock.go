// Package ctxclock carries the time source through contexts, so that
// handlers, the sync runner and the job queue can all be driven by a manual
// clock in tests.
package ctxclock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/ctxlogger"
)

var ErrNoClock = errors.New("no clock found in context")

type Clock interface {
	Now() (time.Time, error)
}

// context registration

var clockKey int

// WithClock stores c in ctx. A nil c stores the real clock.
func WithClock(ctx context.Context, c Clock) context.Context {
	if c == nil {
		c = NewRealClock()
	}

	return context.WithValue(ctx, &clockKey, c)
}

func GetClock(ctx context.Context) Clock {
	if v := ctx.Value(&clockKey); v != nil {
		return v.(Clock)
	}

	return nil
}

func Now(ctx context.Context) (time.Time, error) {
	c := GetClock(ctx)
	if c == nil {
		return time.Time{}, fmt.Errorf("ctxclock.Now: %w", ErrNoClock)
	}

	return c.Now()
}

// NowOr returns the time from the clock in ctx, falling back to the wall
// clock when there is no clock or it fails.
func NowOr(ctx context.Context) time.Time {
	if t, err := Now(ctx); err == nil {
		return t
	}

	return time.Now().UTC()
}

// middleware

func Register(c Clock) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithClock(r.Context(), c)))
	}
}

func stampHook(field, what string) ctxlogger.HookFunc {
	return func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
		now, err := Now(r.Context())
		if err != nil {
			l.WithError(err).Warn("clock middleware could not get " + what + " time")
			return l
		}

		return l.WithField(field, now.Format(time.RFC3339))
	}
}

// AddLoggerHooks stamps request logs with the clock's start and end times.
func AddLoggerHooks() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	before := stampHook("http.request_start", "start")
	after := stampHook("http.response_end", "end")

	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(ctxlogger.AddHookPair(r.Context(), before, after)))
	}
}

// real clock

type realClock struct{}

func NewRealClock() Clock {
	return realClock{}
}

// Now is always UTC so stored timestamps compare correctly as text.
func (realClock) Now() (time.Time, error) {
	return time.Now().UTC(), nil
}

// ManualClock only moves when told to.
type ManualClock struct {
	m sync.RWMutex
	t time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{t: t}
}

func (c *ManualClock) Now() (time.Time, error) {
	c.m.RLock()
	defer c.m.RUnlock()

	return c.t, nil
}

func (c *ManualClock) Set(t time.Time) {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = c.t.Add(d)
}
