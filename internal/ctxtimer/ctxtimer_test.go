package ctxtimer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/urfave/negroni/v2"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxlogger"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTimer(t *testing.T) {
	a := assert.New(t)

	tm := NewTimer()
	tm.Mark("a", t0)

	d, err := tm.Elapsed("a", t0.Add(time.Second))
	a.NoError(err)
	a.Equal(time.Second, d)

	_, err = tm.Elapsed("b", t0)
	a.ErrorIs(err, ErrNoMark)
}

func TestMarkNow(t *testing.T) {
	a := assert.New(t)

	a.ErrorIs(MarkNow(context.Background(), "x"), ErrNoTimer)
	a.ErrorIs(MarkNow(WithTimer(context.Background(), nil), "x"), ctxclock.ErrNoClock)

	_, err := ElapsedNow(context.Background(), "x")
	a.ErrorIs(err, ErrNoTimer)
}

func TestStopwatchWithClock(t *testing.T) {
	a := assert.New(t)

	c := ctxclock.NewManualClock(t0)

	ctx := ctxclock.WithClock(context.Background(), c)
	ctx = WithTimer(ctx, nil)

	stop := Stopwatch(ctx, "sync.fetch")
	c.Advance(time.Second * 3)
	a.Equal(time.Second*3, stop())

	_, err := GetTimer(ctx).Elapsed("sync.fetch", t0)
	a.NoError(err)
}

func TestStopwatchWithoutTimer(t *testing.T) {
	a := assert.New(t)

	c := ctxclock.NewManualClock(t0)
	ctx := ctxclock.WithClock(context.Background(), c)

	stop := Stopwatch(ctx, "x")
	c.Advance(time.Millisecond * 5)
	a.Equal(time.Millisecond*5, stop())
}

func TestLoggerHooks(t *testing.T) {
	a := assert.New(t)

	logger, entries := test.NewNullLogger()
	clock := ctxclock.NewManualClock(t0)

	n := negroni.New()
	n.UseFunc(ctxlogger.Register(logger))
	n.UseFunc(Register(nil))
	n.UseFunc(ctxclock.Register(clock))
	n.UseFunc(AddLoggerHooks())
	n.UseFunc(ctxlogger.Log())
	n.UseHandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		clock.Advance(250 * time.Millisecond)
	})

	n.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	entry := entries.LastEntry()
	if a.NotNil(entry) {
		a.Equal("http request finished", entry.Message)
		a.Equal(250*time.Millisecond, entry.Data["http.duration"])
	}
}
