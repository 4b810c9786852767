package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/testdb"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (context.Context, *sql.DB, *ctxclock.ManualClock) {
	db := testdb.Open(t)
	clock := ctxclock.NewManualClock(t0)

	ctx := ctxdb.WithDB(context.Background(), db)
	ctx = ctxclock.WithClock(ctx, clock)

	return ctx, db, clock
}

func add(t *testing.T, ctx context.Context, db *sql.DB, w *Worker, job *Job) {
	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return w.Add(ctx, tx, job)
	}); err != nil {
		t.Fatal(err)
	}
}

func TestJobHelpers(t *testing.T) {
	a := assert.New(t)

	n, err := (&Job{Payload: "12"}).IntPayload()
	a.NoError(err)
	a.Equal(12, n)

	_, err = (&Job{Payload: "twelve"}).IntPayload()
	a.ErrorContains(err, "not an integer")

	a.Equal(StatusPending, (&Job{}).Status())
	a.Equal(StatusRunning, (&Job{ReservedAt: &t0}).Status())
	a.Equal(StatusFinished, (&Job{ReservedAt: &t0, FinishedAt: &t0}).Status())
}

func TestRegister(t *testing.T) {
	a := assert.New(t)

	noop := func(ctx context.Context, w *Worker, j *Job) (string, error) { return "", nil }

	w := NewWorker(map[string]WorkerFunction{"b": noop})
	a.NoError(w.Register("a", noop))
	a.ErrorIs(w.Register("a", noop), ErrWorkerExists)
	a.ErrorIs(w.RegisterAll(map[string]WorkerFunction{"c": noop, "b": noop}), ErrWorkerExists)
	a.Equal([]string{"a", "b"}, w.QueueNames())
}

func TestAddRequiresRegisteredQueue(t *testing.T) {
	a := assert.New(t)

	ctx, _, _ := setup(t)
	w := NewWorker(nil)

	err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return w.Add(ctx, tx, &Job{QueueName: "missing"})
	})
	a.ErrorIs(err, ErrWorkerDoesNotExist)
}

func TestRunOnce(t *testing.T) {
	a := assert.New(t)

	ctx, db, clock := setup(t)

	var seen []string
	w := NewWorker(map[string]WorkerFunction{
		"echo": func(ctx context.Context, w *Worker, j *Job) (string, error) {
			seen = append(seen, j.Payload)
			return "said " + j.Payload, nil
		},
	})

	add(t, ctx, db, w, &Job{QueueName: "echo", Payload: "hello"})

	pending, err := HasPending(ctx, db, "echo", "hello")
	a.NoError(err)
	a.True(pending)

	// run_after is strictly in the past before a job is picked up
	_, err = w.RunOnce(ctx)
	a.ErrorIs(err, ErrNoPendingJobs)

	clock.Advance(time.Second)

	ran, err := w.RunOnce(ctx)
	a.NoError(err)
	a.True(ran)
	a.Equal([]string{"hello"}, seen)

	var job Job
	a.NoError(sorm.FindFirstWhere(ctx, db, &job, "where payload = ?", "hello"))
	if a.NotNil(job.FinishedAt) {
		a.True(job.FinishedAt.Equal(t0.Add(time.Second)))
	}
	a.Equal([]string{"said hello"}, []string(job.OutputMessages))

	pending, err = HasPending(ctx, db, "echo", "hello")
	a.NoError(err)
	a.False(pending)

	_, err = w.RunOnce(ctx)
	a.ErrorIs(err, ErrNoPendingJobs)
}

func TestRunOnceRetriesFailures(t *testing.T) {
	a := assert.New(t)

	ctx, db, clock := setup(t)

	calls := 0
	w := NewWorker(map[string]WorkerFunction{
		"flaky": func(ctx context.Context, w *Worker, j *Job) (string, error) {
			calls++
			if calls == 1 {
				return "", fmt.Errorf("first attempt fails")
			}
			if calls == 2 {
				panic("second attempt panics")
			}
			return "ok", nil
		},
	})

	add(t, ctx, db, w, &Job{QueueName: "flaky", AttemptsRemaining: 3, FailureDelay: time.Minute})

	clock.Advance(time.Second)
	ran, err := w.RunOnce(ctx)
	a.NoError(err)
	a.True(ran)

	// still waiting out the failure delay
	clock.Advance(time.Second * 30)
	_, err = w.RunOnce(ctx)
	a.ErrorIs(err, ErrNoPendingJobs)

	clock.Advance(time.Minute)
	ran, err = w.RunOnce(ctx)
	a.NoError(err)
	a.True(ran)

	clock.Advance(time.Minute * 2)
	ran, err = w.RunOnce(ctx)
	a.NoError(err)
	a.True(ran)

	a.Equal(3, calls)

	var job Job
	a.NoError(sorm.FindFirstWhere(ctx, db, &job, "where queue_name = ?", "flaky"))
	a.NotNil(job.FinishedAt)
	a.Equal(1, job.AttemptsRemaining)
	if a.Len(job.ErrorMessages, 3) {
		a.Contains(job.ErrorMessages[0], "first attempt fails")
		a.Contains(job.ErrorMessages[1], "second attempt panics")
		a.Equal("", job.ErrorMessages[2])
	}
}

func TestTriggerDoesNotBlock(t *testing.T) {
	w := NewWorker(nil)

	for i := 0; i < 500; i++ {
		w.Trigger(context.Background())
	}
}

func TestRecent(t *testing.T) {
	a := assert.New(t)

	ctx, db, clock := setup(t)

	w := NewWorker(map[string]WorkerFunction{
		"echo": func(ctx context.Context, w *Worker, j *Job) (string, error) { return j.Payload, nil },
	})

	for i := 0; i < 3; i++ {
		add(t, ctx, db, w, &Job{QueueName: "echo", Payload: "7"})
		clock.Advance(time.Second)
	}
	add(t, ctx, db, w, &Job{QueueName: "echo", Payload: "8"})

	clock.Advance(time.Second)
	_, err := w.RunOnce(ctx)
	a.NoError(err)

	jobs, err := Recent(ctx, db, "echo", "7", 2)
	a.NoError(err)
	if a.Len(jobs, 2) {
		a.Greater(jobs[0].ID, jobs[1].ID)
		a.Equal(StatusPending, jobs[0].Status())
		a.Equal(StatusPending, jobs[1].Status())
	}

	jobs, err = Recent(ctx, db, "echo", "7", 10)
	a.NoError(err)
	if a.Len(jobs, 3) {
		a.Equal(StatusFinished, jobs[2].Status())
		a.Nil(jobs[2].ReservedAt)
	}

	jobs, err = Recent(ctx, db, "echo", "9", 10)
	a.NoError(err)
	a.NotNil(jobs)
	a.Empty(jobs)
}
