package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/catchpanic"
	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/ctxlogger"
)

var (
	ErrWorkerExists       = errors.New("worker already exists")
	ErrWorkerDoesNotExist = errors.New("worker does not exist")
	ErrNoPendingJobs      = errors.New("no pending jobs")
)

const (
	// IdleDelay is how long Run waits between polls when nothing triggers it.
	IdleDelay = time.Second * 30

	startDelay      = time.Second * 5
	reserveAttempts = 25
	reserveBackoff  = time.Millisecond * 500
)

// WorkerFunction runs one job. Its output is stored with the job; returning
// an error schedules a retry while attempts remain.
type WorkerFunction func(ctx context.Context, w *Worker, j *Job) (string, error)

type Worker struct {
	m         sync.RWMutex
	trigger   chan struct{}
	functions map[string]WorkerFunction
}

func NewWorker(functions map[string]WorkerFunction) *Worker {
	w := &Worker{
		trigger:   make(chan struct{}, 1),
		functions: make(map[string]WorkerFunction, len(functions)),
	}

	for k, v := range functions {
		w.functions[k] = v
	}

	return w
}

// Register adds a function for queueName.
func (w *Worker) Register(queueName string, fn WorkerFunction) error {
	if err := w.RegisterAll(map[string]WorkerFunction{queueName: fn}); err != nil {
		return fmt.Errorf("jobqueue.Worker.Register: %w", err)
	}

	return nil
}

// RegisterAll adds every function, or none of them if any queue already has
// one.
func (w *Worker) RegisterAll(functions map[string]WorkerFunction) error {
	w.m.Lock()
	defer w.m.Unlock()

	var existing []string
	for queueName := range functions {
		if _, ok := w.functions[queueName]; ok {
			existing = append(existing, queueName)
		}
	}
	if len(existing) > 0 {
		sort.Strings(existing)
		return fmt.Errorf("jobqueue.Worker.RegisterAll: %s: %w", strings.Join(existing, ", "), ErrWorkerExists)
	}

	for queueName, fn := range functions {
		w.functions[queueName] = fn
	}

	return nil
}

// QueueNames returns the registered queues in sorted order.
func (w *Worker) QueueNames() []string {
	w.m.RLock()
	defer w.m.RUnlock()

	a := make([]string, 0, len(w.functions))
	for k := range w.functions {
		a = append(a, k)
	}
	sort.Strings(a)

	return a
}

func (w *Worker) function(queueName string) (WorkerFunction, bool) {
	w.m.RLock()
	defer w.m.RUnlock()

	fn, ok := w.functions[queueName]
	return fn, ok
}

// Add stores job in tx and wakes Run. Zero fields get the queue defaults.
func (w *Worker) Add(ctx context.Context, tx *sql.Tx, job *Job) error {
	if _, ok := w.function(job.QueueName); !ok {
		return fmt.Errorf("jobqueue.Worker.Add: %s: %w", job.QueueName, ErrWorkerDoesNotExist)
	}

	now := ctxclock.NowOr(ctx)

	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.FailureDelay == 0 {
		job.FailureDelay = DefaultFailureDelay
	}
	if job.AttemptsRemaining == 0 {
		job.AttemptsRemaining = DefaultAttempts
	}

	if err := sorm.CreateRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.Worker.Add: could not create job record: %w", err)
	}

	w.Trigger(ctx)

	return nil
}

// Trigger wakes Run without waiting for its delay. It never blocks.
func (w *Worker) Trigger(ctx context.Context) {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}

	return strings.Contains(err.Error(), "database is locked")
}

func (w *Worker) reserveNext(ctx context.Context) (*Job, error) {
	for attempt := 1; ; attempt++ {
		job, err := ctxdb.UsingTxValue(ctx, nil, func(ctx context.Context, tx *sql.Tx) (*Job, error) {
			return findNextAndReserve(ctx, tx, w.QueueNames(), ctxclock.NowOr(ctx), DefaultReservationPeriod)
		})
		if err == nil || !isBusy(err) || attempt >= reserveAttempts {
			return job, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(reserveBackoff)))):
		}
	}
}

// RunOnce reserves and runs the next due job. It returns ErrNoPendingJobs
// when there is nothing to do.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if ctxdb.GetDB(ctx) == nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: %w", ctxdb.ErrNoDB)
	}

	job, err := w.reserveNext(ctx)
	if err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not find/reserve job: %w", err)
	}
	if job == nil {
		return false, ErrNoPendingJobs
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"job.queue_name": job.QueueName,
		"job.id":         job.ID,
		"job.attempts":   job.AttemptsRemaining,
	})

	fn, ok := w.function(job.QueueName)
	if !ok {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: worker function not set for queue: %s", job.QueueName)
	}

	l.Debug("running job")

	var errorMessage string
	outputMessage, err := catchpanic.CatchErr1(func() (string, error) {
		return fn(ctxlogger.WithLogger(ctx, l), w, job)
	})
	if err != nil {
		errorMessage = err.Error()
		if stack := catchpanic.StackOf(err); stack != nil {
			l = l.WithField("job.panic_stack", stack)
		}
		l.WithError(err).Warn("job failed")
	} else {
		l.WithField("job.output_message", outputMessage).Info("job finished")
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return finish(ctx, tx, job, ctxclock.NowOr(ctx), errorMessage, outputMessage)
	}); err != nil {
		return false, fmt.Errorf("jobqueue.Worker.RunOnce: could not finish job: %w", err)
	}

	return true, nil
}

func (w *Worker) runAndGetDelay(ctx context.Context) time.Duration {
	didRunJob, err := w.RunOnce(ctx)
	if err != nil && !errors.Is(err, ErrNoPendingJobs) {
		ctxlogger.GetLogger(ctx).WithError(err).Error("could not run job")
		return IdleDelay
	}

	if didRunJob {
		return 0
	}

	return IdleDelay
}

// Run processes jobs until ctx is cancelled, returning ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	delay := startDelay

	for {
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-w.trigger:
			timer.Stop()
		}

		delay = w.runAndGetDelay(ctx)
	}
}
