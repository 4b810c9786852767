// Package jobqueue is a small durable job queue stored in the application
// database. Jobs are reserved in one transaction, run outside of it, and
// finished (or rescheduled after a failure) in another.
package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fknsrs.biz/p/sorm"
	"fknsrs.biz/p/sorm/qsorm"
	sb "fknsrs.biz/p/sqlbuilder"

	"fknsrs.biz/p/recall/internal/sqlbuilderutil"
	"fknsrs.biz/p/recall/internal/sqltypes"
)

const (
	DefaultFailureDelay      = time.Second * 5
	DefaultAttempts          = 5
	DefaultReservationPeriod = time.Minute * 5
)

const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusFinished = "finished"
)

type Job struct {
	ID                int `sql:",table:jobs"`
	CreatedAt         time.Time
	QueueName         string
	Payload           string
	RunAfter          time.Time
	FailureDelay      time.Duration
	AttemptsRemaining int
	ReservedAt        *time.Time
	ReservedUntil     *time.Time
	FinishedAt        *time.Time
	ErrorMessages     sqltypes.JSONStringSlice
	OutputMessages    sqltypes.JSONStringSlice
}

var JobTable = sqlbuilderutil.MustMakeTable(Job{})

func (j *Job) Status() string {
	switch {
	case j.FinishedAt != nil:
		return StatusFinished
	case j.ReservedAt != nil:
		return StatusRunning
	default:
		return StatusPending
	}
}

// IntPayload reads the payload as a record id.
func (j *Job) IntPayload() (int, error) {
	n, err := strconv.Atoi(j.Payload)
	if err != nil {
		return 0, fmt.Errorf("jobqueue.Job.IntPayload: payload %q is not an integer: %w", j.Payload, err)
	}

	return n, nil
}

func findNext(ctx context.Context, db sorm.Querier, queueNames []string, now time.Time) (*Job, error) {
	if len(queueNames) == 0 {
		return nil, nil
	}

	t := JobTable

	var queues []sb.AsExpr
	for _, queueName := range queueNames {
		queues = append(queues, sb.BinaryOperator("=", t.C("QueueName"), sb.Bind(queueName)))
	}

	var jobs []Job
	if err := qsorm.FindWhere(
		ctx,
		db,
		&jobs,
		sb.BooleanOperator(
			"and",
			sb.BooleanOperator("or", queues...),
			sb.BinaryOperator("<", t.C("RunAfter"), sb.Bind(now)),
			sb.BooleanOperator(
				"or",
				sb.BinaryOperator("is", t.C("ReservedUntil"), sb.Literal("null")),
				sb.BinaryOperator("<", t.C("ReservedUntil"), sb.Bind(now)),
			),
			sb.BinaryOperator("is", t.C("FinishedAt"), sb.Literal("null")),
		),
		[]sb.AsOrderingTerm{
			sb.OrderAsc(t.C("RunAfter")),
			sb.OrderAsc(t.C("ID")),
		},
		sb.OffsetLimit(nil, sb.Literal("1")),
	); err != nil {
		return nil, fmt.Errorf("jobqueue.findNext: could not find pending job record: %w", err)
	}

	if len(jobs) == 0 {
		return nil, nil
	}

	return &jobs[0], nil
}

func reserve(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, reserveDuration time.Duration) error {
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.reserve: job %d has already finished", job.ID)
	}
	if job.ReservedUntil != nil && job.ReservedUntil.After(now) {
		return fmt.Errorf("jobqueue.reserve: job %d is reserved until %s", job.ID, job.ReservedUntil.Format(time.RFC3339))
	}

	if reserveDuration <= 0 {
		reserveDuration = DefaultReservationPeriod
	}

	reservedAt, reservedUntil := now, now.Add(reserveDuration)
	job.ReservedAt = &reservedAt
	job.ReservedUntil = &reservedUntil

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.reserve: could not save job record: %w", err)
	}

	return nil
}

func findNextAndReserve(ctx context.Context, tx *sql.Tx, queueNames []string, now time.Time, reserveDuration time.Duration) (*Job, error) {
	j, err := findNext(ctx, tx, queueNames, now)
	if err != nil || j == nil {
		return nil, err
	}

	if err := reserve(ctx, tx, j, now, reserveDuration); err != nil {
		return nil, err
	}

	return j, nil
}

// finish records the outcome of one attempt. Both messages are appended even
// when empty, so the n-th entries of ErrorMessages and OutputMessages
// describe the same attempt.
func finish(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, errorMessage, outputMessage string) error {
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.finish: job %d has already finished", job.ID)
	}

	job.ErrorMessages = append(job.ErrorMessages, errorMessage)
	job.OutputMessages = append(job.OutputMessages, outputMessage)
	job.ReservedAt = nil
	job.ReservedUntil = nil

	if errorMessage != "" && job.AttemptsRemaining > 0 {
		job.AttemptsRemaining--
		job.RunAfter = now.Add(job.FailureDelay)
	} else {
		finishedAt := now
		job.FinishedAt = &finishedAt
	}

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.finish: could not save job record: %w", err)
	}

	return nil
}

// HasPending reports whether a job for queueName with exactly this payload
// has not finished yet, whether or not it is currently reserved.
func HasPending(ctx context.Context, db sorm.Querier, queueName, payload string) (bool, error) {
	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, "where queue_name = ? and payload = ? and finished_at is null", queueName, payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("jobqueue.HasPending: could not query job records: %w", err)
	}

	return true, nil
}

// Recent returns up to limit jobs for queueName and payload, newest first.
func Recent(ctx context.Context, db sorm.Querier, queueName, payload string, limit int) ([]Job, error) {
	t := JobTable

	jobs := []Job{}
	if err := qsorm.FindWhere(
		ctx,
		db,
		&jobs,
		sb.BooleanOperator(
			"and",
			sb.BinaryOperator("=", t.C("QueueName"), sb.Bind(queueName)),
			sb.BinaryOperator("=", t.C("Payload"), sb.Bind(payload)),
		),
		[]sb.AsOrderingTerm{sb.OrderDesc(t.C("ID"))},
		sb.OffsetLimit(nil, sb.Bind(limit)),
	); err != nil {
		return nil, fmt.Errorf("jobqueue.Recent: could not find job records: %w", err)
	}

	return jobs, nil
}
