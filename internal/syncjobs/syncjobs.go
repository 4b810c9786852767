// Package syncjobs holds the job queue functions that drive automatic
// syncing.
package syncjobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/ctxjobqueue"
	"fknsrs.biz/p/recall/internal/ctxlogger"
	"fknsrs.biz/p/recall/internal/jobqueue"
	"fknsrs.biz/p/recall/internal/library"
	"fknsrs.biz/p/recall/internal/queuenames"
	"fknsrs.biz/p/recall/internal/syncer"
	"fknsrs.biz/p/recall/internal/youtube"
)

const (
	OutputAlreadyRunning = "already running"
	OutputDisconnected   = "youtube token rejected, profile disconnected"
)

func Functions(runner *syncer.Runner, interval time.Duration) map[string]jobqueue.WorkerFunction {
	return map[string]jobqueue.WorkerFunction{
		queuenames.ProfileSyncLikedVideos: func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
			return syncProfile(ctx, runner, j)
		},
		queuenames.ProfileScheduleAutoSync: func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
			return scheduleAutoSync(ctxjobqueue.WithWorker(ctx, w), interval)
		},
	}
}

func syncProfile(ctx context.Context, runner *syncer.Runner, j *jobqueue.Job) (string, error) {
	userID, err := j.IntPayload()
	if err != nil {
		return "", fmt.Errorf("syncjobs.syncProfile: %w", err)
	}

	res, err := runner.Sync(ctx, userID)
	if err != nil {
		if errors.Is(err, syncer.ErrAlreadyRunning) {
			return OutputAlreadyRunning, nil
		}

		// a revoked token fails every time, so stop the scheduler picking
		// this profile until the user connects again
		if errors.Is(err, youtube.ErrTokenExpired) {
			if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
				return library.ClearYouTubeTokens(ctx, tx, userID)
			}); err != nil {
				return "", fmt.Errorf("syncjobs.syncProfile: could not disconnect profile: %w", err)
			}

			ctxlogger.GetLogger(ctx).WithError(err).WithField("profile.id", userID).Warn("disconnected profile after youtube rejected its token")

			return OutputDisconnected, nil
		}

		return "", fmt.Errorf("syncjobs.syncProfile: %w", err)
	}

	d, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("syncjobs.syncProfile: could not encode result: %w", err)
	}

	return string(d), nil
}

// scheduleAutoSync queues a sync for each connected profile that hasn't
// synced within interval.
func scheduleAutoSync(ctx context.Context, interval time.Duration) (string, error) {
	db := ctxdb.GetDB(ctx)
	if db == nil {
		return "", ctxdb.ErrNoDB
	}

	profiles, err := library.ListProfilesDueForSync(ctx, db, ctxclock.NowOr(ctx).Add(-interval))
	if err != nil {
		return "", fmt.Errorf("syncjobs.scheduleAutoSync: %w", err)
	}

	queued := 0

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, p := range profiles {
			added, err := ctxjobqueue.AddUnique(ctx, tx, queuenames.ProfileSyncLikedVideos, strconv.Itoa(p.ID))
			if err != nil {
				return err
			}
			if added {
				queued++
			}
		}

		return nil
	}); err != nil {
		return "", fmt.Errorf("syncjobs.scheduleAutoSync: %w", err)
	}

	ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"sync.due":    len(profiles),
		"sync.queued": queued,
	}).Debug("scheduled automatic syncs")

	return fmt.Sprintf("%d due, %d queued", len(profiles), queued), nil
}

// Schedule queues a profile_schedule_auto_sync job unless one is waiting.
func Schedule(ctx context.Context) (bool, error) {
	var added bool

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		v, err := ctxjobqueue.AddUnique(ctx, tx, queuenames.ProfileScheduleAutoSync, "")
		added = v
		return err
	}); err != nil {
		return false, fmt.Errorf("syncjobs.Schedule: %w", err)
	}

	return added, nil
}
