// Package syncer pulls a user's liked videos from YouTube into their
// library. At most one sync runs per user at a time in this process.
package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/recall/internal/catchpanic"
	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/ctxlogger"
	"fknsrs.biz/p/recall/internal/ctxtimer"
	"fknsrs.biz/p/recall/internal/library"
	"fknsrs.biz/p/recall/internal/ptr"
	"fknsrs.biz/p/recall/internal/youtube"
	"fknsrs.biz/p/recall/models"
)

var (
	ErrAlreadyRunning = fmt.Errorf("sync already running")
	ErrNotConnected   = youtube.ErrNotConnected
)

const DefaultMaxVideos = 250

type Result struct {
	RunID            string    `json:"run_id"`
	Success          bool      `json:"success"`
	NewVideosCount   int       `json:"new_videos_count"`
	TotalVideos      int       `json:"total_videos"`
	TotalFromYouTube int       `json:"total_from_youtube"`
	ExistingCount    int       `json:"existing_count"`
	Errors           []string  `json:"errors,omitempty"`
	SyncedAt         time.Time `json:"synced_at"`
}

type Runner struct {
	source youtube.LikedVideoSource
	max    int

	m     sync.Mutex
	locks map[int]bool
	wg    sync.WaitGroup
}

func New(source youtube.LikedVideoSource, max int) *Runner {
	if max <= 0 {
		max = DefaultMaxVideos
	}

	return &Runner{source: source, max: max, locks: make(map[int]bool)}
}

// TryLock marks a sync as running for userID. It reports false, and returns
// a nil unlock, when one is already running.
func (r *Runner) TryLock(userID int) (func(), bool) {
	r.m.Lock()
	defer r.m.Unlock()

	if r.locks[userID] {
		return nil, false
	}

	r.locks[userID] = true

	var once sync.Once

	return func() {
		once.Do(func() {
			r.m.Lock()
			defer r.m.Unlock()
			delete(r.locks, userID)
		})
	}, true
}

func (r *Runner) Running(userID int) bool {
	r.m.Lock()
	defer r.m.Unlock()

	return r.locks[userID]
}

// Sync runs a sync for userID and waits for it to finish. The database comes
// from ctx.
func (r *Runner) Sync(ctx context.Context, userID int) (*Result, error) {
	unlock, ok := r.TryLock(userID)
	if !ok {
		return nil, fmt.Errorf("syncer.Runner.Sync: user %d: %w", userID, ErrAlreadyRunning)
	}
	defer unlock()

	res, err := r.sync(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("syncer.Runner.Sync: %w", err)
	}

	return res, nil
}

func (r *Runner) sync(ctx context.Context, userID int) (*Result, error) {
	db := ctxdb.GetDB(ctx)
	if db == nil {
		return nil, ctxdb.ErrNoDB
	}

	res := Result{RunID: uuid.NewString()}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"user.id":     userID,
		"sync.run_id": res.RunID,
	})

	profile, err := library.GetProfile(ctx, db, userID)
	if err != nil {
		return nil, fmt.Errorf("syncer.Runner.sync: %w", err)
	}

	if !profile.YouTubeConnected() {
		return nil, fmt.Errorf("syncer.Runner.sync: user %d: %w", userID, ErrNotConnected)
	}

	tokens := youtube.Tokens{AccessToken: *profile.YouTubeAccessToken}
	if profile.YouTubeRefreshToken != nil {
		tokens.RefreshToken = *profile.YouTubeRefreshToken
	}
	if profile.YouTubeTokenExpiry != nil {
		tokens.Expiry = *profile.YouTubeTokenExpiry
	}

	onRefresh := func(t youtube.Tokens) error {
		var expiry *time.Time
		if !t.Expiry.IsZero() {
			expiry = ptr.Time(t.Expiry.UTC())
		}

		if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
			return library.SetYouTubeTokens(ctx, tx, userID, t.AccessToken, t.RefreshToken, expiry)
		}); err != nil {
			return fmt.Errorf("syncer.Runner.sync: could not store refreshed tokens: %w", err)
		}

		l.Debug("stored refreshed youtube tokens")

		return nil
	}

	fetchTime := ctxtimer.Stopwatch(ctx, "syncer.fetch")

	liked, err := r.source.LikedVideos(ctx, tokens, r.max, onRefresh)
	if err != nil {
		res.Errors = []string{err.Error()}
		res.SyncedAt = ctxclock.NowOr(ctx)
		return &res, fmt.Errorf("syncer.Runner.sync: could not fetch liked videos: %w", err)
	}

	l.WithFields(logrus.Fields{
		"sync.fetched":       len(liked),
		"sync.fetch_time_ms": fetchTime().Milliseconds(),
	}).Debug("fetched liked videos")

	res.TotalFromYouTube = len(liked)
	res.TotalVideos = len(liked)

	ids := make([]string, len(liked))
	for i, v := range liked {
		ids[i] = v.YouTubeID
	}

	existing, err := library.FindExistingYouTubeIDs(ctx, db, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("syncer.Runner.sync: %w", err)
	}

	res.ExistingCount = len(existing)

	now := ctxclock.NowOr(ctx)

	for _, v := range liked {
		if existing[v.YouTubeID] {
			continue
		}
		existing[v.YouTubeID] = true

		if err := insertLiked(ctx, userID, v, now); err != nil {
			l.WithError(err).WithField("video.youtube_id", v.YouTubeID).Warn("could not insert liked video")
			res.Errors = append(res.Errors, v.YouTubeID+": "+err.Error())
			continue
		}

		res.NewVideosCount++
	}

	res.SyncedAt = ctxclock.NowOr(ctx)

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return library.TouchLastSync(ctx, tx, userID, res.SyncedAt)
	}); err != nil {
		return nil, fmt.Errorf("syncer.Runner.sync: %w", err)
	}

	res.Success = true

	return &res, nil
}

func insertLiked(ctx context.Context, userID int, v youtube.LikedVideo, now time.Time) error {
	return ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		video := models.Video{
			UserID:       userID,
			YouTubeID:    v.YouTubeID,
			Title:        v.Title,
			ChannelName:  v.ChannelName,
			ThumbnailURL: v.ThumbnailURL,
			LikedAt:      ptr.Time(ptr.Or(v.LikedAt, now).UTC()),
		}
		if v.ChannelThumbnail != "" {
			video.ChannelThumbnail = ptr.String(v.ChannelThumbnail)
		}
		if v.Duration != "" {
			video.Duration = ptr.String(v.Duration)
		}

		if err := library.InsertVideo(ctx, tx, &video); err != nil {
			return err
		}

		library.AutoTagVideo(ctx, tx, userID, video.ID, video.Title)

		return nil
	})
}

// Start kicks off a sync in the background and returns straight away. The
// sync outlives ctx but keeps its values (database, clock, logger).
func (r *Runner) Start(ctx context.Context, userID int) (time.Time, bool) {
	unlock, ok := r.TryLock(userID)
	if !ok {
		return time.Time{}, true
	}

	startedAt := ctxclock.NowOr(ctx)

	ctx = context.WithoutCancel(ctx)
	l := ctxlogger.GetLogger(ctx).WithField("user.id", userID)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unlock()

		elapsed := ctxtimer.Stopwatch(ctx, "syncer.run")

		var res *Result
		err := catchpanic.CatchErr0(func() error {
			var err error
			res, err = r.sync(ctx, userID)
			return err
		})

		l := l.WithField("sync.time_ms", elapsed().Milliseconds())

		if err != nil {
			if stack := catchpanic.StackOf(err); stack != nil {
				l = l.WithField("sync.panic_stack", stack)
			}
			l.WithError(err).Error("sync failed")
			return
		}

		l.WithFields(logrus.Fields{
			"sync.run_id":     res.RunID,
			"sync.new_videos": res.NewVideosCount,
			"sync.existing":   res.ExistingCount,
			"sync.errors":     len(res.Errors),
		}).Info("sync finished")
	}()

	return startedAt, false
}

// Wait blocks until every sync started with Start has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func ShouldAutoSync(lastSyncAt *time.Time, now time.Time, interval time.Duration) bool {
	if lastSyncAt == nil {
		return true
	}

	return now.Sub(*lastSyncAt) >= interval
}
