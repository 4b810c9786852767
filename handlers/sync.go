package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/httputil"
	"fknsrs.biz/p/recall/internal/jobqueue"
	"fknsrs.biz/p/recall/internal/library"
	"fknsrs.biz/p/recall/internal/queuenames"
)

func SyncVideos(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	if !p.YouTubeConnected() {
		httputil.Error(rw, http.StatusBadRequest, "YouTube not connected. Please connect your YouTube account first.")
		return
	}

	startedAt, running := services(r).Syncer.Start(r.Context(), p.ID)
	if running {
		httputil.JSON(rw, http.StatusOK, map[string]interface{}{
			"success":        true,
			"message":        "Sync already in progress. New videos will appear shortly.",
			"alreadyRunning": true,
		})
		return
	}

	httputil.JSON(rw, http.StatusAccepted, map[string]interface{}{
		"success":   true,
		"message":   "Sync started. New videos will appear within a minute.",
		"startedAt": startedAt,
	})
}

type SyncJob struct {
	ID         int             `json:"id"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Errors     []string        `json:"errors"`
	Result     json.RawMessage `json:"result,omitempty"`
}

const syncJobsLimit = 20

// SyncJobs lists the automatic sync jobs queued for the current user, most
// recent first.
func SyncJobs(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	jobs, err := jobqueue.Recent(r.Context(), ctxdb.GetDB(r.Context()), queuenames.ProfileSyncLikedVideos, strconv.Itoa(p.ID), syncJobsLimit)
	if err != nil {
		httputil.Fail(rw, r, err, "Failed to fetch sync jobs")
		return
	}

	out := make([]SyncJob, len(jobs))
	for i := range jobs {
		j := &jobs[i]

		out[i] = SyncJob{
			ID:         j.ID,
			Status:     j.Status(),
			CreatedAt:  j.CreatedAt,
			FinishedAt: j.FinishedAt,
			Errors:     j.ErrorMessages.NonEmpty(),
		}

		if last := j.OutputMessages.Last(); last != "" && json.Valid([]byte(last)) {
			out[i].Result = json.RawMessage(last)
		}
	}

	httputil.JSON(rw, http.StatusOK, map[string]interface{}{"jobs": out})
}

type SyncState struct {
	Running     bool       `json:"running"`
	LastSyncAt  *time.Time `json:"last_sync_at"`
	TotalVideos int        `json:"total_videos"`
}

var syncEventsInterval = 2 * time.Second

// SyncEvents streams the current user's sync state as server-sent events,
// sending an update whenever it changes.
func SyncEvents(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)
	s := services(r)

	rw.Header().Set("content-type", "text/event-stream")
	rw.Header().Set("cache-control", "no-cache")
	rw.Header().Set("connection", "keep-alive")

	ctx := r.Context()
	db := ctxdb.GetDB(ctx)

	ticker := time.NewTicker(syncEventsInterval)
	defer ticker.Stop()

	var last *SyncState

	for {
		state := SyncState{Running: s.Syncer.Running(p.ID)}

		if profile, err := library.GetProfile(ctx, db, p.ID); err == nil {
			state.LastSyncAt = profile.LastSyncAt
		}
		if n, err := library.CountVideos(ctx, db, p.ID); err == nil {
			state.TotalVideos = n
		}

		if last == nil || !sameSyncState(*last, state) {
			d, err := json.Marshal(state)
			if err != nil {
				panic(fmt.Errorf("handlers.SyncEvents: could not encode state: %w", err))
			}

			fmt.Fprintf(rw, "data: %s\n\n", d)
			if f, ok := rw.(http.Flusher); ok {
				f.Flush()
			}

			last = &state
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sameSyncState(a, b SyncState) bool {
	if a.Running != b.Running || a.TotalVideos != b.TotalVideos {
		return false
	}
	if a.LastSyncAt == nil || b.LastSyncAt == nil {
		return a.LastSyncAt == b.LastSyncAt
	}

	return a.LastSyncAt.Equal(*b.LastSyncAt)
}
