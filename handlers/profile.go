package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxconfig"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/httputil"
	"fknsrs.biz/p/recall/internal/library"
	"fknsrs.biz/p/recall/internal/syncer"
	"fknsrs.biz/p/recall/models"
)

type profileResponse struct {
	*models.Profile
	YouTubeConnected bool `json:"youtube_connected"`
	ShouldAutoSync   bool `json:"should_auto_sync"`
	SyncRunning      bool `json:"sync_running"`
}

func Profile(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	interval := ctxconfig.GetConfig(r.Context()).AutoSyncInterval.Duration()

	httputil.JSON(rw, http.StatusOK, map[string]interface{}{
		"profile": profileResponse{
			Profile:          p,
			YouTubeConnected: p.YouTubeConnected(),
			ShouldAutoSync:   p.YouTubeConnected() && interval > 0 && syncer.ShouldAutoSync(p.LastSyncAt, ctxclock.NowOr(r.Context()), interval),
			SyncRunning:      services(r).Syncer.Running(p.ID),
		},
	})
}

func SetYouTubeTokens(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	var input struct {
		AccessToken  string     `json:"accessToken" validate:"required"`
		RefreshToken string     `json:"refreshToken"`
		ExpiresAt    *time.Time `json:"expiresAt"`
	}
	if err := httputil.DecodeJSON(r, &input); err != nil {
		libraryError(rw, r, err, "Profile not found", "Failed to store YouTube tokens")
		return
	}

	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		return library.SetYouTubeTokens(ctx, tx, p.ID, input.AccessToken, input.RefreshToken, input.ExpiresAt)
	}); err != nil {
		libraryError(rw, r, err, "Profile not found", "Failed to store YouTube tokens")
		return
	}

	success(rw)
}

func ClearYouTubeTokens(rw http.ResponseWriter, r *http.Request) {
	p := currentProfile(r)

	if err := ctxdb.UsingTx(r.Context(), nil, func(ctx context.Context, tx *sql.Tx) error {
		return library.ClearYouTubeTokens(ctx, tx, p.ID)
	}); err != nil {
		libraryError(rw, r, err, "Profile not found", "Failed to disconnect YouTube")
		return
	}

	success(rw)
}

func Health(rw http.ResponseWriter, r *http.Request) {
	httputil.JSON(rw, http.StatusOK, map[string]interface{}{"status": "ok"})
}
