package handlers

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni/v2"

	"fknsrs.biz/p/recall/internal/auth"
	"fknsrs.biz/p/recall/internal/config"
	"fknsrs.biz/p/recall/internal/ctxauth"
	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxconfig"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/ctxhttpclient"
	"fknsrs.biz/p/recall/internal/ctxjobqueue"
	"fknsrs.biz/p/recall/internal/ctxlogger"
	"fknsrs.biz/p/recall/internal/ctxtimer"
	"fknsrs.biz/p/recall/internal/httputil"
	"fknsrs.biz/p/recall/internal/jobqueue"
)

type Dependencies struct {
	Logger     logrus.FieldLogger
	Clock      ctxclock.Clock
	Config     config.Config
	DB         *sql.DB
	HTTPClient *http.Client
	Worker     *jobqueue.Worker
	Verifier   *auth.Verifier
	Services   *Services
}

func notFound(rw http.ResponseWriter, r *http.Request) {
	httputil.NotFound(rw, r)
}

// NewRouter builds the full middleware chain and route table for the API.
func NewRouter(d Dependencies) http.Handler {
	api := mux.NewRouter()
	api.NotFoundHandler = http.HandlerFunc(notFound)

	api.Methods(http.MethodGet).Path("/api/folders").HandlerFunc(Folders)
	api.Methods(http.MethodPost).Path("/api/folders").HandlerFunc(CreateFolder)
	api.Methods(http.MethodPut).Path("/api/folders").HandlerFunc(RenameFolder)
	api.Methods(http.MethodPatch).Path("/api/folders").HandlerFunc(ReorderFolders)
	api.Methods(http.MethodDelete).Path("/api/folders").HandlerFunc(DeleteFolder)

	api.Methods(http.MethodGet).Path("/api/videos").HandlerFunc(Videos)
	api.Methods(http.MethodDelete).Path("/api/videos").HandlerFunc(DeleteVideo)
	api.Methods(http.MethodPost).Path("/api/videos/add-by-url").HandlerFunc(AddVideoByURL)
	api.Methods(http.MethodPost).Path("/api/videos/move").HandlerFunc(MoveVideo)
	api.Methods(http.MethodPost).Path("/api/videos/sync").HandlerFunc(SyncVideos)
	api.Methods(http.MethodGet).Path("/api/videos/{id:[0-9]+}").HandlerFunc(Video)
	api.Methods(http.MethodPatch).Path("/api/videos/{id:[0-9]+}").HandlerFunc(UpdateVideo)
	api.Methods(http.MethodDelete).Path("/api/videos/{id:[0-9]+}").HandlerFunc(DeleteVideo)

	api.Methods(http.MethodGet).Path("/api/sync/jobs").HandlerFunc(SyncJobs)
	api.Methods(http.MethodGet).Path("/api/sync/events").HandlerFunc(SyncEvents)

	api.Methods(http.MethodGet).Path("/api/tags").HandlerFunc(Tags)

	api.Methods(http.MethodGet).Path("/api/profile").HandlerFunc(Profile)
	api.Methods(http.MethodPut).Path("/api/youtube/tokens").HandlerFunc(SetYouTubeTokens)
	api.Methods(http.MethodDelete).Path("/api/youtube/tokens").HandlerFunc(ClearYouTubeTokens)

	m := mux.NewRouter()
	m.NotFoundHandler = http.HandlerFunc(notFound)
	m.Methods(http.MethodGet).Path("/healthz").HandlerFunc(Health)
	m.PathPrefix("/api/").Handler(ctxauth.Require(api))

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseFunc(ctxlogger.Register(d.Logger))
	n.UseFunc(ctxlogger.RequestID())
	n.UseFunc(ctxtimer.Register(nil))
	n.UseFunc(ctxclock.Register(d.Clock))
	n.UseFunc(ctxconfig.Register(d.Config))
	n.UseFunc(ctxdb.Register(d.DB))
	n.UseFunc(ctxhttpclient.Register(d.HTTPClient))
	n.UseFunc(ctxjobqueue.Register(d.Worker))
	n.UseFunc(RegisterServices(d.Services))
	n.UseFunc(ctxtimer.AddLoggerHooks())
	n.UseFunc(ctxclock.AddLoggerHooks())
	n.UseFunc(ctxlogger.Log())
	n.UseFunc(ctxauth.Register(d.Verifier, d.Config.AuthCookieName))
	n.UseHandler(m)

	return n
}
