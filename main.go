package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/gofrs/flock"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
	"gopkg.in/natefinch/lumberjack.v2"

	"fknsrs.biz/p/recall/handlers"
	"fknsrs.biz/p/recall/internal/auth"
	"fknsrs.biz/p/recall/internal/catchpanic"
	"fknsrs.biz/p/recall/internal/config"
	"fknsrs.biz/p/recall/internal/configreader"
	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/internal/ctxconfig"
	"fknsrs.biz/p/recall/internal/ctxdb"
	"fknsrs.biz/p/recall/internal/ctxhttpclient"
	"fknsrs.biz/p/recall/internal/ctxjobqueue"
	"fknsrs.biz/p/recall/internal/ctxlogger"
	"fknsrs.biz/p/recall/internal/foldercache"
	"fknsrs.biz/p/recall/internal/httpcache"
	"fknsrs.biz/p/recall/internal/jobqueue"
	"fknsrs.biz/p/recall/internal/logrusstackhook"
	"fknsrs.biz/p/recall/internal/migrations"
	"fknsrs.biz/p/recall/internal/sqlitelogger"
	"fknsrs.biz/p/recall/internal/syncer"
	"fknsrs.biz/p/recall/internal/syncjobs"
	"fknsrs.biz/p/recall/internal/youtube"
)

func init() {
	sorm.SetParameterPrefix("?")
}

var cfg = config.Config{
	LogLevel:                 logrus.InfoLevel,
	LogDebugLevels:           config.LevelList{logrus.DebugLevel, logrus.TraceLevel},
	LogQueries:               config.LogQueries{Enabled: true, SlowerThan: time.Millisecond * 100},
	LogSORM:                  false,
	ApplicationAddr:          ":8080",
	ApplicationDatabase:      "recall.db",
	ApplicationCachePath:     "cache.db",
	BackgroundWorkers:        1,
	AuthCookieName:           "recall_session",
	YouTubeRequestsPerSecond: 5,
	SyncMaxVideos:            syncer.DefaultMaxVideos,
	AutoSyncInterval:         config.Duration(time.Hour),
	AutoSyncCheckInterval:    config.Duration(time.Minute * 5),
	FolderCacheTTL:           config.Duration(foldercache.DefaultTTL),
}

func newLogFile(filename string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
}

const dsnOptions = "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"

func init() {
	for _, configPath := range []string{"config.toml", "config.yaml", "config.yml"} {
		if st, err := os.Stat(configPath); err == nil && st != nil && !st.IsDir() {
			cfg.Config = configPath
		}
	}
}

type simpleQueryLogger struct {
	logger logrus.FieldLogger
}

func (s *simpleQueryLogger) LogQuery(query string, args []interface{}) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Info("sorm query start")
}

func (s *simpleQueryLogger) LogQueryAfter(query string, args []interface{}, duration time.Duration, err error) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.duration":   duration,
		"db.error":      err,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Info("sorm query finish")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := configreader.WithDotEnv(os.Environ(), ".env")
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if err := configreader.Read(os.Args[0], os.Args[1:], env, &cfg); err != nil {
		if errors.Is(err, configreader.ErrHelp) {
			return nil
		}
		return fmt.Errorf("run: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	ctx = ctxconfig.WithConfig(ctx, cfg)

	clock := ctxclock.NewRealClock()
	ctx = ctxclock.WithClock(ctx, clock)

	logger := logrus.New()

	logger.SetLevel(cfg.LogLevel)
	if len(cfg.LogDebugLevels) > 0 {
		logger.AddHook(logrusstackhook.NewStackHook(cfg.LogDebugLevels, nil))
	}

	if cfg.LogFile != "" {
		fileWriter := newLogFile(cfg.LogFile)
		defer fileWriter.Close()

		logger.SetOutput(io.MultiWriter(os.Stderr, fileWriter))
	}

	logger.WithFields(logrus.Fields{
		"config.config":                      cfg.Config,
		"config.log_level":                   cfg.LogLevel,
		"config.log_debug_levels":            cfg.LogDebugLevels,
		"config.log_queries":                 cfg.LogQueries,
		"config.log_sorm":                    cfg.LogSORM,
		"config.log_file":                    cfg.LogFile,
		"config.application_addr":            cfg.ApplicationAddr,
		"config.application_cache_path":      cfg.ApplicationCachePath,
		"config.application_database":        cfg.ApplicationDatabase,
		"config.background_workers":          cfg.BackgroundWorkers,
		"config.youtube_requests_per_second": cfg.YouTubeRequestsPerSecond,
		"config.sync_max_videos":             cfg.SyncMaxVideos,
		"config.auto_sync_interval":          cfg.AutoSyncInterval,
		"config.auto_sync_check_interval":    cfg.AutoSyncCheckInterval,
		"config.folder_cache_ttl":            cfg.FolderCacheTTL,
	}).Info("program starting")

	if cfg.LogSORM {
		sorm.SetQueryLogger(&simpleQueryLogger{logger})
	}

	ctx = ctxlogger.WithLogger(ctx, logger)

	lock := flock.New(cfg.ApplicationDatabase + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("run: could not acquire database lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("run: database %s is in use by another process", cfg.ApplicationDatabase)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.WithError(err).Warn("could not release database lock")
		}
	}()

	dbDriver := "sqlite3"

	if !cfg.LogQueries.IsZero() {
		dbDriver = "sqlite3:logged"

		sql.Register(dbDriver, sqlitelogger.New(
			&sqlite3.SQLiteDriver{},
			&sqlitelogger.BasicFilter{
				LogSlowerThan: cfg.LogQueries.SlowerThan,
				IgnorePackageStackFrames: []string{
					// standard library
					"database/sql",
					"net/http",
					"runtime",
					// libraries
					"github.com/gorilla/mux",
					"github.com/shogo82148/go-sql-proxy",
					"github.com/urfave/negroni/v2",
					"fknsrs.biz/p/sorm",
					// middleware
					"fknsrs.biz/p/recall/internal/ctxauth",
					"fknsrs.biz/p/recall/internal/ctxclock",
					"fknsrs.biz/p/recall/internal/ctxdb",
					"fknsrs.biz/p/recall/internal/ctxhttpclient",
					"fknsrs.biz/p/recall/internal/ctxjobqueue",
					"fknsrs.biz/p/recall/internal/ctxlogger",
					"fknsrs.biz/p/recall/internal/ctxtimer",
					"fknsrs.biz/p/recall/internal/sqlitelogger",
					// main
					"main",
				},
				IgnoreFunctionQueries: []string{
					"fknsrs.biz/p/recall/internal/jobqueue.(*Worker).Run",
				},
			},
		))
	}

	db, err := sql.Open(dbDriver, "file:"+cfg.ApplicationDatabase+dsnOptions)
	if err != nil {
		return fmt.Errorf("run: could not open database: %w", err)
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if len(applied) > 0 {
		logger.WithField("db.migrations", applied).Info("applied migrations")
	}

	ctx = ctxdb.WithDB(ctx, db)

	cacheDB, err := bbolt.Open(cfg.ApplicationCachePath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("run: could not open cache: %w", err)
	}
	defer cacheDB.Close()

	cacheStorage := httpcache.NewBBoltStorage(cacheDB)

	httpClient := &http.Client{
		Timeout:   time.Second * 30,
		Transport: httpcache.NewTransport(nil, cacheStorage, httpcache.DefaultMaxAge, clock),
	}

	ctx = ctxhttpclient.WithHTTPClient(ctx, httpClient)

	yt := youtube.NewClient(youtube.Config{
		ClientID:          cfg.GoogleClientID,
		ClientSecret:      cfg.GoogleClientSecret,
		APIKey:            cfg.YouTubeAPIKey,
		RequestsPerSecond: cfg.YouTubeRequestsPerSecond,
	})

	runner := syncer.New(yt, cfg.SyncMaxVideos)
	defer runner.Wait()

	services := &handlers.Services{
		Folders:  foldercache.New(cfg.FolderCacheTTL.Duration(), clock),
		Syncer:   runner,
		Metadata: yt,
	}

	jobWorker := jobqueue.NewWorker(nil)
	if err := jobWorker.RegisterAll(syncjobs.Functions(runner, cfg.AutoSyncInterval.Duration())); err != nil {
		return fmt.Errorf("run: could not register job queue functions: %w", err)
	}

	ctx = ctxjobqueue.WithWorker(ctx, jobWorker)

	workers := []worker{
		{
			name: "application",
			run: func(ctx context.Context) error {
				return runApplicationWorker(ctx, cfg.ApplicationAddr, handlers.NewRouter(handlers.Dependencies{
					Logger:     ctxlogger.GetLogger(ctx),
					Clock:      clock,
					Config:     cfg,
					DB:         db,
					HTTPClient: httpClient,
					Worker:     jobWorker,
					Verifier:   auth.NewVerifier(cfg.AuthJWTSecret, clock),
					Services:   services,
				}))
			},
		},
		{
			name: "maintenance",
			run: func(ctx context.Context) error {
				return runMaintenanceWorker(ctx, services.Folders, cacheStorage)
			},
		},
	}

	for i := 0; i < cfg.BackgroundWorkers; i++ {
		workers = append(workers, worker{
			name: fmt.Sprintf("job_queue.%d", i),
			run:  runJobQueueWorker,
		})
	}

	if cfg.AutoSyncCheckInterval > 0 {
		workers = append(workers, worker{
			name: "auto_sync_scheduler",
			run: func(ctx context.Context) error {
				return runAutoSyncScheduler(ctx, cfg.AutoSyncCheckInterval.Duration())
			},
		})
	}

	if err := runAllWorkers(ctx, workers); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger.Info("program stopping")

	return nil
}

type worker struct {
	name string
	run  func(ctx context.Context) error
}

// runAllWorkers runs every worker until ctx is done. A worker that returns
// cleanly is restarted; one that fails stops all the others.
func runAllWorkers(ctx context.Context, workers []worker) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan error, len(workers))

	for id, w := range workers {
		go func(id int, w worker) {
			l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
				"worker.id":   id + 1,
				"worker.name": w.name,
			})

			ctx := ctxlogger.WithLogger(ctx, l)

			for {
				err := catchpanic.CatchErr0(func() error { return w.run(ctx) })

				if ctx.Err() != nil {
					done <- nil
					return
				}

				if err != nil {
					l := l
					if stack := catchpanic.StackOf(err); stack != nil {
						l = l.WithField("worker.panic_stack", stack)
					}
					l.WithError(err).Error("worker failed")

					err = fmt.Errorf("worker %d (%s) failed: %w", id+1, w.name, err)
					cancel(err)
					done <- err
					return
				}

				l.Info("worker restarted")

				select {
				case <-ctx.Done():
					done <- nil
					return
				case <-time.After(time.Second):
				}
			}
		}(id, w)
	}

	var errs []error
	for range workers {
		if err := <-done; err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func runApplicationWorker(ctx context.Context, addr string, handler http.Handler) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{
		"args.addr": addr,
	}).Info("running application worker")

	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second * 10,
		BaseContext:       func(l net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		l.Info("starting server")
		errs <- s.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*10)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("runApplicationWorker: %w", err)
		}

		if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("runApplicationWorker: %w", err)
		}

		return nil
	}
}

func runJobQueueWorker(ctx context.Context) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{}).Info("running job queue worker")

	w := ctxjobqueue.GetWorker(ctx)
	if w == nil {
		return fmt.Errorf("job queue worker not available in context")
	}

	return w.Run(ctx)
}

func runAutoSyncScheduler(ctx context.Context, every time.Duration) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithField("sync.check_interval", every).Info("running auto sync scheduler")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		added, err := syncjobs.Schedule(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("runAutoSyncScheduler: %w", err)
		}

		if added {
			ctxjobqueue.GetWorker(ctx).Trigger(ctx)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runMaintenanceWorker(ctx context.Context, folders *foldercache.Cache, storage httpcache.Storage) error {
	l := ctxlogger.GetLogger(ctx)

	ticker := time.NewTicker(time.Minute * 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := ctxclock.NowOr(ctx)

		purged, err := storage.Purge(now.Add(-httpcache.DefaultMaxAge))
		if err != nil {
			l.WithError(err).Warn("could not purge http cache")
		}

		l.WithFields(logrus.Fields{
			"cache.http_purged":    purged,
			"cache.folders_purged": folders.Purge(),
			"cache.folders_kept":   folders.Len(),
		}).Debug("purged caches")
	}
}
