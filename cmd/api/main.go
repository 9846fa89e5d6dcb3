package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"propsync/internal/adapters/airtable"
	"propsync/internal/adapters/assets"
	server "propsync/internal/adapters/http_server"
	"propsync/internal/adapters/observability"
	redisad "propsync/internal/adapters/redis"
	"propsync/internal/app"
	"propsync/internal/domain"
	"propsync/internal/shared"
	mysqlrepo "propsync/internal/storage/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel, cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	observability.Serve()

	// db
	if cfg.AutoMigrate {
		if _, err := mysqlrepo.Migrate(ctx, cfg.MySQLDSN); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
	}
	db, err := mysqlrepo.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.Close()
	log.Info().Msg("database connection ok")

	// deps
	rc := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rc.Close()
	src, err := airtable.New(cfg.AirtableURL, cfg.AirtableBaseID, cfg.AirtableToken, cfg.AirtableRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Airtable client")
	}
	repo := mysqlrepo.New(db)
	cache := redisad.New(rc)
	syncer := app.NewSyncer(app.Deps{
		Source:     src,
		Tables:     cfg.Tables,
		Store:      repo,
		Cache:      cache,
		Locker:     redisad.NewLocker(rc, ""),
		Downloader: assets.NewDownloader(cfg.DownloadTimeout, 5, 30*time.Second),
		Files:      assets.NewFileStore(cfg.MediaRoot, cfg.MediaURL),
		CacheKey:   cfg.CacheKey,
		CacheTTL:   cfg.CacheTTL,
		LockTTL:    cfg.LockTTL,
		Workers:    cfg.DownloadWorkers,
		Log:        log.Logger,
	})
	q := app.NewQueryService(syncer.Fetcher(), repo, cache, cfg.CacheKey, cfg.CacheTTL)

	// scheduled passes
	if cfg.SyncSchedule != "" {
		c := cron.New(cron.WithLogger(cron.PrintfLogger(&log.Logger)))
		if _, err := c.AddFunc(cfg.SyncSchedule, func() {
			_, err := syncer.Sync(ctx, domain.Options{Type: domain.SyncFull})
			switch {
			case app.IsBusy(err):
				log.Info().Msg("scheduled sync skipped: pass in progress")
			case err != nil:
				log.Error().Err(err).Msg("scheduled sync failed")
			}
		}); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.SyncSchedule).Msg("invalid SYNC_SCHEDULE")
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		log.Info().Str("schedule", cfg.SyncSchedule).Msg("sync scheduler started")
	}

	// http
	srv := server.New(log.Logger)
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Q: q, S: syncer, Base: ctx, Log: log.Logger})
	srv.MountMedia(cfg.MediaURL, cfg.MediaRoot)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}
