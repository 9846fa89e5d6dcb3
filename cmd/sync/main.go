package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"propsync/internal/adapters/airtable"
	"propsync/internal/adapters/assets"
	"propsync/internal/adapters/observability"
	redisad "propsync/internal/adapters/redis"
	"propsync/internal/app"
	"propsync/internal/domain"
	"propsync/internal/shared"
	mysqlrepo "propsync/internal/storage/mysql"
)

var cfg shared.Config

var rootCmd = &cobra.Command{
	Use:           "propsync",
	Short:         "Mirror the Airtable property base into MySQL",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = shared.Load()
		log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel, cfg.LogFile)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var cerr *domain.ConfigError
		switch {
		case errors.As(err, &cerr):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		case errors.Is(err, domain.ErrSyncInProgress):
			fmt.Fprintln(os.Stderr, "Error: another sync is already running")
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// wiring is everything a pass needs, built from cfg.
type wiring struct {
	syncer  *app.Syncer
	queries *app.QueryService
	close   func()
}

func wire(ctx context.Context) (*wiring, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := mysqlrepo.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}
	rc := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	src, err := airtable.New(cfg.AirtableURL, cfg.AirtableBaseID, cfg.AirtableToken, cfg.AirtableRPS)
	if err != nil {
		_ = db.Close()
		_ = rc.Close()
		return nil, &domain.ConfigError{Field: "AIRTABLE_BASE_URL", Msg: err.Error()}
	}
	repo := mysqlrepo.New(db)
	cache := redisad.New(rc)
	s := app.NewSyncer(app.Deps{
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
	return &wiring{
		syncer:  s,
		queries: app.NewQueryService(s.Fetcher(), repo, cache, cfg.CacheKey, cfg.CacheTTL),
		close: func() {
			_ = rc.Close()
			_ = db.Close()
		},
	}, nil
}
