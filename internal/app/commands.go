package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"propsync/internal/adapters/observability"
	"propsync/internal/domain"
)

const lockKey = "sync"

// Deps wires a Syncer. Locker, Downloader and Files may be nil: no
// cross-process lease, and no asset materialization, respectively.
type Deps struct {
	Source     domain.RecordSource
	Tables     domain.Tables
	Store      domain.Store
	Cache      domain.Cache
	Locker     domain.Locker
	Downloader domain.Downloader
	Files      domain.AssetStore
	CacheKey   string
	CacheTTL   time.Duration
	LockTTL    time.Duration
	// ExtendEvery is how many reconciled records pass between lease
	// extensions; 0 means 200.
	ExtendEvery int
	Workers     int
	Log         zerolog.Logger
}

// Syncer runs the pass pipeline: fetch, normalize, cache write-through,
// reconcile in one transaction, commit or roll back, materialize assets,
// audit. At most one pass runs per process and, with a Locker, per cluster.
type Syncer struct {
	fetch    *Fetcher
	rec      *Reconciler
	mat      *Materializer
	store    domain.Store
	cache    domain.Cache
	locker   domain.Locker
	cacheKey string
	cacheTTL time.Duration
	lockTTL  time.Duration
	every    int
	log      zerolog.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewSyncer(d Deps) *Syncer {
	if d.LockTTL <= 0 {
		d.LockTTL = 30 * time.Minute
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = time.Hour
	}
	if d.ExtendEvery <= 0 {
		d.ExtendEvery = 200
	}
	s := &Syncer{
		fetch:    NewFetcher(d.Source, d.Tables, d.Log),
		rec:      NewReconciler(d.Cache, d.CacheKey, d.Log),
		store:    d.Store,
		cache:    d.Cache,
		locker:   d.Locker,
		cacheKey: d.CacheKey,
		cacheTTL: d.CacheTTL,
		lockTTL:  d.LockTTL,
		every:    d.ExtendEvery,
		log:      d.Log,
		now:      time.Now,
	}
	if d.Downloader != nil && d.Files != nil {
		s.mat = NewMaterializer(d.Downloader, d.Files, d.Store, d.Workers, d.Log)
	}
	return s
}

func (s *Syncer) Fetcher() *Fetcher { return s.fetch }

func (s *Syncer) Reconciler() *Reconciler { return s.rec }

// Sync runs one pass to completion. The returned error is non-nil only for
// top-level failures (lock contention, begin/commit failure, cancellation);
// per-record problems live on the report.
func (s *Syncer) Sync(ctx context.Context, opts domain.Options) (*domain.Report, error) {
	release, lease, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.run(ctx, opts, lease)
}

// Start validates that no pass is running and runs one in the background.
// done, when non-nil, receives the result.
func (s *Syncer) Start(ctx context.Context, opts domain.Options, done func(*domain.Report, error)) error {
	release, lease, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	go func() {
		rep, err := s.run(ctx, opts, lease)
		release()
		if done != nil {
			done(rep, err)
		}
	}()
	return nil
}

func (s *Syncer) acquire(ctx context.Context) (func(), domain.Lease, error) {
	if !s.mu.TryLock() {
		return nil, nil, domain.ErrSyncInProgress
	}
	if s.locker == nil {
		return s.mu.Unlock, nil, nil
	}
	lease, err := s.locker.Acquire(ctx, lockKey, s.lockTTL)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Msg("sync lease release failed")
		}
		s.mu.Unlock()
	}, lease, nil
}

func (s *Syncer) extend(ctx context.Context, lease domain.Lease) error {
	if lease == nil {
		return nil
	}
	return lease.Extend(ctx, s.lockTTL)
}

func (s *Syncer) run(ctx context.Context, opts domain.Options, lease domain.Lease) (*domain.Report, error) {
	if opts.Type == "" {
		opts.Type = domain.SyncFull
	}
	rep := domain.NewReport(opts, s.now().UTC())
	rep.RunID = uuid.NewString()
	l := s.log.With().Str("run_id", rep.RunID).Str("type", string(opts.Type)).Logger()
	l.Info().Bool("dry_run", opts.DryRun).Bool("no_files", opts.NoFiles).Bool("cache_only", opts.CacheOnly).Msg("sync started")

	if !opts.CacheOnly {
		s.audit(ctx, rep)
	}

	// 1) fetch + normalize
	snap, batch, skips := collect(ctx, s.fetch, s.now())
	for _, k := range domain.Kinds {
		rep.Fetched(k, batch.Count(k))
		if batch.Failed[k] {
			rep.Fail(domain.SyncError{Kind: k, Stage: "fetch", Message: "table could not be fetched"})
		}
	}
	for _, sk := range skips {
		rep.Record(sk.Kind, domain.ActionSkipped)
		l.Info().Str("kind", string(sk.Kind)).Str("external_id", sk.ExternalID).
			Str("reason", string(sk.Reason)).Str("detail", sk.Detail).Msg("record skipped")
	}
	if err := ctx.Err(); err != nil {
		return s.abort(ctx, rep, l, "cancelled during fetch", err)
	}

	// 2) cache write-through; a partial fetch keeps the last good entry
	if len(batch.failedTables()) == 0 {
		if err := storeSnapshot(ctx, s.cache, s.cacheKey, snap, s.cacheTTL); err != nil {
			l.Warn().Err(err).Msg("snapshot cache write failed")
		}
	} else {
		l.Warn().Strs("tables", batch.failedTables()).Msg("partial fetch; cache not updated")
	}

	if opts.CacheOnly {
		rep.Notes = "cache only"
		return s.finish(ctx, rep, l), nil
	}

	if err := s.extend(ctx, lease); err != nil {
		return s.abort(ctx, rep, l, "sync lease lost", err)
	}

	// 3) reconcile in one transaction
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return s.abort(ctx, rep, l, "begin failed", err)
	}
	jobs, err := s.rec.Run(ctx, tx, Plan{
		Snapshot: snap,
		Type:     opts.Type,
		DryRun:   opts.DryRun,
		Sweep:    !batch.Failed[domain.KindProperty],
		Extend:   func(ctx context.Context) error { return s.extend(ctx, lease) },
		Every:    s.every,
	}, rep)
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			l.Error().Err(rerr).Msg("rollback failed")
		}
		rep.RolledBack = true
		note := "cancelled: rolled back"
		if errors.Is(err, ErrLeaseLost) {
			note = "sync lease lost: rolled back"
		}
		return s.abort(ctx, rep, l, note, err)
	}

	if opts.DryRun {
		if err := tx.Rollback(); err != nil {
			l.Error().Err(err).Msg("dry run rollback failed")
		}
		rep.RolledBack = true
		rep.Notes = "dry run: rolled back"
		return s.finish(ctx, rep, l), nil
	}
	if err := tx.Commit(); err != nil {
		rep.RolledBack = true
		return s.abort(ctx, rep, l, "commit failed", err)
	}

	// 4) assets, outside any transaction
	switch {
	case opts.NoFiles:
		rep.Notes = "asset downloads skipped"
	case s.mat != nil && len(jobs) > 0:
		if err := s.extend(ctx, lease); err != nil {
			l.Warn().Err(err).Msg("sync lease extend failed")
		}
		n, errs := s.mat.Run(ctx, jobs)
		rep.Downloaded = n
		for _, e := range errs {
			rep.Fail(e)
		}
	}
	return s.finish(ctx, rep, l), nil
}

func (s *Syncer) abort(ctx context.Context, rep *domain.Report, l zerolog.Logger, note string, cause error) (*domain.Report, error) {
	rep.Status = domain.RunFailed
	rep.Notes = note
	rep.FinishedAt = s.now().UTC()
	l.Error().Err(cause).Str("note", note).Msg("sync failed")
	if !rep.Options.CacheOnly {
		s.audit(ctx, rep)
	}
	s.observe(rep)
	return rep, fmt.Errorf("%s: %w", note, cause)
}

func (s *Syncer) finish(ctx context.Context, rep *domain.Report, l zerolog.Logger) *domain.Report {
	rep.Status = domain.RunCompleted
	if rep.ErrorCount > 0 {
		rep.Status = domain.RunPartial
	}
	rep.FinishedAt = s.now().UTC()
	if !rep.Options.CacheOnly {
		s.audit(ctx, rep)
	}
	s.observe(rep)

	ev := l.Info().Str("status", string(rep.Status)).Int("errors", rep.ErrorCount).
		Int64("swept", rep.Swept).Int("downloaded", rep.Downloaded).
		Dur("took", rep.FinishedAt.Sub(rep.StartedAt))
	for _, k := range domain.Kinds {
		st := rep.Stats[k]
		ev = ev.Dict(string(k), zerolog.Dict().
			Int("fetched", st.Fetched).Int("created", st.Created).Int("updated", st.Updated).
			Int("unchanged", st.Unchanged).Int("planned", st.Planned).
			Int("skipped", st.Skipped).Int("failed", st.Failed))
	}
	ev.Msg("sync finished")
	return rep
}

// audit writes outside the pass transaction and ignores cancellation, so
// dry runs, failures and aborted passes are all recorded.
func (s *Syncer) audit(ctx context.Context, rep *domain.Report) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.SaveRun(actx, domain.RunFromReport(rep)); err != nil {
		s.log.Warn().Err(err).Str("run_id", rep.RunID).Msg("sync run audit failed")
	}
}

func (s *Syncer) observe(rep *domain.Report) {
	observability.ObserveSyncRun(string(rep.Options.Type), string(rep.Status), rep.FinishedAt.Sub(rep.StartedAt))
	for k, st := range rep.Stats {
		for _, a := range []domain.Action{domain.ActionCreated, domain.ActionUpdated, domain.ActionNoChange,
			domain.ActionPlanned, domain.ActionSkipped, domain.ActionFailed} {
			if n := countOf(st, a); n > 0 {
				observability.ObserveSyncRecords(string(k), string(a), n)
			}
		}
	}
}

func countOf(st domain.KindStats, a domain.Action) int {
	switch a {
	case domain.ActionCreated:
		return st.Created
	case domain.ActionUpdated:
		return st.Updated
	case domain.ActionNoChange:
		return st.Unchanged
	case domain.ActionPlanned:
		return st.Planned
	case domain.ActionSkipped:
		return st.Skipped
	case domain.ActionFailed:
		return st.Failed
	}
	return 0
}

// IsBusy reports whether err means another pass holds the lock.
func IsBusy(err error) bool { return errors.Is(err, domain.ErrSyncInProgress) }
