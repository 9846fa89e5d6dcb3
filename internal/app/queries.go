package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"propsync/internal/adapters/observability"
	"propsync/internal/domain"
)

type QueryService struct {
	fetch    *Fetcher
	store    domain.Store
	cache    domain.Cache
	cacheKey string
	cacheTTL time.Duration
	now      func() time.Time
}

func NewQueryService(f *Fetcher, s domain.Store, c domain.Cache, key string, ttl time.Duration) *QueryService {
	return &QueryService{fetch: f, store: s, cache: c, cacheKey: key, cacheTTL: ttl, now: time.Now}
}

// Snapshot serves the cached fetch result unless force is set or the entry
// is missing; otherwise it fetches, normalizes and caches for ttl (0 means
// the configured expiry). cached reports whether the cache answered.
func (s *QueryService) Snapshot(ctx context.Context, force bool, ttl time.Duration) (snap domain.Snapshot, cached bool, err error) {
	if !force {
		if ok, _ := s.cache.Get(ctx, s.cacheKey, &snap); ok {
			observability.ObserveCache("snapshot", "hit")
			return snap, true, nil
		}
		observability.ObserveCache("snapshot", "miss")
	}
	snap, batch, _ := collect(ctx, s.fetch, s.now())
	if failed := batch.failedTables(); len(failed) > 0 {
		return domain.Snapshot{}, false, fmt.Errorf("fetch failed for %s", strings.Join(failed, ", "))
	}
	if ttl <= 0 {
		ttl = s.cacheTTL
	}
	if err := storeSnapshot(ctx, s.cache, s.cacheKey, snap, ttl); err != nil {
		return snap, false, err
	}
	return snap, false, nil
}

// Fresh reports whether a cached snapshot exists.
func (s *QueryService) Fresh(ctx context.Context) bool {
	ok, _ := s.cache.Has(ctx, s.cacheKey)
	return ok
}

func (s *QueryService) Runs(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	return s.store.ListRuns(ctx, limit)
}

func (s *QueryService) Counts(ctx context.Context) (domain.EntityCounts, error) {
	return s.store.Counts(ctx)
}

// collect runs fetch then normalize for every table.
func collect(ctx context.Context, f *Fetcher, now time.Time) (domain.Snapshot, Batch, []*domain.SkipError) {
	batch := f.All(ctx)
	snap, skips := Normalize(batch.Records)
	snap.FetchedAt = now.UTC()
	return snap, batch, skips
}

func storeSnapshot(ctx context.Context, c domain.Cache, key string, snap domain.Snapshot, ttl time.Duration) error {
	if err := c.Set(ctx, key, deepCopySnapshot(snap), int(ttl.Seconds())); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	observability.ObserveCache("snapshot", "set")
	return nil
}

func (b Batch) failedTables() []string {
	var out []string
	for k, failed := range b.Failed {
		if failed {
			out = append(out, string(k))
		}
	}
	sort.Strings(out)
	return out
}

// copy slices so a cache holding values cannot alias the caller's arrays
func deepCopySnapshot(in domain.Snapshot) domain.Snapshot {
	out := domain.Snapshot{FetchedAt: in.FetchedAt}
	out.Properties = append([]domain.PropertyRecord(nil), in.Properties...)
	out.Configurations = append([]domain.ConfigurationRecord(nil), in.Configurations...)
	out.Images = append([]domain.ImageRecord(nil), in.Images...)
	out.Amenities = append([]domain.AmenityRecord(nil), in.Amenities...)
	return out
}
