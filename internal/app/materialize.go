package app

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"propsync/internal/adapters/observability"
	"propsync/internal/domain"
)

// Materializer downloads asset jobs after the pass commits and attaches each
// reference to its still-empty slot. No store transaction is held meanwhile.
type Materializer struct {
	dl      domain.Downloader
	files   domain.AssetStore
	store   domain.Store
	workers int
	log     zerolog.Logger
	token   func() string
}

func NewMaterializer(dl domain.Downloader, files domain.AssetStore, store domain.Store, workers int, log zerolog.Logger) *Materializer {
	if workers < 1 {
		workers = 1
	}
	return &Materializer{dl: dl, files: files, store: store, workers: workers, log: log, token: uuid.NewString}
}

// Run returns how many slots were filled plus one error per failed job.
func (m *Materializer) Run(ctx context.Context, jobs []domain.AssetJob) (int, []domain.SyncError) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		done int
		errs []domain.SyncError
	)
	sem := semaphore.NewWeighted(int64(m.workers))

	for _, job := range jobs {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(job domain.AssetJob) {
			defer wg.Done()
			defer sem.Release(1)

			ok, err := m.one(ctx, job)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, domain.SyncError{Kind: kindOf(job.Slot), ExternalID: job.Label, Stage: "asset", Message: err.Error()})
				return
			}
			if ok {
				done++
			}
		}(job)
	}
	wg.Wait()
	return done, errs
}

func (m *Materializer) one(ctx context.Context, job domain.AssetJob) (bool, error) {
	l := m.log.With().Str("slot", string(job.Slot)).Str("external_id", job.Label).Str("url", job.URL).Logger()

	data, err := m.dl.Download(ctx, job.URL)
	if err != nil {
		observability.ObserveAsset(string(job.Slot), "error")
		l.Warn().Err(err).Msg("asset download failed")
		return false, err
	}
	ref, err := m.files.Put(ctx, AssetPath(job, m.token()), data)
	if err != nil {
		observability.ObserveAsset(string(job.Slot), "error")
		l.Warn().Err(err).Msg("asset write failed")
		return false, err
	}
	attached, err := m.store.AttachAsset(ctx, job, ref)
	if err != nil {
		observability.ObserveAsset(string(job.Slot), "error")
		l.Warn().Err(err).Msg("asset attach failed")
		return false, err
	}
	if !attached {
		observability.ObserveAsset(string(job.Slot), "skipped")
		l.Debug().Msg("slot already filled")
		return false, nil
	}
	observability.ObserveAsset(string(job.Slot), "ok")
	l.Debug().Str("ref", ref).Msg("asset attached")
	return true, nil
}

func kindOf(s domain.AssetSlot) domain.Kind {
	if s == domain.SlotImage {
		return domain.KindImage
	}
	return domain.KindProperty
}

// AssetPath is the storage path for a job. token only matters for images.
func AssetPath(job domain.AssetJob, token string) string {
	slug := job.PropertySlug
	switch job.Slot {
	case domain.SlotThumbnail:
		return "property_thumbnails/" + slug + "/thumbnail_" + slug + extOf(job.URL, ".jpg")
	case domain.SlotBrochure:
		return "brochures/" + slug + "/brochure_" + slug + extOf(job.URL, ".pdf")
	default:
		return "property_images/" + slug + "/" + token + extOf(job.URL, ".jpg")
	}
}

func extOf(raw, def string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if len(ext) < 2 || len(ext) > 6 {
		return def
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return def
		}
	}
	return ext
}
