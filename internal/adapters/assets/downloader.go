package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"propsync/internal/adapters/observability"
)

// MaxAssetBytes caps one download; brochures are the largest assets seen upstream.
const MaxAssetBytes = 64 << 20

var ErrTooLarge = errors.New("asset exceeds size limit")

type Downloader struct {
	hc *http.Client
	cb *gobreaker.CircuitBreaker[[]byte]
}

// NewDownloader builds a client with a per-request timeout. After
// failureThreshold consecutive failures the breaker opens for cooldown and
// downloads fail fast with gobreaker.ErrOpenState.
func NewDownloader(timeout time.Duration, failureThreshold uint32, cooldown time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	settings := gobreaker.Settings{
		Name:        "asset-downloads",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &Downloader{
		hc: &http.Client{Timeout: timeout},
		cb: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	return d.cb.Execute(func() ([]byte, error) {
		return d.fetch(ctx, url)
	})
}

// State exposes the breaker state for logs and tests.
func (d *Downloader) State() string { return d.cb.State().String() }

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "propsync/1.0")
	resp, err := d.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("assets", "download", 0, time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("assets", "download", resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxAssetBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxAssetBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}
