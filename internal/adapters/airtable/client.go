// internal/adapters/airtable/client.go
package airtable

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"propsync/internal/adapters/observability"
	"propsync/internal/domain"
)

const pageSize = 100

type Client struct {
	base   string
	baseID string
	hc     *http.Client
	token  string
	rl     *rate.Limiter
}

func New(base, baseID, token string, rps int) (*Client, error) {
	if token == "" {
		return nil, &domain.ConfigError{Field: "AIRTABLE_TOKEN", Msg: "token is required"}
	}
	if baseID == "" {
		return nil, &domain.ConfigError{Field: "AIRTABLE_BASE_ID", Msg: "base id is required"}
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		baseID: baseID,
		hc:     &http.Client{Timeout: 20 * time.Second},
		token:  token,
		rl:     rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- Public API ----

// Pages walks the table page by page following the offset cursor.
func (c *Client) Pages(ctx context.Context, table string) iter.Seq2[[]domain.RawRecord, error] {
	return func(yield func([]domain.RawRecord, error) bool) {
		offset := ""
		for {
			pg, err := c.page(ctx, table, offset)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(pg.Records, nil) {
				return
			}
			if pg.Offset == "" {
				return
			}
			offset = pg.Offset
		}
	}
}

// All fetches the table with one unpaginated request, for exports and
// proxies that serve the full list at once. A response that still carries
// an offset cursor is incomplete and rejected with ErrTruncated.
func (c *Client) All(ctx context.Context, table string) ([]domain.RawRecord, error) {
	start := time.Now()
	body, status, err := c.get(ctx, c.bulkURL(table))
	observability.ObserveExternal("airtable", table+":bulk", status, time.Since(start))
	if err != nil {
		return nil, err
	}
	pg, err := decodePage(body)
	if err != nil {
		return nil, err
	}
	if pg.Offset != "" {
		return nil, fmt.Errorf("%w: %s returned %d records and an offset", ErrTruncated, table, len(pg.Records))
	}
	return pg.Records, nil
}

// ---- Internals ----

var (
	ErrUnauthorized = errors.New("airtable: unauthorized")
	ErrForbidden    = errors.New("airtable: forbidden")
	ErrTruncated    = errors.New("airtable: bulk response truncated")
)

type page struct {
	Records []domain.RawRecord `json:"records"`
	Offset  string             `json:"offset,omitempty"`
}

func (c *Client) tableURL(table, offset string) string {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	if offset != "" {
		q.Set("offset", offset)
	}
	return fmt.Sprintf("%s/%s/%s?%s", c.base, url.PathEscape(c.baseID), url.PathEscape(table), q.Encode())
}

func (c *Client) bulkURL(table string) string {
	return fmt.Sprintf("%s/%s/%s", c.base, url.PathEscape(c.baseID), url.PathEscape(table))
}

func (c *Client) page(ctx context.Context, table, offset string) (page, error) {
	start := time.Now()
	body, status, err := c.get(ctx, c.tableURL(table, offset))
	observability.ObserveExternal("airtable", table, status, time.Since(start))
	if err != nil {
		return page{}, err
	}
	return decodePage(body)
}

// decodePage accepts both the paginated envelope {"records":[...],"offset":"..."}
// and a bare bulk list [...] (served by some proxies and exports).
func decodePage(body []byte) (page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return page{}, nil
	}
	if trimmed[0] == '[' {
		var recs []domain.RawRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return page{}, fmt.Errorf("decode record list: %w", err)
		}
		return page{Records: recs}, nil
	}
	var pg page
	if err := json.Unmarshal(trimmed, &pg); err != nil {
		return page{}, fmt.Errorf("decode page: %w", err)
	}
	return pg, nil
}

// get performs a GET with client-side rate limiting and retries.
// Retries on 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, 0, err
	}

	var lastErr error
	lastStatus := 0
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "propsync/1.0")

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			return nil, 0, lastErr
		}
		lastStatus = resp.StatusCode

		switch resp.StatusCode {
		case http.StatusOK:
			b, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			return b, resp.StatusCode, err

		case http.StatusNotFound:
			resp.Body.Close()
			return nil, resp.StatusCode, domain.ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return nil, resp.StatusCode, ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return nil, resp.StatusCode, ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			// Airtable asks for a 30s cool-down after a 429; Retry-After wins when present.
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return nil, lastStatus, ctx.Err()
			}
			return nil, lastStatus, lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, resp.StatusCode, fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return nil, lastStatus, lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential delay (200ms, 400ms, 800ms...) with up to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
