package app

import (
	"context"

	"github.com/rs/zerolog"

	"propsync/internal/domain"
)

// Fetcher pulls whole tables from the record source. A table that cannot be
// fetched yields an empty result and ok=false; it never aborts the pass.
type Fetcher struct {
	src    domain.RecordSource
	tables domain.Tables
	log    zerolog.Logger
}

func NewFetcher(src domain.RecordSource, tables domain.Tables, log zerolog.Logger) *Fetcher {
	return &Fetcher{src: src, tables: tables, log: log}
}

// Batch is one fetch of every table. Failed lists the kinds whose table
// could not be read at all, which is distinct from an empty table.
type Batch struct {
	Records map[domain.Kind][]domain.RawRecord
	Failed  map[domain.Kind]bool
}

func (b Batch) Count(k domain.Kind) int { return len(b.Records[k]) }

// Table walks the paginated listing first. When any page fails the partial
// result is discarded and the source's bulk call is tried once; for Airtable
// that is a single unpaginated request, which fails rather than truncates
// when the table does not fit in one response.
func (f *Fetcher) Table(ctx context.Context, table string) ([]domain.RawRecord, bool) {
	var out []domain.RawRecord
	var perr error
	for page, err := range f.src.Pages(ctx, table) {
		if err != nil {
			perr = err
			break
		}
		out = append(out, page...)
	}
	if perr == nil {
		return out, true
	}
	f.log.Warn().Err(perr).Str("table", table).Int("partial", len(out)).Msg("paginated fetch failed; trying bulk")

	all, err := f.src.All(ctx, table)
	if err != nil {
		f.log.Error().Err(err).Str("table", table).Msg("fetch failed")
		return nil, false
	}
	return all, true
}

// All fetches the four tables in reconcile order.
func (f *Fetcher) All(ctx context.Context) Batch {
	b := Batch{
		Records: make(map[domain.Kind][]domain.RawRecord, len(domain.Kinds)),
		Failed:  map[domain.Kind]bool{},
	}
	for _, k := range domain.Kinds {
		if ctx.Err() != nil {
			b.Failed[k] = true
			continue
		}
		table := f.tables.For(k)
		recs, ok := f.Table(ctx, table)
		if !ok {
			b.Failed[k] = true
		}
		b.Records[k] = recs
		f.log.Debug().Str("table", table).Int("records", len(recs)).Msg("fetched")
	}
	return b
}
