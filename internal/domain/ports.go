package domain

import (
	"context"
	"iter"
	"time"
)

// RawRecord is one upstream row: opaque id plus a loosely-typed field bag.
type RawRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Tables maps each kind to its upstream table name.
type Tables struct {
	Properties     string
	Configurations string
	Images         string
	Amenities      string
}

func (t Tables) For(k Kind) string {
	switch k {
	case KindProperty:
		return t.Properties
	case KindConfiguration:
		return t.Configurations
	case KindImage:
		return t.Images
	case KindAmenity:
		return t.Amenities
	}
	return ""
}

type RecordSource interface {
	// Pages yields one batch per upstream page; iteration stops at the first error.
	Pages(ctx context.Context, table string) iter.Seq2[[]RawRecord, error]
	// All fetches the whole table in one request, without a cursor. It is
	// the fallback when Pages fails and must not return a partial table.
	All(ctx context.Context, table string) ([]RawRecord, error)
}

// Store is the relational store. Pass writes go through a Tx; audit and
// asset attachment are short single-statement writes outside it.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	AttachAsset(ctx context.Context, job AssetJob, ref string) (bool, error)
	SaveRun(ctx context.Context, run SyncRun) error
	ListRuns(ctx context.Context, limit int) ([]SyncRun, error)
	Counts(ctx context.Context) (EntityCounts, error)
}

type Tx interface {
	PropertyByExternalID(ctx context.Context, id string) (Property, error)
	PropertyBySlug(ctx context.Context, slug string) (Property, error)
	CreateProperty(ctx context.Context, p *Property) error
	UpdateProperty(ctx context.Context, p Property) error
	// DeletePropertiesNotIn removes properties with an external ID outside keep.
	// Rows without an external ID are never touched. Children cascade.
	DeletePropertiesNotIn(ctx context.Context, keep []string) (int64, error)

	ConfigurationByExternalID(ctx context.Context, id string) (Configuration, error)
	ConfigurationByType(ctx context.Context, propertyID int64, typ string) (Configuration, error)
	CreateConfiguration(ctx context.Context, c *Configuration) error
	UpdateConfiguration(ctx context.Context, c Configuration) error

	ImageByExternalID(ctx context.Context, id string) (Image, error)
	CreateImage(ctx context.Context, i *Image) error
	UpdateImage(ctx context.Context, i Image) error

	AmenityByExternalID(ctx context.Context, id string) (Amenity, error)
	AmenityByName(ctx context.Context, propertyID int64, name string) (Amenity, error)
	CreateAmenity(ctx context.Context, a *Amenity) error
	UpdateAmenity(ctx context.Context, a Amenity) error

	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Release(ctx context.Context, name string) error

	Commit() error
	Rollback() error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// AssetStore persists bytes under a relative path and returns a retrievable reference.
type AssetStore interface {
	Put(ctx context.Context, path string, data []byte) (string, error)
}
