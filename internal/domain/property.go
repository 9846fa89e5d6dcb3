package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Luxury string

const (
	Luxurious    Luxury = "luxurious"
	NonLuxurious Luxury = "non_luxurious"
)

// Kind names one of the four synced entity types.
type Kind string

const (
	KindProperty      Kind = "property"
	KindConfiguration Kind = "configuration"
	KindImage         Kind = "image"
	KindAmenity       Kind = "amenity"
)

// Kinds is the reconcile order. Properties must come first: children resolve
// their parent against the properties already upserted in the same pass.
var Kinds = []Kind{KindProperty, KindConfiguration, KindImage, KindAmenity}

/********** persisted entities **********/

type Property struct {
	ID             int64
	ExternalID     *string // nil for rows created outside the sync; never swept
	Name           string
	Slug           string
	Address        string
	Description    string
	Latitude       *decimal.Decimal
	Longitude      *decimal.Decimal
	ContactName    string
	ContactPhone   string
	Luxury         Luxury
	IsActive       bool
	CompletionDate *time.Time
	Thumbnail      *string // asset reference
	Brochure       *string // asset reference
	LastSyncedAt   *time.Time
}

type Configuration struct {
	ID            int64
	ExternalID    string
	PropertyID    int64
	Type          string
	Bedrooms      int
	Bathrooms     int
	SquareFootage int
	Price         *decimal.Decimal
	IsAvailable   bool
	LastSyncedAt  *time.Time
}

type Image struct {
	ID               int64
	ExternalID       string
	PropertyID       int64
	Asset            *string
	AltText          string
	Order            int
	AttachmentIndex  int
	OriginalRecordID string
	LastSyncedAt     *time.Time
}

type Amenity struct {
	ID           int64
	ExternalID   string
	PropertyID   int64
	Name         string
	Description  string
	Icon         string
	LastSyncedAt *time.Time
}

// EntityCounts is the number of persisted rows per kind.
type EntityCounts struct {
	Properties     int
	Configurations int
	Images         int
	Amenities      int
}

/********** canonical records (normalizer output) **********/

type PropertyRecord struct {
	ExternalID     string           `json:"external_id"`
	Name           string           `json:"name"`
	Slug           string           `json:"slug"`
	SlugExplicit   bool             `json:"slug_explicit"` // slug came from a slug field, not the name
	Address        string           `json:"address"`
	Description    string           `json:"description"`
	Latitude       *decimal.Decimal `json:"latitude,omitempty"`
	Longitude      *decimal.Decimal `json:"longitude,omitempty"`
	ContactName    string           `json:"contact_name"`
	ContactPhone   string           `json:"contact_phone"`
	Luxury         Luxury           `json:"luxury_status"`
	IsActive       bool             `json:"is_active"`
	CompletionDate *time.Time       `json:"completion_date,omitempty"`
	BrochureURL    *string          `json:"brochure_url,omitempty"`
	ThumbnailURL   *string          `json:"thumbnail_url,omitempty"`
}

type ConfigurationRecord struct {
	ExternalID         string           `json:"external_id"`
	PropertyExternalID string           `json:"property_id"`
	Type               string           `json:"type"`
	Bedrooms           int              `json:"bedrooms"`
	Bathrooms          int              `json:"bathrooms"`
	SquareFootage      int              `json:"square_footage"`
	Price              *decimal.Decimal `json:"price,omitempty"`
	IsAvailable        bool             `json:"is_available"`
}

type ImageRecord struct {
	ExternalID         string `json:"external_id"`
	PropertyExternalID string `json:"property_id"`
	URL                string `json:"image_url"`
	AltText            string `json:"alt_text"`
	Order              int    `json:"order"`
	AttachmentIndex    int    `json:"attachment_index"`
	OriginalRecordID   string `json:"original_record_id"`
}

type AmenityRecord struct {
	ExternalID         string `json:"external_id"`
	PropertyExternalID string `json:"property_id"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	Icon               string `json:"icon,omitempty"`
}

// Snapshot is one full fetch-and-normalize result. It is what the cache holds.
type Snapshot struct {
	Properties     []PropertyRecord      `json:"properties"`
	Configurations []ConfigurationRecord `json:"configurations"`
	Images         []ImageRecord         `json:"images"`
	Amenities      []AmenityRecord       `json:"amenities"`
	FetchedAt      time.Time             `json:"fetched_at"`
}

// PropertyByExternalID scans the snapshot linearly.
func (s Snapshot) PropertyByExternalID(id string) (PropertyRecord, bool) {
	for _, p := range s.Properties {
		if p.ExternalID == id {
			return p, true
		}
	}
	return PropertyRecord{}, false
}
