package domain

import (
	"fmt"
	"time"
)

type SyncType string

const (
	SyncFull           SyncType = "full"
	SyncProperties     SyncType = "properties"
	SyncConfigurations SyncType = "configurations"
	SyncImages         SyncType = "images"
	SyncAmenities      SyncType = "amenities"
)

func ParseSyncType(s string) (SyncType, error) {
	switch t := SyncType(s); t {
	case SyncFull, SyncProperties, SyncConfigurations, SyncImages, SyncAmenities:
		return t, nil
	case "":
		return SyncFull, nil
	}
	return "", fmt.Errorf("unknown sync type %q", s)
}

// Includes reports whether a pass of this type reconciles kind k.
func (t SyncType) Includes(k Kind) bool {
	switch t {
	case SyncFull:
		return true
	case SyncProperties:
		return k == KindProperty
	case SyncConfigurations:
		return k == KindConfiguration
	case SyncImages:
		return k == KindImage
	case SyncAmenities:
		return k == KindAmenity
	}
	return false
}

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// Action is the outcome of reconciling one canonical record.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionNoChange Action = "no_change"
	ActionPlanned  Action = "planned" // dry run: logged, not written
	ActionSkipped  Action = "skipped" // parent could not be resolved
	ActionFailed   Action = "failed"
)

// Options controls one sync invocation.
type Options struct {
	Type      SyncType `json:"type"`
	DryRun    bool     `json:"dry_run"`
	NoFiles   bool     `json:"no_files"`
	CacheOnly bool     `json:"cache_only"`
}

type KindStats struct {
	Fetched   int `json:"fetched"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Planned   int `json:"planned"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (s KindStats) Processed() int { return s.Created + s.Updated + s.Unchanged + s.Planned }

func (s KindStats) Writes() int { return s.Created + s.Updated }

func (s *KindStats) Count(a Action) {
	switch a {
	case ActionCreated:
		s.Created++
	case ActionUpdated:
		s.Updated++
	case ActionNoChange:
		s.Unchanged++
	case ActionPlanned:
		s.Planned++
	case ActionSkipped:
		s.Skipped++
	case ActionFailed:
		s.Failed++
	}
}

// SyncError is one structured per-record failure kept on the audit record.
type SyncError struct {
	Kind       Kind   `json:"kind"`
	ExternalID string `json:"external_id,omitempty"`
	Stage      string `json:"stage"` // normalize|reconcile|sweep|asset
	Message    string `json:"message"`
}

// Report is the pass-level outcome: counters plus the structured error list.
type Report struct {
	RunID      string             `json:"run_id,omitempty"`
	Options    Options            `json:"options"`
	Status     RunStatus          `json:"status"`
	Stats      map[Kind]KindStats `json:"stats"`
	Swept      int64              `json:"swept"`
	Downloaded int                `json:"downloaded"`
	Errors     []SyncError        `json:"errors,omitempty"`
	ErrorCount int                `json:"error_count"`
	RolledBack bool               `json:"rolled_back"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Notes      string             `json:"notes,omitempty"`
}

const MaxRecordedErrors = 200

func NewReport(opts Options, now time.Time) *Report {
	return &Report{
		Options:   opts,
		Status:    RunStarted,
		Stats:     make(map[Kind]KindStats, len(Kinds)),
		StartedAt: now,
	}
}

// Record tallies one action for kind k.
func (r *Report) Record(k Kind, a Action) {
	s := r.Stats[k]
	s.Count(a)
	r.Stats[k] = s
}

func (r *Report) Fetched(k Kind, n int) {
	s := r.Stats[k]
	s.Fetched = n
	r.Stats[k] = s
}

// Fail counts an error; the detail list is capped, the counter is not.
func (r *Report) Fail(e SyncError) {
	r.ErrorCount++
	if len(r.Errors) < MaxRecordedErrors {
		r.Errors = append(r.Errors, e)
	}
}

func (r *Report) TotalWrites() int {
	n := 0
	for _, s := range r.Stats {
		n += s.Writes()
	}
	return n
}

// SyncRun is the persisted audit record of one pass.
type SyncRun struct {
	ID                      string
	Type                    SyncType
	Status                  RunStatus
	StartedAt               time.Time
	CompletedAt             *time.Time
	PropertiesProcessed     int
	ConfigurationsProcessed int
	ImagesProcessed         int
	AmenitiesProcessed      int
	ErrorsCount             int
	ErrorDetails            []SyncError
	Notes                   string
	DryRun                  bool
	FilesDownloaded         bool
}

// RunFromReport projects a report onto its audit row.
func RunFromReport(r *Report) SyncRun {
	run := SyncRun{
		ID:                      r.RunID,
		Type:                    r.Options.Type,
		Status:                  r.Status,
		StartedAt:               r.StartedAt,
		PropertiesProcessed:     r.Stats[KindProperty].Processed(),
		ConfigurationsProcessed: r.Stats[KindConfiguration].Processed(),
		ImagesProcessed:         r.Stats[KindImage].Processed(),
		AmenitiesProcessed:      r.Stats[KindAmenity].Processed(),
		ErrorsCount:             r.ErrorCount,
		ErrorDetails:            r.Errors,
		Notes:                   r.Notes,
		DryRun:                  r.Options.DryRun,
		FilesDownloaded:         !r.Options.NoFiles && !r.Options.DryRun,
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		run.CompletedAt = &t
	}
	return run
}

/********** assets **********/

type AssetSlot string

const (
	SlotThumbnail AssetSlot = "thumbnail"
	SlotBrochure  AssetSlot = "brochure"
	SlotImage     AssetSlot = "image"
)

// AssetJob is a deferred download for an empty asset slot.
type AssetJob struct {
	Slot         AssetSlot
	EntityID     int64 // property ID for thumbnail/brochure, image ID for image
	PropertySlug string
	URL          string
	Label        string // for logs
}
