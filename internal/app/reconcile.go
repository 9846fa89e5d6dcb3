package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"propsync/internal/domain"
)

const savepoint = "sync_record"

// ErrLeaseLost aborts a reconcile whose periodic lease extension failed.
var ErrLeaseLost = errors.New("sync lease lost")

// Reconciler applies a normalized snapshot to the store inside one
// transaction owned by the caller. Each record runs under its own savepoint,
// so a failing record rolls back alone.
type Reconciler struct {
	cache    domain.Cache
	cacheKey string
	log      zerolog.Logger
	now      func() time.Time
}

func NewReconciler(cache domain.Cache, cacheKey string, log zerolog.Logger) *Reconciler {
	return &Reconciler{cache: cache, cacheKey: cacheKey, log: log, now: time.Now}
}

// Plan is the input of one reconcile run.
type Plan struct {
	Snapshot domain.Snapshot
	Type     domain.SyncType
	DryRun   bool
	// Sweep deletes properties absent from Snapshot. The caller clears it
	// when the properties table could not be fetched.
	Sweep bool
	// Extend, when set, is called after every Every reconciled records.
	Extend func(context.Context) error
	Every  int
}

type parentRef struct {
	id   int64
	slug string
}

type pass struct {
	tx      domain.Tx
	dryRun  bool
	report  *domain.Report
	now     time.Time
	parents map[string]parentRef
	// owned holds the child external IDs present in this snapshot; a
	// natural-key fallback never adopts a row one of them already holds.
	owned map[domain.Kind]map[string]bool
	jobs  []domain.AssetJob

	extend func(context.Context) error
	every  int
	done   int
}

// Run reconciles every selected kind in domain.Kinds order and returns the
// asset jobs for empty slots. It returns an error only on cancellation or
// ErrLeaseLost; everything else is counted on the report.
func (r *Reconciler) Run(ctx context.Context, tx domain.Tx, plan Plan, report *domain.Report) ([]domain.AssetJob, error) {
	p := &pass{
		tx:      tx,
		dryRun:  plan.DryRun,
		report:  report,
		now:     r.now().UTC(),
		parents: map[string]parentRef{},
		owned:   map[domain.Kind]map[string]bool{domain.KindConfiguration: {}, domain.KindAmenity: {}},
		extend:  plan.Extend,
		every:   plan.Every,
	}
	snap := plan.Snapshot
	for _, c := range snap.Configurations {
		p.owned[domain.KindConfiguration][c.ExternalID] = true
	}
	for _, a := range snap.Amenities {
		p.owned[domain.KindAmenity][a.ExternalID] = true
	}

	for _, k := range domain.Kinds {
		if !plan.Type.Includes(k) {
			continue
		}
		var err error
		switch k {
		case domain.KindProperty:
			err = eachRecord(ctx, r, p, k, snap.Properties, func(rec domain.PropertyRecord) string { return rec.ExternalID }, r.upsertProperty)
		case domain.KindConfiguration:
			err = eachRecord(ctx, r, p, k, snap.Configurations, func(rec domain.ConfigurationRecord) string { return rec.ExternalID }, r.upsertConfiguration)
		case domain.KindImage:
			err = eachRecord(ctx, r, p, k, snap.Images, func(rec domain.ImageRecord) string { return rec.ExternalID }, r.upsertImage)
		case domain.KindAmenity:
			err = eachRecord(ctx, r, p, k, snap.Amenities, func(rec domain.AmenityRecord) string { return rec.ExternalID }, r.upsertAmenity)
		}
		if err != nil {
			return nil, err
		}
	}

	if plan.Type.Includes(domain.KindProperty) {
		if !plan.Sweep {
			r.log.Warn().Msg("properties fetch failed; deletion sweep skipped")
		} else if err := r.sweep(ctx, p, snap.Properties); err != nil {
			return nil, err
		}
	}
	return p.jobs, nil
}

func eachRecord[T any](ctx context.Context, r *Reconciler, p *pass, k domain.Kind, recs []T, id func(T) string, fn func(context.Context, *pass, T) (domain.Action, error)) error {
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		extID := id(rec)
		act, err := r.guarded(ctx, p, func() (domain.Action, error) { return fn(ctx, p, rec) })
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			act = domain.ActionFailed
			p.report.Fail(domain.SyncError{Kind: k, ExternalID: extID, Stage: "reconcile", Message: err.Error()})
			r.log.Warn().Err(err).Str("kind", string(k)).Str("external_id", extID).Msg("record failed")
		} else {
			r.log.Debug().Str("kind", string(k)).Str("external_id", extID).Str("action", string(act)).Msg("reconciled")
		}
		p.report.Record(k, act)
		if err := p.tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

// tick counts one reconciled record and extends the lease on every
// p.every-th.
func (p *pass) tick(ctx context.Context) error {
	p.done++
	if p.extend == nil || p.every <= 0 || p.done%p.every != 0 {
		return nil
	}
	if err := p.extend(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrLeaseLost, err)
	}
	return nil
}

// guarded runs fn under a savepoint and converts panics into errors.
func (r *Reconciler) guarded(ctx context.Context, p *pass, fn func() (domain.Action, error)) (act domain.Action, err error) {
	if err := p.tx.Savepoint(ctx, savepoint); err != nil {
		return domain.ActionFailed, fmt.Errorf("savepoint: %w", err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			act, err = domain.ActionFailed, fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			if rerr := p.tx.RollbackTo(ctx, savepoint); rerr != nil {
				err = errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rerr))
			}
			return
		}
		if rerr := p.tx.Release(ctx, savepoint); rerr != nil {
			act, err = domain.ActionFailed, fmt.Errorf("release savepoint: %w", rerr)
		}
	}()
	return fn()
}

// write maps a would-be write onto the dry-run action.
func (p *pass) write(a domain.Action) domain.Action {
	if p.dryRun && (a == domain.ActionCreated || a == domain.ActionUpdated) {
		return domain.ActionPlanned
	}
	return a
}

// adopt filters a natural-key fallback hit: rows whose external ID belongs
// to another record of this snapshot are left to that record.
func (p *pass) adopt(k domain.Kind, self, rowExt string, err error) error {
	if err == nil && rowExt != self && p.owned[k][rowExt] {
		return domain.ErrNotFound
	}
	return err
}

func (p *pass) queue(job domain.AssetJob) {
	if !p.dryRun && job.URL != "" {
		p.jobs = append(p.jobs, job)
	}
}

/********** properties **********/

func (r *Reconciler) upsertProperty(ctx context.Context, p *pass, rec domain.PropertyRecord) (domain.Action, error) {
	cur, err := p.tx.PropertyByExternalID(ctx, rec.ExternalID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return r.createProperty(ctx, p, rec)
	case err != nil:
		return domain.ActionFailed, err
	}

	next := cur
	applyProperty(&next, rec)
	if rec.SlugExplicit && rec.Slug != cur.Slug {
		// same candidates as on create, so a slug resolved then is kept
		slug, err := freeSlug(ctx, p.tx, slugCandidates(rec), cur.ID)
		if err != nil {
			return domain.ActionFailed, err
		}
		next.Slug = slug
	}

	act := domain.ActionNoChange
	if propertyChanged(cur, next) {
		act = domain.ActionUpdated
		if !p.dryRun {
			next.LastSyncedAt = &p.now
			if err := p.tx.UpdateProperty(ctx, next); err != nil {
				return domain.ActionFailed, err
			}
		}
	}
	p.parents[rec.ExternalID] = parentRef{id: next.ID, slug: next.Slug}
	r.queuePropertyAssets(p, next, rec)
	return p.write(act), nil
}

func (r *Reconciler) createProperty(ctx context.Context, p *pass, rec domain.PropertyRecord) (domain.Action, error) {
	slug, err := freeSlug(ctx, p.tx, slugCandidates(rec), 0)
	if err != nil {
		return domain.ActionFailed, err
	}
	ext := rec.ExternalID
	prop := domain.Property{ExternalID: &ext, LastSyncedAt: &p.now}
	applyProperty(&prop, rec)
	prop.Slug = slug

	if !p.dryRun {
		if err := p.tx.CreateProperty(ctx, &prop); err != nil {
			return domain.ActionFailed, err
		}
	}
	p.parents[rec.ExternalID] = parentRef{id: prop.ID, slug: prop.Slug}
	r.queuePropertyAssets(p, prop, rec)
	return p.write(domain.ActionCreated), nil
}

func (r *Reconciler) queuePropertyAssets(p *pass, prop domain.Property, rec domain.PropertyRecord) {
	if prop.Thumbnail == nil && rec.ThumbnailURL != nil {
		p.queue(domain.AssetJob{Slot: domain.SlotThumbnail, EntityID: prop.ID, PropertySlug: prop.Slug, URL: *rec.ThumbnailURL, Label: rec.ExternalID})
	}
	if prop.Brochure == nil && rec.BrochureURL != nil {
		p.queue(domain.AssetJob{Slot: domain.SlotBrochure, EntityID: prop.ID, PropertySlug: prop.Slug, URL: *rec.BrochureURL, Label: rec.ExternalID})
	}
}

// applyProperty copies every synced field except the slug and asset slots.
func applyProperty(dst *domain.Property, rec domain.PropertyRecord) {
	dst.Name = rec.Name
	dst.Address = rec.Address
	dst.Description = rec.Description
	dst.Latitude = rec.Latitude
	dst.Longitude = rec.Longitude
	dst.ContactName = rec.ContactName
	dst.ContactPhone = rec.ContactPhone
	dst.Luxury = rec.Luxury
	dst.IsActive = rec.IsActive
	dst.CompletionDate = rec.CompletionDate
}

func propertyChanged(a, b domain.Property) bool {
	return a.Name != b.Name ||
		a.Slug != b.Slug ||
		a.Address != b.Address ||
		a.Description != b.Description ||
		!decEqual(a.Latitude, b.Latitude) ||
		!decEqual(a.Longitude, b.Longitude) ||
		a.ContactName != b.ContactName ||
		a.ContactPhone != b.ContactPhone ||
		a.Luxury != b.Luxury ||
		a.IsActive != b.IsActive ||
		!dateEqual(a.CompletionDate, b.CompletionDate)
}

func decEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func dateEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Format(dateLayout) == b.Format(dateLayout)
}

func slugCandidates(rec domain.PropertyRecord) []string {
	return []string{rec.Slug, Slugify(rec.Name)}
}

// freeSlug returns the first candidate not held by another property, then
// tries "{first}-2", "{first}-3", ... selfID is the property being updated.
func freeSlug(ctx context.Context, tx domain.Tx, candidates []string, selfID int64) (string, error) {
	free := func(s string) (bool, error) {
		got, err := tx.PropertyBySlug(ctx, s)
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return selfID != 0 && got.ID == selfID, nil
	}

	var base string
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if base == "" {
			base = c
		}
		ok, err := free(c)
		if err != nil || ok {
			return c, err
		}
	}
	if base == "" {
		return "", errors.New("no slug candidate")
	}
	for n := 2; ; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c := fmt.Sprintf("%s-%d", base, n)
		ok, err := free(c)
		if err != nil || ok {
			return c, err
		}
	}
}

/********** parent resolution **********/

// ResolveProperty finds the local property for an external ID: direct
// lookup first, then the cached snapshot's slug for that ID, then a lookup
// by that slug.
func (r *Reconciler) ResolveProperty(ctx context.Context, tx domain.Tx, extID string) (domain.Property, error) {
	prop, err := tx.PropertyByExternalID(ctx, extID)
	if !errors.Is(err, domain.ErrNotFound) {
		return prop, err
	}
	if r.cache == nil {
		return domain.Property{}, domain.ErrNotFound
	}
	var snap domain.Snapshot
	ok, cerr := r.cache.Get(ctx, r.cacheKey, &snap)
	if cerr != nil {
		r.log.Warn().Err(cerr).Msg("cache read failed during parent fallback")
	}
	if !ok {
		return domain.Property{}, domain.ErrNotFound
	}
	rec, ok := snap.PropertyByExternalID(extID)
	if !ok || rec.Slug == "" {
		return domain.Property{}, domain.ErrNotFound
	}
	return tx.PropertyBySlug(ctx, rec.Slug)
}

// parent returns the property reference for a child record; ok=false means
// the child is skipped.
func (r *Reconciler) parent(ctx context.Context, p *pass, k domain.Kind, childID, extID string) (parentRef, bool, error) {
	if ref, ok := p.parents[extID]; ok {
		return ref, true, nil
	}
	prop, err := r.ResolveProperty(ctx, p.tx, extID)
	if errors.Is(err, domain.ErrNotFound) {
		r.log.Info().Str("kind", string(k)).Str("external_id", childID).Str("property", extID).
			Str("reason", string(domain.SkipUnknownParent)).Msg("parent property not found; skipped")
		return parentRef{}, false, nil
	}
	if err != nil {
		return parentRef{}, false, err
	}
	ref := parentRef{id: prop.ID, slug: prop.Slug}
	p.parents[extID] = ref
	return ref, true, nil
}

/********** configurations **********/

func (r *Reconciler) upsertConfiguration(ctx context.Context, p *pass, rec domain.ConfigurationRecord) (domain.Action, error) {
	ref, ok, err := r.parent(ctx, p, domain.KindConfiguration, rec.ExternalID, rec.PropertyExternalID)
	if err != nil || !ok {
		return domain.ActionSkipped, err
	}

	cur, err := p.tx.ConfigurationByExternalID(ctx, rec.ExternalID)
	if errors.Is(err, domain.ErrNotFound) && ref.id != 0 {
		cur, err = p.tx.ConfigurationByType(ctx, ref.id, rec.Type)
		err = p.adopt(domain.KindConfiguration, rec.ExternalID, cur.ExternalID, err)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c := domain.Configuration{ExternalID: rec.ExternalID, PropertyID: ref.id, LastSyncedAt: &p.now}
		applyConfiguration(&c, rec)
		if !p.dryRun {
			if err := p.tx.CreateConfiguration(ctx, &c); err != nil {
				return domain.ActionFailed, err
			}
		}
		return p.write(domain.ActionCreated), nil
	case err != nil:
		return domain.ActionFailed, err
	}

	next := cur
	next.PropertyID = ref.id
	applyConfiguration(&next, rec)
	if next.PropertyID != cur.PropertyID || next.Type != cur.Type {
		other, err := p.tx.ConfigurationByType(ctx, next.PropertyID, next.Type)
		if err == nil && other.ID != cur.ID {
			return domain.ActionFailed, fmt.Errorf("configuration type %q already exists for property %d", next.Type, next.PropertyID)
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.ActionFailed, err
		}
	}
	if !configurationChanged(cur, next) {
		return domain.ActionNoChange, nil
	}
	if !p.dryRun {
		next.LastSyncedAt = &p.now
		if err := p.tx.UpdateConfiguration(ctx, next); err != nil {
			return domain.ActionFailed, err
		}
	}
	return p.write(domain.ActionUpdated), nil
}

func applyConfiguration(dst *domain.Configuration, rec domain.ConfigurationRecord) {
	dst.Type = rec.Type
	dst.Bedrooms = rec.Bedrooms
	dst.Bathrooms = rec.Bathrooms
	dst.SquareFootage = rec.SquareFootage
	dst.Price = rec.Price
	dst.IsAvailable = rec.IsAvailable
}

func configurationChanged(a, b domain.Configuration) bool {
	return a.PropertyID != b.PropertyID ||
		a.Type != b.Type ||
		a.Bedrooms != b.Bedrooms ||
		a.Bathrooms != b.Bathrooms ||
		a.SquareFootage != b.SquareFootage ||
		!decEqual(a.Price, b.Price) ||
		a.IsAvailable != b.IsAvailable
}

/********** images **********/

func (r *Reconciler) upsertImage(ctx context.Context, p *pass, rec domain.ImageRecord) (domain.Action, error) {
	ref, ok, err := r.parent(ctx, p, domain.KindImage, rec.ExternalID, rec.PropertyExternalID)
	if err != nil || !ok {
		return domain.ActionSkipped, err
	}

	cur, err := p.tx.ImageByExternalID(ctx, rec.ExternalID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		img := domain.Image{ExternalID: rec.ExternalID, PropertyID: ref.id, LastSyncedAt: &p.now}
		applyImage(&img, rec)
		if !p.dryRun {
			if err := p.tx.CreateImage(ctx, &img); err != nil {
				return domain.ActionFailed, err
			}
		}
		p.queue(domain.AssetJob{Slot: domain.SlotImage, EntityID: img.ID, PropertySlug: ref.slug, URL: rec.URL, Label: rec.ExternalID})
		return p.write(domain.ActionCreated), nil
	case err != nil:
		return domain.ActionFailed, err
	}

	next := cur
	next.PropertyID = ref.id
	applyImage(&next, rec)
	act := domain.ActionNoChange
	if imageChanged(cur, next) {
		act = domain.ActionUpdated
		if !p.dryRun {
			next.LastSyncedAt = &p.now
			if err := p.tx.UpdateImage(ctx, next); err != nil {
				return domain.ActionFailed, err
			}
		}
	}
	if cur.Asset == nil {
		p.queue(domain.AssetJob{Slot: domain.SlotImage, EntityID: cur.ID, PropertySlug: ref.slug, URL: rec.URL, Label: rec.ExternalID})
	}
	return p.write(act), nil
}

func applyImage(dst *domain.Image, rec domain.ImageRecord) {
	dst.AltText = rec.AltText
	dst.Order = rec.Order
	dst.AttachmentIndex = rec.AttachmentIndex
	dst.OriginalRecordID = rec.OriginalRecordID
}

func imageChanged(a, b domain.Image) bool {
	return a.PropertyID != b.PropertyID ||
		a.AltText != b.AltText ||
		a.Order != b.Order ||
		a.AttachmentIndex != b.AttachmentIndex ||
		a.OriginalRecordID != b.OriginalRecordID
}

/********** amenities **********/

func (r *Reconciler) upsertAmenity(ctx context.Context, p *pass, rec domain.AmenityRecord) (domain.Action, error) {
	ref, ok, err := r.parent(ctx, p, domain.KindAmenity, rec.ExternalID, rec.PropertyExternalID)
	if err != nil || !ok {
		return domain.ActionSkipped, err
	}

	cur, err := p.tx.AmenityByExternalID(ctx, rec.ExternalID)
	if errors.Is(err, domain.ErrNotFound) && ref.id != 0 {
		cur, err = p.tx.AmenityByName(ctx, ref.id, rec.Name)
		err = p.adopt(domain.KindAmenity, rec.ExternalID, cur.ExternalID, err)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a := domain.Amenity{ExternalID: rec.ExternalID, PropertyID: ref.id, LastSyncedAt: &p.now}
		applyAmenity(&a, rec)
		if !p.dryRun {
			if err := p.tx.CreateAmenity(ctx, &a); err != nil {
				return domain.ActionFailed, err
			}
		}
		return p.write(domain.ActionCreated), nil
	case err != nil:
		return domain.ActionFailed, err
	}

	next := cur
	next.PropertyID = ref.id
	applyAmenity(&next, rec)
	if next.PropertyID != cur.PropertyID || next.Name != cur.Name {
		other, err := p.tx.AmenityByName(ctx, next.PropertyID, next.Name)
		if err == nil && other.ID != cur.ID {
			return domain.ActionFailed, fmt.Errorf("amenity %q already exists for property %d", next.Name, next.PropertyID)
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.ActionFailed, err
		}
	}
	if !amenityChanged(cur, next) {
		return domain.ActionNoChange, nil
	}
	if !p.dryRun {
		next.LastSyncedAt = &p.now
		if err := p.tx.UpdateAmenity(ctx, next); err != nil {
			return domain.ActionFailed, err
		}
	}
	return p.write(domain.ActionUpdated), nil
}

func applyAmenity(dst *domain.Amenity, rec domain.AmenityRecord) {
	dst.Name = rec.Name
	dst.Description = rec.Description
	dst.Icon = rec.Icon
}

func amenityChanged(a, b domain.Amenity) bool {
	return a.PropertyID != b.PropertyID ||
		a.Name != b.Name ||
		a.Description != b.Description ||
		a.Icon != b.Icon
}

/********** sweep **********/

// sweep deletes synced properties whose external ID was not observed in
// this pass. Children cascade. Configurations, images and amenities that
// disappear upstream under a surviving property are left in place.
func (r *Reconciler) sweep(ctx context.Context, p *pass, observed []domain.PropertyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keep := make([]string, 0, len(observed))
	for _, rec := range observed {
		keep = append(keep, rec.ExternalID)
	}
	var n int64
	_, err := r.guarded(ctx, p, func() (domain.Action, error) {
		var err error
		n, err = p.tx.DeletePropertiesNotIn(ctx, keep)
		return domain.ActionNoChange, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.report.Fail(domain.SyncError{Kind: domain.KindProperty, Stage: "sweep", Message: err.Error()})
		r.log.Error().Err(err).Msg("deletion sweep failed")
		return nil
	}
	p.report.Swept = n
	if n > 0 {
		r.log.Info().Bool("dry_run", p.dryRun).Int64("deleted", n).Msg("swept properties missing upstream")
	}
	return nil
}
