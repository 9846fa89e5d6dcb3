package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"propsync/internal/app"
	"propsync/internal/domain"
)

const cacheKey = "propsync:snapshot"

type harness struct {
	src    *fakeSource
	store  *memStore
	cache  *fakeCache
	locker *fakeLocker
	dl     *fakeDownloader
	files  *fakeFiles
	s      *app.Syncer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, func(*app.Deps) {})
}

func newHarnessWith(t *testing.T, tweak func(*app.Deps)) *harness {
	t.Helper()
	h := &harness{
		src:    newSource(),
		store:  newStore(),
		cache:  &fakeCache{},
		locker: &fakeLocker{},
		dl:     &fakeDownloader{fail: map[string]bool{}},
		files:  &fakeFiles{},
	}
	d := app.Deps{
		Source:     h.src,
		Tables:     tables,
		Store:      h.store,
		Cache:      h.cache,
		Locker:     h.locker,
		Downloader: h.dl,
		Files:      h.files,
		CacheKey:   cacheKey,
		CacheTTL:   time.Hour,
		LockTTL:    time.Minute,
		Workers:    2,
		Log:        zerolog.Nop(),
	}
	tweak(&d)
	h.s = app.NewSyncer(d)
	h.catalogue()
	return h
}

// catalogue: two properties, three configurations, three images (one
// upstream row fans out to two), two amenities from one row.
func (h *harness) catalogue() {
	h.src.set(tables.Properties,
		rec("recP1", map[string]any{
			"Name":          "Lagos Heights",
			"Luxury Status": "Luxurious",
			"Is Active":     true,
			"Latitude":      6.5244,
			"Thumbnail":     attach("https://cdn/p1/thumb.png"),
			"Brochure":      attach("https://cdn/p1/brochure.pdf"),
		}),
		rec("recP2", map[string]any{"Name": "Abuja Gardens"}),
	)
	h.src.set(tables.Configurations,
		rec("recC1", map[string]any{"Property": link("recP1"), "Type": "Studio", "Price": 120000.0}),
		rec("recC2", map[string]any{"Property": link("recP1"), "Type": "2 Bedroom", "Bedrooms": 2.0}),
		rec("recC3", map[string]any{"Property": link("recP2"), "Type": "Penthouse"}),
	)
	h.src.set(tables.Images,
		rec("recI1", map[string]any{"Property": link("recP1"), "Image": attach("https://cdn/i1a.jpg", "https://cdn/i1b.jpg"), "Alt Text": "Front"}),
		rec("recI2", map[string]any{"Property": link("recP2"), "Image": attach("https://cdn/i2.jpg")}),
	)
	h.src.set(tables.Amenities,
		rec("recA1", map[string]any{"Property": link("recP1"), "Amenities": "Pool, Gym"}),
	)
}

func (h *harness) sync(t *testing.T, opts domain.Options) *domain.Report {
	t.Helper()
	rep, err := h.s.Sync(context.Background(), opts)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	return rep
}

func full() domain.Options { return domain.Options{Type: domain.SyncFull} }

func TestSync_CreatesThenSecondPassIsNoOp(t *testing.T) {
	h := newHarness(t)

	rep := h.sync(t, full())
	if rep.Status != domain.RunCompleted || rep.ErrorCount != 0 {
		t.Fatalf("status=%s errors=%+v", rep.Status, rep.Errors)
	}
	want := map[domain.Kind]int{domain.KindProperty: 2, domain.KindConfiguration: 3, domain.KindImage: 3, domain.KindAmenity: 2}
	for k, n := range want {
		if got := rep.Stats[k].Created; got != n {
			t.Fatalf("%s created = %d, want %d", k, got, n)
		}
	}
	if rep.Downloaded != 5 || h.dl.count() != 5 {
		t.Fatalf("downloaded=%d calls=%d", rep.Downloaded, h.dl.count())
	}
	paths := strings.Join(h.files.paths(), "\n")
	for _, p := range []string{
		"brochures/lagos-heights/brochure_lagos-heights.pdf",
		"property_thumbnails/lagos-heights/thumbnail_lagos-heights.png",
		"property_images/abuja-gardens/",
	} {
		if !strings.Contains(paths, p) {
			t.Fatalf("missing asset path %s in:\n%s", p, paths)
		}
	}
	p1, _ := h.store.property("recP1")
	if p1.Thumbnail == nil || *p1.Thumbnail != "/media/property_thumbnails/lagos-heights/thumbnail_lagos-heights.png" {
		t.Fatalf("thumbnail not attached: %v", p1.Thumbnail)
	}

	writes := h.store.writes
	rep2 := h.sync(t, full())
	if rep2.TotalWrites() != 0 || h.store.writes != writes {
		t.Fatalf("second pass wrote: %+v", rep2.Stats)
	}
	if rep2.Stats[domain.KindImage].Unchanged != 3 || rep2.Swept != 0 {
		t.Fatalf("second pass: %+v swept=%d", rep2.Stats, rep2.Swept)
	}
	if h.dl.count() != 5 {
		t.Fatalf("filled slots re-downloaded: %d", h.dl.count())
	}
	if run := h.store.lastRun(); run.Status != domain.RunCompleted || run.ImagesProcessed != 3 || !run.FilesDownloaded {
		t.Fatalf("audit: %+v", run)
	}
}

func TestSync_DryRunPersistsNothing(t *testing.T) {
	h := newHarness(t)
	before := h.store.committed()

	rep := h.sync(t, domain.Options{Type: domain.SyncFull, DryRun: true})
	if rep.Status != domain.RunCompleted || !rep.RolledBack || rep.Notes != "dry run: rolled back" {
		t.Fatalf("report: status=%s rolledBack=%v notes=%q", rep.Status, rep.RolledBack, rep.Notes)
	}
	if rep.Stats[domain.KindProperty].Planned != 2 || rep.Stats[domain.KindConfiguration].Planned != 3 || rep.TotalWrites() != 0 {
		t.Fatalf("planned: %+v", rep.Stats)
	}
	after := h.store.committed()
	if len(after.props) != len(before.props) || len(after.confs) != 0 || h.store.commits != 0 || h.store.rollbacks != 1 {
		t.Fatalf("dry run leaked writes: props=%d confs=%d commits=%d", len(after.props), len(after.confs), h.store.commits)
	}
	if h.dl.count() != 0 {
		t.Fatalf("dry run downloaded %d assets", h.dl.count())
	}
	run := h.store.lastRun()
	if !run.DryRun || run.FilesDownloaded || run.Status != domain.RunCompleted {
		t.Fatalf("audit: %+v", run)
	}
}

func TestSync_DryRunOverExistingDataPlansUpdatesAndSweep(t *testing.T) {
	h := newHarness(t)
	h.sync(t, full())
	h.src.set(tables.Properties, rec("recP1", map[string]any{"Name": "Lagos Heights", "Address": "new"}))

	rep := h.sync(t, domain.Options{Type: domain.SyncFull, DryRun: true})
	if rep.Stats[domain.KindProperty].Planned != 1 || rep.Swept != 1 {
		t.Fatalf("plan: %+v swept=%d", rep.Stats, rep.Swept)
	}
	if _, ok := h.store.property("recP2"); !ok {
		t.Fatalf("dry run sweep deleted recP2")
	}
	if p1, _ := h.store.property("recP1"); p1.Address != "" {
		t.Fatalf("dry run updated recP1: %+v", p1)
	}
}

func TestSync_SweepCascadesAndSparesUnsyncedRows(t *testing.T) {
	h := newHarness(t)
	manual := h.store.seed(domain.Property{Name: "Admin Entry", Slug: "admin-entry"})
	h.sync(t, full())

	h.src.set(tables.Properties, rec("recP1", map[string]any{"Name": "Lagos Heights"}))
	rep := h.sync(t, full())
	if rep.Swept != 1 {
		t.Fatalf("swept = %d", rep.Swept)
	}
	if _, ok := h.store.property("recP2"); ok {
		t.Fatalf("recP2 survived the sweep")
	}
	st := h.store.committed()
	if _, ok := st.props[manual.ID]; !ok {
		t.Fatalf("property without external id was swept")
	}
	for _, c := range st.confs {
		if c.ExternalID == "recC3" {
			t.Fatalf("configuration of swept property survived")
		}
	}
	for _, i := range st.imgs {
		if i.ExternalID == "recI2" {
			t.Fatalf("image of swept property survived")
		}
	}
}

// Children that disappear upstream under a surviving property stay local.
func TestSync_RemovedConfigurationIsNotSwept(t *testing.T) {
	h := newHarness(t)
	h.sync(t, full())

	h.src.set(tables.Configurations,
		rec("recC1", map[string]any{"Property": link("recP1"), "Type": "Studio", "Price": 120000.0}),
		rec("recC3", map[string]any{"Property": link("recP2"), "Type": "Penthouse"}),
	)
	h.sync(t, full())

	found := false
	for _, c := range h.store.committed().confs {
		found = found || c.ExternalID == "recC2"
	}
	if !found {
		t.Fatalf("recC2 was deleted")
	}
}

func TestSync_SweepSkippedWhenPropertiesFetchFails(t *testing.T) {
	h := newHarness(t)
	h.sync(t, full())

	h.src.failPages[tables.Properties] = true
	h.src.failAll[tables.Properties] = true
	cached, _ := h.cache.snapshot(cacheKey)

	rep := h.sync(t, full())
	if rep.Status != domain.RunPartial || rep.Swept != 0 {
		t.Fatalf("status=%s swept=%d", rep.Status, rep.Swept)
	}
	if n := len(h.store.committed().props); n != 2 {
		t.Fatalf("properties deleted after failed fetch: %d left", n)
	}
	if now, _ := h.cache.snapshot(cacheKey); len(now.Properties) != len(cached.Properties) {
		t.Fatalf("partial fetch overwrote the cache")
	}
}

func TestSync_RenameKeepsSlugUnlessSlugFieldSet(t *testing.T) {
	h := newHarness(t)
	h.sync(t, full())

	h.src.set(tables.Properties,
		rec("recP1", map[string]any{"Name": "Lagos Heights II", "Thumbnail": attach("https://cdn/p1/thumb.png")}),
		rec("recP2", map[string]any{"Name": "Abuja Gardens"}),
	)
	rep := h.sync(t, full())
	p1, _ := h.store.property("recP1")
	if rep.Stats[domain.KindProperty].Updated != 1 || p1.Name != "Lagos Heights II" || p1.Slug != "lagos-heights" {
		t.Fatalf("rename: %+v slug=%q", rep.Stats[domain.KindProperty], p1.Slug)
	}

	h.src.set(tables.Properties,
		rec("recP1", map[string]any{"Name": "Lagos Heights II", "Slug (Final)": "lagos-heights-ii"}),
		rec("recP2", map[string]any{"Name": "Abuja Gardens"}),
	)
	h.sync(t, full())
	if p1, _ = h.store.property("recP1"); p1.Slug != "lagos-heights-ii" {
		t.Fatalf("explicit slug not applied: %q", p1.Slug)
	}
}

func TestSync_ExplicitSlugResolvesTheSameOnUpdate(t *testing.T) {
	h := newHarness(t)
	h.src.set(tables.Properties,
		rec("recP1", map[string]any{"Name": "Lagos Heights"}),
		rec("recP2", map[string]any{"Name": "Abuja Gardens", "Slug (Final)": "lagos-heights"}),
	)
	h.sync(t, full())
	if p2, _ := h.store.property("recP2"); p2.Slug != "abuja-gardens" {
		t.Fatalf("create slug = %q", p2.Slug)
	}

	rep := h.sync(t, full())
	if st := rep.Stats[domain.KindProperty]; st.Updated != 0 || st.Unchanged != 2 {
		t.Fatalf("second pass: %+v", st)
	}
	if p2, _ := h.store.property("recP2"); p2.Slug != "abuja-gardens" {
		t.Fatalf("update slug = %q", p2.Slug)
	}
}

func TestSync_SlugCollisionGetsSuffix(t *testing.T) {
	h := newHarness(t)
	h.store.seed(domain.Property{Name: "Old", Slug: "lagos-heights"})
	h.sync(t, full())

	p1, _ := h.store.property("recP1")
	if p1.Slug != "lagos-heights-2" {
		t.Fatalf("slug = %q", p1.Slug)
	}
}

func TestSync_ConfigurationMatchedByPropertyAndType(t *testing.T) {
	h := newHarness(t)
	h.sync(t, full())

	// recC1 is re-keyed upstream; the (property, type) row is updated in place
	h.src.set(tables.Configurations,
		rec("recC9", map[string]any{"Property": link("recP1"), "Type": "Studio", "Bedrooms": 1.0}),
		rec("recC2", map[string]any{"Property": link("recP1"), "Type": "2 Bedroom", "Bedrooms": 2.0}),
		rec("recC3", map[string]any{"Property": link("recP2"), "Type": "Penthouse"}),
	)
	rep := h.sync(t, full())
	if rep.Stats[domain.KindConfiguration].Updated != 1 || rep.Stats[domain.KindConfiguration].Created != 0 {
		t.Fatalf("stats: %+v", rep.Stats[domain.KindConfiguration])
	}
	st := h.store.committed()
	if len(st.confs) != 3 {
		t.Fatalf("configurations = %d", len(st.confs))
	}
	for _, c := range st.confs {
		if c.Type == "Studio" && (c.ExternalID != "recC1" || c.Bedrooms != 1) {
			t.Fatalf("studio row: %+v", c)
		}
	}
}

func TestSync_SharedNaturalKeyConverges(t *testing.T) {
	h := newHarness(t)
	// two upstream rows claim the Studio slot of recP1, two the Pool amenity
	h.src.set(tables.Configurations,
		rec("recC1", map[string]any{"Property": link("recP1"), "Type": "Studio", "Bedrooms": 1.0}),
		rec("recC4", map[string]any{"Property": link("recP1"), "Type": "Studio", "Bedrooms": 2.0}),
		rec("recC2", map[string]any{"Property": link("recP1"), "Type": "2 Bedroom", "Bedrooms": 2.0}),
	)
	h.src.set(tables.Amenities,
		rec("recA1", map[string]any{"Property": link("recP1"), "Amenities": "Pool, Gym"}),
		rec("recA2", map[string]any{"Property": link("recP1"), "Name": "Pool", "Icon": "wave"}),
	)

	first := h.sync(t, full())
	if st := first.Stats[domain.KindConfiguration]; st.Created != 2 || st.Skipped != 1 {
		t.Fatalf("first configurations: %+v", st)
	}
	if st := first.Stats[domain.KindAmenity]; st.Created != 2 || st.Skipped != 1 {
		t.Fatalf("first amenities: %+v", st)
	}
	for i := 2; i <= 3; i++ {
		if rep := h.sync(t, full()); rep.TotalWrites() != 0 {
			t.Fatalf("pass %d wrote: %+v", i, rep.Stats)
		}
	}

	st := h.store.committed()
	for _, c := range st.confs {
		if c.Type == "Studio" && (c.ExternalID != "recC4" || c.Bedrooms != 2) {
			t.Fatalf("studio row: %+v", c)
		}
	}
	for _, a := range st.ams {
		if a.Name == "Pool" && (a.ExternalID != "recA2_pool" || a.Icon != "wave") {
			t.Fatalf("pool row: %+v", a)
		}
	}
}

func TestSync_FallbackLeavesRowOfAnotherRecord(t *testing.T) {
	h := newHarness(t)
	h.sync(t, full())

	// recC1 moves to Loft while a new record takes Studio; recC9 is
	// reconciled first and must not steal recC1's row
	h.src.set(tables.Configurations,
		rec("recC9", map[string]any{"Property": link("recP1"), "Type": "Studio", "Bedrooms": 3.0}),
		rec("recC1", map[string]any{"Property": link("recP1"), "Type": "Loft"}),
		rec("recC2", map[string]any{"Property": link("recP1"), "Type": "2 Bedroom", "Bedrooms": 2.0}),
		rec("recC3", map[string]any{"Property": link("recP2"), "Type": "Penthouse"}),
	)
	h.sync(t, full())
	h.sync(t, full())
	if rep := h.sync(t, full()); rep.TotalWrites() != 0 {
		t.Fatalf("did not settle: %+v", rep.Stats[domain.KindConfiguration])
	}
	byExt := map[string]domain.Configuration{}
	for _, c := range h.store.committed().confs {
		byExt[c.ExternalID] = c
	}
	if byExt["recC1"].Type != "Loft" || byExt["recC9"].Type != "Studio" || byExt["recC9"].Bedrooms != 3 {
		t.Fatalf("rows: %+v", byExt)
	}
}

func TestSync_LeaseExtendedDuringReconcile(t *testing.T) {
	h := newHarnessWith(t, func(d *app.Deps) { d.ExtendEvery = 3 })
	h.sync(t, full())
	// ten records: one extend before begin, three from reconcile, one
	// before assets
	if got := h.locker.extendCalls(); got != 5 {
		t.Fatalf("extend calls = %d", got)
	}
}

func TestSync_LeaseLostMidReconcileRollsBack(t *testing.T) {
	h := newHarnessWith(t, func(d *app.Deps) { d.ExtendEvery = 3 })
	h.locker.failAfter = 1

	rep, err := h.s.Sync(context.Background(), full())
	if !errors.Is(err, app.ErrLeaseLost) || !errors.Is(err, domain.ErrLockNotHeld) {
		t.Fatalf("err = %v", err)
	}
	if rep.Status != domain.RunFailed || !rep.RolledBack || !strings.Contains(rep.Notes, "lease lost") {
		t.Fatalf("report: status=%s rolled_back=%v notes=%q", rep.Status, rep.RolledBack, rep.Notes)
	}
	if st := h.store.committed(); len(st.props) != 0 {
		t.Fatalf("rows committed after lease loss: %d", len(st.props))
	}
	if h.locker.held {
		t.Fatalf("lease not released")
	}
}


	for name, arm := range map[string]func(*memStore){
		"error": func(m *memStore) { m.failProp["recP2"] = errors.New("disk full") },
		"panic": func(m *memStore) { m.panicProp["recP2"] = true },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			arm(h.store)

			rep := h.sync(t, full())
			if rep.Status != domain.RunPartial || rep.ErrorCount != 1 || rep.Errors[0].ExternalID != "recP2" {
				t.Fatalf("status=%s errors=%+v", rep.Status, rep.Errors)
			}
			if _, ok := h.store.property("recP1"); !ok {
				t.Fatalf("sibling record was rolled back")
			}
			if _, ok := h.store.property("recP2"); ok {
				t.Fatalf("failed record persisted")
			}
			// recC3 and recI2 hang off recP2 and are skipped, not failed
			if rep.Stats[domain.KindConfiguration].Skipped != 1 || rep.Stats[domain.KindImage].Skipped != 1 {
				t.Fatalf("children: %+v", rep.Stats)
			}
			if h.store.commits != 1 {
				t.Fatalf("commits = %d", h.store.commits)
			}
		})
	}
}

func TestSync_CancellationRollsBackWholePass(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.store.afterCreate = func(extID string) {
		if extID == "recP1" {
			cancel()
		}
	}

	rep, err := h.s.Sync(ctx, full())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rep.Status != domain.RunFailed || !rep.RolledBack {
		t.Fatalf("report: %+v", rep)
	}
	if len(h.store.committed().props) != 0 || h.store.rollbacks != 1 {
		t.Fatalf("cancelled pass left writes behind")
	}
	if run := h.store.lastRun(); run.Status != domain.RunFailed {
		t.Fatalf("audit status = %s", run.Status)
	}
}

func TestSync_ConcurrentPassRejected(t *testing.T) {
	h := newHarness(t)
	h.dl.block = make(chan struct{})

	done := make(chan error, 1)
	if err := h.s.Start(context.Background(), full(), func(_ *domain.Report, err error) { done <- err }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.s.Sync(context.Background(), full()); !app.IsBusy(err) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	close(h.dl.block)
	if err := <-done; err != nil {
		t.Fatalf("background pass: %v", err)
	}

	// a lease held elsewhere also rejects the pass
	h.locker.held = true
	if _, err := h.s.Sync(context.Background(), full()); !app.IsBusy(err) {
		t.Fatalf("expected ErrSyncInProgress from lease, got %v", err)
	}
	h.locker.held = false
	h.sync(t, full())
}

func TestSync_CacheOnlyTouchesNoStore(t *testing.T) {
	h := newHarness(t)
	rep := h.sync(t, domain.Options{Type: domain.SyncFull, CacheOnly: true})
	if rep.Status != domain.RunCompleted || h.store.begins != 0 || len(h.store.runs) != 0 {
		t.Fatalf("cache-only touched the store: begins=%d runs=%d", h.store.begins, len(h.store.runs))
	}
	snap, ok := h.cache.snapshot(cacheKey)
	if !ok || len(snap.Properties) != 2 || len(snap.Images) != 3 || len(snap.Amenities) != 2 {
		t.Fatalf("cache: ok=%v %+v", ok, snap)
	}
}

func TestSync_NoFilesSkipsDownloads(t *testing.T) {
	h := newHarness(t)
	rep := h.sync(t, domain.Options{Type: domain.SyncFull, NoFiles: true})
	if h.dl.count() != 0 || rep.Downloaded != 0 {
		t.Fatalf("downloads with no-files: %d", h.dl.count())
	}
	if run := h.store.lastRun(); run.FilesDownloaded {
		t.Fatalf("audit claims files downloaded")
	}

	// empty slots are picked up by a later pass
	h.sync(t, full())
	if h.dl.count() != 5 {
		t.Fatalf("follow-up pass downloads = %d", h.dl.count())
	}
}

func TestSync_FailedDownloadIsRetriedNextPass(t *testing.T) {
	h := newHarness(t)
	h.dl.fail["https://cdn/p1/brochure.pdf"] = true

	rep := h.sync(t, full())
	if rep.Status != domain.RunPartial || rep.Downloaded != 4 || rep.Errors[0].Stage != "asset" {
		t.Fatalf("status=%s downloaded=%d errors=%+v", rep.Status, rep.Downloaded, rep.Errors)
	}
	delete(h.dl.fail, "https://cdn/p1/brochure.pdf")
	rep = h.sync(t, full())
	if rep.Downloaded != 1 {
		t.Fatalf("retry downloaded = %d", rep.Downloaded)
	}
	if p1, _ := h.store.property("recP1"); p1.Brochure == nil {
		t.Fatalf("brochure slot still empty")
	}
}

func TestSync_TypeSelectsKinds(t *testing.T) {
	h := newHarness(t)
	h.sync(t, domain.Options{Type: domain.SyncProperties})
	st := h.store.committed()
	if len(st.props) != 2 || len(st.confs) != 0 || len(st.imgs) != 0 {
		t.Fatalf("properties-only pass: props=%d confs=%d imgs=%d", len(st.props), len(st.confs), len(st.imgs))
	}

	// children resolve against the stored properties; no sweep runs
	h.src.set(tables.Properties, rec("recP1", map[string]any{"Name": "Lagos Heights"}))
	rep := h.sync(t, domain.Options{Type: domain.SyncAmenities})
	if rep.Stats[domain.KindAmenity].Created != 2 || rep.Swept != 0 {
		t.Fatalf("amenities pass: %+v swept=%d", rep.Stats, rep.Swept)
	}
	if _, ok := h.store.property("recP2"); !ok {
		t.Fatalf("amenities pass swept properties")
	}
}

func TestReconciler_ResolvePropertyFallsBackToCachedSlug(t *testing.T) {
	store := newStore()
	cache := &fakeCache{}
	local := store.seed(domain.Property{Name: "Lagos Heights", Slug: "lagos-heights"})
	_ = cache.Set(context.Background(), cacheKey, domain.Snapshot{
		Properties: []domain.PropertyRecord{{ExternalID: "recP1", Slug: "lagos-heights"}},
	}, 60)

	r := app.NewReconciler(cache, cacheKey, zerolog.Nop())
	tx, _ := store.Begin(context.Background())
	defer tx.Rollback()

	got, err := r.ResolveProperty(context.Background(), tx, "recP1")
	if err != nil || got.ID != local.ID {
		t.Fatalf("fallback: %+v err=%v", got, err)
	}
	if _, err := r.ResolveProperty(context.Background(), tx, "recNope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssetPath(t *testing.T) {
	cases := []struct {
		job  domain.AssetJob
		want string
	}{
		{domain.AssetJob{Slot: domain.SlotThumbnail, PropertySlug: "x", URL: "https://cdn/a/photo.PNG?sig=1"}, "property_thumbnails/x/thumbnail_x.png"},
		{domain.AssetJob{Slot: domain.SlotThumbnail, PropertySlug: "x", URL: "https://cdn/a/noext"}, "property_thumbnails/x/thumbnail_x.jpg"},
		{domain.AssetJob{Slot: domain.SlotBrochure, PropertySlug: "x", URL: "https://cdn/b"}, "brochures/x/brochure_x.pdf"},
		{domain.AssetJob{Slot: domain.SlotImage, PropertySlug: "x", URL: "https://cdn/i.webp"}, "property_images/x/tok.webp"},
	}
	for _, tc := range cases {
		if got := app.AssetPath(tc.job, "tok"); got != tc.want {
			t.Errorf("AssetPath(%s) = %q, want %q", tc.job.URL, got, tc.want)
		}
	}
}
