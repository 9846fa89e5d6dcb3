package app_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"propsync/internal/domain"
)

// ---- record source ----

type fakeSource struct {
	mu        sync.Mutex
	tables    map[string][]domain.RawRecord
	pageSize  int
	failPages map[string]bool
	failAll   map[string]bool
	allCalls  map[string]int
}

func newSource() *fakeSource {
	return &fakeSource{
		tables:    map[string][]domain.RawRecord{},
		pageSize:  2,
		failPages: map[string]bool{},
		failAll:   map[string]bool{},
		allCalls:  map[string]int{},
	}
}

func (f *fakeSource) set(table string, recs ...domain.RawRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = recs
}

func (f *fakeSource) Pages(ctx context.Context, table string) iter.Seq2[[]domain.RawRecord, error] {
	return func(yield func([]domain.RawRecord, error) bool) {
		f.mu.Lock()
		recs := append([]domain.RawRecord(nil), f.tables[table]...)
		fail := f.failPages[table]
		f.mu.Unlock()
		for i := 0; i < len(recs); i += f.pageSize {
			if fail && i > 0 {
				yield(nil, errors.New("page fetch failed"))
				return
			}
			end := min(i+f.pageSize, len(recs))
			if !yield(recs[i:end], nil) {
				return
			}
		}
		if fail && len(recs) <= f.pageSize {
			yield(nil, errors.New("page fetch failed"))
		}
	}
}

func (f *fakeSource) All(ctx context.Context, table string) ([]domain.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls[table]++
	if f.failAll[table] {
		return nil, errors.New("bulk fetch failed")
	}
	return append([]domain.RawRecord(nil), f.tables[table]...), nil
}

var tables = domain.Tables{
	Properties:     "Properties",
	Configurations: "Property Configurations",
	Images:         "Property Images",
	Amenities:      "Property Amenities",
}

func rec(id string, fields map[string]any) domain.RawRecord {
	return domain.RawRecord{ID: id, Fields: fields}
}

func link(ids ...string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func attach(urls ...string) []any {
	out := make([]any, len(urls))
	for i, u := range urls {
		out[i] = map[string]any{"url": u, "filename": fmt.Sprintf("file%d", i)}
	}
	return out
}

// ---- relational store ----

type state struct {
	nextID int64
	props  map[int64]domain.Property
	confs  map[int64]domain.Configuration
	imgs   map[int64]domain.Image
	ams    map[int64]domain.Amenity
}

func newState() state {
	return state{
		props: map[int64]domain.Property{},
		confs: map[int64]domain.Configuration{},
		imgs:  map[int64]domain.Image{},
		ams:   map[int64]domain.Amenity{},
	}
}

func (s state) clone() state {
	out := state{nextID: s.nextID,
		props: make(map[int64]domain.Property, len(s.props)),
		confs: make(map[int64]domain.Configuration, len(s.confs)),
		imgs:  make(map[int64]domain.Image, len(s.imgs)),
		ams:   make(map[int64]domain.Amenity, len(s.ams)),
	}
	for k, v := range s.props {
		out.props[k] = v
	}
	for k, v := range s.confs {
		out.confs[k] = v
	}
	for k, v := range s.imgs {
		out.imgs[k] = v
	}
	for k, v := range s.ams {
		out.ams[k] = v
	}
	return out
}

type memStore struct {
	mu        sync.Mutex
	st        state
	runs      map[string]domain.SyncRun
	runOrder  []string
	begins    int
	commits   int
	rollbacks int
	writes    int
	beginErr  error

	failProp    map[string]error // external ID -> error on create/update
	panicProp   map[string]bool
	afterCreate func(extID string)
	attachErr   error
}

func newStore() *memStore {
	return &memStore{
		st:        newState(),
		runs:      map[string]domain.SyncRun{},
		failProp:  map[string]error{},
		panicProp: map[string]bool{},
	}
}

func (m *memStore) Begin(ctx context.Context) (domain.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	m.begins++
	return &memTx{s: m, st: m.st.clone()}, nil
}

func (m *memStore) AttachAsset(ctx context.Context, job domain.AssetJob, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attachErr != nil {
		return false, m.attachErr
	}
	switch job.Slot {
	case domain.SlotThumbnail, domain.SlotBrochure:
		p, ok := m.st.props[job.EntityID]
		if !ok {
			return false, nil
		}
		slot := &p.Thumbnail
		if job.Slot == domain.SlotBrochure {
			slot = &p.Brochure
		}
		if *slot != nil {
			return false, nil
		}
		*slot = &ref
		m.st.props[p.ID] = p
	case domain.SlotImage:
		i, ok := m.st.imgs[job.EntityID]
		if !ok || i.Asset != nil {
			return false, nil
		}
		i.Asset = &ref
		m.st.imgs[i.ID] = i
	}
	return true, nil
}

func (m *memStore) SaveRun(ctx context.Context, run domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		m.runOrder = append(m.runOrder, run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memStore) ListRuns(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncRun
	for i := len(m.runOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[m.runOrder[i]])
	}
	return out, nil
}

func (m *memStore) lastRun() domain.SyncRun {
	runs, _ := m.ListRuns(context.Background(), 1)
	if len(runs) == 0 {
		return domain.SyncRun{}
	}
	return runs[0]
}

func (m *memStore) Counts(ctx context.Context) (domain.EntityCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.EntityCounts{
		Properties:     len(m.st.props),
		Configurations: len(m.st.confs),
		Images:         len(m.st.imgs),
		Amenities:      len(m.st.amenities()),
	}, nil
}

func (s state) amenities() []domain.Amenity {
	out := make([]domain.Amenity, 0, len(s.ams))
	for _, a := range s.ams {
		out = append(out, a)
	}
	return out
}

// snapshot of committed rows, sorted by ID
func (m *memStore) properties() []domain.Property {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Property, 0, len(m.st.props))
	for _, p := range m.st.props {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) property(extID string) (domain.Property, bool) {
	for _, p := range m.properties() {
		if p.ExternalID != nil && *p.ExternalID == extID {
			return p, true
		}
	}
	return domain.Property{}, false
}

func (m *memStore) committed() state {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.clone()
}

// seed inserts a committed property directly.
func (m *memStore) seed(p domain.Property) domain.Property {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.nextID++
	p.ID = m.st.nextID
	m.st.props[p.ID] = p
	return p
}

type savepointEntry struct {
	name string
	st   state
}

type memTx struct {
	s    *memStore
	st   state
	sps  []savepointEntry
	done bool
}

var errTxDone = errors.New("tx already finished")

func (t *memTx) PropertyByExternalID(ctx context.Context, id string) (domain.Property, error) {
	for _, p := range t.st.props {
		if p.ExternalID != nil && *p.ExternalID == id {
			return p, nil
		}
	}
	return domain.Property{}, domain.ErrNotFound
}

func (t *memTx) PropertyBySlug(ctx context.Context, slug string) (domain.Property, error) {
	for _, p := range t.st.props {
		if p.Slug == slug {
			return p, nil
		}
	}
	return domain.Property{}, domain.ErrNotFound
}

func (t *memTx) checkProperty(p domain.Property) error {
	if p.ExternalID != nil {
		if err := t.s.failProp[*p.ExternalID]; err != nil {
			return err
		}
		if t.s.panicProp[*p.ExternalID] {
			panic("boom " + *p.ExternalID)
		}
	}
	for _, o := range t.st.props {
		if o.ID == p.ID {
			continue
		}
		if o.Slug == p.Slug {
			return fmt.Errorf("duplicate slug %q", p.Slug)
		}
		if o.ExternalID != nil && p.ExternalID != nil && *o.ExternalID == *p.ExternalID {
			return fmt.Errorf("duplicate external id %q", *p.ExternalID)
		}
	}
	return nil
}

func (t *memTx) CreateProperty(ctx context.Context, p *domain.Property) error {
	if err := t.checkProperty(*p); err != nil {
		return err
	}
	t.st.nextID++
	p.ID = t.st.nextID
	t.st.props[p.ID] = *p
	t.s.count()
	if t.s.afterCreate != nil && p.ExternalID != nil {
		t.s.afterCreate(*p.ExternalID)
	}
	return nil
}

func (t *memTx) UpdateProperty(ctx context.Context, p domain.Property) error {
	if _, ok := t.st.props[p.ID]; !ok {
		return domain.ErrNotFound
	}
	if err := t.checkProperty(p); err != nil {
		return err
	}
	t.st.props[p.ID] = p
	t.s.count()
	return nil
}

func (t *memTx) DeletePropertiesNotIn(ctx context.Context, keep []string) (int64, error) {
	k := map[string]bool{}
	for _, id := range keep {
		k[id] = true
	}
	var n int64
	for id, p := range t.st.props {
		if p.ExternalID == nil || k[*p.ExternalID] {
			continue
		}
		delete(t.st.props, id)
		n++
		for cid, c := range t.st.confs {
			if c.PropertyID == id {
				delete(t.st.confs, cid)
			}
		}
		for iid, i := range t.st.imgs {
			if i.PropertyID == id {
				delete(t.st.imgs, iid)
			}
		}
		for aid, a := range t.st.ams {
			if a.PropertyID == id {
				delete(t.st.ams, aid)
			}
		}
	}
	if n > 0 {
		t.s.count()
	}
	return n, nil
}

func (t *memTx) ConfigurationByExternalID(ctx context.Context, id string) (domain.Configuration, error) {
	for _, c := range t.st.confs {
		if c.ExternalID == id {
			return c, nil
		}
	}
	return domain.Configuration{}, domain.ErrNotFound
}

func (t *memTx) ConfigurationByType(ctx context.Context, propertyID int64, typ string) (domain.Configuration, error) {
	for _, c := range t.st.confs {
		if c.PropertyID == propertyID && c.Type == typ {
			return c, nil
		}
	}
	return domain.Configuration{}, domain.ErrNotFound
}

func (t *memTx) checkConfiguration(c domain.Configuration) error {
	if _, ok := t.st.props[c.PropertyID]; !ok {
		return fmt.Errorf("foreign key: property %d", c.PropertyID)
	}
	for _, o := range t.st.confs {
		if o.ID == c.ID {
			continue
		}
		if o.ExternalID == c.ExternalID {
			return fmt.Errorf("duplicate external id %q", c.ExternalID)
		}
		if o.PropertyID == c.PropertyID && o.Type == c.Type {
			return fmt.Errorf("duplicate (property, type) %d/%q", c.PropertyID, c.Type)
		}
	}
	return nil
}

func (t *memTx) CreateConfiguration(ctx context.Context, c *domain.Configuration) error {
	if err := t.checkConfiguration(*c); err != nil {
		return err
	}
	t.st.nextID++
	c.ID = t.st.nextID
	t.st.confs[c.ID] = *c
	t.s.count()
	return nil
}

func (t *memTx) UpdateConfiguration(ctx context.Context, c domain.Configuration) error {
	if err := t.checkConfiguration(c); err != nil {
		return err
	}
	t.st.confs[c.ID] = c
	t.s.count()
	return nil
}

func (t *memTx) ImageByExternalID(ctx context.Context, id string) (domain.Image, error) {
	for _, i := range t.st.imgs {
		if i.ExternalID == id {
			return i, nil
		}
	}
	return domain.Image{}, domain.ErrNotFound
}

func (t *memTx) checkImage(i domain.Image) error {
	if _, ok := t.st.props[i.PropertyID]; !ok {
		return fmt.Errorf("foreign key: property %d", i.PropertyID)
	}
	for _, o := range t.st.imgs {
		if o.ID != i.ID && o.ExternalID == i.ExternalID {
			return fmt.Errorf("duplicate external id %q", i.ExternalID)
		}
	}
	return nil
}

func (t *memTx) CreateImage(ctx context.Context, i *domain.Image) error {
	if err := t.checkImage(*i); err != nil {
		return err
	}
	t.st.nextID++
	i.ID = t.st.nextID
	t.st.imgs[i.ID] = *i
	t.s.count()
	return nil
}

func (t *memTx) UpdateImage(ctx context.Context, i domain.Image) error {
	if err := t.checkImage(i); err != nil {
		return err
	}
	t.st.imgs[i.ID] = i
	t.s.count()
	return nil
}

func (t *memTx) AmenityByExternalID(ctx context.Context, id string) (domain.Amenity, error) {
	for _, a := range t.st.ams {
		if a.ExternalID == id {
			return a, nil
		}
	}
	return domain.Amenity{}, domain.ErrNotFound
}

func (t *memTx) AmenityByName(ctx context.Context, propertyID int64, name string) (domain.Amenity, error) {
	for _, a := range t.st.ams {
		if a.PropertyID == propertyID && a.Name == name {
			return a, nil
		}
	}
	return domain.Amenity{}, domain.ErrNotFound
}

func (t *memTx) checkAmenity(a domain.Amenity) error {
	if _, ok := t.st.props[a.PropertyID]; !ok {
		return fmt.Errorf("foreign key: property %d", a.PropertyID)
	}
	for _, o := range t.st.ams {
		if o.ID == a.ID {
			continue
		}
		if o.ExternalID == a.ExternalID {
			return fmt.Errorf("duplicate external id %q", a.ExternalID)
		}
		if o.PropertyID == a.PropertyID && o.Name == a.Name {
			return fmt.Errorf("duplicate (property, name) %d/%q", a.PropertyID, a.Name)
		}
	}
	return nil
}

func (t *memTx) CreateAmenity(ctx context.Context, a *domain.Amenity) error {
	if err := t.checkAmenity(*a); err != nil {
		return err
	}
	t.st.nextID++
	a.ID = t.st.nextID
	t.st.ams[a.ID] = *a
	t.s.count()
	return nil
}

func (t *memTx) UpdateAmenity(ctx context.Context, a domain.Amenity) error {
	if err := t.checkAmenity(a); err != nil {
		return err
	}
	t.st.ams[a.ID] = a
	t.s.count()
	return nil
}

func (t *memTx) Savepoint(ctx context.Context, name string) error {
	t.sps = append(t.sps, savepointEntry{name: name, st: t.st.clone()})
	return nil
}

func (t *memTx) find(name string) int {
	for i := len(t.sps) - 1; i >= 0; i-- {
		if t.sps[i].name == name {
			return i
		}
	}
	return -1
}

func (t *memTx) RollbackTo(ctx context.Context, name string) error {
	i := t.find(name)
	if i < 0 {
		return fmt.Errorf("savepoint %s does not exist", name)
	}
	t.st = t.sps[i].st.clone()
	t.sps = t.sps[:i]
	return nil
}

func (t *memTx) Release(ctx context.Context, name string) error {
	i := t.find(name)
	if i < 0 {
		return fmt.Errorf("savepoint %s does not exist", name)
	}
	t.sps = t.sps[:i]
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.st = t.st
	t.s.commits++
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.rollbacks++
	return nil
}

func (m *memStore) count() {
	m.mu.Lock()
	m.writes++
	m.mu.Unlock()
}

// ---- cache ----

type fakeCache struct {
	mu    sync.Mutex
	store map[string]any
	sets  int
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	switch d := dst.(type) {
	case *domain.Snapshot:
		*d = v.(domain.Snapshot)
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	c.sets++
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

func (c *fakeCache) Has(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.store[key]
	return ok, nil
}

func (c *fakeCache) snapshot(key string) (domain.Snapshot, bool) {
	var s domain.Snapshot
	ok, _ := c.Get(context.Background(), key, &s)
	return s, ok
}

// ---- lease ----

type fakeLocker struct {
	mu   sync.Mutex
	held bool
	// extends counts Extend calls; once it passes failAfter (when > 0)
	// Extend reports the lease as lost.
	extends   int
	failAfter int
}

type fakeLease struct{ l *fakeLocker }

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, domain.ErrSyncInProgress
	}
	f.held = true
	return &fakeLease{l: f}, nil
}

func (l *fakeLease) Extend(ctx context.Context, ttl time.Duration) error {
	l.l.mu.Lock()
	defer l.l.mu.Unlock()
	l.l.extends++
	if l.l.failAfter > 0 && l.l.extends > l.l.failAfter {
		return domain.ErrLockNotHeld
	}
	return nil
}

func (f *fakeLocker) extendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extends
}

func (l *fakeLease) Release(ctx context.Context) error {
	l.l.mu.Lock()
	defer l.l.mu.Unlock()
	l.l.held = false
	return nil
}

// ---- assets ----

type fakeDownloader struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
	block chan struct{}
}

func (d *fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, url)
	if d.fail[url] {
		return nil, errors.New("download failed")
	}
	return []byte("bytes:" + url), nil
}

func (d *fakeDownloader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *fakeFiles) Put(ctx context.Context, path string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = map[string][]byte{}
	}
	f.files[path] = data
	return "/media/" + path, nil
}

func (f *fakeFiles) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func ptr[T any](v T) *T { return &v }
