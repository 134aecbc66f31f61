package core

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeStore is an in-memory RecordStore for service tests.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	vehicles map[string]VehicleRecord
	brands   map[string]Brand
	models   map[string]Model
	audit    []AuditEntry
	history  []ImportHistoryEntry

	// failures
	allErr       error
	createErr    error
	failAfter    int // CreateVehicle fails once this many records exist; 0 disables
	deleteErr    error
	onCreate     func(n int)
	createCalled int
}

func newFakeStore(records ...VehicleRecord) *fakeStore {
	fs := &fakeStore{
		vehicles: make(map[string]VehicleRecord),
		brands:   make(map[string]Brand),
		models:   make(map[string]Model),
	}
	for _, v := range records {
		fs.vehicles[v.ID] = v
	}
	return fs
}

func (f *fakeStore) NewID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("id-%d", f.seq)
}

func (f *fakeStore) sorted(keep func(VehicleRecord) bool, asc bool) []VehicleRecord {
	var out []VehicleRecord
	for _, v := range f.vehicles {
		if keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].EntryAt.Before(out[j].EntryAt)
		}
		return out[i].EntryAt.After(out[j].EntryAt)
	})
	return out
}

func (f *fakeStore) AllVehicles(ctx context.Context) ([]VehicleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allErr != nil {
		return nil, f.allErr
	}
	return f.sorted(func(VehicleRecord) bool { return true }, false), nil
}

func (f *fakeStore) ActiveVehicles(ctx context.Context) ([]VehicleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(VehicleRecord.IsActive, true), nil
}

func (f *fakeStore) CountActive(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sorted(VehicleRecord.IsActive, true)), nil
}

func (f *fakeStore) VehiclesBetween(ctx context.Context, start, end time.Time) ([]VehicleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(v VehicleRecord) bool {
		return !v.EntryAt.Before(start) && !v.EntryAt.After(end)
	}, true), nil
}

func (f *fakeStore) SearchVehicles(ctx context.Context, query string) ([]VehicleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(v VehicleRecord) bool {
		return strings.Contains(strings.ToUpper(v.Plate), strings.ToUpper(query))
	}, false), nil
}

func (f *fakeStore) DepartedBefore(ctx context.Context, cutoff time.Time) ([]VehicleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(v VehicleRecord) bool {
		return v.DepartedAt != nil && v.DepartedAt.Before(cutoff)
	}, true), nil
}

func (f *fakeStore) GetVehicle(ctx context.Context, id string) (VehicleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vehicles[id]
	if !ok {
		return VehicleRecord{}, fmt.Errorf("vehicle %s: %w", id, ErrNotFound)
	}
	return v, nil
}

func (f *fakeStore) IsPlateActive(ctx context.Context, plate string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.vehicles {
		if v.Plate == plate && v.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateVehicle(ctx context.Context, v VehicleRecord) (VehicleRecord, error) {
	f.mu.Lock()
	f.createCalled++
	n := f.createCalled
	hook := f.onCreate
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil && (f.failAfter == 0 || len(f.vehicles) >= f.failAfter) {
		return VehicleRecord{}, f.createErr
	}
	if v.ID == "" {
		f.seq++
		v.ID = fmt.Sprintf("id-%d", f.seq)
	}
	if _, dup := f.vehicles[v.ID]; dup {
		return VehicleRecord{}, fmt.Errorf("vehicle %s: %w", v.ID, ErrConflict)
	}
	for _, other := range f.vehicles {
		if v.IsActive() && other.IsActive() && other.Plate == v.Plate {
			return VehicleRecord{}, fmt.Errorf("plate %s: %w", v.Plate, ErrConflict)
		}
	}
	f.vehicles[v.ID] = v
	return v, nil
}

func (f *fakeStore) UpdateVehicle(ctx context.Context, v VehicleRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vehicles[v.ID]; !ok {
		return fmt.Errorf("vehicle %s: %w", v.ID, ErrNotFound)
	}
	f.vehicles[v.ID] = v
	return nil
}

func (f *fakeStore) DeleteVehicles(ctx context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	n := 0
	for _, id := range ids {
		if _, ok := f.vehicles[id]; ok {
			delete(f.vehicles, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Brands(ctx context.Context) ([]Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Brand
	for _, b := range f.brands {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) FindOrCreateBrand(ctx context.Context, name string) (Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.brands {
		if b.Name == name {
			return b, nil
		}
	}
	f.seq++
	b := Brand{ID: fmt.Sprintf("b-%d", f.seq), Name: name}
	f.brands[b.ID] = b
	return b, nil
}

func (f *fakeStore) DeleteBrand(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.brands[id]; !ok {
		return ErrNotFound
	}
	delete(f.brands, id)
	for mid, m := range f.models {
		if m.BrandID == id {
			delete(f.models, mid)
		}
	}
	return nil
}

func (f *fakeStore) Models(ctx context.Context, brandID string) ([]Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Model
	for _, m := range f.models {
		if m.BrandID == brandID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) FindOrCreateModel(ctx context.Context, name, brandID string) (Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.models {
		if m.Name == name && m.BrandID == brandID {
			return m, nil
		}
	}
	f.seq++
	m := Model{ID: fmt.Sprintf("m-%d", f.seq), Name: name, BrandID: brandID}
	f.models[m.ID] = m
	return m, nil
}

func (f *fakeStore) DeleteModel(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.models[id]; !ok {
		return ErrNotFound
	}
	delete(f.models, id)
	return nil
}

func (f *fakeStore) InsertAudit(ctx context.Context, e AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, e)
	return nil
}

func (f *fakeStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]AuditEntry(nil), f.audit...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) InsertImportHistory(ctx context.Context, h ImportHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, h)
	return nil
}

func (f *fakeStore) ListImportHistory(ctx context.Context, limit int) ([]ImportHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]ImportHistoryEntry(nil), f.history...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vehicles)
}

func (f *fakeStore) auditActions() []AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []AuditAction
	for _, e := range f.audit {
		out = append(out, e.Action)
	}
	return out
}

// recordingPublisher captures published topics.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	last   map[string]any
}

func (p *recordingPublisher) Publish(topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		p.last = make(map[string]any)
	}
	p.topics = append(p.topics, topic)
	p.last[topic] = payload
}

func (p *recordingPublisher) Subscribed(string) bool { return true }

func (p *recordingPublisher) payload(topic string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.last[topic]
	return v, ok
}

// memorySink collects archive objects.
type memorySink struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (m *memorySink) Put(ctx context.Context, key string, body io.Reader) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]string)
	}
	m.objects[key] = string(data)
	return nil
}
