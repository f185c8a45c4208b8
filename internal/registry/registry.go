// Package registry owns the in-memory routing state of every service and
// keeps it in sync with a durable Store.
//
// Lock order: mgmt -> mu -> record.mu. The proxy hot path never takes mgmt
// and holds mu only for the slug lookup.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/slugproxy/internal/balancer"
	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/logger"
)

// maxSlugAttempts bounds the slug disambiguation loop.
const maxSlugAttempts = 1000

// Store is the durable side of the registry.
type Store interface {
	SaveService(ctx context.Context, service *domain.Service) error
	SaveServicesMany(ctx context.Context, services []*domain.Service) error
	GetService(ctx context.Context, id string) (*domain.Service, error)
	GetAllServices(ctx context.Context) ([]*domain.Service, error)
	DeleteService(ctx context.Context, id string) error
	ClaimSlug(ctx context.Context, slug, serviceID string) (bool, error)
	ReleaseSlug(ctx context.Context, slug, serviceID string) error
	Ping(ctx context.Context) error
}

// Forgetter drops ephemeral per-service state (rate limit windows).
type Forgetter interface {
	Forget(serviceID string)
}

type record struct {
	mu       sync.RWMutex
	svc      *domain.Service
	selector balancer.Selector
	dirty    bool
}

func newRecord(svc *domain.Service) *record {
	return &record{svc: svc, selector: balancer.New(svc.Algorithm)}
}

func (rec *record) snapshot() *domain.Service {
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.svc.Clone()
}

// swap installs next as the current configuration. Metrics and health are
// carried over from the live instances so hot path updates made since next
// was cloned are kept.
func (rec *record) swap(next *domain.Service, resetSelector bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	for _, inst := range next.Instances {
		if live, _ := rec.svc.Instance(inst.ID); live != nil {
			inst.IsHealthy = live.IsHealthy
			inst.HealthStatus = live.HealthStatus
			inst.Metrics = live.Clone().Metrics
		}
	}
	rec.svc = next
	if resetSelector {
		rec.selector = balancer.New(next.Algorithm)
	}
	rec.dirty = true
}

// Registry is the Service Registry.
type Registry struct {
	store  Store
	logger logger.Logger
	now    func() time.Time
	newID  func() string
	forget Forgetter

	mgmt   sync.Mutex
	mu     sync.RWMutex
	byID   map[string]*record
	bySlug map[string]*record
}

type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// WithForgetter registers state to drop when a service is deleted.
func WithForgetter(f Forgetter) Option {
	return func(r *Registry) { r.forget = f }
}

func New(store Store, log logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		logger: log,
		now:    time.Now,
		newID:  uuid.NewString,
		byID:   make(map[string]*record),
		bySlug: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store exposes the durable store (readiness checks).
func (r *Registry) Store() Store { return r.store }

func (r *Registry) record(id string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	return rec, ok
}

func (r *Registry) records() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	return out
}

// owned returns the record of id when owner holds it. Services of other
// owners are reported as not found.
func (r *Registry) owned(owner, id string) (*record, error) {
	rec, ok := r.record(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec.mu.RLock()
	belongs := rec.svc.OwnerID == owner
	rec.mu.RUnlock()
	if !belongs {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Count returns the number of services.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Services returns snapshots of every service.
func (r *Registry) Services() []*domain.Service {
	recs := r.records()
	out := make([]*domain.Service, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}
	sortServices(out)
	return out
}

// List returns snapshots of the services of owner.
func (r *Registry) List(owner string) []*domain.Service {
	recs := r.records()
	out := make([]*domain.Service, 0, len(recs))
	for _, rec := range recs {
		svc := rec.snapshot()
		if svc.OwnerID == owner {
			out = append(out, svc)
		}
	}
	sortServices(out)
	return out
}

// Get returns a snapshot of service id owned by owner.
func (r *Registry) Get(owner, id string) (*domain.Service, error) {
	rec, err := r.owned(owner, id)
	if err != nil {
		return nil, err
	}
	return rec.snapshot(), nil
}

// FindByName returns the service of owner named name.
func (r *Registry) FindByName(owner, name string) (*domain.Service, bool) {
	for _, rec := range r.records() {
		rec.mu.RLock()
		match := rec.svc.OwnerID == owner && rec.svc.Name == name
		rec.mu.RUnlock()
		if match {
			return rec.snapshot(), true
		}
	}
	return nil, false
}

func sortServices(services []*domain.Service) {
	sort.Slice(services, func(i, j int) bool {
		if !services[i].CreatedAt.Equal(services[j].CreatedAt) {
			return services[i].CreatedAt.Before(services[j].CreatedAt)
		}
		return services[i].Name < services[j].Name
	})
}

// Load installs services read from the store, re-claiming their slugs.
// Services already known, or whose slug is held by another service, are skipped.
func (r *Registry) Load(ctx context.Context, services []*domain.Service) (int, error) {
	r.mgmt.Lock()
	defer r.mgmt.Unlock()

	loaded := 0
	for _, svc := range services {
		if svc == nil || svc.ID == "" || svc.Slug == "" {
			continue
		}
		if _, ok := r.record(svc.ID); ok {
			continue
		}

		ok, err := r.store.ClaimSlug(ctx, svc.Slug, svc.ID)
		if err != nil {
			return loaded, err
		}
		if !ok {
			r.logger.Warn("skipping service with conflicting slug",
				logger.String("service_id", svc.ID),
				logger.String("slug", svc.Slug))
			continue
		}

		svc = svc.Clone()
		for _, inst := range svc.Instances {
			if inst.Metrics.HourlyRequestCounts == nil {
				inst.Metrics.HourlyRequestCounts = map[string]int64{}
			}
		}
		r.insert(newRecord(svc))
		loaded++
	}
	return loaded, nil
}

func (r *Registry) insert(rec *record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.svc.ID] = rec
	r.bySlug[rec.svc.Slug] = rec
}

func (r *Registry) remove(id, slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	if rec, ok := r.bySlug[slug]; ok && rec.svc.ID == id {
		delete(r.bySlug, slug)
	}
}
