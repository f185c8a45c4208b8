package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/balancer"
	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/logger"
)

// Route is the routing view of one service, resolved from its slug.
type Route struct {
	ServiceID        string
	Slug             string
	RateLimitEnabled bool
	RateLimit        domain.RateLimit

	rec *record
	now func() time.Time
}

// Resolve looks a service up by slug.
func (r *Registry) Resolve(slug string) (*Route, error) {
	r.mu.RLock()
	rec, ok := r.bySlug[slug]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("slug %q: %w", slug, domain.ErrNotFound)
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return &Route{
		ServiceID:        rec.svc.ID,
		Slug:             rec.svc.Slug,
		RateLimitEnabled: rec.svc.RateLimitEnabled,
		RateLimit:        rec.svc.RateLimit,
		rec:              rec,
		now:              r.now,
	}, nil
}

// Pick selects the instance for the next request. It returns a copy of the
// chosen instance, or ErrNoHealthyInstances.
func (rt *Route) Pick(clientIP string) (*domain.Instance, error) {
	rt.rec.mu.RLock()
	defer rt.rec.mu.RUnlock()

	inst := balancer.Choose(rt.rec.selector, rt.rec.svc.Instances, clientIP)
	if inst == nil {
		return nil, domain.ErrNoHealthyInstances
	}
	return inst.Clone(), nil
}

// RecordRequest counts a forwarded request on instanceID.
func (rt *Route) RecordRequest(instanceID string) {
	rt.rec.update(instanceID, func(inst *domain.Instance) {
		inst.RecordRequest(rt.now())
	})
}

// RecordFailure counts a transport failure on instanceID.
func (rt *Route) RecordFailure(instanceID string) {
	rt.rec.update(instanceID, func(inst *domain.Instance) {
		inst.RecordFailure()
	})
}

func (rec *record) update(instanceID string, fn func(inst *domain.Instance)) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	inst, _ := rec.svc.Instance(instanceID)
	if inst == nil {
		return false
	}
	fn(inst)
	rec.dirty = true
	return true
}

// ApplyProbe stores a health probe result. Unknown ids are ignored.
func (r *Registry) ApplyProbe(serviceID, instanceID string, res domain.ProbeResult) bool {
	rec, ok := r.record(serviceID)
	if !ok {
		return false
	}
	return rec.update(instanceID, func(inst *domain.Instance) {
		inst.ApplyProbe(res)
	})
}

// Persist saves the current state of one service. It holds the management
// lock so a concurrent Delete cannot be overwritten by a stale snapshot.
func (r *Registry) Persist(ctx context.Context, serviceID string) error {
	r.mgmt.Lock()
	defer r.mgmt.Unlock()

	rec, ok := r.record(serviceID)
	if !ok {
		return fmt.Errorf("service %s: %w", serviceID, domain.ErrNotFound)
	}

	rec.mu.Lock()
	svc := rec.svc.Clone()
	rec.dirty = false
	rec.mu.Unlock()

	if err := r.store.SaveService(ctx, svc); err != nil {
		rec.markDirty()
		return err
	}
	return nil
}

func (rec *record) markDirty() {
	rec.mu.Lock()
	rec.dirty = true
	rec.mu.Unlock()
}

// FlushDirty saves every service changed since its last save in one batch.
// Like Persist it runs under the management lock.
func (r *Registry) FlushDirty(ctx context.Context) (int, error) {
	r.mgmt.Lock()
	defer r.mgmt.Unlock()

	var (
		recs     []*record
		services []*domain.Service
	)
	for _, rec := range r.records() {
		rec.mu.Lock()
		if rec.dirty {
			rec.dirty = false
			recs = append(recs, rec)
			services = append(services, rec.svc.Clone())
		}
		rec.mu.Unlock()
	}
	if len(services) == 0 {
		return 0, nil
	}

	if err := r.store.SaveServicesMany(ctx, services); err != nil {
		for _, rec := range recs {
			rec.markDirty()
		}
		return 0, err
	}
	return len(services), nil
}

// PruneHourly drops hourly buckets older than cutoff on every instance.
func (r *Registry) PruneHourly(cutoff time.Time) int {
	removed := 0
	for _, rec := range r.records() {
		rec.mu.Lock()
		n := 0
		for _, inst := range rec.svc.Instances {
			n += inst.PruneHourly(cutoff)
		}
		if n > 0 {
			rec.dirty = true
		}
		rec.mu.Unlock()
		removed += n
	}
	if removed > 0 {
		r.logger.Debug("pruned hourly buckets", logger.Int("removed", removed))
	}
	return removed
}
