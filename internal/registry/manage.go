package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/logger"
)

// ServiceUpdate carries the mutable fields of a service. Nil means unchanged.
type ServiceUpdate struct {
	Name      *string `json:"name,omitempty"`
	Algorithm *string `json:"algorithm,omitempty"`
}

// InstanceUpdate carries the mutable fields of an instance. Nil means unchanged.
type InstanceUpdate struct {
	URL         *string `json:"url,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
	Weight      *int    `json:"weight,omitempty"`
}

// RateLimitState is the rate limit configuration of a service.
type RateLimitState struct {
	Enabled       bool `json:"enabled"`
	Limit         uint `json:"limit"`
	WindowSeconds uint `json:"windowSeconds"`
}

// Register creates a service for owner. Its slug is derived from name and
// disambiguated across all owners.
func (r *Registry) Register(ctx context.Context, owner, name, algorithm string, specs []domain.InstanceSpec) (*domain.Service, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidValue)
	}
	alg, err := domain.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	instances := make([]*domain.Instance, 0, len(specs))
	probe := &domain.Service{}
	for _, spec := range specs {
		spec, err := spec.Normalize()
		if err != nil {
			return nil, err
		}
		if probe.HasInstanceName(spec.DisplayName, "") {
			return nil, fmt.Errorf("%w: %q", domain.ErrDuplicateInstanceName, spec.DisplayName)
		}
		inst := domain.NewInstance(r.newID(), spec)
		instances = append(instances, inst)
		probe.Instances = instances
	}

	r.mgmt.Lock()
	defer r.mgmt.Unlock()

	if r.nameTaken(owner, name, "") {
		return nil, fmt.Errorf("%w: %q", domain.ErrDuplicateName, name)
	}

	id := r.newID()
	slug, err := r.claimSlug(ctx, name, id)
	if err != nil {
		return nil, err
	}

	now := r.now()
	svc := &domain.Service{
		ID:        id,
		OwnerID:   owner,
		Name:      name,
		Slug:      slug,
		Algorithm: alg,
		Instances: instances,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveService(ctx, svc); err != nil {
		r.releaseSlug(ctx, slug, id)
		return nil, fmt.Errorf("failed to save service: %w", err)
	}

	r.insert(newRecord(svc))
	r.logger.Info("service registered",
		logger.String("service_id", id),
		logger.String("slug", slug),
		logger.String("owner", owner),
		logger.Int("instances", len(instances)))

	return svc.Clone(), nil
}

// Update renames a service and/or changes its algorithm. A rename that
// changes the slug stops the old slug from resolving.
func (r *Registry) Update(ctx context.Context, owner, id string, upd ServiceUpdate) (*domain.Service, error) {
	r.mgmt.Lock()
	defer r.mgmt.Unlock()

	rec, err := r.owned(owner, id)
	if err != nil {
		return nil, err
	}
	next := rec.snapshot()
	oldSlug := next.Slug
	resetSelector := false

	if upd.Algorithm != nil {
		alg, err := domain.ParseAlgorithm(*upd.Algorithm)
		if err != nil {
			return nil, err
		}
		resetSelector = alg != next.Algorithm
		next.Algorithm = alg
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidValue)
		}
		if name != next.Name {
			if r.nameTaken(owner, name, id) {
				return nil, fmt.Errorf("%w: %q", domain.ErrDuplicateName, name)
			}
			slug, err := r.claimSlug(ctx, name, id)
			if err != nil {
				return nil, err
			}
			next.Name = name
			next.Slug = slug
		}
	}

	next.UpdatedAt = r.now()
	if err := r.store.SaveService(ctx, next); err != nil {
		if next.Slug != oldSlug {
			r.releaseSlug(ctx, next.Slug, id)
		}
		return nil, fmt.Errorf("failed to save service: %w", err)
	}

	rec.swap(next, resetSelector)
	if next.Slug != oldSlug {
		r.mu.Lock()
		delete(r.bySlug, oldSlug)
		r.bySlug[next.Slug] = rec
		r.mu.Unlock()
		r.releaseSlug(ctx, oldSlug, id)
		r.logger.Info("service slug changed",
			logger.String("service_id", id),
			logger.String("old_slug", oldSlug),
			logger.String("slug", next.Slug))
	}

	return rec.snapshot(), nil
}

// Delete removes a service and its ephemeral routing state.
func (r *Registry) Delete(ctx context.Context, owner, id string) error {
	r.mgmt.Lock()
	defer r.mgmt.Unlock()

	rec, err := r.owned(owner, id)
	if err != nil {
		return err
	}
	slug := rec.snapshot().Slug

	if err := r.store.DeleteService(ctx, id); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	r.remove(id, slug)
	r.releaseSlug(ctx, slug, id)
	if r.forget != nil {
		r.forget.Forget(id)
	}

	r.logger.Info("service deleted",
		logger.String("service_id", id),
		logger.String("slug", slug),
		logger.String("owner", owner))
	return nil
}

// AddInstance appends an instance to a service.
func (r *Registry) AddInstance(ctx context.Context, owner, serviceID string, spec domain.InstanceSpec) (*domain.Service, error) {
	spec, err := spec.Normalize()
	if err != nil {
		return nil, err
	}
	return r.mutate(ctx, owner, serviceID, true, func(next *domain.Service) error {
		if next.HasInstanceName(spec.DisplayName, "") {
			return fmt.Errorf("%w: %q", domain.ErrDuplicateInstanceName, spec.DisplayName)
		}
		next.Instances = append(next.Instances, domain.NewInstance(r.newID(), spec))
		return nil
	})
}

// UpdateInstance changes url, display name or weight of an instance.
func (r *Registry) UpdateInstance(ctx context.Context, owner, serviceID, instanceID string, upd InstanceUpdate) (*domain.Service, error) {
	return r.mutate(ctx, owner, serviceID, true, func(next *domain.Service) error {
		inst, _ := next.Instance(instanceID)
		if inst == nil {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrNotFound)
		}
		if upd.URL != nil {
			u := strings.TrimSpace(*upd.URL)
			if err := domain.ValidateBackendURL(u); err != nil {
				return err
			}
			inst.URL = u
		}
		if upd.DisplayName != nil {
			name := strings.TrimSpace(*upd.DisplayName)
			if name == "" {
				return fmt.Errorf("%w: display name is required", domain.ErrInvalidValue)
			}
			if next.HasInstanceName(name, instanceID) {
				return fmt.Errorf("%w: %q", domain.ErrDuplicateInstanceName, name)
			}
			inst.DisplayName = name
		}
		if upd.Weight != nil {
			if err := domain.ValidateWeight(*upd.Weight); err != nil {
				return err
			}
			inst.Weight = *upd.Weight
		}
		return nil
	})
}

// RemoveInstance deletes an instance from a service.
func (r *Registry) RemoveInstance(ctx context.Context, owner, serviceID, instanceID string) (*domain.Service, error) {
	return r.mutate(ctx, owner, serviceID, true, func(next *domain.Service) error {
		_, idx := next.Instance(instanceID)
		if idx < 0 {
			return fmt.Errorf("instance %s: %w", instanceID, domain.ErrNotFound)
		}
		next.Instances = append(next.Instances[:idx], next.Instances[idx+1:]...)
		return nil
	})
}

// SetRateLimit enables rate limiting with the given policy.
func (r *Registry) SetRateLimit(ctx context.Context, owner, serviceID string, limit, windowSeconds uint) (*domain.Service, error) {
	policy := domain.RateLimit{Limit: limit, WindowSeconds: windowSeconds}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return r.mutate(ctx, owner, serviceID, false, func(next *domain.Service) error {
		next.RateLimitEnabled = true
		next.RateLimit = policy
		return nil
	})
}

// GetRateLimit returns the rate limit configuration of a service.
func (r *Registry) GetRateLimit(owner, serviceID string) (RateLimitState, error) {
	svc, err := r.Get(owner, serviceID)
	if err != nil {
		return RateLimitState{}, err
	}
	return RateLimitState{
		Enabled:       svc.RateLimitEnabled,
		Limit:         svc.RateLimit.Limit,
		WindowSeconds: svc.RateLimit.WindowSeconds,
	}, nil
}

// DisableRateLimit turns rate limiting off and drops the current windows.
// The policy values are kept.
func (r *Registry) DisableRateLimit(ctx context.Context, owner, serviceID string) (*domain.Service, error) {
	svc, err := r.mutate(ctx, owner, serviceID, false, func(next *domain.Service) error {
		next.RateLimitEnabled = false
		return nil
	})
	if err == nil && r.forget != nil {
		r.forget.Forget(serviceID)
	}
	return svc, err
}

// mutate clones the service, applies fn, persists and installs the result.
func (r *Registry) mutate(ctx context.Context, owner, id string, resetSelector bool, fn func(next *domain.Service) error) (*domain.Service, error) {
	r.mgmt.Lock()
	defer r.mgmt.Unlock()

	rec, err := r.owned(owner, id)
	if err != nil {
		return nil, err
	}
	next := rec.snapshot()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = r.now()

	if err := r.store.SaveService(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save service: %w", err)
	}
	rec.swap(next, resetSelector)
	return rec.snapshot(), nil
}

// nameTaken reports whether owner already has a service named name (other than exceptID).
func (r *Registry) nameTaken(owner, name, exceptID string) bool {
	for _, rec := range r.records() {
		rec.mu.RLock()
		taken := rec.svc.ID != exceptID && rec.svc.OwnerID == owner && rec.svc.Name == name
		rec.mu.RUnlock()
		if taken {
			return true
		}
	}
	return false
}

// claimSlug atomically reserves the first free candidate derived from name.
func (r *Registry) claimSlug(ctx context.Context, name, serviceID string) (string, error) {
	base := domain.Slugify(name)
	for attempt := range maxSlugAttempts {
		candidate := domain.SlugCandidate(base, attempt)
		ok, err := r.store.ClaimSlug(ctx, candidate, serviceID)
		if err != nil {
			return "", fmt.Errorf("failed to claim slug: %w", err)
		}
		if ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free slug for %q after %d attempts", domain.ErrInvalidValue, name, maxSlugAttempts)
}

func (r *Registry) releaseSlug(ctx context.Context, slug, serviceID string) {
	if err := r.store.ReleaseSlug(ctx, slug, serviceID); err != nil {
		r.logger.Warn("failed to release slug",
			logger.String("slug", slug),
			logger.String("service_id", serviceID),
			logger.Error(err))
	}
}
