package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

// Store keeps services in process memory. It backs SLUGPROXY_STORE=memory
// and the tests; everything is lost on restart.
type Store struct {
	mu       sync.RWMutex
	services map[string]*domain.Service // ID -> Service
	slugs    map[string]string          // slug -> service ID
}

// NewStore creates an empty memory store
func NewStore() *Store {
	return &Store{
		services: make(map[string]*domain.Service),
		slugs:    make(map[string]string),
	}
}

// SaveService stores a copy of service
func (s *Store) SaveService(_ context.Context, service *domain.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.services[service.ID] = service.Clone()
	return nil
}

// SaveServicesMany stores copies of all services
func (s *Store) SaveServicesMany(_ context.Context, services []*domain.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, service := range services {
		s.services[service.ID] = service.Clone()
	}
	return nil
}

// GetService retrieves a service by ID
func (s *Store) GetService(_ context.Context, id string) (*domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	service, ok := s.services[id]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
	}
	return service.Clone(), nil
}

// GetAllServices returns all services
func (s *Store) GetAllServices(_ context.Context) ([]*domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]*domain.Service, 0, len(s.services))
	for _, service := range s.services {
		services = append(services, service.Clone())
	}
	return services, nil
}

// DeleteService removes a service
func (s *Store) DeleteService(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.services, id)
	return nil
}

// ClaimSlug reserves slug for serviceID. It reports false when another
// service already holds it. Claiming a slug already held by serviceID succeeds.
func (s *Store) ClaimSlug(_ context.Context, slug, serviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.slugs[slug]; ok {
		return owner == serviceID, nil
	}
	s.slugs[slug] = serviceID
	return true, nil
}

// ReleaseSlug frees slug if serviceID holds it
func (s *Store) ReleaseSlug(_ context.Context, slug, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slugs[slug] == serviceID {
		delete(s.slugs, slug)
	}
	return nil
}

// Ping always succeeds
func (s *Store) Ping(_ context.Context) error { return nil }

// Count returns the number of stored services
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.services)
}
