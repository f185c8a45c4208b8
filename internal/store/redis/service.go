package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

// Store handles Redis operations for services and slug claims.
// Entries carry no TTL: services live until explicitly deleted.
type Store struct {
	client redis.UniversalClient
}

// NewStore creates a new Redis store
func NewStore(client redis.UniversalClient) *Store {
	return &Store{
		client: client,
	}
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveService stores a service in Redis
func (s *Store) SaveService(ctx context.Context, service *domain.Service) error {
	data, err := json.Marshal(service)
	if err != nil {
		return fmt.Errorf("failed to marshal service: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, ServiceKey(service.ID), data, 0)
	pipe.SAdd(ctx, AllServicesKey(), service.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}

	return nil
}

// GetService retrieves a service from Redis by ID
func (s *Store) GetService(ctx context.Context, id string) (*domain.Service, error) {
	data, err := s.client.Get(ctx, ServiceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	var service domain.Service
	if err := json.Unmarshal(data, &service); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service: %w", err)
	}

	return &service, nil
}

// GetAllServices retrieves all services from Redis
func (s *Store) GetAllServices(ctx context.Context) ([]*domain.Service, error) {
	ids, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service IDs: %w", err)
	}

	if len(ids) == 0 {
		return []*domain.Service{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ServiceKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}

	services := make([]*domain.Service, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Set member without data (deleted concurrently)
			continue
		}
		var service domain.Service
		if err := json.Unmarshal([]byte(raw), &service); err != nil {
			// Skip corrupt entries
			continue
		}
		services = append(services, &service)
	}

	return services, nil
}

// DeleteService removes a service from Redis
func (s *Store) DeleteService(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ServiceKey(id))
	pipe.SRem(ctx, AllServicesKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}

	return nil
}

// SaveServicesMany stores multiple services in Redis (bulk operation)
func (s *Store) SaveServicesMany(ctx context.Context, services []*domain.Service) error {
	if len(services) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()

	for _, service := range services {
		data, err := json.Marshal(service)
		if err != nil {
			return fmt.Errorf("failed to marshal service %s: %w", service.ID, err)
		}

		pipe.Set(ctx, ServiceKey(service.ID), data, 0)
		pipe.SAdd(ctx, AllServicesKey(), service.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save services: %w", err)
	}

	return nil
}
