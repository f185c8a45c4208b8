package scheduler

import (
	"context"

	"github.com/MrSnakeDoc/slugproxy/internal/logger"
	"github.com/MrSnakeDoc/slugproxy/internal/registry"
)

// RegistrySyncer loads services from the store into the registry on startup
type RegistrySyncer struct {
	store    registry.Store
	registry *registry.Registry
	logger   logger.Logger
}

// NewRegistrySyncer creates a new registry syncer
func NewRegistrySyncer(
	store registry.Store,
	reg *registry.Registry,
	log logger.Logger,
) *RegistrySyncer {
	return &RegistrySyncer{
		store:    store,
		registry: reg,
		logger:   log,
	}
}

// Sync loads services from the store and installs them in the registry
func (rs *RegistrySyncer) Sync(ctx context.Context) error {
	rs.logger.Info("syncing services from store to registry")

	services, err := rs.store.GetAllServices(ctx)
	if err != nil {
		return err
	}

	if len(services) == 0 {
		rs.logger.Info("no services found in store")
		return nil
	}

	loaded, err := rs.registry.Load(ctx, services)
	if err != nil {
		return err
	}

	rs.logger.Info("synced services from store",
		logger.Int("stored", len(services)),
		logger.Int("loaded", loaded))

	return nil
}
