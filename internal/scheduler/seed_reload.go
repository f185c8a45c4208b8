package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/logger"
	"github.com/MrSnakeDoc/slugproxy/internal/registry"
	"github.com/MrSnakeDoc/slugproxy/internal/sources/seed"
)

// SeedReloader registers the services declared in the seed file
type SeedReloader struct {
	loader        *seed.Loader
	mapper        *seed.Mapper
	registry      *registry.Registry
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// SeedReport summarizes one reload.
type SeedReport struct {
	Declared int
	Created  int
	Existing int
	Failed   int
}

// NewSeedReloader creates a new seed reloader
func NewSeedReloader(
	seedFile string,
	reg *registry.Registry,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *SeedReloader {
	return &SeedReloader{
		loader:        seed.NewLoader(seedFile),
		mapper:        seed.NewMapper(),
		registry:      reg,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the periodic reload process
func (sr *SeedReloader) Start(ctx context.Context) error {
	// Load immediately on start
	if _, err := sr.Reload(ctx); err != nil {
		return fmt.Errorf("initial seed reload failed: %w", err)
	}

	// Start periodic reload
	ticker := time.NewTicker(sr.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := sr.Reload(ctx); err != nil {
					sr.logger.Error("failed to reload seed file",
						logger.Error(err))
				}
			case <-sr.manualTrigger:
				sr.logger.Info("manual seed reload triggered")
				if _, err := sr.Reload(ctx); err != nil {
					sr.logger.Error("failed to reload seed file",
						logger.Error(err))
				}
			case <-sr.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reloader
func (sr *SeedReloader) Stop() {
	close(sr.stopCh)
}

// Reload registers every declared service that the registry does not know yet.
// Existing services (same owner and name) are left untouched so changes made
// through the management API survive a reload.
func (sr *SeedReloader) Reload(ctx context.Context) (SeedReport, error) {
	sr.logger.Info("reloading services from seed file",
		logger.String("path", sr.loader.Path()))

	file, err := sr.loader.Load()
	if err != nil {
		return SeedReport{}, fmt.Errorf("failed to load seed file: %w", err)
	}

	decls, err := sr.mapper.MapServices(file)
	if len(decls) == 0 {
		return SeedReport{}, fmt.Errorf("failed to map seed services: %w", err)
	}
	if err != nil {
		sr.logger.Warn("skipped invalid seed entries", logger.Error(err))
	}

	report := SeedReport{Declared: len(decls)}
	for _, decl := range decls {
		if _, ok := sr.registry.FindByName(decl.Owner, decl.Name); ok {
			report.Existing++
			continue
		}
		if err := sr.register(ctx, decl); err != nil {
			report.Failed++
			sr.logger.Warn("failed to register seed service",
				logger.String("owner", decl.Owner),
				logger.String("name", decl.Name),
				logger.Error(err))
			continue
		}
		report.Created++
	}

	sr.logger.Info("seed reload completed",
		logger.Int("declared", report.Declared),
		logger.Int("created", report.Created),
		logger.Int("existing", report.Existing),
		logger.Int("failed", report.Failed))

	return report, nil
}

func (sr *SeedReloader) register(ctx context.Context, decl seed.Declaration) error {
	svc, err := sr.registry.Register(ctx, decl.Owner, decl.Name, decl.Algorithm, decl.Instances)
	if err != nil {
		return err
	}
	if decl.RateLimit == nil {
		return nil
	}
	if _, err := sr.registry.SetRateLimit(ctx, decl.Owner, svc.ID, decl.RateLimit.Limit, decl.RateLimit.WindowSeconds); err != nil {
		return errors.Join(fmt.Errorf("service %s registered without rate limit", svc.Slug), err)
	}
	return nil
}
