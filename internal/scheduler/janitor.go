package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/logger"
)

const (
	// DefaultRetention is how long hourly request buckets are kept
	DefaultRetention = 48 * time.Hour

	// DefaultIdleTTL is how long an idle client rate limit window is kept
	DefaultIdleTTL = 10 * time.Minute
)

// WindowSweeper drops idle rate limit windows.
type WindowSweeper interface {
	Sweep(idleTTL time.Duration) int
}

// BucketPruner drops old hourly buckets.
type BucketPruner interface {
	PruneHourly(cutoff time.Time) int
}

// Janitor handles cleanup of ephemeral state that would otherwise grow forever
type Janitor struct {
	windows   WindowSweeper
	buckets   BucketPruner
	logger    logger.Logger
	interval  time.Duration
	idleTTL   time.Duration
	retention time.Duration
	now       func() time.Time
	stopCh    chan struct{}
}

// NewJanitor creates a new janitor
func NewJanitor(
	windows WindowSweeper,
	buckets BucketPruner,
	log logger.Logger,
	interval time.Duration,
	idleTTL time.Duration,
	retention time.Duration,
) *Janitor {
	if idleTTL == 0 {
		idleTTL = DefaultIdleTTL
	}
	if retention == 0 {
		retention = DefaultRetention
	}

	return &Janitor{
		windows:   windows,
		buckets:   buckets,
		logger:    log,
		interval:  interval,
		idleTTL:   idleTTL,
		retention: retention,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup process
func (j *Janitor) Start(ctx context.Context) error {
	// Run immediately on start
	j.Collect(ctx)

	// Start periodic collection
	ticker := time.NewTicker(j.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.Collect(ctx)
			case <-j.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the janitor
func (j *Janitor) Stop() {
	close(j.stopCh)
}

// Collect removes idle rate limit windows and hourly buckets older than the retention
func (j *Janitor) Collect(_ context.Context) (windows, buckets int) {
	windows = j.windows.Sweep(j.idleTTL)
	buckets = j.buckets.PruneHourly(j.now().Add(-j.retention))

	if windows+buckets > 0 {
		j.logger.Info("janitor completed",
			logger.Int("windows_dropped", windows),
			logger.Int("buckets_pruned", buckets))
	} else {
		j.logger.Debug("nothing to clean up")
	}

	return windows, buckets
}
