package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/logger"
)

// Flusher persists records changed since their last save.
type Flusher interface {
	FlushDirty(ctx context.Context) (int, error)
}

// MetricsFlusher periodically writes hot path counters to the store
type MetricsFlusher struct {
	target   Flusher
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsFlusher creates a new metrics flusher
func NewMetricsFlusher(target Flusher, log logger.Logger, interval time.Duration) *MetricsFlusher {
	return &MetricsFlusher{
		target:   target,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic flush
func (mf *MetricsFlusher) Start(ctx context.Context) error {
	ticker := time.NewTicker(mf.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := mf.Flush(ctx); err != nil {
					mf.logger.Error("metrics flush failed",
						logger.Error(err))
				}
			case <-mf.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the flusher. Call Flush afterwards to save the last changes.
func (mf *MetricsFlusher) Stop() {
	close(mf.stopCh)
}

// Flush saves every dirty service in one batch.
func (mf *MetricsFlusher) Flush(ctx context.Context) error {
	n, err := mf.target.FlushDirty(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		mf.logger.Debug("flushed service metrics", logger.Int("services", n))
	}
	return nil
}
