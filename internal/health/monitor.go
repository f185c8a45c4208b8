package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/logger"
)

// Target is the registry seen by the monitor.
type Target interface {
	Services() []*domain.Service
	ApplyProbe(serviceID, instanceID string, res domain.ProbeResult) bool
	Persist(ctx context.Context, serviceID string) error
}

// Checker probes one URL.
type Checker interface {
	Probe(ctx context.Context, url string) domain.ProbeResult
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Services    int
	Probed      int
	Healthy     int
	Down        int
	PersistErrs int
	Duration    time.Duration
	Interrupted bool // cancelled mid-sweep, nothing was applied
}

// Monitor is the sole writer of instance health fields.
type Monitor struct {
	target      Target
	checker     Checker
	logger      logger.Logger
	interval    time.Duration
	concurrency int

	mu     sync.Mutex
	last   SweepReport
	lastAt time.Time

	cancel context.CancelFunc
	doneCh chan struct{}
}

func NewMonitor(target Target, checker Checker, log logger.Logger, interval time.Duration, concurrency int) *Monitor {
	if concurrency <= 0 {
		concurrency = 32
	}
	return &Monitor{
		target:      target,
		checker:     checker,
		logger:      log,
		interval:    interval,
		concurrency: concurrency,
		doneCh:      make(chan struct{}),
	}
}

// Start runs a sweep immediately, then one per interval.
func (m *Monitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.Sweep(ctx)

	ticker := time.NewTicker(m.interval)
	go func() {
		defer close(m.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop cancels a running sweep and waits for the loop to exit, so no health
// write happens after it returns.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.doneCh
}

type probeJob struct {
	serviceID  string
	instanceID string
	url        string
}

// Sweep probes every instance once, applies the results and persists each
// service on its own. A failure on one service never stops the others.
func (m *Monitor) Sweep(ctx context.Context) SweepReport {
	start := time.Now()
	services := m.target.Services()

	var jobs []probeJob
	for _, svc := range services {
		for _, inst := range svc.Instances {
			jobs = append(jobs, probeJob{serviceID: svc.ID, instanceID: inst.ID, url: inst.URL})
		}
	}

	results := make([]domain.ProbeResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = m.checker.Probe(gctx, job.url)
			return nil
		})
	}
	_ = g.Wait()

	report := SweepReport{Services: len(services), Probed: len(jobs)}

	// Probes cut short by shutdown say nothing about the instances.
	if ctx.Err() != nil {
		report.Interrupted = true
		report.Duration = time.Since(start)
		m.logger.Debug("health sweep interrupted, results discarded",
			logger.Int("probed", report.Probed),
			logger.Error(ctx.Err()))
		return report
	}

	for i, job := range jobs {
		res := results[i]
		if !m.target.ApplyProbe(job.serviceID, job.instanceID, res) {
			// removed while probing
			continue
		}
		if res.Healthy {
			report.Healthy++
			continue
		}
		report.Down++
		m.logger.Debug("instance probe failed",
			logger.String("service_id", job.serviceID),
			logger.String("instance_id", job.instanceID),
			logger.String("url", job.url),
			logger.Error(res.Err))
	}

	for _, svc := range services {
		if err := m.target.Persist(ctx, svc.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			report.PersistErrs++
			m.logger.Warn("failed to persist health state",
				logger.String("service_id", svc.ID),
				logger.Error(err))
		}
	}

	report.Duration = time.Since(start)
	m.mu.Lock()
	m.last = report
	m.lastAt = start
	m.mu.Unlock()

	m.logger.Debug("health sweep completed",
		logger.Int("services", report.Services),
		logger.Int("probed", report.Probed),
		logger.Int("down", report.Down),
		logger.Duration("took", report.Duration))

	return report
}

// Last returns the report of the latest sweep and when it started.
func (m *Monitor) Last() (SweepReport, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.lastAt
}
