package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/logger"
	"github.com/MrSnakeDoc/slugproxy/internal/registry"
	"github.com/MrSnakeDoc/slugproxy/internal/store/memory"
)

// scriptedChecker answers from a url -> result table.
type scriptedChecker struct {
	mu      sync.Mutex
	results map[string]domain.ProbeResult
	calls   map[string]int
}

func (c *scriptedChecker) Probe(_ context.Context, url string) domain.ProbeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[url]++
	return c.results[url]
}

// failingPersistStore fails SaveService for one service id.
type failingPersistStore struct {
	*memory.Store
	failID string
}

func (s *failingPersistStore) SaveService(ctx context.Context, svc *domain.Service) error {
	if svc.ID == s.failID {
		return errors.New("disk full")
	}
	return s.Store.SaveService(ctx, svc)
}

func TestProberClassifiesResponses(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	moved := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer moved.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	p := NewProber(time.Second)
	defer p.Close()

	assert.True(t, p.Probe(context.Background(), ok.URL).Healthy)
	assert.True(t, p.Probe(context.Background(), moved.URL).Healthy)

	res := p.Probe(context.Background(), broken.URL)
	assert.False(t, res.Healthy)
	assert.Error(t, res.Err)

	res = p.Probe(context.Background(), "http://127.0.0.1:1")
	assert.False(t, res.Healthy)
}

func TestProberTimesOut(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	p := NewProber(50 * time.Millisecond)
	start := time.Now()
	res := p.Probe(context.Background(), slow.URL)

	assert.False(t, res.Healthy)
	assert.Error(t, res.Err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSweepMarksTimedOutInstanceDown(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(memory.NewStore(), logger.New("error", false))

	svc, err := reg.Register(ctx, "alice", "checkout", "", []domain.InstanceSpec{
		{URL: "http://up.internal", DisplayName: "up"},
		{URL: "http://down.internal", DisplayName: "down"},
	})
	require.NoError(t, err)
	up, down := svc.Instances[0], svc.Instances[1]

	checker := &scriptedChecker{
		calls: map[string]int{},
		results: map[string]domain.ProbeResult{
			"http://up.internal":   {Healthy: true, Latency: 120 * time.Millisecond, CheckedAt: time.Now()},
			"http://down.internal": {Healthy: false, Err: context.DeadlineExceeded, CheckedAt: time.Now()},
		},
	}
	mon := NewMonitor(reg, checker, logger.New("error", false), time.Hour, 4)

	for sweep := 1; sweep <= 3; sweep++ {
		report := mon.Sweep(ctx)
		assert.Equal(t, 2, report.Probed)
		assert.Equal(t, 1, report.Down)

		got, err := reg.Get("alice", svc.ID)
		require.NoError(t, err)
		gotUp, _ := got.Instance(up.ID)
		gotDown, _ := got.Instance(down.ID)

		assert.False(t, gotDown.IsHealthy)
		assert.Equal(t, domain.StatusDown, gotDown.HealthStatus)
		assert.Equal(t, int64(sweep), gotDown.Metrics.FailureCount, "exactly one failure per sweep")

		assert.True(t, gotUp.IsHealthy)
		assert.Equal(t, domain.StatusHealthy, gotUp.HealthStatus)
		assert.Equal(t, int64(0), gotUp.Metrics.FailureCount)
		assert.Equal(t, int64(120*sweep), gotUp.Metrics.TotalLatencyMs)
		assert.Equal(t, int64(120), gotUp.Metrics.LastLatencyMs)
	}
}

func TestSweepIsolatesPersistenceFailures(t *testing.T) {
	ctx := context.Background()
	store := &failingPersistStore{Store: memory.NewStore()}
	reg := registry.New(store, logger.New("error", false))

	a, err := reg.Register(ctx, "alice", "a", "", []domain.InstanceSpec{{URL: "http://a.internal"}})
	require.NoError(t, err)
	b, err := reg.Register(ctx, "alice", "b", "", []domain.InstanceSpec{{URL: "http://b.internal"}})
	require.NoError(t, err)
	store.failID = a.ID

	checker := &scriptedChecker{
		calls: map[string]int{},
		results: map[string]domain.ProbeResult{
			"http://a.internal": {Healthy: true, Latency: 600 * time.Millisecond},
			"http://b.internal": {Healthy: true, Latency: 300 * time.Millisecond},
		},
	}
	mon := NewMonitor(reg, checker, logger.New("error", false), time.Hour, 1)
	report := mon.Sweep(ctx)

	assert.Equal(t, 1, report.PersistErrs)
	assert.Equal(t, 1, checker.calls["http://a.internal"])
	assert.Equal(t, 1, checker.calls["http://b.internal"])

	stored, err := store.GetService(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDegraded, stored.Instances[0].HealthStatus)

	live, err := reg.Get("alice", a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSlow, live.Instances[0].HealthStatus, "in-memory state is updated even when persisting fails")

	last, at := mon.Last()
	assert.Equal(t, report.Probed, last.Probed)
	assert.False(t, at.IsZero())
}

func TestStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(memory.NewStore(), logger.New("error", false))
	_, err := reg.Register(ctx, "alice", "a", "", []domain.InstanceSpec{{URL: "http://a.internal"}})
	require.NoError(t, err)

	checker := &scriptedChecker{calls: map[string]int{}, results: map[string]domain.ProbeResult{}}
	mon := NewMonitor(reg, checker, logger.New("error", false), 10*time.Millisecond, 2)
	require.NoError(t, mon.Start(ctx))

	assert.Eventually(t, func() bool {
		checker.mu.Lock()
		defer checker.mu.Unlock()
		return checker.calls["http://a.internal"] >= 3
	}, 2*time.Second, 5*time.Millisecond)
	mon.Stop()

	checker.mu.Lock()
	after := checker.calls["http://a.internal"]
	checker.mu.Unlock()
	time.Sleep(50 * time.Millisecond)

	checker.mu.Lock()
	defer checker.mu.Unlock()
	assert.Equal(t, after, checker.calls["http://a.internal"], "no sweep runs once Stop returns")
}

func TestStopWithoutStart(t *testing.T) {
	reg := registry.New(memory.NewStore(), logger.New("error", false))
	mon := NewMonitor(reg, &scriptedChecker{calls: map[string]int{}}, logger.New("error", false), time.Hour, 1)
	assert.NotPanics(t, mon.Stop)
}

func TestCancelledSweepLeavesHealthUntouched(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(100 * time.Millisecond):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	store := memory.NewStore()
	reg := registry.New(store, logger.New("error", false))
	svc, err := reg.Register(context.Background(), "alice", "slow", "", []domain.InstanceSpec{{URL: slow.URL}})
	require.NoError(t, err)

	p := NewProber(time.Second)
	defer p.Close()
	mon := NewMonitor(reg, p, logger.New("error", false), time.Hour, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report := mon.Sweep(ctx)

	assert.True(t, report.Interrupted)
	assert.Zero(t, report.Down)

	got, err := reg.Get("alice", svc.ID)
	require.NoError(t, err)
	inst := got.Instances[0]
	assert.True(t, inst.IsHealthy)
	assert.Equal(t, domain.StatusHealthy, inst.HealthStatus)
	assert.Equal(t, int64(0), inst.Metrics.FailureCount)

	stored, err := store.GetService(context.Background(), svc.ID)
	require.NoError(t, err)
	assert.True(t, stored.Instances[0].IsHealthy)

	_, at := mon.Last()
	assert.True(t, at.IsZero(), "an interrupted sweep is not recorded as the latest")
}
