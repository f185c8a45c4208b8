package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/logger"
	"github.com/MrSnakeDoc/slugproxy/internal/store/memory"
)

type recordingForgetter struct {
	mu  sync.Mutex
	ids []string
}

func (f *recordingForgetter) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

// flakyStore fails saves while failing is set.
type flakyStore struct {
	*memory.Store
	failing atomic.Bool
	batches atomic.Int32
}

var errStoreDown = errors.New("store down")

func (s *flakyStore) SaveService(ctx context.Context, svc *domain.Service) error {
	if s.failing.Load() {
		return errStoreDown
	}
	return s.Store.SaveService(ctx, svc)
}

func (s *flakyStore) SaveServicesMany(ctx context.Context, services []*domain.Service) error {
	if s.failing.Load() {
		return errStoreDown
	}
	s.batches.Add(1)
	return s.Store.SaveServicesMany(ctx, services)
}

// stallingStore parks the next save until release is closed.
type stallingStore struct {
	*memory.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newStallingStore() *stallingStore {
	return &stallingStore{Store: memory.NewStore(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *stallingStore) stall() {
	if s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		<-s.release
	}
}

func (s *stallingStore) SaveService(ctx context.Context, svc *domain.Service) error {
	s.stall()
	return s.Store.SaveService(ctx, svc)
}

func (s *stallingStore) SaveServicesMany(ctx context.Context, services []*domain.Service) error {
	s.stall()
	return s.Store.SaveServicesMany(ctx, services)
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	seq := 0
	var mu sync.Mutex
	base := []Option{
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
		WithClock(func() time.Time { return time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC) }),
	}
	return New(store, logger.New("error", false), append(base, opts...)...), store
}

func specs(names ...string) []domain.InstanceSpec {
	out := make([]domain.InstanceSpec, len(names))
	for i, n := range names {
		out[i] = domain.InstanceSpec{URL: "http://" + n + ".internal:8080", DisplayName: n}
	}
	return out
}

func TestRegisterDefaults(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	svc, err := reg.Register(ctx, "alice", "Checkout API", "", specs("a", "b"))
	require.NoError(t, err)

	assert.Equal(t, "checkout-api", svc.Slug)
	assert.Equal(t, domain.AlgorithmRoundRobin, svc.Algorithm)
	assert.False(t, svc.RateLimitEnabled)
	require.Len(t, svc.Instances, 2)
	for _, inst := range svc.Instances {
		assert.Equal(t, 1, inst.Weight)
		assert.True(t, inst.IsHealthy)
		assert.Equal(t, domain.StatusHealthy, inst.HealthStatus)
	}

	stored, err := store.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, svc.Slug, stored.Slug)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Register(ctx, "alice", "  ", "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	_, err = reg.Register(ctx, "alice", "api", "fastest", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	_, err = reg.Register(ctx, "alice", "api", "", []domain.InstanceSpec{{URL: "http://a", Weight: -2}})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	_, err = reg.Register(ctx, "alice", "api", "", []domain.InstanceSpec{{URL: "http://a", Weight: 1 << 62}})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	_, err = reg.Register(ctx, "alice", "api", "", specs("a", "a"))
	assert.ErrorIs(t, err, domain.ErrDuplicateInstanceName)

	assert.Equal(t, 0, reg.Count())
}

func TestSlugUniquenessAcrossOwners(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	first, err := reg.Register(ctx, "alice", "api", "", nil)
	require.NoError(t, err)
	second, err := reg.Register(ctx, "bob", "api", "", nil)
	require.NoError(t, err)
	third, err := reg.Register(ctx, "carol", "web", "", nil)
	require.NoError(t, err)

	assert.Equal(t, "api", first.Slug)
	assert.Equal(t, "api-1", second.Slug)

	name := "api"
	renamed, err := reg.Update(ctx, "carol", third.ID, ServiceUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "api-2", renamed.Slug)
}

func TestDuplicateNameWithinOwner(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	_, err := reg.Register(ctx, "alice", "api", "", nil)
	require.NoError(t, err)
	_, err = reg.Register(ctx, "alice", "api", "", nil)
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	other, err := reg.Register(ctx, "alice", "web", "", nil)
	require.NoError(t, err)
	name := "api"
	_, err = reg.Update(ctx, "alice", other.ID, ServiceUpdate{Name: &name})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestRenameMovesSlug(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	svc, err := reg.Register(ctx, "alice", "orders", "", specs("a"))
	require.NoError(t, err)

	name := "Orders v2"
	updated, err := reg.Update(ctx, "alice", svc.ID, ServiceUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "orders-v2", updated.Slug)

	_, err = reg.Resolve("orders")
	assert.ErrorIs(t, err, domain.ErrNotFound, "old slug must stop resolving")
	route, err := reg.Resolve("orders-v2")
	require.NoError(t, err)
	assert.Equal(t, svc.ID, route.ServiceID)

	// old slug is free for others
	ok, err := store.ClaimSlug(ctx, "orders", "someone-else")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRenameToSameSlugKeepsIt(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	svc, err := reg.Register(ctx, "alice", "billing", "", nil)
	require.NoError(t, err)

	name := "Billing"
	updated, err := reg.Update(ctx, "alice", svc.ID, ServiceUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "billing", updated.Slug)
	assert.Equal(t, "Billing", updated.Name)
}

func TestOwnershipIsEnforced(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	svc, err := reg.Register(ctx, "alice", "api", "", specs("a"))
	require.NoError(t, err)

	_, err = reg.Get("mallory", svc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, reg.Delete(ctx, "mallory", svc.ID), domain.ErrNotFound)
	_, err = reg.AddInstance(ctx, "mallory", svc.ID, domain.InstanceSpec{URL: "http://x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Len(t, reg.List("alice"), 1)
	assert.Empty(t, reg.List("mallory"))
}

func TestInstanceNameUniqueness(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	one, err := reg.Register(ctx, "alice", "one", "", specs("primary"))
	require.NoError(t, err)
	two, err := reg.Register(ctx, "alice", "two", "", nil)
	require.NoError(t, err)

	_, err = reg.AddInstance(ctx, "alice", one.ID, domain.InstanceSpec{URL: "http://other", DisplayName: "primary"})
	assert.ErrorIs(t, err, domain.ErrDuplicateInstanceName)

	updated, err := reg.AddInstance(ctx, "alice", two.ID, domain.InstanceSpec{URL: "http://other", DisplayName: "primary"})
	require.NoError(t, err)
	assert.Len(t, updated.Instances, 1)
}

func TestUpdateAndRemoveInstance(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	svc, err := reg.Register(ctx, "alice", "api", "", specs("a", "b"))
	require.NoError(t, err)
	a, b := svc.Instances[0], svc.Instances[1]

	dup := "b"
	_, err = reg.UpdateInstance(ctx, "alice", svc.ID, a.ID, InstanceUpdate{DisplayName: &dup})
	assert.ErrorIs(t, err, domain.ErrDuplicateInstanceName)

	zero := 0
	_, err = reg.UpdateInstance(ctx, "alice", svc.ID, a.ID, InstanceUpdate{Weight: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	huge := domain.MaxWeight + 1
	_, err = reg.UpdateInstance(ctx, "alice", svc.ID, a.ID, InstanceUpdate{Weight: &huge})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	bad := "not a url"
	_, err = reg.UpdateInstance(ctx, "alice", svc.ID, a.ID, InstanceUpdate{URL: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	weight, url := 4, "https://a2.internal"
	updated, err := reg.UpdateInstance(ctx, "alice", svc.ID, a.ID, InstanceUpdate{Weight: &weight, URL: &url})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Instances[0].Weight)
	assert.Equal(t, url, updated.Instances[0].URL)

	_, err = reg.UpdateInstance(ctx, "alice", svc.ID, "nope", InstanceUpdate{Weight: &weight})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	updated, err = reg.RemoveInstance(ctx, "alice", svc.ID, a.ID)
	require.NoError(t, err)
	require.Len(t, updated.Instances, 1)
	assert.Equal(t, b.ID, updated.Instances[0].ID)

	_, err = reg.RemoveInstance(ctx, "alice", svc.ID, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteDropsRoutingState(t *testing.T) {
	ctx := context.Background()
	forgetter := &recordingForgetter{}
	reg, store := newTestRegistry(t, WithForgetter(forgetter))

	svc, err := reg.Register(ctx, "alice", "api", "", specs("a"))
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, "alice", svc.ID))

	_, err = reg.Resolve("api")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{svc.ID}, forgetter.ids)
	assert.Equal(t, 0, store.Count())
	assert.ErrorIs(t, reg.Delete(ctx, "alice", svc.ID), domain.ErrNotFound)

	again, err := reg.Register(ctx, "bob", "api", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "api", again.Slug, "slug is released on delete")
}

func TestRateLimitLifecycle(t *testing.T) {
	ctx := context.Background()
	forgetter := &recordingForgetter{}
	reg, _ := newTestRegistry(t, WithForgetter(forgetter))

	svc, err := reg.Register(ctx, "alice", "api", "", nil)
	require.NoError(t, err)

	_, err = reg.SetRateLimit(ctx, "alice", svc.ID, 0, 60)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)
	_, err = reg.SetRateLimit(ctx, "alice", svc.ID, 5, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidValue)

	_, err = reg.SetRateLimit(ctx, "alice", svc.ID, 5, 60)
	require.NoError(t, err)
	state, err := reg.GetRateLimit("alice", svc.ID)
	require.NoError(t, err)
	assert.Equal(t, RateLimitState{Enabled: true, Limit: 5, WindowSeconds: 60}, state)

	route, err := reg.Resolve("api")
	require.NoError(t, err)
	assert.True(t, route.RateLimitEnabled)

	_, err = reg.DisableRateLimit(ctx, "alice", svc.ID)
	require.NoError(t, err)
	state, err = reg.GetRateLimit("alice", svc.ID)
	require.NoError(t, err)
	assert.False(t, state.Enabled)
	assert.Equal(t, uint(5), state.Limit)
	assert.Equal(t, []string{svc.ID}, forgetter.ids)
}

func TestPickSkipsUnhealthy(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	svc, err := reg.Register(ctx, "alice", "checkout", "round_robin", specs("A", "B"))
	require.NoError(t, err)
	reg.ApplyProbe(svc.ID, svc.Instances[1].ID, domain.ProbeResult{Healthy: false, CheckedAt: time.Now()})

	route, err := reg.Resolve("checkout")
	require.NoError(t, err)
	for range 10 {
		inst, err := route.Pick("1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, "A", inst.DisplayName)
	}

	reg.ApplyProbe(svc.ID, svc.Instances[0].ID, domain.ProbeResult{Healthy: false, CheckedAt: time.Now()})
	_, err = route.Pick("1.2.3.4")
	assert.ErrorIs(t, err, domain.ErrNoHealthyInstances)
}

func TestConcurrentCountersLoseNothing(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	svc, err := reg.Register(ctx, "alice", "api", "", specs("a"))
	require.NoError(t, err)
	instID := svc.Instances[0].ID
	route, err := reg.Resolve("api")
	require.NoError(t, err)

	const workers, perWorker = 16, 200
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				route.RecordRequest(instID)
				if (w+i)%4 == 0 {
					route.RecordFailure(instID)
				}
			}
		}()
	}
	// management writes interleaved with the hot path
	weight := 3
	for range 20 {
		_, err := reg.UpdateInstance(ctx, "alice", svc.ID, instID, InstanceUpdate{Weight: &weight})
		require.NoError(t, err)
	}
	wg.Wait()

	got, err := reg.Get("alice", svc.ID)
	require.NoError(t, err)
	m := got.Instances[0].Metrics
	assert.Equal(t, int64(workers*perWorker), m.RequestCount)
	assert.Equal(t, int64(workers*perWorker), m.TodayRequestCount)
	assert.Equal(t, int64(workers*perWorker), m.HourlyRequestCounts["2026-10-19T10"])
	assert.Equal(t, int64(workers*perWorker/4), m.FailureCount)
}

func TestFlushDirty(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.NewStore()}
	reg := New(store, logger.New("error", false))

	svc, err := reg.Register(ctx, "alice", "api", "", specs("a"))
	require.NoError(t, err)
	route, err := reg.Resolve("api")
	require.NoError(t, err)
	route.RecordRequest(svc.Instances[0].ID)

	store.failing.Store(true)
	n, err := reg.FlushDirty(ctx)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 0, n)

	store.failing.Store(false)
	n, err = reg.FlushDirty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed flush keeps the record dirty")

	stored, err := store.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Instances[0].Metrics.RequestCount)

	n, err = reg.FlushDirty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(1), store.batches.Load())
}

func TestDeleteRacingSaveDoesNotResurrect(t *testing.T) {
	saves := map[string]func(reg *Registry, id string) error{
		"persist": func(reg *Registry, id string) error {
			return reg.Persist(context.Background(), id)
		},
		"flush": func(reg *Registry, _ string) error {
			_, err := reg.FlushDirty(context.Background())
			return err
		},
	}
	for name, save := range saves {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStallingStore()
			reg := New(store, logger.New("error", false))

			svc, err := reg.Register(ctx, "alice", "api", "", specs("a"))
			require.NoError(t, err)
			route, err := reg.Resolve("api")
			require.NoError(t, err)
			route.RecordRequest(svc.Instances[0].ID)

			store.armed.Store(true)
			saveErr := make(chan error, 1)
			go func() { saveErr <- save(reg, svc.ID) }()
			<-store.entered

			deleted := make(chan error, 1)
			go func() { deleted <- reg.Delete(ctx, "alice", svc.ID) }()

			select {
			case <-deleted:
				t.Fatal("delete finished while a save of the same service was in flight")
			case <-time.After(30 * time.Millisecond):
			}
			close(store.release)

			require.NoError(t, <-saveErr)
			require.NoError(t, <-deleted)

			_, err = store.GetService(ctx, svc.ID)
			assert.ErrorIs(t, err, domain.ErrNotFound)
			assert.Equal(t, 0, store.Count())

			n, err := reg.FlushDirty(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.ErrorIs(t, reg.Persist(ctx, svc.ID), domain.ErrNotFound)
			assert.Equal(t, 0, store.Count())
		})
	}
}

func TestSaveFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.NewStore()}
	reg := New(store, logger.New("error", false))

	svc, err := reg.Register(ctx, "alice", "api", "", nil)
	require.NoError(t, err)

	store.failing.Store(true)
	name := "renamed"
	_, err = reg.Update(ctx, "alice", svc.ID, ServiceUpdate{Name: &name})
	assert.ErrorIs(t, err, errStoreDown)

	_, err = reg.Resolve("api")
	assert.NoError(t, err)
	_, err = reg.Resolve("renamed")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ok, err := store.ClaimSlug(ctx, "renamed", "other")
	require.NoError(t, err)
	assert.True(t, ok, "slug claimed by the failed rename is released")

	_, err = reg.Register(ctx, "alice", "new", "", nil)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 1, reg.Count())
}

func TestLoadRestoresRoutes(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	svc, err := reg.Register(ctx, "alice", "api", "least_response_time", specs("a"))
	require.NoError(t, err)

	persisted, err := store.GetAllServices(ctx)
	require.NoError(t, err)

	restarted := New(memory.NewStore(), logger.New("error", false))
	n, err := restarted.Load(ctx, persisted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = restarted.Load(ctx, persisted)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already loaded services are skipped")

	route, err := restarted.Resolve("api")
	require.NoError(t, err)
	assert.Equal(t, svc.ID, route.ServiceID)
	inst, err := route.Pick("")
	require.NoError(t, err)
	assert.Equal(t, "a", inst.DisplayName)
}

func TestPruneHourly(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	svc, err := reg.Register(ctx, "alice", "api", "", specs("a"))
	require.NoError(t, err)
	route, err := reg.Resolve("api")
	require.NoError(t, err)
	route.RecordRequest(svc.Instances[0].ID)

	clock := time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, 0, reg.PruneHourly(clock.Add(-48*time.Hour)))
	assert.Equal(t, 1, reg.PruneHourly(clock.Add(time.Hour)))
}
