package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

var now = time.Date(2026, 10, 19, 10, 30, 0, 0, time.UTC)

func instance(id string, healthy bool, m domain.InstanceMetrics) *domain.Instance {
	return &domain.Instance{ID: id, URL: "http://" + id, DisplayName: id, Weight: 1, IsHealthy: healthy, Metrics: m}
}

func TestServiceDetail(t *testing.T) {
	svc := &domain.Service{
		ID:        "svc-1",
		Name:      "checkout",
		Slug:      "checkout",
		Algorithm: domain.AlgorithmRoundRobin,
		Instances: []*domain.Instance{
			instance("a", true, domain.InstanceMetrics{
				RequestCount:      8,
				FailureCount:      1,
				TotalLatencyMs:    300,
				SuccessfulProbes:  3,
				TodayRequestCount: 5,
				TodayKey:          "2026-10-19",
				HourlyRequestCounts: map[string]int64{
					"2026-10-19T10": 4,
					"2026-10-18T11": 2,
					"2026-10-18T10": 7, // 24h ago, outside the window
				},
			}),
			instance("b", false, domain.InstanceMetrics{
				RequestCount:      2,
				FailureCount:      2,
				TotalLatencyMs:    100,
				SuccessfulProbes:  1,
				TodayRequestCount: 9,
				TodayKey:          "2026-10-18",
			}),
		},
	}

	d := Service(svc, now)

	assert.Equal(t, int64(10), d.TotalRequests)
	assert.Equal(t, int64(5), d.TodayRequests, "stale today counters are ignored")
	assert.Equal(t, int64(3), d.TotalFailures)
	assert.Equal(t, 100.0, d.AverageLatencyMs)
	assert.Equal(t, 30.0, d.ErrorRate)
	assert.Equal(t, 70.0, d.SuccessRate)
	assert.Equal(t, 1, d.HealthyInstances)
	assert.Equal(t, 2, d.TotalInstances)

	require.Len(t, d.Instances, 2)
	a := d.Instances[0]
	assert.Equal(t, 12.5, a.ErrorRate)
	assert.Equal(t, 100.0, a.AverageLatencyMs)
	require.Len(t, a.Hourly, HourlyBuckets)
	assert.Equal(t, "2026-10-18T11", a.Hourly[0].Hour)
	assert.Equal(t, int64(2), a.Hourly[0].Count)
	assert.Equal(t, "2026-10-19T10", a.Hourly[HourlyBuckets-1].Hour)
	assert.Equal(t, int64(4), a.Hourly[HourlyBuckets-1].Count)

	var sum int64
	for _, b := range a.Hourly {
		sum += b.Count
	}
	assert.Equal(t, int64(6), sum)

	assert.Equal(t, int64(0), d.Instances[1].TodayRequestCount)
	assert.Equal(t, 100.0, d.Instances[1].ErrorRate)
}

func TestServiceDetailWithoutTraffic(t *testing.T) {
	svc := &domain.Service{ID: "svc", Instances: []*domain.Instance{instance("a", true, domain.InstanceMetrics{FailureCount: 3})}}

	d := Service(svc, now)
	assert.Equal(t, 0.0, d.ErrorRate)
	assert.Equal(t, 100.0, d.SuccessRate)
	assert.Equal(t, 0.0, d.AverageLatencyMs)
}

func TestErrorRateIsCapped(t *testing.T) {
	assert.Equal(t, 100.0, errorRate(5, 2))
	assert.Equal(t, 33.33, errorRate(1, 3))
}

func TestAccountOverview(t *testing.T) {
	services := []*domain.Service{
		{ID: "1", Instances: []*domain.Instance{
			instance("a", true, domain.InstanceMetrics{RequestCount: 10, TotalLatencyMs: 300, SuccessfulProbes: 2, TodayRequestCount: 4, TodayKey: "2026-10-19"}),
			instance("b", false, domain.InstanceMetrics{RequestCount: 5}),
		}},
		{ID: "2", Instances: []*domain.Instance{
			instance("c", false, domain.InstanceMetrics{RequestCount: 1, TotalLatencyMs: 50, SuccessfulProbes: 1}),
		}},
		{ID: "3"},
	}

	o := Account(services, now)

	assert.Equal(t, int64(16), o.TotalRequests)
	assert.Equal(t, int64(4), o.TodayRequests)
	assert.Equal(t, 3, o.TotalServices)
	assert.Equal(t, 1, o.ActiveServices)
	assert.Equal(t, 3, o.TotalInstances)
	assert.Equal(t, 1, o.ActiveInstances)
	// mean of 150 and 50; b has no latency data
	assert.Equal(t, 100.0, o.BlendedLatencyMs)
	assert.Equal(t, 33.33, o.UptimePercent)
}

func TestAccountOverviewEmpty(t *testing.T) {
	o := Account(nil, now)
	assert.Equal(t, Overview{GeneratedAt: now}, o)
}

func TestHourlyCrossesMidnight(t *testing.T) {
	at := time.Date(2026, 10, 19, 0, 5, 0, 0, time.UTC)
	h := Hourly(map[string]int64{"2026-10-18T23": 3, "2026-10-19T00": 1}, at)

	require.Len(t, h, HourlyBuckets)
	assert.Equal(t, "2026-10-18T01", h[0].Hour)
	assert.Equal(t, HourBucket{Hour: "2026-10-18T23", Count: 3}, h[HourlyBuckets-2])
	assert.Equal(t, HourBucket{Hour: "2026-10-19T00", Count: 1}, h[HourlyBuckets-1])
}
