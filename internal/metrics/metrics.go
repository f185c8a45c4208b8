// Package metrics rolls instance counters up into service and account summaries.
package metrics

import (
	"math"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

// HourlyBuckets is the length of the per-instance request history.
const HourlyBuckets = 24

type HourBucket struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

type InstanceDetail struct {
	ID                string              `json:"id"`
	DisplayName       string              `json:"displayName"`
	URL               string              `json:"url"`
	Weight            int                 `json:"weight"`
	IsHealthy         bool                `json:"isHealthy"`
	HealthStatus      domain.HealthStatus `json:"healthStatus"`
	RequestCount      int64               `json:"requestCount"`
	FailureCount      int64               `json:"failureCount"`
	TodayRequestCount int64               `json:"todayRequestCount"`
	AverageLatencyMs  float64             `json:"averageLatencyMs"`
	LastLatencyMs     int64               `json:"lastLatencyMs"`
	ErrorRate         float64             `json:"errorRate"`
	LastCheckedAt     time.Time           `json:"lastCheckedAt,omitzero"`
	Hourly            []HourBucket        `json:"hourly"`
}

type ServiceDetail struct {
	ServiceID        string           `json:"serviceId"`
	Name             string           `json:"name"`
	Slug             string           `json:"slug"`
	Algorithm        domain.Algorithm `json:"algorithm"`
	TotalRequests    int64            `json:"totalRequests"`
	TodayRequests    int64            `json:"todayRequests"`
	TotalFailures    int64            `json:"totalFailures"`
	AverageLatencyMs float64          `json:"averageLatencyMs"`
	ErrorRate        float64          `json:"errorRate"`
	SuccessRate      float64          `json:"successRate"`
	HealthyInstances int              `json:"healthyInstances"`
	TotalInstances   int              `json:"totalInstances"`
	Instances        []InstanceDetail `json:"instances"`
	GeneratedAt      time.Time        `json:"generatedAt"`
}

type Overview struct {
	TotalRequests    int64     `json:"totalRequests"`
	TodayRequests    int64     `json:"todayRequests"`
	ActiveServices   int       `json:"activeServices"`
	TotalServices    int       `json:"totalServices"`
	ActiveInstances  int       `json:"activeInstances"`
	TotalInstances   int       `json:"totalInstances"`
	BlendedLatencyMs float64   `json:"blendedLatencyMs"`
	UptimePercent    float64   `json:"uptimePercent"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// Service builds the detail view of one service snapshot at now.
func Service(svc *domain.Service, now time.Time) ServiceDetail {
	out := ServiceDetail{
		ServiceID:      svc.ID,
		Name:           svc.Name,
		Slug:           svc.Slug,
		Algorithm:      svc.Algorithm,
		TotalInstances: len(svc.Instances),
		Instances:      make([]InstanceDetail, 0, len(svc.Instances)),
		GeneratedAt:    now,
	}

	today := domain.DayKey(now)
	var latencyTotal, probes int64
	for _, inst := range svc.Instances {
		m := inst.Metrics
		out.TotalRequests += m.RequestCount
		out.TotalFailures += m.FailureCount
		out.TodayRequests += todayCount(m, today)
		latencyTotal += m.TotalLatencyMs
		probes += m.SuccessfulProbes
		if inst.IsHealthy {
			out.HealthyInstances++
		}
		out.Instances = append(out.Instances, instanceDetail(inst, today, now))
	}

	if probes > 0 {
		out.AverageLatencyMs = round2(float64(latencyTotal) / float64(probes))
	}
	out.ErrorRate = errorRate(out.TotalFailures, out.TotalRequests)
	out.SuccessRate = round2(100 - out.ErrorRate)
	return out
}

// Account builds the overview of every service the caller can see.
func Account(services []*domain.Service, now time.Time) Overview {
	out := Overview{TotalServices: len(services), GeneratedAt: now}

	today := domain.DayKey(now)
	var latencySum float64
	var withLatency int
	for _, svc := range services {
		active := false
		for _, inst := range svc.Instances {
			out.TotalInstances++
			out.TotalRequests += inst.Metrics.RequestCount
			out.TodayRequests += todayCount(inst.Metrics, today)
			if inst.IsHealthy {
				out.ActiveInstances++
				active = true
			}
			if inst.Metrics.SuccessfulProbes > 0 {
				latencySum += inst.AverageLatencyMs()
				withLatency++
			}
		}
		if active {
			out.ActiveServices++
		}
	}

	if withLatency > 0 {
		out.BlendedLatencyMs = round2(latencySum / float64(withLatency))
	}
	if out.TotalInstances > 0 {
		out.UptimePercent = round2(float64(out.ActiveInstances) / float64(out.TotalInstances) * 100)
	}
	return out
}

func instanceDetail(inst *domain.Instance, today string, now time.Time) InstanceDetail {
	m := inst.Metrics
	return InstanceDetail{
		ID:                inst.ID,
		DisplayName:       inst.DisplayName,
		URL:               inst.URL,
		Weight:            inst.Weight,
		IsHealthy:         inst.IsHealthy,
		HealthStatus:      inst.HealthStatus,
		RequestCount:      m.RequestCount,
		FailureCount:      m.FailureCount,
		TodayRequestCount: todayCount(m, today),
		AverageLatencyMs:  round2(inst.AverageLatencyMs()),
		LastLatencyMs:     m.LastLatencyMs,
		ErrorRate:         errorRate(m.FailureCount, m.RequestCount),
		LastCheckedAt:     m.LastCheckedAt,
		Hourly:            Hourly(m.HourlyRequestCounts, now),
	}
}

// Hourly returns the HourlyBuckets hours ending at the hour of now, oldest first.
// Missing hours count as zero.
func Hourly(counts map[string]int64, now time.Time) []HourBucket {
	current := now.UTC().Truncate(time.Hour)
	out := make([]HourBucket, HourlyBuckets)
	for i := range HourlyBuckets {
		key := domain.HourKey(current.Add(-time.Duration(HourlyBuckets-1-i) * time.Hour))
		out[i] = HourBucket{Hour: key, Count: counts[key]}
	}
	return out
}

// todayCount ignores a counter left over from a previous day.
func todayCount(m domain.InstanceMetrics, today string) int64 {
	if m.TodayKey != today {
		return 0
	}
	return m.TodayRequestCount
}

// errorRate is failures over requests in percent, capped at 100.
// Failed probes also count as failures so the ratio can exceed 1 on idle services.
func errorRate(failures, requests int64) float64 {
	if requests == 0 {
		return 0
	}
	return round2(math.Min(float64(failures)/float64(requests)*100, 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
