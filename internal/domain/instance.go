package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// HealthStatus is the latency-based classification maintained by the health monitor.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusSlow     HealthStatus = "slow"
	StatusDown     HealthStatus = "down"
)

const (
	degradedThreshold = 200 * time.Millisecond
	slowThreshold     = 500 * time.Millisecond
)

// ClassifyLatency maps a successful probe latency to a status.
func ClassifyLatency(latency time.Duration) HealthStatus {
	switch {
	case latency < degradedThreshold:
		return StatusHealthy
	case latency < slowThreshold:
		return StatusDegraded
	default:
		return StatusSlow
	}
}

// InstanceMetrics holds the counters of one instance.
type InstanceMetrics struct {
	RequestCount     int64 `json:"requestCount"`
	FailureCount     int64 `json:"failureCount"`
	TotalLatencyMs   int64 `json:"totalLatencyMs"`
	LastLatencyMs    int64 `json:"lastLatencyMs"`
	SuccessfulProbes int64 `json:"successfulProbes"`

	TodayRequestCount int64  `json:"todayRequestCount"`
	TodayKey          string `json:"todayKey,omitempty"`

	// HourlyRequestCounts is keyed by HourKey (calendar day + hour, UTC).
	HourlyRequestCounts map[string]int64 `json:"hourlyRequestCounts,omitempty"`

	LastCheckedAt time.Time `json:"lastCheckedAt,omitempty"`
}

// Instance is one backend of a Service.
type Instance struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	DisplayName string `json:"displayName"`
	Weight      int    `json:"weight"`

	// IsHealthy and HealthStatus are written by the health monitor only.
	IsHealthy    bool         `json:"isHealthy"`
	HealthStatus HealthStatus `json:"healthStatus"`

	Metrics InstanceMetrics `json:"metrics"`
}

// InstanceSpec describes an instance to create.
type InstanceSpec struct {
	URL         string `json:"url" yaml:"url"`
	DisplayName string `json:"displayName" yaml:"name"`
	Weight      int    `json:"weight" yaml:"weight"`
}

// Normalize applies defaults and validates the spec.
func (s InstanceSpec) Normalize() (InstanceSpec, error) {
	s.URL = strings.TrimSpace(s.URL)
	s.DisplayName = strings.TrimSpace(s.DisplayName)
	if err := ValidateBackendURL(s.URL); err != nil {
		return s, err
	}
	if s.DisplayName == "" {
		s.DisplayName = s.URL
	}
	if s.Weight == 0 {
		s.Weight = 1
	}
	if err := ValidateWeight(s.Weight); err != nil {
		return s, err
	}
	return s, nil
}

// MaxWeight bounds instance weights so weighted selection stays cheap.
const MaxWeight = 1000

// ValidateWeight accepts weights in [1, MaxWeight].
func ValidateWeight(w int) error {
	if w < 1 || w > MaxWeight {
		return fmt.Errorf("%w: weight must be between 1 and %d", ErrInvalidValue, MaxWeight)
	}
	return nil
}

// ValidateBackendURL accepts absolute http and https URLs only.
func ValidateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid url %q", ErrInvalidValue, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url %q must use http or https", ErrInvalidValue, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url %q has no host", ErrInvalidValue, raw)
	}
	return nil
}

// NewInstance builds a fresh instance. New instances are considered healthy
// until the first probe says otherwise.
func NewInstance(id string, spec InstanceSpec) *Instance {
	return &Instance{
		ID:           id,
		URL:          spec.URL,
		DisplayName:  spec.DisplayName,
		Weight:       spec.Weight,
		IsHealthy:    true,
		HealthStatus: StatusHealthy,
		Metrics: InstanceMetrics{
			HourlyRequestCounts: map[string]int64{},
		},
	}
}

// Clone returns a deep copy.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Metrics.HourlyRequestCounts = make(map[string]int64, len(i.Metrics.HourlyRequestCounts))
	for k, v := range i.Metrics.HourlyRequestCounts {
		out.Metrics.HourlyRequestCounts[k] = v
	}
	return &out
}

// EffectiveWeight clamps the weight into [1, MaxWeight]; records written
// before the cap existed may carry anything.
func (i *Instance) EffectiveWeight() int {
	return min(max(i.Weight, 1), MaxWeight)
}

// RecordRequest counts one forwarded request at now.
// Callers serialize access to the instance.
func (i *Instance) RecordRequest(now time.Time) {
	m := &i.Metrics
	m.RequestCount++

	today := DayKey(now)
	if m.TodayKey != today {
		m.TodayKey = today
		m.TodayRequestCount = 0
	}
	m.TodayRequestCount++

	if m.HourlyRequestCounts == nil {
		m.HourlyRequestCounts = map[string]int64{}
	}
	m.HourlyRequestCounts[HourKey(now)]++
}

// RecordFailure counts one failed forward. The request itself was already counted.
func (i *Instance) RecordFailure() {
	i.Metrics.FailureCount++
}

// ProbeResult is the outcome of one health probe.
type ProbeResult struct {
	Healthy   bool
	Latency   time.Duration
	CheckedAt time.Time
	Err       error
}

// ApplyProbe updates health fields and latency counters from a probe.
func (i *Instance) ApplyProbe(res ProbeResult) {
	i.Metrics.LastCheckedAt = res.CheckedAt
	if !res.Healthy {
		i.IsHealthy = false
		i.HealthStatus = StatusDown
		i.Metrics.FailureCount++
		return
	}

	ms := res.Latency.Milliseconds()
	i.IsHealthy = true
	i.HealthStatus = ClassifyLatency(res.Latency)
	i.Metrics.TotalLatencyMs += ms
	i.Metrics.LastLatencyMs = ms
	i.Metrics.SuccessfulProbes++
}

// AverageLatencyMs is the mean latency over successful probes.
func (i *Instance) AverageLatencyMs() float64 {
	if i.Metrics.SuccessfulProbes == 0 {
		return 0
	}
	return float64(i.Metrics.TotalLatencyMs) / float64(i.Metrics.SuccessfulProbes)
}

// PruneHourly drops hourly buckets older than cutoff and returns how many were removed.
func (i *Instance) PruneHourly(cutoff time.Time) int {
	removed := 0
	for key := range i.Metrics.HourlyRequestCounts {
		t, err := ParseHourKey(key)
		if err != nil || t.Before(cutoff) {
			delete(i.Metrics.HourlyRequestCounts, key)
			removed++
		}
	}
	return removed
}
