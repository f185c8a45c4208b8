package balancer

import (
	"math/rand/v2"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

// LeastConnections picks the lowest requests-minus-failures count.
// Ties go to the earliest instance.
type LeastConnections struct{}

func (LeastConnections) Select(healthy []*domain.Instance, _ string) *domain.Instance {
	var best *domain.Instance
	var bestLoad int64
	for _, inst := range healthy {
		load := inst.Metrics.RequestCount - inst.Metrics.FailureCount
		if best == nil || load < bestLoad {
			best, bestLoad = inst, load
		}
	}
	return best
}

// LeastResponseTime picks the lowest last observed latency.
// Ties go to the earliest instance.
type LeastResponseTime struct{}

func (LeastResponseTime) Select(healthy []*domain.Instance, _ string) *domain.Instance {
	var best *domain.Instance
	for _, inst := range healthy {
		if best == nil || inst.Metrics.LastLatencyMs < best.Metrics.LastLatencyMs {
			best = inst
		}
	}
	return best
}

// IPHash maps the sum of the client IP's character codes onto the candidate list.
// The mapping shifts whenever the healthy set changes.
type IPHash struct{}

func (IPHash) Select(healthy []*domain.Instance, clientIP string) *domain.Instance {
	if len(healthy) == 0 {
		return nil
	}
	sum := 0
	for _, r := range clientIP {
		sum += int(r)
	}
	return healthy[sum%len(healthy)]
}

// Random picks uniformly, ignoring weights.
type Random struct {
	intn func(n int) int
}

func NewRandom(intn func(n int) int) *Random {
	if intn == nil {
		intn = rand.IntN
	}
	return &Random{intn: intn}
}

func (r *Random) Select(healthy []*domain.Instance, _ string) *domain.Instance {
	if len(healthy) == 0 {
		return nil
	}
	return healthy[r.intn(len(healthy))]
}
