// Package balancer picks the backend instance that handles the next request.
//
// Each algorithm is a Selector. Selectors only ever see the healthy
// candidate list and may keep small per-service state (cursors).
package balancer

import (
	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

// Selector chooses one instance from a non-empty healthy candidate list.
type Selector interface {
	Select(healthy []*domain.Instance, clientIP string) *domain.Instance
}

// New returns the selector for alg. Unknown or empty algorithms fall back to
// the first healthy instance.
func New(alg domain.Algorithm) Selector {
	return NewWithSource(alg, nil)
}

// NewWithSource is New with an injectable random source for the random algorithm.
func NewWithSource(alg domain.Algorithm, intn func(n int) int) Selector {
	switch alg {
	case domain.AlgorithmRoundRobin:
		return NewRoundRobin()
	case domain.AlgorithmWeightedRoundRobin:
		return NewWeightedRoundRobin()
	case domain.AlgorithmLeastConnections:
		return LeastConnections{}
	case domain.AlgorithmLeastResponseTime:
		return LeastResponseTime{}
	case domain.AlgorithmIPHash:
		return IPHash{}
	case domain.AlgorithmRandom:
		return NewRandom(intn)
	default:
		return First{}
	}
}

// Choose filters instances to the healthy ones and delegates to sel.
// It returns nil when nothing is healthy.
func Choose(sel Selector, instances []*domain.Instance, clientIP string) *domain.Instance {
	healthy := domain.HealthyOnly(instances)
	if len(healthy) == 0 {
		return nil
	}
	if sel == nil {
		return healthy[0]
	}
	return sel.Select(healthy, clientIP)
}

// First always returns the first candidate.
type First struct{}

func (First) Select(healthy []*domain.Instance, _ string) *domain.Instance {
	if len(healthy) == 0 {
		return nil
	}
	return healthy[0]
}
