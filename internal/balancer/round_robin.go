package balancer

import (
	"sync/atomic"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

// RoundRobin cycles over the candidates, each one repeated weight times in a row.
// The cursor is shared by all callers of the same service.
type RoundRobin struct {
	last atomic.Int64
}

func NewRoundRobin() *RoundRobin {
	rr := &RoundRobin{}
	rr.last.Store(-1)
	return rr
}

func (rr *RoundRobin) Select(healthy []*domain.Instance, _ string) *domain.Instance {
	total := totalWeight(healthy)
	if total == 0 {
		return nil
	}
	n := int64(total)

	for {
		last := rr.last.Load()
		next := (last + 1) % n
		if next < 0 {
			next = 0
		}
		if rr.last.CompareAndSwap(last, next) {
			return atWeight(healthy, int(next))
		}
	}
}

func totalWeight(instances []*domain.Instance) int {
	total := 0
	for _, inst := range instances {
		total += inst.EffectiveWeight()
	}
	return total
}

// atWeight returns the instance covering point in the cumulative weight line.
func atWeight(instances []*domain.Instance, point int) *domain.Instance {
	for _, inst := range instances {
		point -= inst.EffectiveWeight()
		if point < 0 {
			return inst
		}
	}
	return instances[0]
}

// WeightedRoundRobin walks cumulative weights with a counter modulo the total weight.
type WeightedRoundRobin struct {
	counter atomic.Uint64
}

func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{}
}

func (w *WeightedRoundRobin) Select(healthy []*domain.Instance, _ string) *domain.Instance {
	total := totalWeight(healthy)
	if total == 0 {
		return nil
	}
	return atWeight(healthy, int((w.counter.Add(1)-1)%uint64(total)))
}
