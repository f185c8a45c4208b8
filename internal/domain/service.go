package domain

import (
	"fmt"
	"time"
)

// Algorithm names the instance selection strategy of a Service.
type Algorithm string

const (
	AlgorithmRoundRobin         Algorithm = "round_robin"
	AlgorithmLeastConnections   Algorithm = "least_connections"
	AlgorithmRandom             Algorithm = "random"
	AlgorithmIPHash             Algorithm = "ip_hash"
	AlgorithmWeightedRoundRobin Algorithm = "weighted_round_robin"
	AlgorithmLeastResponseTime  Algorithm = "least_response_time"
)

// DefaultAlgorithm is used when a service is registered without one.
const DefaultAlgorithm = AlgorithmRoundRobin

// DefaultOwner is the account used when a caller does not identify itself.
const DefaultOwner = "default"

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{
		AlgorithmRoundRobin,
		AlgorithmLeastConnections,
		AlgorithmRandom,
		AlgorithmIPHash,
		AlgorithmWeightedRoundRobin,
		AlgorithmLeastResponseTime,
	}
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	for _, known := range Algorithms() {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAlgorithm normalizes user input. Empty input yields DefaultAlgorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return DefaultAlgorithm, nil
	}
	a := Algorithm(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown algorithm %q", ErrInvalidValue, s)
	}
	return a, nil
}

// RateLimit is the sliding window policy of a Service.
type RateLimit struct {
	Limit         uint `json:"limit" yaml:"limit"`
	WindowSeconds uint `json:"windowSeconds" yaml:"windowSeconds"`
}

// Window returns the window length as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Validate rejects non-positive limits and windows.
func (r RateLimit) Validate() error {
	if r.Limit == 0 {
		return fmt.Errorf("%w: rate limit must be > 0", ErrInvalidValue)
	}
	if r.WindowSeconds == 0 {
		return fmt.Errorf("%w: rate limit window must be > 0", ErrInvalidValue)
	}
	return nil
}

// Service is a named virtual service ("load balancer") reachable through
// /proxy/{slug}. It owns its instances exclusively.
type Service struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`

	// Name is unique per owner.
	Name string `json:"name"`

	// Slug is globally unique and derived from Name.
	// A rename produces a new slug; the old one stops resolving.
	Slug string `json:"slug"`

	// ─────────────────────────────
	// Routing policy
	// ─────────────────────────────

	Algorithm        Algorithm `json:"algorithm"`
	RateLimitEnabled bool      `json:"rateLimitEnabled"`
	RateLimit        RateLimit `json:"rateLimit"`

	// Instances keeps insertion order; tie-breaks depend on it.
	Instances []*Instance `json:"instances"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand out to readers.
func (s *Service) Clone() *Service {
	if s == nil {
		return nil
	}
	out := *s
	out.Instances = make([]*Instance, len(s.Instances))
	for i, inst := range s.Instances {
		out.Instances[i] = inst.Clone()
	}
	return &out
}

// Instance returns the instance with the given id and its index, or nil and -1.
func (s *Service) Instance(id string) (*Instance, int) {
	for i, inst := range s.Instances {
		if inst.ID == id {
			return inst, i
		}
	}
	return nil, -1
}

// HasInstanceName reports whether another instance (not exceptID) already uses name.
func (s *Service) HasInstanceName(name, exceptID string) bool {
	for _, inst := range s.Instances {
		if inst.ID != exceptID && inst.DisplayName == name {
			return true
		}
	}
	return false
}

// HealthyInstances filters the instance list, preserving order.
func (s *Service) HealthyInstances() []*Instance {
	return HealthyOnly(s.Instances)
}

// HealthyOnly filters instances down to the healthy ones, preserving order.
func HealthyOnly(instances []*Instance) []*Instance {
	out := make([]*Instance, 0, len(instances))
	for _, inst := range instances {
		if inst != nil && inst.IsHealthy {
			out = append(out, inst)
		}
	}
	return out
}
