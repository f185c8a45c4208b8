// Package ratelimit implements the per-service sliding window limiter used on
// the proxy path. State is process local and never persisted.
package ratelimit

import (
	"sync"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

// Decision is the result of one check.
type Decision struct {
	Allowed    bool
	Limit      uint
	Remaining  uint
	RetryAfter time.Duration
}

type window struct {
	stamps   []time.Time // ascending
	lastSeen time.Time
}

// serviceWindows holds every client window of one service under its own lock,
// so traffic on unrelated services never contends.
type serviceWindows struct {
	mu      sync.Mutex
	clients map[string]*window
}

// Limiter is a sliding window counter keyed by (service, client).
type Limiter struct {
	mu       sync.RWMutex
	services map[string]*serviceWindows
	now      func() time.Time
}

type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		services: make(map[string]*serviceWindows),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) forService(serviceID string) *serviceWindows {
	l.mu.RLock()
	sw, ok := l.services[serviceID]
	l.mu.RUnlock()
	if ok {
		return sw
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if sw, ok = l.services[serviceID]; ok {
		return sw
	}
	sw = &serviceWindows{clients: make(map[string]*window)}
	l.services[serviceID] = sw
	return sw
}

// Allow records a request from clientKey against policy. Rejected requests are
// not recorded. A zero policy allows everything.
func (l *Limiter) Allow(serviceID, clientKey string, policy domain.RateLimit) Decision {
	if policy.Limit == 0 || policy.WindowSeconds == 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	cutoff := now.Add(-policy.Window())

	sw := l.forService(serviceID)
	sw.mu.Lock()
	defer sw.mu.Unlock()

	w, ok := sw.clients[clientKey]
	if !ok {
		w = &window{}
		sw.clients[clientKey] = w
	}
	w.lastSeen = now

	drop := 0
	for drop < len(w.stamps) && !w.stamps[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[drop:]...)
	}

	if uint(len(w.stamps)) >= policy.Limit {
		retry := w.stamps[0].Add(policy.Window()).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Limit: policy.Limit, Remaining: 0, RetryAfter: retry}
	}

	w.stamps = append(w.stamps, now)
	return Decision{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: policy.Limit - uint(len(w.stamps)),
	}
}

// Forget drops every window of a service.
func (l *Limiter) Forget(serviceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.services, serviceID)
}

// Sweep removes client windows idle for longer than idleTTL and returns how many were removed.
func (l *Limiter) Sweep(idleTTL time.Duration) int {
	cutoff := l.now().Add(-idleTTL)

	l.mu.RLock()
	all := make([]*serviceWindows, 0, len(l.services))
	for _, sw := range l.services {
		all = append(all, sw)
	}
	l.mu.RUnlock()

	removed := 0
	for _, sw := range all {
		sw.mu.Lock()
		for key, w := range sw.clients {
			if w.lastSeen.Before(cutoff) {
				delete(sw.clients, key)
				removed++
			}
		}
		sw.mu.Unlock()
	}
	return removed
}

// Clients returns the number of tracked client windows.
func (l *Limiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, sw := range l.services {
		sw.mu.Lock()
		n += len(sw.clients)
		sw.mu.Unlock()
	}
	return n
}
