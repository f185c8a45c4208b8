// Package pool keeps one keep-alive HTTP client per backend.
package pool

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Options configures every pooled client.
type Options struct {
	MaxConnsPerHost int           // bounded total connections per backend
	MaxIdleConns    int           // bounded idle connections per backend
	IdleConnTimeout time.Duration // idle keep-alive connections are closed after this
	RequestTimeout  time.Duration // whole round trip, redirects included
	MaxRedirects    int           // redirects followed before giving up
	DialTimeout     time.Duration
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxConnsPerHost: 100,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
		RequestTimeout:  30 * time.Second,
		MaxRedirects:    5,
		DialTimeout:     5 * time.Second,
	}
}

// Manager lazily creates and caches clients keyed by backend base URL.
// Clients live for the life of the process.
type Manager struct {
	opts    Options
	mu      sync.RWMutex
	clients map[string]*http.Client
}

func NewManager(opts Options) *Manager {
	def := DefaultOptions()
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = def.MaxIdleConns
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = def.IdleConnTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = def.MaxRedirects
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	return &Manager{
		opts:    opts,
		clients: make(map[string]*http.Client),
	}
}

// Key normalizes a backend URL into its pool key: scheme://host[:port]/base-path.
// http and https to the same host never share a key.
func Key(backendURL string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", fmt.Errorf("invalid backend url %q: %w", backendURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid backend url %q: scheme and host required", backendURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/"), nil
}

// Client returns the pooled client for backendURL, creating it on first use.
func (m *Manager) Client(backendURL string) (*http.Client, error) {
	key, err := Key(backendURL)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	c, ok := m.clients[key]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.clients[key]; ok {
		return c, nil
	}
	c = m.newClient()
	m.clients[key] = c
	return c, nil
}

var errTooManyRedirects = errors.New("too many redirects")

func (m *Manager) newClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   m.opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxConnsPerHost:       m.opts.MaxConnsPerHost,
		MaxIdleConns:          m.opts.MaxIdleConns,
		MaxIdleConnsPerHost:   m.opts.MaxIdleConns,
		IdleConnTimeout:       m.opts.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     false,
	}

	maxRedirects := m.opts.MaxRedirects
	return &http.Client{
		Transport: transport,
		Timeout:   m.opts.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
}

// Stats describes the pools created so far.
type Stats struct {
	Pools int      `json:"pools"`
	Keys  []string `json:"keys"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.clients))
	for k := range m.clients {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Stats{Pools: len(keys), Keys: keys}
}

// CloseIdle closes idle connections of every pool. Pools themselves stay usable.
func (m *Manager) CloseIdle() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		c.CloseIdleConnections()
	}
}
