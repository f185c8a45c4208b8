// Package health probes every instance of every service on a fixed interval.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

// Prober issues one bounded GET against an instance base URL.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
			// a redirect answer already proves the instance is up
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		now:     time.Now,
	}
}

// Probe never returns an error: failures are reported in the result.
func (p *Prober) Probe(ctx context.Context, url string) domain.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	res := domain.ProbeResult{CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("User-Agent", "slugproxy-health/1")

	resp, err := p.client.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	res.Latency = p.now().Sub(start)
	if resp.StatusCode >= http.StatusBadRequest {
		res.Err = fmt.Errorf("unhealthy status %d", resp.StatusCode)
		return res
	}
	res.Healthy = true
	return res
}

// Close releases idle probe connections.
func (p *Prober) Close() {
	p.client.CloseIdleConnections()
}
