// Package proxy forwards /proxy/{slug}/* requests to a selected instance.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/logger"
	"github.com/MrSnakeDoc/slugproxy/internal/ratelimit"
	"github.com/MrSnakeDoc/slugproxy/internal/registry"
	"github.com/MrSnakeDoc/slugproxy/internal/utils"
)

// PathPrefix is the mount point of the dispatcher.
const PathPrefix = "/proxy/"

// InstanceHeader names the instance that served the response.
const InstanceHeader = "X-Slugproxy-Instance"

type Resolver interface {
	Resolve(slug string) (*registry.Route, error)
}

type Limiter interface {
	Allow(serviceID, clientKey string, policy domain.RateLimit) ratelimit.Decision
}

type Clients interface {
	Client(backendURL string) (*http.Client, error)
}

type Options struct {
	Timeout      time.Duration // upper bound for one forward
	MaxBodyBytes int64         // inbound request body cap
}

// Dispatcher is the http.Handler behind /proxy/{slug}/*.
// It makes exactly one upstream attempt per request.
type Dispatcher struct {
	resolver Resolver
	limiter  Limiter
	clients  Clients
	logger   logger.Logger
	timeout  time.Duration
	maxBody  int64
}

func New(resolver Resolver, limiter Limiter, clients Clients, log logger.Logger, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	return &Dispatcher{
		resolver: resolver,
		limiter:  limiter,
		clients:  clients,
		logger:   log,
		timeout:  opts.Timeout,
		maxBody:  opts.MaxBodyBytes,
	}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slug, rest := SplitPath(r.URL.EscapedPath())
	if slug == "" {
		writeError(w, http.StatusNotFound, domain.ErrNoBackend)
		return
	}

	route, err := d.resolver.Resolve(slug)
	if err != nil {
		writeError(w, http.StatusNotFound, domain.ErrNoBackend)
		return
	}

	clientIP := utils.ClientIdentity(r)
	if route.RateLimitEnabled {
		dec := d.limiter.Allow(route.ServiceID, clientIP, route.RateLimit)
		if !dec.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(dec.RetryAfter.Seconds()))))
			w.Header().Set("X-RateLimit-Limit", strconv.FormatUint(uint64(dec.Limit), 10))
			w.Header().Set("X-RateLimit-Remaining", "0")
			writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
			return
		}
	}

	inst, err := route.Pick(clientIP)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrNoHealthyInstances)
		return
	}

	var body []byte
	if hasBody(r.Method) && r.Body != nil {
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, d.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Request body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
			return
		}
	}

	target := TargetURL(inst.URL, rest, r.URL.RawQuery)
	route.RecordRequest(inst.ID)

	resp, err := d.forward(r, inst.URL, target, body)
	if err != nil {
		d.upstreamFailed(w, r, route, inst.ID, slug, target, err)
		return
	}
	defer utils.Close(resp.Body)

	if err := d.respond(w, resp, inst.ID); err != nil {
		d.upstreamFailed(w, r, route, inst.ID, slug, target, err)
	}
}

// upstreamFailed answers a transport failure and counts it on the instance.
func (d *Dispatcher) upstreamFailed(w http.ResponseWriter, r *http.Request, route *registry.Route, instanceID, slug, target string, err error) {
	if r.Context().Err() != nil {
		// client went away: nothing to answer, not the instance's fault
		d.logger.Debug("client canceled proxied request",
			logger.String("slug", slug),
			logger.String("instance_id", instanceID))
		return
	}
	route.RecordFailure(instanceID)
	d.logger.Warn("upstream request failed",
		logger.String("slug", slug),
		logger.String("instance_id", instanceID),
		logger.String("target", target),
		logger.Error(err))
	writeError(w, http.StatusInternalServerError, domain.ErrUpstreamFailure)
}

func (d *Dispatcher) forward(r *http.Request, backendURL, target string, body []byte) (*http.Response, error) {
	client, err := d.clients.Client(backendURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		cancel()
		return nil, err
	}
	copyHeaders(out.Header, r.Header)
	setForwardedHeaders(out, r)

	resp, err := client.Do(out)
	if err != nil {
		cancel()
		return nil, err
	}
	// the timeout must cover the body read too
	resp.Body = &utils.CancelOnClose{ReadCloser: resp.Body, Cancel: cancel}
	return resp, nil
}

// respond relays resp to the client. JSON bodies are buffered so their
// validity can be checked; when one cannot be read in full nothing has been
// written yet and the read error is returned.
func (d *Dispatcher) respond(w http.ResponseWriter, resp *http.Response, instanceID string) error {
	jsonBody := isJSON(resp.Header.Get("Content-Type"))
	var raw []byte
	if jsonBody {
		var err error
		if raw, err = io.ReadAll(resp.Body); err != nil {
			return fmt.Errorf("failed to read upstream body: %w", err)
		}
	}

	h := w.Header()
	copyHeaders(h, resp.Header)
	h.Set(InstanceHeader, instanceID)

	if jsonBody {
		if len(raw) > 0 && !jsonValid(raw) {
			h.Set("Content-Type", "text/plain; charset=utf-8")
		} else {
			h.Set("Content-Type", "application/json")
		}
		h.Set("Content-Length", strconv.Itoa(len(raw)))
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(raw)
		return nil
	}

	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// status already sent, the client sees a short body
		d.logger.Debug("failed to stream upstream body",
			logger.String("instance_id", instanceID),
			logger.Error(err))
	}
	return nil
}

// SplitPath splits an escaped request path into slug and remaining path.
func SplitPath(escapedPath string) (slug, rest string) {
	p := strings.TrimPrefix(escapedPath, strings.TrimSuffix(PathPrefix, "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", ""
	}
	slug, rest, _ = strings.Cut(p, "/")
	return slug, rest
}

// TargetURL joins an instance base URL and the remaining path with a single
// slash and keeps the query string.
func TargetURL(base, rest, rawQuery string) string {
	target := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rest, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

func hasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonEncode(w, v)
}
