package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/deps"
	"github.com/MrSnakeDoc/slugproxy/internal/registry"
)

func rateLimitState(svc *domain.Service) registry.RateLimitState {
	return registry.RateLimitState{
		Enabled:       svc.RateLimitEnabled,
		Limit:         svc.RateLimit.Limit,
		WindowSeconds: svc.RateLimit.WindowSeconds,
	}
}

// SetRateLimit enables the sliding window limit of a service.
func SetRateLimit(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.RateLimit
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(d, w, r, err)
			return
		}

		svc, err := d.Registry.SetRateLimit(r.Context(), ownerOf(r), chi.URLParam(r, "id"), req.Limit, req.WindowSeconds)
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rateLimitState(svc))
	}
}

func GetRateLimit(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := d.Registry.GetRateLimit(ownerOf(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

// DisableRateLimit turns the limit off. The configured values are kept.
func DisableRateLimit(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Registry.DisableRateLimit(r.Context(), ownerOf(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rateLimitState(svc))
	}
}
