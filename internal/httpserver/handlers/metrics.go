package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/deps"
	"github.com/MrSnakeDoc/slugproxy/internal/metrics"
)

func ServiceMetrics(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Registry.Get(ownerOf(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, metrics.Service(svc, d.Now()))
	}
}

// Overview summarizes every service of the calling owner.
func Overview(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Account(d.Registry.List(ownerOf(r)), d.Now()))
	}
}
