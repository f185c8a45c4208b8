package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/deps"
	"github.com/MrSnakeDoc/slugproxy/internal/registry"
)

// AddInstance appends a backend to a service and returns the updated service.
func AddInstance(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec domain.InstanceSpec
		if err := decodeJSON(w, r, &spec); err != nil {
			writeError(d, w, r, err)
			return
		}

		svc, err := d.Registry.AddInstance(r.Context(), ownerOf(r), chi.URLParam(r, "id"), spec)
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, svc)
	}
}

func UpdateInstance(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var upd registry.InstanceUpdate
		if err := decodeJSON(w, r, &upd); err != nil {
			writeError(d, w, r, err)
			return
		}

		svc, err := d.Registry.UpdateInstance(r.Context(), ownerOf(r),
			chi.URLParam(r, "id"), chi.URLParam(r, "instanceID"), upd)
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

func RemoveInstance(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Registry.RemoveInstance(r.Context(), ownerOf(r),
			chi.URLParam(r, "id"), chi.URLParam(r, "instanceID"))
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}
