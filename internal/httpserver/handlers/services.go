package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/deps"
	"github.com/MrSnakeDoc/slugproxy/internal/registry"
)

type createServiceRequest struct {
	Name      string                `json:"name"`
	Algorithm string                `json:"algorithm"`
	Instances []domain.InstanceSpec `json:"instances"`
}

// CreateService registers a service for the calling owner.
func CreateService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createServiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(d, w, r, err)
			return
		}

		svc, err := d.Registry.Register(r.Context(), ownerOf(r), req.Name, req.Algorithm, req.Instances)
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, svc)
	}
}

func ListServices(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Registry.List(ownerOf(r)))
	}
}

func GetService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Registry.Get(ownerOf(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

// UpdateService applies a partial update (name, algorithm).
func UpdateService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var upd registry.ServiceUpdate
		if err := decodeJSON(w, r, &upd); err != nil {
			writeError(d, w, r, err)
			return
		}

		svc, err := d.Registry.Update(r.Context(), ownerOf(r), chi.URLParam(r, "id"), upd)
		if err != nil {
			writeError(d, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

func DeleteService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Registry.Delete(r.Context(), ownerOf(r), chi.URLParam(r, "id")); err != nil {
			writeError(d, w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
