package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/deps"
)

type componentStatus struct {
	OK             bool     `json:"ok"`
	ServicesLoaded *int     `json:"services_loaded,omitempty"`
	Instances      *int     `json:"instances,omitempty"`
	Healthy        *int     `json:"healthy,omitempty"`
	Pools          *int     `json:"pools,omitempty"`
	Keys           []string `json:"keys,omitempty"`
	LastSweep      string   `json:"last_sweep,omitempty"`
	Mode           string   `json:"mode,omitempty"`
	Impact         string   `json:"impact,omitempty"`
	Error          string   `json:"error,omitempty"`
}

type infraResponse struct {
	RoutingMode string                     `json:"routing_mode"`
	Components  map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]componentStatus{
			"registry": registryStatus(d),
			"store":    checkStore(r.Context(), d),
			"health":   healthStatus(d),
			"pools":    poolStatus(d),
		}

		writeJSON(w, http.StatusOK, infraResponse{
			RoutingMode: determineRoutingMode(components),
			Components:  components,
		})
	}
}

// determineRoutingMode: no healthy backend is critical, a lost store only
// degrades (routing keeps working from memory, changes are not durable).
func determineRoutingMode(components map[string]componentStatus) string {
	if reg, ok := components["registry"]; ok && !reg.OK {
		return "critical"
	}
	if store, ok := components["store"]; ok && !store.OK {
		return "degraded"
	}
	return "operational"
}

func registryStatus(d deps.Deps) componentStatus {
	services := d.Registry.Services()
	total, healthy := 0, 0
	for _, svc := range services {
		total += len(svc.Instances)
		healthy += len(svc.HealthyInstances())
	}
	loaded := len(services)
	return componentStatus{
		OK:             loaded == 0 || healthy > 0,
		ServicesLoaded: &loaded,
		Instances:      &total,
		Healthy:        &healthy,
	}
}

func checkStore(parent context.Context, d deps.Deps) componentStatus {
	ctx, cancel := context.WithTimeout(parent, readyPingTimeout)
	defer cancel()

	if err := d.Store.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   d.StoreKind,
			Impact: "changes-not-persisted",
			Error:  err.Error(),
		}
	}
	return componentStatus{OK: true, Mode: d.StoreKind}
}

func healthStatus(d deps.Deps) componentStatus {
	if d.Monitor == nil {
		return componentStatus{OK: true, Mode: "disabled"}
	}
	report, at := d.Monitor.Last()
	status := componentStatus{OK: true, Mode: "active", LastSweep: "never"}
	if !at.IsZero() {
		status.LastSweep = at.UTC().Format(time.RFC3339)
		status.Healthy = &report.Healthy
	}
	if report.PersistErrs > 0 {
		status.Impact = "health-not-persisted"
	}
	return status
}

func poolStatus(d deps.Deps) componentStatus {
	if d.Pools == nil {
		return componentStatus{OK: true}
	}
	stats := d.Pools.Stats()
	return componentStatus{OK: true, Pools: &stats.Pools, Keys: stats.Keys}
}
