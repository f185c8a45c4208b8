package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/deps"
	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/mw"
)

func init() { Register(registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	r.Route("/api", func(api chi.Router) {
		api.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
		api.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))
		if d.APIRatePerMinute > 0 {
			api.Use(mw.RateLimit(mw.RateLimitConfig{
				Burst:             d.APIRateBurst,
				RefillPerIPPerMin: d.APIRatePerMinute,
				MaxEntries:        10_000,
				TrustProxy:        d.TrustProxy,
				Now:               d.TimeNow,
			}))
		}
		if d.APITimeout > 0 {
			api.Use(middleware.Timeout(d.APITimeout))
		}

		api.Get("/overview", handlers.Overview(d))

		api.Route("/services", func(s chi.Router) {
			s.Post("/", handlers.CreateService(d))
			s.Get("/", handlers.ListServices(d))

			s.Route("/{id}", func(one chi.Router) {
				one.Get("/", handlers.GetService(d))
				one.Patch("/", handlers.UpdateService(d))
				one.Delete("/", handlers.DeleteService(d))

				one.Post("/instances", handlers.AddInstance(d))
				one.Patch("/instances/{instanceID}", handlers.UpdateInstance(d))
				one.Delete("/instances/{instanceID}", handlers.RemoveInstance(d))

				one.Put("/rate-limit", handlers.SetRateLimit(d))
				one.Get("/rate-limit", handlers.GetRateLimit(d))
				one.Delete("/rate-limit", handlers.DisableRateLimit(d))

				one.Get("/metrics", handlers.ServiceMetrics(d))
			})
		})
	})
}
