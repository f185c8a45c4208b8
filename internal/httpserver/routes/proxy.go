package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/deps"
)

func init() { Register(registerProxy) }

// The proxy surface is public: no CIDR, host or API rate limit here.
// Per service limits are applied by the dispatcher itself.
func registerProxy(r chi.Router, d deps.Deps) {
	r.Handle("/proxy", d.Proxy)
	r.Handle("/proxy/*", d.Proxy)
}
