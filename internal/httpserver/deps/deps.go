package deps

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/slugproxy/internal/health"
	"github.com/MrSnakeDoc/slugproxy/internal/logger"
	"github.com/MrSnakeDoc/slugproxy/internal/pool"
	"github.com/MrSnakeDoc/slugproxy/internal/registry"
)

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	TimeNow   func() time.Time // for testing, defaults to time.Now

	AllowedHosts []string // Host headers allowed to reach the management surface
	AllowedCIDRS []string // IPs allowed to access /api and the infra endpoints
	TrustProxy   bool     // true if running behind a trusted reverse proxy (e.g., cloudflared)

	Registry  *registry.Registry // Service Registry (routing state + management)
	Store     registry.Store     // durable store behind the registry
	StoreKind string             // "redis" | "memory"
	Monitor   *health.Monitor    // nil when health checks are disabled (tests)
	Pools     *pool.Manager      // upstream connection pools
	Proxy     http.Handler       // dispatcher mounted on /proxy

	SeedFile      string        // Path to the seed file (empty = no seeding)
	ReloadTrigger chan struct{} // Channel to trigger a manual seed reload (nil when no seed file)

	APITimeout       time.Duration // per request timeout on /api
	APIRatePerMinute int           // 0 disables the API limiter
	APIRateBurst     int
}

// Now returns TimeNow() or time.Now() when unset.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
