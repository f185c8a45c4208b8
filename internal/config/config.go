package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	Store string // "redis" | "memory"

	SeedFile       string        // optional YAML file declaring services (empty = no seeding)
	ReloadInterval time.Duration // interval to reload the seed file (default: 24h)

	// Health monitor
	HealthInterval    time.Duration // time between two sweeps (default: 5s)
	HealthTimeout     time.Duration // per-probe timeout (default: 3s)
	HealthConcurrency int           // max probes in flight (default: 32)

	// Proxy and connection pools
	ProxyTimeout      time.Duration // upper bound for one forward (default: 30s)
	ProxyMaxRedirects int           // redirects followed per forward (default: 5)
	ProxyMaxBodyBytes int64         // inbound body cap (default: 10MB)
	PoolMaxConns      int           // max connections per backend host
	PoolMaxIdle       int           // max idle connections per backend
	PoolIdleTimeout   time.Duration // idle keep-alive timeout

	// Background jobs
	FlushInterval    time.Duration // metrics flush to the store (default: 10s)
	GCInterval       time.Duration // janitor interval (default: 1m)
	RateLimitIdleTTL time.Duration // drop client windows idle for longer (default: 10m)
	MetricsRetention time.Duration // hourly buckets kept (default: 48h)

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	// Management API
	APITimeout       time.Duration // per request timeout on /api (default: 10s)
	APIRatePerMinute int           // sustained requests per client per minute (0 = unlimited)
	APIRateBurst     int           // burst per client

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict management/infra access to specific IP (e.g. "1.2.3.4, 10.0.0.0/8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("SLUGPROXY_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("SLUGPROXY_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("SLUGPROXY_LOG_LEVEL", "info"),
		PrettyLog: mustBool("SLUGPROXY_PRETTY_LOG", true),

		Store: mustOneOf("SLUGPROXY_STORE", StoreRedis, StoreRedis, StoreMemory),

		// Seed file
		SeedFile:       getenv("SLUGPROXY_SEED_FILE", ""), // Optional, empty = no seeding
		ReloadInterval: mustDuration("SLUGPROXY_RELOAD_INTERVAL", 24*time.Hour),

		// Health
		HealthInterval:    mustDuration("SLUGPROXY_HEALTH_INTERVAL", 5*time.Second),
		HealthTimeout:     mustDuration("SLUGPROXY_HEALTH_TIMEOUT", 3*time.Second),
		HealthConcurrency: getenvInt("SLUGPROXY_HEALTH_CONCURRENCY", 32),

		// Proxy
		ProxyTimeout:      mustDuration("SLUGPROXY_PROXY_TIMEOUT", 30*time.Second),
		ProxyMaxRedirects: getenvInt("SLUGPROXY_PROXY_MAX_REDIRECTS", 5),
		ProxyMaxBodyBytes: int64(getenvInt("SLUGPROXY_PROXY_MAX_BODY_BYTES", 10<<20)),
		PoolMaxConns:      getenvInt("SLUGPROXY_POOL_MAX_CONNS", 100),
		PoolMaxIdle:       getenvInt("SLUGPROXY_POOL_MAX_IDLE", 10),
		PoolIdleTimeout:   mustDuration("SLUGPROXY_POOL_IDLE_TIMEOUT", 90*time.Second),

		// Background jobs
		FlushInterval:    mustDuration("SLUGPROXY_FLUSH_INTERVAL", 10*time.Second),
		GCInterval:       mustDuration("SLUGPROXY_GC_INTERVAL", time.Minute),
		RateLimitIdleTTL: mustDuration("SLUGPROXY_RATELIMIT_IDLE_TTL", 10*time.Minute),
		MetricsRetention: mustDuration("SLUGPROXY_METRICS_RETENTION", 48*time.Hour),

		// Redis settings
		RedisUser:             getenv("SLUGPROXY_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("SLUGPROXY_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("SLUGPROXY_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("SLUGPROXY_REDIS_DB", 0),
		RedisDT:               mustDuration("SLUGPROXY_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("SLUGPROXY_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("SLUGPROXY_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("SLUGPROXY_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("SLUGPROXY_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("SLUGPROXY_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("SLUGPROXY_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("SLUGPROXY_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("SLUGPROXY_REDIS_WARN_THRESHOLD", 3),

		// Management API
		APITimeout:       mustDuration("SLUGPROXY_API_TIMEOUT", 10*time.Second),
		APIRatePerMinute: getenvInt("SLUGPROXY_API_RATE_PER_MIN", 120),
		APIRateBurst:     getenvInt("SLUGPROXY_API_RATE_BURST", 20),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("SLUGPROXY_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("SLUGPROXY_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("SLUGPROXY_TRUST_PROXY", true),
	}

	if cfg.Store == StoreRedis {
		cfg.RedisAddr = requireEnv("SLUGPROXY_REDIS_ADDR")
	}

	// Validate Redis password configuration
	if cfg.Store == StoreRedis && cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: SLUGPROXY_REDIS_PASSWORD is required when SLUGPROXY_REDIS_PASSWORD_REQUIRED=true")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func mustOneOf(key, def string, allowed ...string) string {
	v := strings.ToLower(getenv(key, def))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	panic(fmt.Sprintf("❌ FATAL: Invalid value for %s: %s (allowed: %s)", key, v, strings.Join(allowed, ", ")))
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
