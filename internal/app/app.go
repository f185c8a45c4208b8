package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/slugproxy/internal/config"
	"github.com/MrSnakeDoc/slugproxy/internal/health"
	"github.com/MrSnakeDoc/slugproxy/internal/httpserver"
	"github.com/MrSnakeDoc/slugproxy/internal/httpserver/deps"
	"github.com/MrSnakeDoc/slugproxy/internal/logger"
	"github.com/MrSnakeDoc/slugproxy/internal/pool"
	"github.com/MrSnakeDoc/slugproxy/internal/proxy"
	"github.com/MrSnakeDoc/slugproxy/internal/ratelimit"
	"github.com/MrSnakeDoc/slugproxy/internal/redis"
	"github.com/MrSnakeDoc/slugproxy/internal/registry"
	"github.com/MrSnakeDoc/slugproxy/internal/scheduler"
	"github.com/MrSnakeDoc/slugproxy/internal/store/memory"
	redisstore "github.com/MrSnakeDoc/slugproxy/internal/store/redis"
	"github.com/MrSnakeDoc/slugproxy/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	registry    *registry.Registry
	pools       *pool.Manager
	prober      *health.Prober
	monitor     *health.Monitor
	seeder      *scheduler.SeedReloader
	flusher     *scheduler.MetricsFlusher
	janitor     *scheduler.Janitor
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	store, redisClient, err := openStore(cfg, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to open %s store: %v", cfg.Store, err)
		os.Exit(1)
	}

	limiter := ratelimit.New()
	reg := registry.New(store, loggerClient, registry.WithForgetter(limiter))

	// Restore routing state before serving anything
	syncer := scheduler.NewRegistrySyncer(store, reg, loggerClient)
	if err := syncer.Sync(context.Background()); err != nil {
		loggerClient.Warn("failed to restore services from store on startup",
			logger.String("store", cfg.Store),
			logger.Error(err))
	}

	pools := pool.NewManager(pool.Options{
		MaxConnsPerHost: cfg.PoolMaxConns,
		MaxIdleConns:    cfg.PoolMaxIdle,
		IdleConnTimeout: cfg.PoolIdleTimeout,
		RequestTimeout:  cfg.ProxyTimeout,
		MaxRedirects:    cfg.ProxyMaxRedirects,
		DialTimeout:     pool.DefaultOptions().DialTimeout,
	})

	dispatcher := proxy.New(reg, limiter, pools, loggerClient, proxy.Options{
		Timeout:      cfg.ProxyTimeout,
		MaxBodyBytes: cfg.ProxyMaxBodyBytes,
	})

	prober := health.NewProber(cfg.HealthTimeout)
	monitor := health.NewMonitor(reg, prober, loggerClient, cfg.HealthInterval, cfg.HealthConcurrency)

	// Seed reloader only exists when a seed file is configured
	var seeder *scheduler.SeedReloader
	var reloadTrigger chan struct{}
	if cfg.SeedFile != "" {
		loggerClient.Info("seed file configured, initializing seed reloader",
			logger.String("file", cfg.SeedFile))
		reloadTrigger = make(chan struct{}, 1)
		seeder = scheduler.NewSeedReloader(cfg.SeedFile, reg, loggerClient, cfg.ReloadInterval, reloadTrigger)
	} else {
		loggerClient.Info("seed file not configured, services are managed through the API only")
	}

	flusher := scheduler.NewMetricsFlusher(reg, loggerClient, cfg.FlushInterval)
	janitor := scheduler.NewJanitor(limiter, reg, loggerClient, cfg.GCInterval, cfg.RateLimitIdleTTL, cfg.MetricsRetention)

	// Dependencies passed to routes.
	d := deps.Deps{
		Logger:           loggerClient,
		StartTime:        time.Now(),
		Version:          version.Version,
		Commit:           version.Commit,
		BuildDate:        version.BuildDate,
		GoVersion:        version.GoVersion,
		TimeNow:          time.Now,
		AllowedHosts:     cfg.AllowedHosts,
		AllowedCIDRS:     cfg.AllowedCIDRS,
		TrustProxy:       cfg.TrustProxy,
		Registry:         reg,
		Store:            store,
		StoreKind:        cfg.Store,
		Monitor:          monitor,
		Pools:            pools,
		Proxy:            dispatcher,
		SeedFile:         cfg.SeedFile,
		ReloadTrigger:    reloadTrigger,
		APITimeout:       cfg.APITimeout,
		APIRatePerMinute: cfg.APIRatePerMinute,
		APIRateBurst:     cfg.APIRateBurst,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		registry:    reg,
		pools:       pools,
		prober:      prober,
		monitor:     monitor,
		seeder:      seeder,
		flusher:     flusher,
		janitor:     janitor,
	}
}

// openStore connects the configured durable store. Redis is dialed with
// retries so the process fails fast only after the connect timeout.
func openStore(cfg *config.Config, log logger.Logger) (registry.Store, *goredis.Client, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, services are lost on restart")
		return memory.NewStore(), nil, nil
	}

	log.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	client, err := redis.New(context.Background(), redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		DB:             cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Redis initialized successfully")
	return redisstore.NewStore(client), client, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting slugproxy v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("slugproxy %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seed first so the first health sweep covers declared services
	if a.seeder != nil {
		if err := a.seeder.Start(ctx); err != nil {
			return fmt.Errorf("failed to start seed reloader: %w", err)
		}
		a.logger.Info("seed reloader started",
			logger.Duration("interval", a.cfg.ReloadInterval))
	}

	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}
	a.logger.Info("health monitor started",
		logger.Duration("interval", a.cfg.HealthInterval),
		logger.Int("concurrency", a.cfg.HealthConcurrency))

	if err := a.flusher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics flusher: %w", err)
	}
	if err := a.janitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}
	a.logger.Info("background jobs started",
		logger.Duration("flush_interval", a.cfg.FlushInterval),
		logger.Duration("gc_interval", a.cfg.GCInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	if a.seeder != nil {
		a.seeder.Stop()
	}
	a.monitor.Stop()
	a.janitor.Stop()
	a.flusher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	// Requests have drained: save the last counters
	if err := a.flusher.Flush(shutdownCtx); err != nil {
		a.logger.Warn("final metrics flush failed", logger.Error(err))
	}

	a.pools.CloseIdle()
	a.prober.Close()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ slugproxy stopped cleanly",
		logger.Int("services", a.registry.Count()))
	return nil
}
