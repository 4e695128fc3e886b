package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/aussiebroadwan/prayerwall/internal/auth/http"
	"github.com/aussiebroadwan/prayerwall/internal/auth/provider"
	"github.com/aussiebroadwan/prayerwall/internal/auth/service"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/prayerwall/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/prayerwall/pkg/authsdk"
	"github.com/aussiebroadwan/prayerwall/pkg/cryptox"
	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

// BuildVersion is overridden at build time with -ldflags "-X ...app.BuildVersion=".
var BuildVersion = "v0.1.0"

// Application encapsulates the auth gateway with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	kv       store.KV
	registry *prometheus.Registry
	metrics  *service.Metrics
	client   *authsdk.Client
	probe    *service.NetProbe // nil when AUTH_FORCE_OFFLINE is set
	monitor  service.ConnectivityMonitor

	// Services
	gateway             *service.Gateway
	broadcaster         *service.StateBroadcaster
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authgate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initStorage(context.Background()); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.kv.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	if app.probe != nil {
		app.probe.Start()
	}
	app.housekeepingService.Start()

	app.logger.Info("auth gateway starting",
		"addr", app.cfg.listenAddr(),
		"version", BuildVersion,
		"storage", app.cfg.Storage,
		"force_offline", app.cfg.ForceOffline,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth gateway")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Streams are hijacked connections that Shutdown does not track.
	app.router.Close()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()
	if app.probe != nil {
		app.probe.Stop()
	}

	// Background revalidations still write to the cache.
	app.gateway.Close()
	app.broadcaster.Close()

	if err := app.kv.Close(); err != nil {
		app.logger.Error("error closing storage", "error", err)
		return err
	}

	app.logger.Info("auth gateway stopped")
	return nil
}

// initStorage opens the configured KV driver.
func (app *Application) initStorage(ctx context.Context) error {
	switch app.cfg.Storage {
	case StorageRedis:
		kv, err := redis.NewStore(ctx, app.cfg.RedisURL, app.cfg.RedisPrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.kv = kv

	case StorageMemory:
		app.kv = memory.NewStore()
		app.logger.Warn("using in-memory session storage, cached sessions are lost on restart")

	default:
		dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		version, err := db.ApplyMigrations()
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		app.kv = db
		app.logger.Info("database migrations applied successfully",
			"file", app.cfg.DatabaseFile,
			"schema_version", version,
		)
	}

	app.logger.Info("session storage ready", "driver", app.cfg.Storage)
	return nil
}

// initServices builds the provider client and the resilience layer on top of it.
func (app *Application) initServices() error {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = service.NewMetrics(app.registry)

	app.client = authsdk.NewClient(app.cfg.ProviderAPIKey).
		WithEndpoints(app.cfg.baseURL(), app.cfg.tokenURL())
	idp := provider.New(app.client)

	if app.cfg.ForceOffline {
		app.monitor = service.NewConnectivityMonitor(service.NewStaticSignal(false).Online)
		app.logger.Warn("provider connectivity forced offline, sign in is served from cache only")
	} else {
		addr, err := app.cfg.probeAddr()
		if err != nil {
			return err
		}
		app.probe = service.NewNetProbe(addr, app.cfg.ProbeInterval, app.cfg.ProbeTimeout, app.logger)
		app.monitor = service.NewConnectivityMonitor(app.probe.Online)
	}

	cache := service.NewSessionCache(app.kv, app.cfg.CacheTTL, app.logger)
	cache.Metrics = app.metrics
	if app.cfg.CacheSealKey != "" {
		sealer, err := cryptox.NewSealer([]byte(app.cfg.CacheSealKey))
		if err != nil {
			return fmt.Errorf("failed to initialize cache sealer: %w", err)
		}
		cache.Sealer = sealer
		app.logger.Info("session cache sealing enabled")
	}

	retry := service.NewRetryCoordinator(
		service.WithMaxRetries(app.cfg.RetryMax),
		service.WithBaseDelay(app.cfg.RetryBase),
		service.WithMaxJitter(app.cfg.RetryJitter),
		service.WithRetryLogger(app.logger),
		service.WithRetryMetrics(app.metrics),
	)

	// The HTTP service answers many callers, so a cached session is only
	// served to the password it was established with.
	app.gateway = service.NewGateway(idp, cache, app.monitor, retry,
		service.WithGatewayLogger(app.logger),
		service.WithGatewayMetrics(app.metrics),
		service.WithCredentialCheck(cryptox.DefaultArgon2Params),
	)
	app.broadcaster = service.NewStateBroadcaster(idp, app.logger).WithMetrics(app.metrics)

	app.housekeepingService = service.NewHousekeepingService(
		cache,
		idp,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.kv, app.monitor, app.logger)
	router.Gateway = app.gateway
	router.Broadcaster = app.broadcaster
	router.Gatherer = app.registry
	if app.cfg.RateLimits.Strict.Window > 0 {
		router.Limits = &app.cfg.RateLimits
	}
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              app.cfg.listenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
