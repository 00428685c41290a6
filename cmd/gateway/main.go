package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/config"
	"github.com/fanoutlabs/gateway/internal/health"
	"github.com/fanoutlabs/gateway/internal/metrics"
	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/service"
	"github.com/fanoutlabs/gateway/internal/store"
	"github.com/fanoutlabs/gateway/internal/transport/httpapi"
	"github.com/fanoutlabs/gateway/internal/transport/ws"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting Fanout Gateway")

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Database),
		zap.String("redis_host", cfg.Redis.Host))

	// Initialize metrics
	m := metrics.NewMetrics()
	logger.Info("Metrics initialized")

	// Initialize Redis client shared by the counter and session stores.
	// The admission scripts span both key namespaces, so they must live
	// in the same Redis database.
	redisClient, err := store.NewRedisClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		cfg.Redis.MinIdleConns,
	)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	counterStore := store.NewRedisCounterStore(redisClient, logger)
	sessionStore := store.NewRedisSessionStore(redisClient, logger)
	logger.Info("Redis stores initialized")

	// Initialize tenant store (PostgreSQL)
	tenantStore, err := store.NewPostgresTenantStore(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize tenant store", zap.Error(err))
	}
	logger.Info("Tenant store initialized")

	// Initialize tenant-settings cache
	cache := store.NewInMemoryCache(cfg.Cache.MaxSize, logger)
	logger.Info("Cache initialized")

	// Initialize services
	logger.Info("Initializing services")

	tenantService := service.NewTenantService(tenantStore, cache, cfg.Cache.TenantSettingsTTL, logger)
	registryService := service.NewRegistryService(sessionStore, logger)
	rateLimitService := service.NewRateLimitService(counterStore, logger)
	admissionService := service.NewAdmissionService(rateLimitService, registryService, counterStore, logger)
	authorizerService := service.NewAuthorizerService(tenantService, registryService, logger)

	hub := ws.NewHub(logger)
	dispatchService := service.NewDispatchService(rateLimitService, registryService, hub, logger)
	reaperService := service.NewReaperService(hub, logger)
	removalHandler := &meteredRemovalHandler{next: reaperService, metrics: m}
	sessionService := service.NewSessionService(tenantService, sessionStore, removalHandler, logger)
	sweeperService := service.NewSweeperService(
		sessionStore,
		removalHandler,
		cfg.Sweeper.Interval,
		cfg.Sweeper.BatchSize,
		logger,
	)

	logger.Info("All services initialized")

	// Initialize transports
	wsServer := ws.NewServer(
		authorizerService,
		admissionService,
		dispatchService,
		hub,
		m,
		cfg.Transport,
		logger,
	)
	handlers := httpapi.NewHandlers(tenantService, sessionService, logger)
	healthChecker := health.NewHealthChecker(tenantStore, sessionStore, logger)

	httpServer := httpapi.NewServer(cfg, handlers, healthChecker, m, wsServer.HandleConnect, logger)

	// Start the expiry sweeper
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeperService.Run(sweepCtx)
	logger.Info("Sweeper started",
		zap.Duration("interval", cfg.Sweeper.Interval),
		zap.Int64("batch_size", cfg.Sweeper.BatchSize))

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")

	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// Close stores
	tenantStore.Close()
	if err := sessionStore.Close(); err != nil {
		logger.Warn("Session store close error", zap.Error(err))
	}

	logger.Info("Gateway stopped")
}

// meteredRemovalHandler counts expiry-driven removals before handing them
// to the reaper
type meteredRemovalHandler struct {
	next    service.RemovalHandler
	metrics *metrics.Metrics
}

func (h *meteredRemovalHandler) HandleRemoval(ctx context.Context, removal *model.SessionRemoval) {
	if removal.Expired {
		h.metrics.SessionsReaped.Inc()
	}
	h.next.HandleRemoval(ctx, removal)
}
