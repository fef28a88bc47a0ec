package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lamcatuk/vy-numbers/api/controllers"
	"github.com/lamcatuk/vy-numbers/api/middleware"
	"github.com/lamcatuk/vy-numbers/api/routes"
	"github.com/lamcatuk/vy-numbers/internal/admin"
	"github.com/lamcatuk/vy-numbers/internal/availability"
	"github.com/lamcatuk/vy-numbers/internal/identity"
	"github.com/lamcatuk/vy-numbers/internal/reservations"
	"github.com/lamcatuk/vy-numbers/internal/slots/backend"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/metrics"
	"github.com/lamcatuk/vy-numbers/pkg/redis"
	"github.com/lamcatuk/vy-numbers/pkg/security"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	store, err := backend.Open(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to open slot store", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.Error(context.Background(), "error closing slot store", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	resMetrics := metrics.NewReservationMetrics(registry)

	engine, err := reservations.NewService(reservations.ServiceParams{
		Store:      store.Store,
		Logger:     logg,
		Range:      store.Range,
		DefaultTTL: cfg.Numbers.ClaimTTL,
		Metrics:    resMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation engine", err)
		os.Exit(1)
	}

	query, err := availability.NewService(availability.ServiceParams{
		Store:    store.Store,
		Cache:    redisClient,
		CacheTTL: cfg.Numbers.QueryCacheTTL,
		Range:    store.Range,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create availability service", err)
		os.Exit(1)
	}

	adminService, err := admin.NewService(admin.ServiceParams{
		Store:   store.Store,
		Engine:  engine,
		Hasher:  security.NewHasher(cfg.Password),
		Logger:  logg,
		Metrics: resMetrics,
		Range:   store.Range,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create admin service", err)
		os.Exit(1)
	}

	resolver, err := identity.NewResolver(cfg.CartToken, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create identity resolver", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := middleware.NewClientLimiter(cfg.RateLimit)
	limiter.StartJanitor(ctx)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"backend":  cfg.FeatureFlags.StoreBackend,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config: cfg,
			Logger: logg,
			Pingers: map[string]controllers.Pinger{
				"store": store,
				"redis": redisClient,
			},
			Idempotency:  redisClient,
			Limiter:      limiter,
			Availability: query,
			Reservations: engine,
			Admin:        adminService,
			Identity:     resolver,
			Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
