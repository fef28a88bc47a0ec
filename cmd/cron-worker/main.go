package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lamcatuk/vy-numbers/internal/cron"
	"github.com/lamcatuk/vy-numbers/internal/slots/backend"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/metrics"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
	"github.com/lamcatuk/vy-numbers/pkg/redis"
)

const (
	serviceName = "cron-worker"
	lockName    = "cron-worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Debug(ctx, "no .env file, using process environment")
	}

	if err := run(ctx, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker exited", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceName
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	store, err := backend.Open(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("open slot store: %w", err)
	}
	defer closeQuietly(logg, "slot store", store.Close)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("open redis: %w", err)
	}
	defer closeQuietly(logg, "redis", redisClient.Close)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName, cfg.App.Env), 0)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	jobs, err := buildRegistry(cfg, logg, store, reg)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Numbers.SweepInterval,
	})
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Numbers.SweepInterval.String(),
		"jobs":     jobs.Names(),
	})
	logg.Info(ctx, "cron worker started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	if addr := cfg.Service.MetricsAddr; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, logg, addr, reg) })
	}
	return g.Wait()
}

// serveMetrics exposes reg until ctx ends.
func serveMetrics(ctx context.Context, logg *logger.Logger, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logg.Info(logg.WithField(ctx, "addr", addr), "metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return ctx.Err()
}

func closeQuietly(logg *logger.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		logg.Error(context.Background(), "close "+what, err)
	}
}

// buildRegistry always runs the expiry sweep. Outbox retention only exists on
// the sql backend.
func buildRegistry(cfg *config.Config, logg *logger.Logger, store *backend.Backend, reg prometheus.Registerer) (*cron.Registry, error) {
	jobs := cron.NewRegistry()

	sweep, err := cron.NewExpirySweepJob(cron.ExpirySweepJobParams{
		Logger:  logg,
		Store:   store.Store,
		Metrics: metrics.NewReservationMetrics(reg),
	})
	if err != nil {
		return nil, err
	}
	if err := jobs.Register(sweep); err != nil {
		return nil, err
	}

	if store.DB == nil {
		return jobs, nil
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          store.DB,
		Repository:  outbox.NewRepository(store.DB.DB()),
		Retention:   cfg.Outbox.RetentionDays,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	if err := jobs.Register(retention); err != nil {
		return nil, err
	}
	return jobs, nil
}
