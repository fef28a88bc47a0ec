package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/db"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/migrate"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
	"github.com/lamcatuk/vy-numbers/pkg/outbox/registry"
	"github.com/lamcatuk/vy-numbers/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	requeue := flag.String("requeue", "", "move a dead-lettered event id back into the outbox and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Debug(ctx, "no .env file, using process environment")
	}

	if err := run(ctx, logg, *requeue); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher exited", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, requeue string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.FeatureFlags.UsesDynamo() {
		// slot events live in the dynamo events table
		logg.Warn(ctx, "outbox publisher only serves the sql store backend")
		return nil
	}
	cfg.Service.Kind = serviceName
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeQuietly(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	repo := outbox.NewRepository(dbClient.DB())
	dlqRepo := outbox.NewDLQRepository(dbClient.DB())

	if requeue != "" {
		id, err := uuid.Parse(requeue)
		if err != nil {
			return fmt.Errorf("requeue: %w", err)
		}
		if err := dlqRepo.Requeue(ctx, id); err != nil {
			return fmt.Errorf("requeue %s: %w", id, err)
		}
		logg.Info(logg.WithField(ctx, "event_id", id.String()), "outbox.requeued")
		return nil
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("open pubsub: %w", err)
	}
	defer closeQuietly(logg, "pubsub", pubsubClient.Close)

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    repo,
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
	})
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":    cfg.App.Env,
		"topics": eventRegistry.Topics(),
	})
	logBacklog(ctx, logg, repo, dlqRepo)
	logg.Info(ctx, "outbox publisher started")
	return service.Run(ctx)
}

func closeQuietly(logg *logger.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		logg.Error(context.Background(), "close "+what, err)
	}
}

// logBacklog reports what the publisher inherits from previous runs.
func logBacklog(ctx context.Context, logg *logger.Logger, repo *outbox.Repository, dlq *outbox.DLQRepository) {
	pending, err := repo.CountPending(ctx)
	if err != nil {
		logg.Warn(ctx, "could not count pending outbox events")
		return
	}
	recent, err := dlq.List(ctx, outbox.DLQFilter{Limit: 10})
	if err != nil {
		logg.Warn(ctx, "could not read outbox dlq")
		return
	}
	numbers := make([]string, 0, len(recent))
	for _, entry := range recent {
		numbers = append(numbers, entry.AggregateID)
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"pending":      pending,
		"recentDLQ":    len(recent),
		"recentDLQNum": numbers,
	}), "outbox backlog")
}
