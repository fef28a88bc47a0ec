// Package backend opens the slot store selected by VY_STORE_BACKEND.
package backend

import (
	"context"
	"fmt"

	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/internal/slots/dynamostore"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/db"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/migrate"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
)

// Backend is an opened slot store. DB is nil on the dynamo backend.
type Backend struct {
	Store slots.Store
	DB    *db.Client
	Range slots.Range
	ping  func(context.Context) error
}

// Open connects the configured store. The sql backend also runs dev
// auto-migrations and wires the outbox so sold/released events are recorded.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Backend, error) {
	idRange := slots.Range{Min: cfg.Numbers.Min, Max: cfg.Numbers.Max}
	if err := idRange.Validate(); err != nil {
		return nil, err
	}

	if cfg.FeatureFlags.UsesDynamo() {
		client, err := dynamostore.NewClient(ctx, cfg.Dynamo)
		if err != nil {
			return nil, err
		}
		store, err := dynamostore.New(client, dynamostore.Params{
			SlotsTable:  cfg.Dynamo.SlotsTable,
			EventsTable: cfg.Dynamo.EventsTable,
			Range:       idRange,
			PageSize:    cfg.Numbers.AdminPageSize,
			Logger:      logg,
		})
		if err != nil {
			return nil, err
		}
		logg.Info(logg.WithField(ctx, "table", cfg.Dynamo.SlotsTable), "slot store: dynamodb")
		return &Backend{Store: store, Range: idRange, ping: store.Ping}, nil
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	repo, err := slots.NewRepository(slots.RepositoryParams{
		DB:       dbClient.DB(),
		Events:   outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		PageSize: cfg.Numbers.AdminPageSize,
	})
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	logg.Info(logg.WithField(ctx, "driver", cfg.DB.Driver), "slot store: sql")
	return &Backend{Store: repo, DB: dbClient, Range: idRange, ping: dbClient.Ping}, nil
}

// Ping checks the underlying store.
func (b *Backend) Ping(ctx context.Context) error {
	if b == nil || b.ping == nil {
		return fmt.Errorf("slot store not opened")
	}
	return b.ping(ctx)
}

func (b *Backend) Close() error {
	if b == nil || b.DB == nil {
		return nil
	}
	return b.DB.Close()
}
