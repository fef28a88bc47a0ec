package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/lamcatuk/vy-numbers/internal/admin"
	"github.com/lamcatuk/vy-numbers/internal/reservations"
	"github.com/lamcatuk/vy-numbers/internal/slots/backend"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/security"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand(openAdmin, loadAdminConfig).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "numbersctl:", err)
		stop()
		os.Exit(1)
	}
}

func loadAdminConfig() (config.AdminConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.AdminConfig{}, err
	}
	return cfg.Admin, nil
}

func openAdmin(ctx context.Context) (admin.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logg := logger.New(logger.Options{
		ServiceName: "numbersctl",
		Level:       cfg.App.LogLevel,
		Output:      os.Stderr,
	})

	store, err := backend.Open(ctx, cfg, logg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			logg.Error(ctx, "error closing slot store", err)
		}
	}

	engine, err := reservations.NewService(reservations.ServiceParams{
		Store:      store.Store,
		Logger:     logg,
		Range:      store.Range,
		DefaultTTL: cfg.Numbers.ClaimTTL,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	svc, err := admin.NewService(admin.ServiceParams{
		Store:  store.Store,
		Engine: engine,
		Hasher: security.NewHasher(cfg.Password),
		Logger: logg,
		Range:  store.Range,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}
