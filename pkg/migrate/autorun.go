package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
)

type gormProvider interface {
	DB() *gorm.DB
}

// MaybeRunDev prepares the schema on dev boots with VY_AUTO_MIGRATE set.
// sqlite is built from the models and seeded directly; postgres goes through
// the checked-in goose files.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client gormProvider) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithField(ctx, "driver", cfg.DB.Driver)

	if cfg.DB.IsSQLite() {
		seeded, err := Bootstrap(ctx, client.DB(), cfg.Numbers.Min, cfg.Numbers.Max)
		if err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
		logg.Info(logg.WithField(ctx, "seeded", seeded), "migrate.sqlite_ready")
		return nil
	}

	if err := ValidateDir(DefaultDir); err != nil {
		return err
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	logg.Info(logg.WithField(ctx, "dir", DefaultDir), "migrate.up_done")
	return nil
}
