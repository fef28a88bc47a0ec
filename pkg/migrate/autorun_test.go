package migrate_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/migrate"
)

type gormHolder struct{ gdb *gorm.DB }

func (g gormHolder) DB() *gorm.DB { return g.gdb }

func devSQLiteConfig(env string, auto bool) *config.Config {
	return &config.Config{
		App:          config.AppConfig{Env: env},
		DB:           config.DBConfig{Driver: config.DBDriverSQLite},
		FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: auto},
		Numbers:      config.NumbersConfig{Min: 1, Max: 12},
	}
}

func TestMaybeRunDevBootstrapsSQLite(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:autorun_%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, migrate.MaybeRunDev(context.Background(), devSQLiteConfig(config.AppEnvDev, true), logger.Nop(), gormHolder{gdb}))

	var count int64
	require.NoError(t, gdb.Model(&models.Slot{}).Count(&count).Error)
	assert.EqualValues(t, 12, count)
}

func TestMaybeRunDevSkipsOutsideDev(t *testing.T) {
	for name, cfg := range map[string]*config.Config{
		"prod":          devSQLiteConfig(config.AppEnvProd, true),
		"flag disabled": devSQLiteConfig(config.AppEnvDev, false),
	} {
		t.Run(name, func(t *testing.T) {
			// a nil handle would panic if anything ran
			assert.NoError(t, migrate.MaybeRunDev(context.Background(), cfg, logger.Nop(), gormHolder{}))
		})
	}
}
