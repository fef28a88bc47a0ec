package migrate

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
)

const seedBatchSize = 500

// Bootstrap creates the schema from the gorm models and seeds every slot in
// [min,max] as available. Existing rows are left untouched. Used for sqlite
// databases in local development and tests.
func Bootstrap(ctx context.Context, gdb *gorm.DB, min, max int) (int64, error) {
	if gdb == nil {
		return 0, fmt.Errorf("db is required")
	}
	if err := gdb.WithContext(ctx).AutoMigrate(&models.Slot{}, &models.OutboxEvent{}, &models.OutboxDLQ{}); err != nil {
		return 0, fmt.Errorf("auto migrate: %w", err)
	}
	return SeedSlots(ctx, gdb, min, max)
}

// SeedSlots inserts any missing slot in [min,max] as available.
func SeedSlots(ctx context.Context, gdb *gorm.DB, min, max int) (int64, error) {
	if min < 1 || max > 9999 || min > max {
		return 0, fmt.Errorf("invalid seed range [%d,%d]", min, max)
	}
	var inserted int64
	batch := make([]models.Slot, 0, seedBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res := gdb.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "num"}}, DoNothing: true}).
			Create(&batch)
		if res.Error != nil {
			return res.Error
		}
		inserted += res.RowsAffected
		batch = batch[:0]
		return nil
	}
	now := time.Now().UTC()
	for n := min; n <= max; n++ {
		batch = append(batch, models.Slot{Num: fmt.Sprintf("%04d", n), Status: enums.SlotStatusAvailable, UpdatedAt: now})
		if len(batch) == seedBatchSize {
			if err := flush(); err != nil {
				return inserted, fmt.Errorf("seed slots: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, fmt.Errorf("seed slots: %w", err)
	}
	return inserted, nil
}
