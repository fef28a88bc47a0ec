package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/pkg/db/models"
)

const defaultDLQPage = 50

// DLQRepository reads and writes outbox_dlq, where slot events that will
// never be published are parked.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	switch {
	case tx == nil:
		return errors.New("transaction required")
	case !entry.ErrorReason.IsValid():
		return fmt.Errorf("invalid dlq reason %q", entry.ErrorReason)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncateError(errors.New(*entry.ErrorMessage))
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// DLQFilter narrows List. Zero values match everything.
type DLQFilter struct {
	Number string
	Limit  int
}

// List returns the newest dead-lettered events first.
func (r *DLQRepository) List(ctx context.Context, f DLQFilter) ([]models.OutboxDLQ, error) {
	q := r.db.WithContext(ctx).Order("failed_at DESC")
	if f.Number != "" {
		q = q.Where("aggregate_id = ?", f.Number)
	}
	if f.Limit <= 0 {
		f.Limit = defaultDLQPage
	}
	var rows []models.OutboxDLQ
	err := q.Limit(f.Limit).Find(&rows).Error
	return rows, err
}

// ErrNotDeadLettered is returned by Requeue for an event id with no DLQ entry.
var ErrNotDeadLettered = errors.New("event is not in the dlq")

// Requeue hands a dead-lettered event back to the publisher: the outbox row
// gets a fresh attempt budget and the DLQ entry is removed.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotDeadLettered
		}
		res = tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published_at IS NULL", eventID).
			Updates(map[string]any{"attempt_count": 0, "last_error": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("outbox row %s is gone or already published", eventID)
		}
		return nil
	})
}
