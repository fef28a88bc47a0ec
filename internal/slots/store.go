package slots

import (
	"context"
	"errors"
	"time"

	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
	"github.com/lamcatuk/vy-numbers/pkg/pagination"
)

// ErrNotFound is returned by Get when no slot carries the id.
var ErrNotFound = errors.New("slot not found")

// Store is the persistence surface for slots. Every state transition goes
// through a single conditional write; implementations never read-then-write.
type Store interface {
	Get(ctx context.Context, id string) (*models.Slot, error)
	Exists(ctx context.Context, id string) (bool, error)
	// ConditionalUpdate applies change only when the slot's current status is
	// one of expected. It returns the number of rows written (0 or 1).
	ConditionalUpdate(ctx context.Context, id string, expected []enums.SlotStatus, change Change) (int64, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	// SweepExpired releases every caller reservation whose expiry has passed
	// according to the store's own clock.
	SweepExpired(ctx context.Context) (int64, error)
	// ResetAll returns every slot to available and clears all attribution and
	// attributes. Missing ids in 0001-9999 are recreated; none are deleted.
	// Destructive.
	ResetAll(ctx context.Context) (int64, error)
	ImportRecords(ctx context.Context, records []ImportRecord) (*ImportResult, error)
	UpdateSlot(ctx context.Context, id string, edit Edit) (int64, error)
	Counts(ctx context.Context) (map[enums.SlotStatus]int64, error)
}

// Refs carries the order attribution written on sale. A nil field is stored as NULL.
type Refs struct {
	OrderRef       *string
	OwnerRef       *string
	TransactionRef *string
}

// Change is the target state of a conditional update. ReservedBy and
// ReserveExpires are always written, so leaving them nil clears them.
type Change struct {
	Status         enums.SlotStatus
	ReservedBy     *string
	ReserveExpires *time.Time
	// Refs replaces order attribution when set; nil leaves it untouched.
	Refs *Refs
	// RequireReservedBy narrows the precondition to reservations held by this caller.
	RequireReservedBy string
	// Event is written to the outbox in the same transaction when the update applies.
	Event *outbox.DomainEvent
}

type ListParams struct {
	Status enums.SlotStatus
	Search string
	Page   pagination.Params
}

type ListResult struct {
	Slots []models.Slot
	Page  pagination.Page
}

// ImportRecord is one row of an admin import. The id must already be normalized.
type ImportRecord struct {
	ID           string
	Association  string
	Nickname     string
	Category     string
	Country      string
	Significance string
}

// ImportResult reports which records were written. Skipped ids were missing,
// sold, or held by a shopper.
type ImportResult struct {
	Applied int64
	Skipped []string
}

// Edit is an admin override of one slot. Expected is the status the admin
// observed; the write only applies if it still holds.
type Edit struct {
	Expected     enums.SlotStatus
	Status       enums.SlotStatus
	Refs         *Refs
	Attributes   *models.SlotAttributes
	PasswordHash *string
}

// KeepsReservation reports whether an edit leaves a live reservation in place.
func (e Edit) KeepsReservation() bool {
	return e.Expected == enums.SlotStatusReserved && e.Status == enums.SlotStatusReserved
}
