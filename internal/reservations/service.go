package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/metrics"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
	"github.com/lamcatuk/vy-numbers/pkg/outbox/payloads"
)

const (
	// MaxCallerIDLength matches the reserved_by column width.
	MaxCallerIDLength = 64
	// MaxRefLength matches the order_id/user_id column width.
	MaxRefLength = 64

	opClaim        = "claim"
	opFinalize     = "finalize"
	opRelease      = "release"
	opAdminReserve = "admin_reserve"
	opAdminRelease = "admin_release"

	ConflictMessage = "That number is not available. Please try another."
	NotFoundMessage = "Number not found in table."
)

// Reservation is a successful claim.
type Reservation struct {
	ID         string    `json:"number"`
	ReservedBy string    `json:"-"`
	ExpiresAt  time.Time `json:"reserve_expires"`
}

type FinalizeInput struct {
	ID             string
	OrderRef       string
	OwnerRef       string
	TransactionRef string
}

type FinalizeResult struct {
	ID          string `json:"number"`
	AlreadySold bool   `json:"already_sold"`
}

// FinalizeOutcome is the per-slot result of FinalizeOrder.
type FinalizeOutcome struct {
	ID     string
	Result *FinalizeResult
	Err    error
}

// BulkResult summarizes an admin bulk reserve/release.
type BulkResult struct {
	Requested int      `json:"requested"`
	Applied   []string `json:"applied"`
	Skipped   []string `json:"skipped"`
}

// Service is the only component that moves slots between states.
type Service interface {
	Claim(ctx context.Context, id, callerID string, ttl time.Duration) (*Reservation, error)
	Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error)
	FinalizeOrder(ctx context.Context, inputs []FinalizeInput) []FinalizeOutcome
	Release(ctx context.Context, id string) (bool, error)
	ReleaseFor(ctx context.Context, id, callerID string) (bool, error)
	ReleaseOrder(ctx context.Context, ids []string) (*BulkResult, error)
	AdminReserve(ctx context.Context, id string) (bool, error)
	AdminRelease(ctx context.Context, id string) (bool, error)
	BulkReserve(ctx context.Context, ids []string) (*BulkResult, error)
	BulkRelease(ctx context.Context, ids []string) (*BulkResult, error)
}

type ServiceParams struct {
	Store      slots.Store
	Logger     *logger.Logger
	Clock      func() time.Time
	Range      slots.Range
	DefaultTTL time.Duration
	Metrics    *metrics.ReservationMetrics
}

type service struct {
	store      slots.Store
	logg       *logger.Logger
	now        func() time.Time
	idRange    slots.Range
	defaultTTL time.Duration
	metrics    *metrics.ReservationMetrics
}

func NewService(p ServiceParams) (Service, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("slot store required")
	}
	if p.DefaultTTL <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "default claim ttl must be positive")
	}
	if p.Range == (slots.Range{}) {
		p.Range = slots.DefaultRange()
	}
	if err := p.Range.Validate(); err != nil {
		return nil, err
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	return &service{
		store:      p.Store,
		logg:       p.Logger,
		now:        func() time.Time { return p.Clock().UTC() },
		idRange:    p.Range,
		defaultTTL: p.DefaultTTL,
		metrics:    p.Metrics,
	}, nil
}

func (s *service) Claim(ctx context.Context, id, callerID string, ttl time.Duration) (*Reservation, error) {
	id, err := slots.ParseID(id, s.idRange)
	if err != nil {
		s.metrics.Observe(opClaim, metrics.OutcomeInvalid)
		return nil, err
	}
	callerID = strings.TrimSpace(callerID)
	if callerID == "" || len(callerID) > MaxCallerIDLength {
		s.metrics.Observe(opClaim, metrics.OutcomeInvalid)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "caller identity is required")
	}
	if ttl < 0 {
		s.metrics.Observe(opClaim, metrics.OutcomeInvalid)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ttl must be positive")
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	ctx = s.logg.WithSlotID(ctx, id)
	ctx = s.logg.WithCallerID(ctx, callerID)

	expires := s.now().Add(ttl)
	rows, err := s.store.ConditionalUpdate(ctx, id, []enums.SlotStatus{enums.SlotStatusAvailable}, slots.Change{
		Status:         enums.SlotStatusReserved,
		ReservedBy:     &callerID,
		ReserveExpires: &expires,
	})
	if err != nil {
		s.metrics.Observe(opClaim, metrics.OutcomeFailed)
		s.logg.Error(ctx, "claim.failed", err)
		return nil, storeError(err)
	}
	if rows == 0 {
		missErr := s.missOrConflict(ctx, id)
		s.metrics.Observe(opClaim, outcomeFor(missErr))
		return nil, missErr
	}

	s.metrics.Observe(opClaim, metrics.OutcomeApplied)
	s.logg.Info(s.logg.WithField(ctx, "reserve_expires", expires), "claim.applied")
	return &Reservation{ID: id, ReservedBy: callerID, ExpiresAt: expires}, nil
}

// Finalize marks a slot sold for a paid order. It accepts a lapsed hold and
// is idempotent for slots that are already sold.
func (s *service) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
	id, err := slots.ParseID(in.ID, s.idRange)
	if err != nil {
		s.metrics.Observe(opFinalize, metrics.OutcomeInvalid)
		return nil, err
	}
	in.ID = id
	in.OrderRef = strings.TrimSpace(in.OrderRef)
	in.OwnerRef = strings.TrimSpace(in.OwnerRef)
	in.TransactionRef = strings.TrimSpace(in.TransactionRef)
	if in.OrderRef == "" || in.OwnerRef == "" || len(in.OrderRef) > MaxRefLength || len(in.OwnerRef) > MaxRefLength {
		s.metrics.Observe(opFinalize, metrics.OutcomeInvalid)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and owner references are required")
	}

	ctx = s.logg.WithSlotID(ctx, id)
	ctx = s.logg.WithOrderRef(ctx, in.OrderRef)

	// advisory only; the conditional update below is what decides
	current, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, slots.ErrNotFound):
		s.metrics.Observe(opFinalize, metrics.OutcomeNotFound)
		s.logg.Error(ctx, "finalize.failed", err)
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, NotFoundMessage)
	case err != nil:
		s.metrics.Observe(opFinalize, metrics.OutcomeFailed)
		s.logg.Error(ctx, "finalize.failed", err)
		return nil, storeError(err)
	}
	if current.Status == enums.SlotStatusSold {
		return s.alreadySold(ctx, current, in), nil
	}

	soldAt := s.now()
	change := slots.Change{
		Status: enums.SlotStatusSold,
		Refs: &slots.Refs{
			OrderRef:       &in.OrderRef,
			OwnerRef:       &in.OwnerRef,
			TransactionRef: optional(in.TransactionRef),
		},
		Event: &outbox.DomainEvent{
			EventType:     enums.EventSlotSold,
			AggregateType: enums.AggregateSlot,
			AggregateID:   id,
			Actor:         &outbox.ActorRef{Kind: "order", ID: in.OrderRef},
			OccurredAt:    soldAt,
			Data: payloads.SlotSoldEvent{
				Number:         id,
				OrderRef:       in.OrderRef,
				OwnerRef:       in.OwnerRef,
				TransactionRef: in.TransactionRef,
				SoldAt:         soldAt,
			},
		},
	}
	rows, err := s.store.ConditionalUpdate(ctx, id, []enums.SlotStatus{enums.SlotStatusReserved, enums.SlotStatusAvailable}, change)
	if err != nil {
		s.metrics.Observe(opFinalize, metrics.OutcomeFailed)
		s.logg.Error(ctx, "finalize.failed", err)
		return nil, storeError(err)
	}
	if rows == 1 {
		if current.Status == enums.SlotStatusReserved && current.ReservedBy != nil && current.ReserveExpires != nil &&
			current.ReserveExpires.Before(soldAt) {
			s.logg.Warn(ctx, "finalize.lapsed_hold")
		}
		s.metrics.Observe(opFinalize, metrics.OutcomeApplied)
		s.logg.Info(ctx, "finalize.applied")
		return &FinalizeResult{ID: id}, nil
	}

	// lost a race; a concurrent finalize is the only way out of {reserved, available}
	// that still counts as success
	after, err := s.store.Get(ctx, id)
	if err != nil {
		s.metrics.Observe(opFinalize, metrics.OutcomeFailed)
		s.logg.Error(ctx, "finalize.failed", err)
		return nil, storeError(err)
	}
	if after.Status == enums.SlotStatusSold {
		return s.alreadySold(ctx, after, in), nil
	}
	s.metrics.Observe(opFinalize, metrics.OutcomeConflict)
	s.logg.Error(ctx, "finalize.failed", errors.New("slot changed concurrently"))
	return nil, pkgerrors.New(pkgerrors.CodeConflict, ConflictMessage)
}

// alreadySold is the idempotent finalize answer. A different order on the
// slot means a captured payment without a number, so it is logged as a
// finalize failure for operators to refund or reassign.
func (s *service) alreadySold(ctx context.Context, slot *models.Slot, in FinalizeInput) *FinalizeResult {
	if existing := deref(slot.OrderID); existing != in.OrderRef {
		s.metrics.Observe(opFinalize, metrics.OutcomeConflict)
		s.logg.Error(s.logg.WithField(ctx, "existing_order_ref", existing), "finalize.failed", errSoldToOtherOrder)
	} else {
		s.metrics.Observe(opFinalize, metrics.OutcomeIdempotent)
	}
	return &FinalizeResult{ID: slot.Num, AlreadySold: true}
}

var errSoldToOtherOrder = errors.New("slot already sold to another order")

func (s *service) FinalizeOrder(ctx context.Context, inputs []FinalizeInput) []FinalizeOutcome {
	outcomes := make([]FinalizeOutcome, 0, len(inputs))
	for _, in := range inputs {
		res, err := s.Finalize(ctx, in)
		outcomes = append(outcomes, FinalizeOutcome{ID: in.ID, Result: res, Err: err})
	}
	return outcomes
}

// Release returns a caller reservation to available. Sold slots and slots
// that are not reserved are left alone.
func (s *service) Release(ctx context.Context, id string) (bool, error) {
	return s.release(ctx, id, "")
}

// ReleaseFor only releases a reservation held by callerID.
func (s *service) ReleaseFor(ctx context.Context, id, callerID string) (bool, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		s.metrics.Observe(opRelease, metrics.OutcomeInvalid)
		return false, pkgerrors.New(pkgerrors.CodeValidation, "caller identity is required")
	}
	return s.release(ctx, id, callerID)
}

func (s *service) release(ctx context.Context, id, callerID string) (bool, error) {
	id, err := slots.ParseID(id, s.idRange)
	if err != nil {
		s.metrics.Observe(opRelease, metrics.OutcomeInvalid)
		return false, err
	}
	ctx = s.logg.WithSlotID(ctx, id)

	rows, err := s.store.ConditionalUpdate(ctx, id, []enums.SlotStatus{enums.SlotStatusReserved}, slots.Change{
		Status:            enums.SlotStatusAvailable,
		RequireReservedBy: callerID,
	})
	if err != nil {
		s.metrics.Observe(opRelease, metrics.OutcomeFailed)
		s.logg.Error(ctx, "release.failed", err)
		return false, storeError(err)
	}
	if rows == 0 {
		s.metrics.Observe(opRelease, metrics.OutcomeNoop)
		return false, nil
	}
	s.metrics.Observe(opRelease, metrics.OutcomeApplied)
	s.logg.Info(ctx, "release.applied")
	return true, nil
}

// ReleaseOrder releases every slot of a failed or cancelled order. Invalid
// ids are reported as skipped rather than failing the whole order.
func (s *service) ReleaseOrder(ctx context.Context, ids []string) (*BulkResult, error) {
	return s.bulk(ctx, ids, s.Release)
}

// AdminReserve puts an available slot on an indefinite hold with no caller.
func (s *service) AdminReserve(ctx context.Context, id string) (bool, error) {
	id, err := slots.ParseID(id, s.idRange)
	if err != nil {
		s.metrics.Observe(opAdminReserve, metrics.OutcomeInvalid)
		return false, err
	}
	ctx = s.logg.WithSlotID(ctx, id)

	rows, err := s.store.ConditionalUpdate(ctx, id, []enums.SlotStatus{enums.SlotStatusAvailable}, slots.Change{
		Status: enums.SlotStatusReserved,
	})
	if err != nil {
		s.metrics.Observe(opAdminReserve, metrics.OutcomeFailed)
		s.logg.Error(ctx, "admin_reserve.failed", err)
		return false, storeError(err)
	}
	if rows == 0 {
		if missErr := s.missOrConflict(ctx, id); !pkgerrors.IsCode(missErr, pkgerrors.CodeConflict) {
			s.metrics.Observe(opAdminReserve, outcomeFor(missErr))
			return false, missErr
		}
		s.metrics.Observe(opAdminReserve, metrics.OutcomeNoop)
		return false, nil
	}
	s.metrics.Observe(opAdminReserve, metrics.OutcomeApplied)
	s.logg.Info(ctx, "admin_reserve.applied")
	return true, nil
}

// AdminRelease is the only path from sold back to available. It clears the
// reservation and the order attribution.
func (s *service) AdminRelease(ctx context.Context, id string) (bool, error) {
	id, err := slots.ParseID(id, s.idRange)
	if err != nil {
		s.metrics.Observe(opAdminRelease, metrics.OutcomeInvalid)
		return false, err
	}
	ctx = s.logg.WithSlotID(ctx, id)

	previous, err := s.store.Get(ctx, id)
	if errors.Is(err, slots.ErrNotFound) {
		s.metrics.Observe(opAdminRelease, metrics.OutcomeNotFound)
		return false, pkgerrors.New(pkgerrors.CodeNotFound, NotFoundMessage)
	}
	if err != nil {
		s.metrics.Observe(opAdminRelease, metrics.OutcomeFailed)
		s.logg.Error(ctx, "admin_release.failed", err)
		return false, storeError(err)
	}
	if previous.Status == enums.SlotStatusAvailable {
		s.metrics.Observe(opAdminRelease, metrics.OutcomeNoop)
		return false, nil
	}

	releasedAt := s.now()
	rows, err := s.store.ConditionalUpdate(ctx, id, []enums.SlotStatus{previous.Status}, slots.Change{
		Status: enums.SlotStatusAvailable,
		Refs:   &slots.Refs{},
		Event: &outbox.DomainEvent{
			EventType:     enums.EventSlotReleased,
			AggregateType: enums.AggregateSlot,
			AggregateID:   id,
			Actor:         &outbox.ActorRef{Kind: "admin"},
			OccurredAt:    releasedAt,
			Data: payloads.SlotReleasedEvent{
				Number:           id,
				PreviousStatus:   previous.Status.String(),
				PreviousOrderRef: deref(previous.OrderID),
				Reason:           "admin_release",
				ReleasedAt:       releasedAt,
			},
		},
	})
	if err != nil {
		s.metrics.Observe(opAdminRelease, metrics.OutcomeFailed)
		s.logg.Error(ctx, "admin_release.failed", err)
		return false, storeError(err)
	}
	if rows == 0 {
		s.metrics.Observe(opAdminRelease, metrics.OutcomeNoop)
		return false, nil
	}
	s.metrics.Observe(opAdminRelease, metrics.OutcomeApplied)
	s.logg.Info(s.logg.WithField(ctx, "previous_status", previous.Status), "admin_release.applied")
	return true, nil
}

func (s *service) BulkReserve(ctx context.Context, ids []string) (*BulkResult, error) {
	return s.bulk(ctx, ids, s.AdminReserve)
}

func (s *service) BulkRelease(ctx context.Context, ids []string) (*BulkResult, error) {
	return s.bulk(ctx, ids, s.AdminRelease)
}

// bulk applies op to each id independently. Only store failures abort.
func (s *service) bulk(ctx context.Context, ids []string, op func(context.Context, string) (bool, error)) (*BulkResult, error) {
	result := &BulkResult{Requested: len(ids), Applied: []string{}, Skipped: []string{}}
	for _, id := range ids {
		applied, err := op(ctx, id)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
				return result, err
			}
			result.Skipped = append(result.Skipped, id)
			continue
		}
		if applied {
			result.Applied = append(result.Applied, id)
		} else {
			result.Skipped = append(result.Skipped, id)
		}
	}
	return result, nil
}

// missOrConflict tells a missing row from a state mismatch after a 0-row update.
func (s *service) missOrConflict(ctx context.Context, id string) error {
	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		s.logg.Error(ctx, "slot.exists_check_failed", err)
		return storeError(err)
	}
	if !exists {
		return pkgerrors.New(pkgerrors.CodeNotFound, NotFoundMessage)
	}
	return pkgerrors.New(pkgerrors.CodeConflict, ConflictMessage)
}

func outcomeFor(err error) string {
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return metrics.OutcomeNotFound
	case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeFailed
	}
}

func storeError(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "slot store unavailable")
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
