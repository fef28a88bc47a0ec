package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lamcatuk/vy-numbers/internal/reservations"
	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/metrics"
	"github.com/lamcatuk/vy-numbers/pkg/pagination"
	"github.com/lamcatuk/vy-numbers/pkg/security"
)

const (
	ResetConfirmation       = "RESET"
	generatedPasswordLength = 12
)

type BulkAction string

const (
	BulkReserve BulkAction = "reserve"
	BulkRelease BulkAction = "release"
)

type ListInput struct {
	Status   string
	Search   string
	Page     int
	PageSize int
}

type Summary struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Sold      int64 `json:"sold"`
}

// BulkOutcome extends the engine result with tokens that were not numbers.
type BulkOutcome struct {
	reservations.BulkResult
	Invalid []string `json:"invalid"`
}

// EditInput overrides one slot. Attributes and passwords only apply to sold slots.
type EditInput struct {
	Status           string
	OrderRef         string
	OwnerRef         string
	TransactionRef   string
	Attributes       *models.SlotAttributes
	Password         string
	GeneratePassword bool
}

type EditResult struct {
	ID                string           `json:"number"`
	Status            enums.SlotStatus `json:"status"`
	PasswordSet       bool             `json:"password_set"`
	GeneratedPassword string           `json:"generated_password,omitempty"`
}

// Service is the operator surface over the slot store and the engine.
type Service interface {
	List(ctx context.Context, in ListInput) (*slots.ListResult, error)
	Summary(ctx context.Context) (*Summary, error)
	Reserve(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) (bool, error)
	Bulk(ctx context.Context, action BulkAction, blob string) (*BulkOutcome, error)
	Import(ctx context.Context, r io.Reader) (*ImportReport, error)
	Edit(ctx context.Context, id string, in EditInput) (*EditResult, error)
	Reset(ctx context.Context, confirm string) (int64, error)
	Sweep(ctx context.Context) (int64, error)
}

type ServiceParams struct {
	Store   slots.Store
	Engine  reservations.Service
	Hasher  *security.Hasher
	Logger  *logger.Logger
	Metrics *metrics.ReservationMetrics
	Range   slots.Range
}

type service struct {
	store   slots.Store
	engine  reservations.Service
	hasher  *security.Hasher
	logg    *logger.Logger
	metrics *metrics.ReservationMetrics
	idRange slots.Range
}

func NewService(p ServiceParams) (Service, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("slot store required")
	}
	if p.Engine == nil {
		return nil, fmt.Errorf("reservation engine required")
	}
	if p.Hasher == nil {
		return nil, fmt.Errorf("password hasher required")
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
	return &service{
		store:   p.Store,
		engine:  p.Engine,
		hasher:  p.Hasher,
		logg:    p.Logger,
		metrics: p.Metrics,
		idRange: p.Range,
	}, nil
}

func (s *service) List(ctx context.Context, in ListInput) (*slots.ListResult, error) {
	params := slots.ListParams{
		Search: strings.TrimSpace(in.Search),
		Page:   pagination.Params{Page: in.Page, PageSize: in.PageSize},
	}
	if raw := strings.TrimSpace(in.Status); raw != "" {
		status, err := enums.ParseSlotStatus(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown status filter")
		}
		params.Status = status
	}
	res, err := s.store.List(ctx, params)
	if err != nil {
		return nil, storeError(err)
	}
	return res, nil
}

func (s *service) Summary(ctx context.Context) (*Summary, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	snapshot := make(map[string]int64, len(counts))
	out := &Summary{}
	for status, n := range counts {
		snapshot[status.String()] = n
		out.Total += n
	}
	out.Available = counts[enums.SlotStatusAvailable]
	out.Reserved = counts[enums.SlotStatusReserved]
	out.Sold = counts[enums.SlotStatusSold]
	s.metrics.SetInventory(snapshot)
	return out, nil
}

func (s *service) Reserve(ctx context.Context, id string) (bool, error) {
	return s.engine.AdminReserve(ctx, id)
}

func (s *service) Release(ctx context.Context, id string) (bool, error) {
	return s.engine.AdminRelease(ctx, id)
}

// Bulk applies action to every number found in a free-text blob.
func (s *service) Bulk(ctx context.Context, action BulkAction, blob string) (*BulkOutcome, error) {
	ids, invalid := slots.ParseIDList(blob, s.idRange)
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "No valid 4-digit numbers found.").
			WithDetails(map[string]any{"invalid": invalid})
	}

	var (
		res *reservations.BulkResult
		err error
	)
	switch action {
	case BulkReserve:
		res, err = s.engine.BulkReserve(ctx, ids)
	case BulkRelease:
		res, err = s.engine.BulkRelease(ctx, ids)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown bulk action %q", action))
	}
	if err != nil {
		return nil, err
	}

	if invalid == nil {
		invalid = []string{}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"action":  string(action),
		"applied": len(res.Applied),
		"skipped": len(res.Skipped),
		"invalid": len(invalid),
	}), "admin.bulk")
	return &BulkOutcome{BulkResult: *res, Invalid: invalid}, nil
}

// Edit overrides one slot's status and metadata. The write is conditional on
// the status read at the start, so a concurrent claim or sale is not lost.
func (s *service) Edit(ctx context.Context, id string, in EditInput) (*EditResult, error) {
	id, err := slots.ParseID(id, s.idRange)
	if err != nil {
		return nil, err
	}
	target, err := enums.ParseSlotStatus(in.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "Invalid status.")
	}
	ctx = s.logg.WithSlotID(ctx, id)

	current, err := s.store.Get(ctx, id)
	if errors.Is(err, slots.ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, reservations.NotFoundMessage)
	}
	if err != nil {
		return nil, storeError(err)
	}

	edit := slots.Edit{Expected: current.Status, Status: target}
	result := &EditResult{ID: id, Status: target}

	switch target {
	case enums.SlotStatusSold:
		refs, err := soldRefs(current, in)
		if err != nil {
			return nil, err
		}
		edit.Refs = refs
		edit.Attributes = in.Attributes
		password, generated, err := s.password(in)
		if err != nil {
			return nil, err
		}
		if password != "" {
			hash, err := s.hasher.Hash(password)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
			}
			edit.PasswordHash = &hash
			result.PasswordSet = true
			if generated {
				result.GeneratedPassword = password
			}
		}
	default:
		if in.Password != "" || in.GeneratePassword {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "passwords can only be set on sold numbers")
		}
		edit.Refs = &slots.Refs{}
	}

	rows, err := s.store.UpdateSlot(ctx, id, edit)
	if err != nil {
		s.logg.Error(ctx, "admin.edit_failed", err)
		return nil, storeError(err)
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "Number changed while it was being edited. Reload and try again.")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"previous_status": current.Status.String(),
		"status":          target.String(),
		"password_set":    result.PasswordSet,
	}), "admin.edit")
	return result, nil
}

func (s *service) password(in EditInput) (string, bool, error) {
	if in.GeneratePassword {
		password, err := security.GenerateTempPassword(generatedPasswordLength)
		if err != nil {
			return "", false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate password")
		}
		return password, true, nil
	}
	return in.Password, false, nil
}

// soldRefs keeps existing attribution when the edit leaves the refs blank.
func soldRefs(current *models.Slot, in EditInput) (*slots.Refs, error) {
	order := strings.TrimSpace(in.OrderRef)
	owner := strings.TrimSpace(in.OwnerRef)
	txn := strings.TrimSpace(in.TransactionRef)
	if order == "" && owner == "" && txn == "" {
		if current.OrderID == nil || current.UserID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "sold numbers need an order and owner reference")
		}
		return nil, nil
	}
	if order == "" || owner == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sold numbers need an order and owner reference")
	}
	if len(order) > reservations.MaxRefLength || len(owner) > reservations.MaxRefLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and owner references are too long")
	}
	refs := &slots.Refs{OrderRef: &order, OwnerRef: &owner}
	if txn != "" {
		refs.TransactionRef = &txn
	}
	return refs, nil
}

// Reset returns every number to available and wipes all attribution. It is
// destructive and cannot be undone.
func (s *service) Reset(ctx context.Context, confirm string) (int64, error) {
	if confirm != ResetConfirmation {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("type %s to confirm the reset", ResetConfirmation))
	}
	n, err := s.store.ResetAll(ctx)
	if err != nil {
		s.logg.Error(ctx, "admin.reset_failed", err)
		return 0, storeError(err)
	}
	s.logg.Warn(s.logg.WithField(ctx, "slots", n), "admin.reset")
	return n, nil
}

func (s *service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.SweepExpired(ctx)
	if err != nil {
		return 0, storeError(err)
	}
	s.metrics.AddSwept(n)
	s.logg.Info(s.logg.WithField(ctx, "released", n), "admin.sweep")
	return n, nil
}

func storeError(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "slot store unavailable")
}
