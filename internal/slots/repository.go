package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	"github.com/lamcatuk/vy-numbers/pkg/migrate"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
	"github.com/lamcatuk/vy-numbers/pkg/pagination"
)

// Repository is the gorm-backed Store.
type Repository struct {
	db       *gorm.DB
	events   *outbox.Service
	pageSize int
	now      func() time.Time
}

// RepositoryParams wires a Repository. Events receives the outbox rows that
// commit together with sells and admin releases.
type RepositoryParams struct {
	DB       *gorm.DB
	Events   *outbox.Service
	PageSize int
}

var _ Store = (*Repository)(nil)

func NewRepository(p RepositoryParams) (*Repository, error) {
	if p.DB == nil {
		return nil, errors.New("db is required")
	}
	if p.Events == nil {
		return nil, errors.New("outbox service is required")
	}
	return &Repository{
		db:       p.DB,
		events:   p.Events,
		pageSize: p.PageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Slot, error) {
	var slot models.Slot
	err := r.db.WithContext(ctx).Where("num = ?", id).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Slot{}).
		Where("num = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) ConditionalUpdate(ctx context.Context, id string, expected []enums.SlotStatus, change Change) (int64, error) {
	if len(expected) == 0 {
		return 0, errors.New("expected statuses are required")
	}
	if !change.Status.IsValid() {
		return 0, fmt.Errorf("invalid target status %q", change.Status)
	}
	if change.Event == nil {
		return r.conditionalUpdate(r.db.WithContext(ctx), id, expected, change)
	}

	var rows int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := r.conditionalUpdate(tx, id, expected, change)
		if err != nil {
			return err
		}
		rows = n
		if n == 0 {
			return nil
		}
		return r.events.Emit(ctx, tx, *change.Event)
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func (r *Repository) conditionalUpdate(tx *gorm.DB, id string, expected []enums.SlotStatus, change Change) (int64, error) {
	updates := map[string]any{
		"status":          change.Status,
		"reserved_by":     change.ReservedBy,
		"reserve_expires": change.ReserveExpires,
		"updated_at":      r.now(),
	}
	if change.Refs != nil {
		updates["order_id"] = change.Refs.OrderRef
		updates["user_id"] = change.Refs.OwnerRef
		updates["txn_ref"] = change.Refs.TransactionRef
	}

	query := tx.Model(&models.Slot{}).Where("num = ? AND status IN ?", id, statusStrings(expected))
	if change.RequireReservedBy != "" {
		query = query.Where("reserved_by = ?", change.RequireReservedBy)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *Repository) List(ctx context.Context, params ListParams) (*ListResult, error) {
	page := params.Page.Normalize(r.pageSize)

	query := r.db.WithContext(ctx).Model(&models.Slot{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if search := strings.TrimSpace(params.Search); search != "" {
		// ids are digits only, so anything else can never match
		if !isDigits(search) {
			return &ListResult{Slots: []models.Slot{}, Page: pagination.NewPage(page, 0)}, nil
		}
		query = query.Where("num LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []models.Slot
	if err := query.
		Order("num ASC").
		Limit(page.PageSize).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	return &ListResult{Slots: rows, Page: pagination.NewPage(page, total)}, nil
}

// SweepExpired compares against CURRENT_TIMESTAMP so the database clock is
// the only clock involved. Sold rows never match since finalize clears the
// expiry, and admin holds carry no expiry at all.
func (r *Repository) SweepExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Slot{}).
		Where("status = ? AND reserve_expires IS NOT NULL AND reserve_expires < CURRENT_TIMESTAMP", enums.SlotStatusReserved).
		Updates(map[string]any{
			"status":          enums.SlotStatusAvailable,
			"reserved_by":     nil,
			"reserve_expires": nil,
			"updated_at":      r.now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *Repository) ResetAll(ctx context.Context) (int64, error) {
	updates := map[string]any{
		"status":          enums.SlotStatusAvailable,
		"reserved_by":     nil,
		"reserve_expires": nil,
		"order_id":        nil,
		"user_id":         nil,
		"txn_ref":         nil,
		"updated_at":      r.now(),
	}
	for _, column := range models.AttributeColumns() {
		updates[column] = ""
	}

	var reset int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Model(&models.Slot{}).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		// the whole id space, not just the sellable range; ids are never removed
		seeded, err := migrate.SeedSlots(ctx, tx, MinID, MaxID)
		if err != nil {
			return err
		}
		reset = result.RowsAffected + seeded
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

// ImportRecords writes each record as an admin hold with its attributes. A
// record only applies to a slot that is available or already an admin hold.
func (r *Repository) ImportRecords(ctx context.Context, records []ImportRecord) (*ImportResult, error) {
	out := &ImportResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			result := tx.Model(&models.Slot{}).
				Where("num = ? AND (status = ? OR (status = ? AND reserved_by IS NULL))",
					rec.ID, enums.SlotStatusAvailable, enums.SlotStatusReserved).
				Updates(map[string]any{
					"status":          enums.SlotStatusReserved,
					"reserved_by":     nil,
					"reserve_expires": nil,
					"association":     rec.Association,
					"nickname":        rec.Nickname,
					"category":        rec.Category,
					"country":         rec.Country,
					"significance":    rec.Significance,
					"updated_at":      r.now(),
				})
			if result.Error != nil {
				return fmt.Errorf("import %s: %w", rec.ID, result.Error)
			}
			if result.RowsAffected == 0 {
				out.Skipped = append(out.Skipped, rec.ID)
				continue
			}
			out.Applied++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) UpdateSlot(ctx context.Context, id string, edit Edit) (int64, error) {
	if !edit.Status.IsValid() || !edit.Expected.IsValid() {
		return 0, errors.New("edit requires valid expected and target statuses")
	}

	updates := map[string]any{
		"status":     edit.Status,
		"updated_at": r.now(),
	}
	if !edit.KeepsReservation() {
		updates["reserved_by"] = nil
		updates["reserve_expires"] = nil
	}
	if edit.Refs != nil {
		updates["order_id"] = edit.Refs.OrderRef
		updates["user_id"] = edit.Refs.OwnerRef
		updates["txn_ref"] = edit.Refs.TransactionRef
	}
	if edit.Attributes != nil {
		for column, value := range profileColumns(*edit.Attributes) {
			updates[column] = value
		}
	}
	if edit.PasswordHash != nil {
		updates["password_hash"] = *edit.PasswordHash
	}

	result := r.db.WithContext(ctx).
		Model(&models.Slot{}).
		Where("num = ? AND status = ?", id, edit.Expected).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *Repository) Counts(ctx context.Context) (map[enums.SlotStatus]int64, error) {
	type row struct {
		Status enums.SlotStatus
		Total  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Slot{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[enums.SlotStatus]int64, len(enums.SlotStatuses()))
	for _, status := range enums.SlotStatuses() {
		counts[status] = 0
	}
	for _, rw := range rows {
		counts[rw.Status] = rw.Total
	}
	return counts, nil
}

func profileColumns(attrs models.SlotAttributes) map[string]any {
	return map[string]any{
		"association":         attrs.Association,
		"nickname":            attrs.Nickname,
		"category":            attrs.Category,
		"country":             attrs.Country,
		"significance":        attrs.Significance,
		"first_name":          attrs.FirstName,
		"last_name":           attrs.LastName,
		"city":                attrs.City,
		"state":               attrs.State,
		"profession":          attrs.Profession,
		"bio":                 attrs.Bio,
		"founder_date":        attrs.FounderDate,
		"instagram":           attrs.Instagram,
		"twitter":             attrs.Twitter,
		"linkedin":            attrs.LinkedIn,
		"website":             attrs.Website,
		"profile_picture_url": attrs.ProfilePictureURL,
	}
}

func statusStrings(statuses []enums.SlotStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s.String())
	}
	return out
}

func isDigits(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return value != ""
}
