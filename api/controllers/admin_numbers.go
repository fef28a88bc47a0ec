package controllers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lamcatuk/vy-numbers/api/responses"
	"github.com/lamcatuk/vy-numbers/api/validators"
	"github.com/lamcatuk/vy-numbers/internal/admin"
	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/pagination"
)

const maxImportBytes = 5 << 20

type slotView struct {
	Number         string                `json:"number"`
	Status         string                `json:"status"`
	ReservedBy     *string               `json:"reserved_by,omitempty"`
	ReserveExpires *time.Time            `json:"reserve_expires,omitempty"`
	OrderRef       *string               `json:"order_ref,omitempty"`
	OwnerRef       *string               `json:"owner_ref,omitempty"`
	TransactionRef *string               `json:"transaction_ref,omitempty"`
	Attributes     models.SlotAttributes `json:"attributes"`
	PasswordSet    bool                  `json:"password_set"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

type slotListResponse struct {
	Numbers []slotView      `json:"numbers"`
	Page    pagination.Page `json:"page"`
}

type toggleResponse struct {
	Number  string `json:"number"`
	Applied bool   `json:"applied"`
}

type bulkRequest struct {
	Action  string `json:"action" validate:"required,oneof=reserve release"`
	Numbers string `json:"numbers" validate:"required"`
}

type editRequest struct {
	Status           string                 `json:"status" validate:"required,oneof=available reserved sold"`
	OrderRef         string                 `json:"order_ref" validate:"omitempty,max=64,ref"`
	OwnerRef         string                 `json:"owner_ref" validate:"omitempty,max=64,ref"`
	TransactionRef   string                 `json:"transaction_ref" validate:"omitempty,max=128,ref"`
	Attributes       *models.SlotAttributes `json:"attributes"`
	Password         string                 `json:"password" validate:"omitempty,min=8,max=128"`
	GeneratePassword bool                   `json:"generate_password"`
}

type resetRequest struct {
	Confirm string `json:"confirm" validate:"required"`
}

func newSlotView(s models.Slot) slotView {
	attrs := s.Attributes
	passwordSet := attrs.PasswordHash != ""
	attrs.PasswordHash = ""
	return slotView{
		Number:         s.Num,
		Status:         s.Status.String(),
		ReservedBy:     s.ReservedBy,
		ReserveExpires: s.ReserveExpires,
		OrderRef:       s.OrderID,
		OwnerRef:       s.UserID,
		TransactionRef: s.TxnRef,
		Attributes:     attrs,
		PasswordSet:    passwordSet,
		UpdatedAt:      s.UpdatedAt,
	}
}

// AdminListNumbers pages through the inventory with optional status and
// number-substring filters.
func AdminListNumbers(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		page, err := validators.ParseQueryInt(r, "page", 1, 1, 10000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pageSize, err := validators.ParseQueryInt(r, "page_size", 0, 0, pagination.MaxPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		q := r.URL.Query()
		res, err := svc.List(r.Context(), admin.ListInput{
			Status:   q.Get("status"),
			Search:   validators.SanitizeDigits(q.Get("search"), slots.IDWidth),
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]slotView, 0, len(res.Slots))
		for _, s := range res.Slots {
			views = append(views, newSlotView(s))
		}
		responses.WriteSuccess(w, slotListResponse{Numbers: views, Page: res.Page})
	}
}

func AdminNumbersSummary(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		summary, err := svc.Summary(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// AdminReserveNumber places an indefinite admin hold on an available number.
func AdminReserveNumber(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		num := chi.URLParam(r, "num")
		applied, err := svc.Reserve(r.Context(), num)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toggleResponse{Number: num, Applied: applied})
	}
}

// AdminReleaseNumber reopens a reserved or sold number.
func AdminReleaseNumber(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		num := chi.URLParam(r, "num")
		applied, err := svc.Release(r.Context(), num)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toggleResponse{Number: num, Applied: applied})
	}
}

func AdminBulkNumbers(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		var payload bulkRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Bulk(r.Context(), admin.BulkAction(payload.Action), payload.Numbers)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// AdminImportNumbers accepts a CSV upload either as the raw body or as the
// "file" field of a multipart form.
func AdminImportNumbers(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
		var body io.Reader = r.Body
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			file, _, err := r.FormFile("file")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "multipart upload needs a file field"))
				return
			}
			defer file.Close()
			body = file
		}

		report, err := svc.Import(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// AdminEditNumber overrides a number's status, attribution and profile.
func AdminEditNumber(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		var payload editRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Edit(r.Context(), chi.URLParam(r, "num"), admin.EditInput{
			Status:           payload.Status,
			OrderRef:         payload.OrderRef,
			OwnerRef:         payload.OwnerRef,
			TransactionRef:   payload.TransactionRef,
			Attributes:       sanitizeAttributes(payload.Attributes),
			Password:         payload.Password,
			GeneratePassword: payload.GeneratePassword,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// AdminResetNumbers returns the whole inventory to available. Destructive.
func AdminResetNumbers(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		var payload resetRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		n, err := svc.Reset(r.Context(), payload.Confirm)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"reset": n})
	}
}

func AdminSweep(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		n, err := svc.Sweep(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"released": n})
	}
}

// profile field caps, in runes
const (
	maxShortField = 120
	maxBioField   = 2000
	maxURLField   = 500
)

func sanitizeAttributes(in *models.SlotAttributes) *models.SlotAttributes {
	if in == nil {
		return nil
	}
	out := models.SlotAttributes{
		Association:       validators.SanitizeText(in.Association, maxShortField),
		Nickname:          validators.SanitizeText(in.Nickname, maxShortField),
		Category:          validators.SanitizeText(in.Category, maxShortField),
		Country:           validators.SanitizeText(in.Country, maxShortField),
		Significance:      validators.SanitizeText(in.Significance, maxBioField),
		FirstName:         validators.SanitizeText(in.FirstName, maxShortField),
		LastName:          validators.SanitizeText(in.LastName, maxShortField),
		City:              validators.SanitizeText(in.City, maxShortField),
		State:             validators.SanitizeText(in.State, maxShortField),
		Profession:        validators.SanitizeText(in.Profession, maxShortField),
		Bio:               validators.SanitizeText(in.Bio, maxBioField),
		FounderDate:       validators.SanitizeText(in.FounderDate, maxShortField),
		Instagram:         validators.SanitizeText(in.Instagram, maxShortField),
		Twitter:           validators.SanitizeText(in.Twitter, maxShortField),
		LinkedIn:          validators.SanitizeText(in.LinkedIn, maxURLField),
		Website:           validators.SanitizeText(in.Website, maxURLField),
		ProfilePictureURL: validators.SanitizeText(in.ProfilePictureURL, maxURLField),
	}
	return &out
}
