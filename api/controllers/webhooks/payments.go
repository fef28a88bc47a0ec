package webhooks

import (
	"net/http"

	"github.com/lamcatuk/vy-numbers/api/responses"
	"github.com/lamcatuk/vy-numbers/api/validators"
	"github.com/lamcatuk/vy-numbers/internal/reservations"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
)

type paymentSucceededRequest struct {
	OrderRef       string   `json:"order_ref" validate:"required,max=64,ref"`
	OwnerRef       string   `json:"owner_ref" validate:"required,max=64,ref"`
	TransactionRef string   `json:"transaction_ref" validate:"omitempty,max=128,ref"`
	Numbers        []string `json:"numbers" validate:"required,min=1,max=50"`
}

type paymentFailedRequest struct {
	OrderRef string   `json:"order_ref" validate:"required,max=64,ref"`
	Numbers  []string `json:"numbers" validate:"required,min=1,max=50"`
}

type finalizeOutcome struct {
	Number      string `json:"number"`
	Status      string `json:"status"`
	AlreadySold bool   `json:"already_sold,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Message     string `json:"message,omitempty"`
}

type paymentSucceededResponse struct {
	OrderRef string            `json:"order_ref"`
	Outcomes []finalizeOutcome `json:"outcomes"`
}

type paymentFailedResponse struct {
	OrderRef string `json:"order_ref"`
	reservations.BulkResult
}

// PaymentSucceeded marks every number of a paid order sold. Per-number
// failures are reported in the body. A store outage fails the whole call with
// 503 so the payment processor retries; numbers already sold are idempotent.
func PaymentSucceeded(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}

		var payload paymentSucceededRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderRef(ctx, payload.OrderRef)
		}

		inputs := make([]reservations.FinalizeInput, 0, len(payload.Numbers))
		for _, num := range payload.Numbers {
			inputs = append(inputs, reservations.FinalizeInput{
				ID:             num,
				OrderRef:       payload.OrderRef,
				OwnerRef:       payload.OwnerRef,
				TransactionRef: payload.TransactionRef,
			})
		}

		resp := paymentSucceededResponse{OrderRef: payload.OrderRef, Outcomes: make([]finalizeOutcome, 0, len(inputs))}
		for _, outcome := range svc.FinalizeOrder(ctx, inputs) {
			if outcome.Err != nil {
				if pkgerrors.Retryable(outcome.Err) {
					responses.WriteError(ctx, logg, w, outcome.Err)
					return
				}
				entry := finalizeOutcome{Number: outcome.ID, Status: "failed"}
				if typed := pkgerrors.As(outcome.Err); typed != nil {
					entry.ErrorCode = string(typed.Code())
					entry.Message = typed.Message()
				}
				resp.Outcomes = append(resp.Outcomes, entry)
				continue
			}
			resp.Outcomes = append(resp.Outcomes, finalizeOutcome{
				Number:      outcome.Result.ID,
				Status:      "sold",
				AlreadySold: outcome.Result.AlreadySold,
			})
		}
		responses.WriteSuccess(w, resp)
	}
}

// PaymentFailed releases the holds of an order whose payment did not go through.
func PaymentFailed(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}

		var payload paymentFailedRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderRef(ctx, payload.OrderRef)
		}

		res, err := svc.ReleaseOrder(ctx, payload.Numbers)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, paymentFailedResponse{OrderRef: payload.OrderRef, BulkResult: *res})
	}
}
