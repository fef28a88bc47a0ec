package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lamcatuk/vy-numbers/api/responses"
	"github.com/lamcatuk/vy-numbers/api/validators"
	"github.com/lamcatuk/vy-numbers/internal/availability"
	"github.com/lamcatuk/vy-numbers/internal/identity"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
)

type numberQueryRequest struct {
	Cart []string `json:"cart" validate:"omitempty,max=100"`
}

// NumberQuery reports the effective status of one number. Numbers already in
// the caller's cart come from ?cart=0001,0002 or a JSON body {"cart": [...]}.
func NumberQuery(svc availability.Service, resolver *identity.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "availability service unavailable"))
			return
		}

		inProgress, err := validators.ParseQueryList(r, "cart")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if r.Method == http.MethodPost && r.ContentLength != 0 {
			var body numberQueryRequest
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			inProgress = append(inProgress, body.Cart...)
		}

		// anonymous lookups are fine; a valid cart token only enables in_cart
		var caller string
		if resolver != nil {
			if id, err := resolver.Require(r); err == nil {
				caller = id.ID
			}
		}

		res, err := svc.Query(r.Context(), availability.Request{
			ID:            chi.URLParam(r, "num"),
			Caller:        caller,
			InProgressIDs: inProgress,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, queryStatus(res.Status), res)
	}
}

func queryStatus(status availability.Status) int {
	switch status {
	case availability.StatusInvalid:
		return http.StatusBadRequest
	case availability.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}
