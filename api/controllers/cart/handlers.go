package cart

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lamcatuk/vy-numbers/api/responses"
	"github.com/lamcatuk/vy-numbers/api/validators"
	"github.com/lamcatuk/vy-numbers/internal/identity"
	"github.com/lamcatuk/vy-numbers/internal/reservations"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
)

// Options tune the cart endpoints.
type Options struct {
	// ClaimTTL is used when the claim body carries no ttl_seconds.
	ClaimTTL     time.Duration
	SecureCookie bool
}

// CartSession returns the caller's cart token, minting one when the request
// carries none. A minted token is also set as a cookie.
func CartSession(resolver *identity.Resolver, opts Options, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resolver == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "identity resolver unavailable"))
			return
		}

		id, err := resolver.Resolve(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if id.Issued {
			http.SetCookie(w, resolver.Cookie(id, opts.SecureCookie))
			w.Header().Set(identity.HeaderCartToken, id.Token)
		}

		status := http.StatusOK
		if id.Issued {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, sessionResponse{
			CartToken: id.Token,
			ExpiresAt: id.ExpiresAt.UTC().Format(time.RFC3339),
			Issued:    id.Issued,
		})
	}
}

// CartClaim holds a number for the caller until checkout completes or the
// hold lapses.
func CartClaim(svc reservations.Service, resolver *identity.Resolver, opts Options, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || resolver == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}

		id, err := resolver.Require(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload claimRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ttl := opts.ClaimTTL
		if payload.TTLSeconds > 0 {
			ttl = time.Duration(payload.TTLSeconds) * time.Second
		}

		res, err := svc.Claim(r.Context(), payload.Number, id.ID, ttl)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, res)
	}
}

// CartRelease drops the caller's own hold on a number. Holds owned by someone
// else are left alone and reported as not released.
func CartRelease(svc reservations.Service, resolver *identity.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || resolver == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}

		id, err := resolver.Require(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		num := chi.URLParam(r, "num")
		released, err := svc.ReleaseFor(r.Context(), num, id.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, releaseResponse{Number: num, Released: released})
	}
}
