package identity

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lamcatuk/vy-numbers/pkg/auth"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
)

const (
	HeaderCartToken = "X-Cart-Token"
	CookieCartToken = "vy_cart"
)

// Identity is the anonymous caller a reservation is held for.
type Identity struct {
	ID        string
	Token     string
	ExpiresAt time.Time
	// Issued is true when the token was minted for this request.
	Issued bool
}

type Resolver struct {
	cfg config.CartTokenConfig
	now func() time.Time
}

func NewResolver(cfg config.CartTokenConfig, clock func() time.Time) (*Resolver, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "cart token secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "cart token ttl must be positive")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{cfg: cfg, now: clock}, nil
}

// Resolve returns the caller carried by the request, minting a fresh
// identity when the request has no valid cart token.
func (r *Resolver) Resolve(req *http.Request) (Identity, error) {
	if id, err := r.Require(req); err == nil {
		return id, nil
	}
	return r.Issue()
}

// Require returns the caller carried by the request or an unauthorized error.
func (r *Resolver) Require(req *http.Request) (Identity, error) {
	token := tokenFrom(req)
	if token == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart token required")
	}
	claims, err := auth.ParseCartToken(r.cfg, token)
	if err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid cart token")
	}
	id := Identity{ID: claims.Subject, Token: token}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Issue mints a new caller identity.
func (r *Resolver) Issue() (Identity, error) {
	subject := uuid.NewString()
	token, expiresAt, err := auth.MintCartToken(r.cfg, r.now(), subject)
	if err != nil {
		return Identity{}, fmt.Errorf("mint cart token: %w", err)
	}
	return Identity{ID: subject, Token: token, ExpiresAt: expiresAt, Issued: true}, nil
}

// Cookie renders the identity as the cart cookie.
func (r *Resolver) Cookie(id Identity, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieCartToken,
		Value:    id.Token,
		Path:     "/",
		Expires:  id.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func tokenFrom(req *http.Request) string {
	if req == nil {
		return ""
	}
	if token := strings.TrimSpace(req.Header.Get(HeaderCartToken)); token != "" {
		return token
	}
	if c, err := req.Cookie(CookieCartToken); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
