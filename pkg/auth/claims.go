package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role is carried by operator tokens on the admin and webhook surfaces.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleService Role = "service"
)

func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleService
}

const cartTokenKind = "cart"

// CartClaims identify an anonymous shopper. Subject is the caller identity
// recorded as reserved_by on claimed slots.
type CartClaims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// OperatorClaims identify an admin user or a trusted service (payment webhooks).
type OperatorClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}
