package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lamcatuk/vy-numbers/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintCartToken issues a signed cart token for subject and returns its expiry.
func MintCartToken(cfg config.CartTokenConfig, now time.Time, subject string) (string, time.Time, error) {
	if cfg.Secret == "" {
		return "", time.Time{}, fmt.Errorf("cart token secret is required")
	}
	if cfg.TTL <= 0 {
		return "", time.Time{}, fmt.Errorf("cart token ttl must be positive")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("cart token subject is required")
	}

	expiresAt := now.Add(cfg.TTL)
	claims := CartClaims{
		Kind: cartTokenKind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := sign(cfg.Secret, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseCartToken validates a cart token and returns its claims.
func ParseCartToken(cfg config.CartTokenConfig, tokenString string) (*CartClaims, error) {
	claims := &CartClaims{}
	if err := parse(cfg.Secret, cfg.Issuer, tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Kind != cartTokenKind {
		return nil, fmt.Errorf("token is not a cart token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("cart token subject missing")
	}
	return claims, nil
}

// MintOperatorToken issues an operator token. Used by numbersctl and tests.
func MintOperatorToken(cfg config.AdminConfig, now time.Time, subject string, role Role, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("admin jwt secret is required")
	}
	if !role.IsValid() {
		return "", fmt.Errorf("invalid operator role %q", role)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("operator token ttl must be positive")
	}
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.JWTIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return sign(cfg.JWTSecret, claims)
}

// ParseOperatorToken validates an operator token and returns typed claims.
func ParseOperatorToken(cfg config.AdminConfig, tokenString string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	if err := parse(cfg.JWTSecret, cfg.JWTIssuer, tokenString, claims); err != nil {
		return nil, err
	}
	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("invalid operator role %q", claims.Role)
	}
	return claims, nil
}

func sign(secret string, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

func parse(secret, issuer, tokenString string, claims jwt.Claims) error {
	if secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwtSigningMethod.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(secret), nil
		},
		opts...,
	)
	return err
}
