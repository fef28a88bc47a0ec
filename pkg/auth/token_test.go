package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamcatuk/vy-numbers/pkg/config"
)

var cartCfg = config.CartTokenConfig{Secret: "cart-secret", Issuer: "vy-numbers", TTL: time.Hour}
var adminCfg = config.AdminConfig{JWTSecret: "admin-secret", JWTIssuer: "vy-numbers-admin"}

func TestMintAndParseCartToken(t *testing.T) {
	now := time.Now().UTC()
	token, expiresAt, err := MintCartToken(cartCfg, now, "caller-123")
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), expiresAt, time.Second)

	claims, err := ParseCartToken(cartCfg, token)
	require.NoError(t, err)
	assert.Equal(t, "caller-123", claims.Subject)
	assert.Equal(t, cartCfg.Issuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestParseCartTokenRejectsOtherSecretsAndIssuers(t *testing.T) {
	token, _, err := MintCartToken(cartCfg, time.Now(), "caller-1")
	require.NoError(t, err)

	_, err = ParseCartToken(config.CartTokenConfig{Secret: "other", Issuer: cartCfg.Issuer}, token)
	assert.Error(t, err)

	_, err = ParseCartToken(config.CartTokenConfig{Secret: cartCfg.Secret, Issuer: "someone-else"}, token)
	assert.Error(t, err)
}

func TestParseCartTokenExpired(t *testing.T) {
	token, _, err := MintCartToken(cartCfg, time.Now().Add(-2*time.Hour), "caller-1")
	require.NoError(t, err)

	_, err = ParseCartToken(cartCfg, token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestOperatorTokenIsNotACartToken(t *testing.T) {
	shared := config.AdminConfig{JWTSecret: cartCfg.Secret, JWTIssuer: cartCfg.Issuer}
	token, err := MintOperatorToken(shared, time.Now(), "ops", RoleAdmin, time.Hour)
	require.NoError(t, err)

	_, err = ParseCartToken(cartCfg, token)
	assert.Error(t, err)
}

func TestMintAndParseOperatorToken(t *testing.T) {
	token, err := MintOperatorToken(adminCfg, time.Now(), "payments", RoleService, time.Hour)
	require.NoError(t, err)

	claims, err := ParseOperatorToken(adminCfg, token)
	require.NoError(t, err)
	assert.Equal(t, RoleService, claims.Role)
	assert.Equal(t, "payments", claims.Subject)
}

func TestMintOperatorTokenValidation(t *testing.T) {
	_, err := MintOperatorToken(adminCfg, time.Now(), "x", Role("owner"), time.Hour)
	assert.Error(t, err)
	_, err = MintOperatorToken(config.AdminConfig{}, time.Now(), "x", RoleAdmin, time.Hour)
	assert.Error(t, err)
	_, _, err = MintCartToken(cartCfg, time.Now(), "  ")
	assert.Error(t, err)
}
