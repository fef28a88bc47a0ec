package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/internal/identity"
	"github.com/lamcatuk/vy-numbers/internal/reservations"
	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/migrate"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
)

type fixture struct {
	router   http.Handler
	resolver *identity.Resolver
	db       *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	_, err = migrate.Bootstrap(context.Background(), db, 1, 20)
	require.NoError(t, err)

	repo, err := slots.NewRepository(slots.RepositoryParams{
		DB:     db,
		Events: outbox.NewService(outbox.NewRepository(db), logger.Nop()),
	})
	require.NoError(t, err)
	engine, err := reservations.NewService(reservations.ServiceParams{Store: repo, DefaultTTL: 5 * time.Minute})
	require.NoError(t, err)
	resolver, err := identity.NewResolver(config.CartTokenConfig{Secret: "cart", Issuer: "vy", TTL: time.Hour}, nil)
	require.NoError(t, err)

	opts := Options{ClaimTTL: 15 * time.Minute}
	r := chi.NewRouter()
	r.Post("/api/v1/cart/session", CartSession(resolver, opts, nil))
	r.Post("/api/v1/cart/claims", CartClaim(engine, resolver, opts, nil))
	r.Delete("/api/v1/cart/claims/{num}", CartRelease(engine, resolver, nil))
	return &fixture{router: r, resolver: resolver, db: db}
}

func (f *fixture) serve(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set(identity.HeaderCartToken, token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) identity(t *testing.T) identity.Identity {
	t.Helper()
	id, err := f.resolver.Issue()
	require.NoError(t, err)
	return id
}

func (f *fixture) slot(t *testing.T, num string) models.Slot {
	t.Helper()
	var s models.Slot
	require.NoError(t, f.db.Where("num = ?", num).First(&s).Error)
	return s
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	return envelope.Error.Code
}

func TestCartSessionIssuesAndReuses(t *testing.T) {
	f := newFixture(t)

	rec := f.serve(http.MethodPost, "/api/v1/cart/session", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	token := rec.Header().Get(identity.HeaderCartToken)
	require.NotEmpty(t, token)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == identity.CookieCartToken {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, token, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	rec = f.serve(http.MethodPost, "/api/v1/cart/session", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body sessionResponse
	envelope := struct {
		Data *sessionResponse `json:"data"`
	}{Data: &body}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.False(t, body.Issued)
	assert.Equal(t, token, body.CartToken)
}

func TestCartClaimRequiresToken(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(http.MethodPost, "/api/v1/cart/claims", "", `{"number":"0005"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeUnauthorized), errorCode(t, rec))
}

func TestCartClaimAndConflict(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.identity(t), f.identity(t)

	before := time.Now().UTC()
	rec := f.serve(http.MethodPost, "/api/v1/cart/claims", alice.Token, `{"number":"0005"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	slot := f.slot(t, "0005")
	assert.Equal(t, enums.SlotStatusReserved, slot.Status)
	require.NotNil(t, slot.ReservedBy)
	assert.Equal(t, alice.ID, *slot.ReservedBy)
	require.NotNil(t, slot.ReserveExpires)
	assert.WithinDuration(t, before.Add(15*time.Minute), *slot.ReserveExpires, 5*time.Second)

	rec = f.serve(http.MethodPost, "/api/v1/cart/claims", bob.Token, `{"number":"0005"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, rec))
}

func TestCartClaimHonorsTTLAndValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.identity(t)

	before := time.Now().UTC()
	rec := f.serve(http.MethodPost, "/api/v1/cart/claims", alice.Token, `{"number":"0006","ttl_seconds":60}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	slot := f.slot(t, "0006")
	assert.WithinDuration(t, before.Add(time.Minute), *slot.ReserveExpires, 5*time.Second)

	rec = f.serve(http.MethodPost, "/api/v1/cart/claims", alice.Token, `{"number":"0000"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// the public surface takes exactly four digits
	rec = f.serve(http.MethodPost, "/api/v1/cart/claims", alice.Token, `{"number":"7"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.serve(http.MethodPost, "/api/v1/cart/claims", alice.Token, `{"number":"0007","ttl_seconds":999999}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.serve(http.MethodPost, "/api/v1/cart/claims", alice.Token, `{"number":"0500"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartReleaseOnlyOwnHold(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.identity(t), f.identity(t)

	require.Equal(t, http.StatusCreated, f.serve(http.MethodPost, "/api/v1/cart/claims", alice.Token, `{"number":"0008"}`).Code)

	rec := f.serve(http.MethodDelete, "/api/v1/cart/claims/0008", bob.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"released":false`)
	assert.Equal(t, enums.SlotStatusReserved, f.slot(t, "0008").Status)

	rec = f.serve(http.MethodDelete, "/api/v1/cart/claims/0008", alice.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"released":true`)

	slot := f.slot(t, "0008")
	assert.Equal(t, enums.SlotStatusAvailable, slot.Status)
	assert.Nil(t, slot.ReservedBy)
	assert.Nil(t, slot.ReserveExpires)
}
