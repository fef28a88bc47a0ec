package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/api/controllers"
	"github.com/lamcatuk/vy-numbers/api/middleware"
	"github.com/lamcatuk/vy-numbers/internal/admin"
	"github.com/lamcatuk/vy-numbers/internal/availability"
	"github.com/lamcatuk/vy-numbers/internal/identity"
	"github.com/lamcatuk/vy-numbers/internal/reservations"
	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/auth"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/metrics"
	"github.com/lamcatuk/vy-numbers/pkg/migrate"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
	"github.com/lamcatuk/vy-numbers/pkg/security"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type memoryIdempotency struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memoryIdempotency) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, id string) string {
	return "vy:idempotency:" + scope + ":" + id
}

func (m *memoryIdempotency) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type testServer struct {
	handler http.Handler
	cfg     *config.Config
	db      *gorm.DB
}

func newTestServer(t *testing.T, rate config.RateLimitConfig) *testServer {
	t.Helper()
	cfg := &config.Config{
		App:       config.AppConfig{Env: "dev"},
		Numbers:   config.NumbersConfig{Min: 1, Max: 9999, ClaimTTL: 5 * time.Minute, CartClaimTTL: 15 * time.Minute, AdminPageSize: 100},
		CartToken: config.CartTokenConfig{Secret: "cart-secret", Issuer: "vy", TTL: time.Hour},
		Admin:     config.AdminConfig{JWTSecret: "admin-secret", JWTIssuer: "vy-admin"},
		RateLimit: rate,
	}

	dsn := "file:routes_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{NowFunc: func() time.Time { return time.Now().UTC() }})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	_, err = migrate.Bootstrap(context.Background(), db, 1, 30)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	resMetrics := metrics.NewReservationMetrics(reg)

	repo, err := slots.NewRepository(slots.RepositoryParams{
		DB:       db,
		Events:   outbox.NewService(outbox.NewRepository(db), logger.Nop()),
		PageSize: cfg.Numbers.AdminPageSize,
	})
	require.NoError(t, err)
	engine, err := reservations.NewService(reservations.ServiceParams{Store: repo, DefaultTTL: cfg.Numbers.ClaimTTL, Metrics: resMetrics})
	require.NoError(t, err)
	query, err := availability.NewService(availability.ServiceParams{Store: repo})
	require.NoError(t, err)
	resolver, err := identity.NewResolver(cfg.CartToken, nil)
	require.NoError(t, err)
	adminSvc, err := admin.NewService(admin.ServiceParams{
		Store:   repo,
		Engine:  engine,
		Hasher:  security.NewHasher(config.PasswordConfig{ArgonMemoryKB: 8, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32}),
		Metrics: resMetrics,
	})
	require.NoError(t, err)

	handler := NewRouter(Dependencies{
		Config:       cfg,
		Logger:       logger.Nop(),
		Pingers:      map[string]controllers.Pinger{"db": stubPinger{}},
		Idempotency:  &memoryIdempotency{data: map[string]string{}},
		Limiter:      middleware.NewClientLimiter(rate),
		Availability: query,
		Reservations: engine,
		Admin:        adminSvc,
		Identity:     resolver,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return &testServer{handler: handler, cfg: cfg, db: db}
}

func (s *testServer) operatorToken(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.MintOperatorToken(s.cfg.Admin, time.Now(), "ops", role, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) status(t *testing.T, num string) enums.SlotStatus {
	t.Helper()
	var slot models.Slot
	require.NoError(t, s.db.Where("num = ?", num).First(&slot).Error)
	return slot.Status
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/ready", "", nil).Code)

	rec := s.do(http.MethodGet, "/api/v1/numbers/0001", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	cart := s.do(http.MethodPost, "/api/v1/cart/session", "", nil)
	require.Equal(t, http.StatusCreated, cart.Code)
	token := cart.Header().Get(identity.HeaderCartToken)
	claim := s.do(http.MethodPost, "/api/v1/cart/claims", `{"number":"0002"}`, map[string]string{identity.HeaderCartToken: token})
	require.Equal(t, http.StatusCreated, claim.Code)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vy_reservation_operations_total{operation="claim",outcome="applied"} 1`)
}

func TestQueryRateLimited(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{QueryPerMinute: 1, QueryBurst: 1})

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/numbers/0001", "", nil).Code)
	rec := s.do(http.MethodGet, "/api/v1/numbers/0001", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// other surfaces are not limited
	assert.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/v1/cart/session", "", nil).Code)
}

func TestAdminRequiresAdminRole(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/admin/v1/numbers", "", nil).Code)

	service := map[string]string{"Authorization": "Bearer " + s.operatorToken(t, auth.RoleService)}
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/admin/v1/numbers", "", service).Code)

	adminHdr := map[string]string{"Authorization": "Bearer " + s.operatorToken(t, auth.RoleAdmin)}
	rec := s.do(http.MethodGet, "/api/admin/v1/numbers/summary", "", adminHdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":30`)

	rec = s.do(http.MethodPost, "/api/admin/v1/numbers/0004/reserve", "", adminHdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enums.SlotStatusReserved, s.status(t, "0004"))

	rec = s.do(http.MethodGet, "/api/admin/v1/numbers?status=reserved", "", adminHdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"number":"0004"`)
}

func TestAdminBulkRequiresIdempotencyKey(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})
	hdr := map[string]string{"Authorization": "Bearer " + s.operatorToken(t, auth.RoleAdmin)}

	rec := s.do(http.MethodPost, "/api/admin/v1/numbers/bulk", `{"action":"reserve","numbers":"1 2"}`, hdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	hdr["Idempotency-Key"] = "bulk-1"
	rec = s.do(http.MethodPost, "/api/admin/v1/numbers/bulk", `{"action":"reserve","numbers":"1 2"}`, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enums.SlotStatusReserved, s.status(t, "0001"))
	assert.Equal(t, enums.SlotStatusReserved, s.status(t, "0002"))
}

func TestPaymentWebhookFlow(t *testing.T) {
	s := newTestServer(t, config.RateLimitConfig{})
	hdr := map[string]string{
		"Authorization":   "Bearer " + s.operatorToken(t, auth.RoleService),
		"Idempotency-Key": "order-77",
	}
	body := `{"order_ref":"WC-77","owner_ref":"9","numbers":["0010","0011"]}`

	first := s.do(http.MethodPost, "/api/v1/webhooks/payments/succeeded", body, hdr)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, enums.SlotStatusSold, s.status(t, "0010"))
	assert.Equal(t, enums.SlotStatusSold, s.status(t, "0011"))
	var sold int64
	require.NoError(t, s.db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventSlotSold).Count(&sold).Error)
	assert.EqualValues(t, 2, sold)

	replay := s.do(http.MethodPost, "/api/v1/webhooks/payments/succeeded", body, hdr)
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, first.Body.String(), replay.Body.String())

	reused := s.do(http.MethodPost, "/api/v1/webhooks/payments/succeeded", `{"order_ref":"WC-78","owner_ref":"9","numbers":["0012"]}`, hdr)
	assert.Equal(t, http.StatusConflict, reused.Code)

	delete(hdr, "Authorization")
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/webhooks/payments/failed", `{"order_ref":"x","numbers":["0001"]}`, hdr).Code)
}
