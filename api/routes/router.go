package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lamcatuk/vy-numbers/api/controllers"
	cartcontrollers "github.com/lamcatuk/vy-numbers/api/controllers/cart"
	webhookcontrollers "github.com/lamcatuk/vy-numbers/api/controllers/webhooks"
	"github.com/lamcatuk/vy-numbers/api/middleware"
	"github.com/lamcatuk/vy-numbers/internal/admin"
	"github.com/lamcatuk/vy-numbers/internal/availability"
	"github.com/lamcatuk/vy-numbers/internal/identity"
	"github.com/lamcatuk/vy-numbers/internal/reservations"
	"github.com/lamcatuk/vy-numbers/pkg/auth"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/redis"
)

// Dependencies are the services the HTTP surface is built from. Pingers and
// the idempotency store may be nil.
type Dependencies struct {
	Config       *config.Config
	Logger       *logger.Logger
	Pingers      map[string]controllers.Pinger
	Idempotency  redis.IdempotencyStore
	Limiter      *middleware.ClientLimiter
	Availability availability.Service
	Reservations reservations.Service
	Admin        admin.Service
	Identity     *identity.Resolver
	Metrics      http.Handler
}

func NewRouter(d Dependencies) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.Pingers))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	cartOpts := cartcontrollers.Options{
		ClaimTTL:     cfg.Numbers.CartClaimTTL,
		SecureCookie: cfg.App.IsProd(),
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(d.Limiter, logg))
			r.Get("/numbers/{num}", controllers.NumberQuery(d.Availability, d.Identity, logg))
			r.Post("/numbers/{num}", controllers.NumberQuery(d.Availability, d.Identity, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Post("/session", cartcontrollers.CartSession(d.Identity, cartOpts, logg))
			r.Post("/claims", cartcontrollers.CartClaim(d.Reservations, d.Identity, cartOpts, logg))
			r.Delete("/claims/{num}", cartcontrollers.CartRelease(d.Reservations, d.Identity, logg))
		})

		r.Route("/webhooks/payments", func(r chi.Router) {
			r.Use(middleware.OperatorAuth(cfg.Admin, logg, auth.RoleService, auth.RoleAdmin))
			r.Use(middleware.Idempotency(d.Idempotency, logg))
			r.Post("/succeeded", webhookcontrollers.PaymentSucceeded(d.Reservations, logg))
			r.Post("/failed", webhookcontrollers.PaymentFailed(d.Reservations, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.OperatorAuth(cfg.Admin, logg, auth.RoleAdmin))
		r.Use(middleware.Idempotency(d.Idempotency, logg))

		r.Route("/numbers", func(r chi.Router) {
			r.Get("/", controllers.AdminListNumbers(d.Admin, logg))
			r.Get("/summary", controllers.AdminNumbersSummary(d.Admin, logg))
			r.Post("/bulk", controllers.AdminBulkNumbers(d.Admin, logg))
			r.Post("/import", controllers.AdminImportNumbers(d.Admin, logg))
			r.Post("/reset", controllers.AdminResetNumbers(d.Admin, logg))
			r.Patch("/{num}", controllers.AdminEditNumber(d.Admin, logg))
			r.Post("/{num}/reserve", controllers.AdminReserveNumber(d.Admin, logg))
			r.Post("/{num}/release", controllers.AdminReleaseNumber(d.Admin, logg))
		})
		r.Post("/sweep", controllers.AdminSweep(d.Admin, logg))
	})

	return r
}
