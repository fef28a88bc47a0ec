package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lamcatuk/vy-numbers/api/responses"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
)

const (
	limiterIdleTTL      = 15 * time.Minute
	limiterCleanupEvery = 2 * time.Minute
)

// ClientLimiter keeps one token bucket per client key.
type ClientLimiter struct {
	mu       sync.Mutex
	entries  map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	trustXFF bool
	now      func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter builds a limiter admitting perMinute requests per client
// with the given burst. A non-positive perMinute disables limiting.
func NewClientLimiter(cfg config.RateLimitConfig) *ClientLimiter {
	burst := cfg.QueryBurst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.QueryPerMinute > 0 {
		limit = rate.Limit(float64(cfg.QueryPerMinute) / 60)
	}
	return &ClientLimiter{
		entries:  make(map[string]*limiterEntry),
		limit:    limit,
		burst:    burst,
		trustXFF: cfg.TrustForwardedFor,
		now:      time.Now,
	}
}

func (l *ClientLimiter) get(key string) *rate.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup drops buckets that have been idle longer than the idle TTL.
func (l *ClientLimiter) Cleanup() {
	cutoff := l.now().Add(-limiterIdleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is done.
func (l *ClientLimiter) StartJanitor(ctx context.Context) {
	t := time.NewTicker(limiterCleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}

// ClientKey identifies the caller by IP: the first X-Forwarded-For entry when
// trusted, otherwise the connection's remote host.
func ClientKey(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// RateLimit rejects requests beyond the client's budget with 429 and a
// Retry-After header.
func RateLimit(limiter *ClientLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r, limiter.trustXFF)
			lim := limiter.get(key)

			now := limiter.now()
			res := lim.ReserveN(now, 1)
			if delay := res.DelayFrom(now); delay > 0 {
				res.CancelAt(now)
				seconds := int(math.Ceil(delay.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithField(ctx, "client", key)
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "Too many lookups. Please wait a moment and try again."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
