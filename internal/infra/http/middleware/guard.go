package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/closetmind/gateway/internal/metrics"
	"github.com/closetmind/gateway/internal/ratelimit"
	"github.com/closetmind/gateway/pkg/apierror"
	"github.com/closetmind/gateway/pkg/logger"
)

// Guard is the request protection stage: a block gate followed by a
// class-scoped rate limit check. The gate runs first and unconditionally; a
// blocked address never reaches a limiter, no matter which class the route
// belongs to.
type Guard struct {
	limiter *ratelimit.Limiter
	tracker *ratelimit.Tracker
	log     *logger.Logger
	enabled bool
}

// NewGuard creates the protection middleware stage.
func NewGuard(limiter *ratelimit.Limiter, tracker *ratelimit.Tracker, log *logger.Logger, enabled bool) *Guard {
	return &Guard{
		limiter: limiter,
		tracker: tracker,
		log:     log,
		enabled: enabled,
	}
}

// Protect guards every route in the group with the named limiter class.
// Rejections count as violations regardless of class, so an attacker rotating
// across endpoints still escalates toward a block.
func (g *Guard) Protect(class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.enabled {
				next.ServeHTTP(w, r)
				return
			}

			addr := ClientIP(r)

			if remaining, blocked := g.tracker.BlockRemaining(addr); blocked {
				metrics.BlockedRequests.Inc()
				retryAfter := int(math.Ceil(remaining.Seconds()))
				g.log.Warn("blocked address attempted access",
					"addr", addr,
					"path", r.URL.Path,
					"retry_after_seconds", retryAfter,
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				apierror.IPBlocked(retryAfter).WriteJSON(w)
				return
			}

			d, err := g.limiter.Allow(class, addr, r.UserAgent())
			if err != nil {
				if errors.Is(err, ratelimit.ErrUnknownClass) {
					// A route wired to a class missing from config is a
					// deployment bug. Fail open and make noise.
					g.log.Error("route mapped to unconfigured limiter class",
						"class", class,
						"path", r.URL.Path,
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				metrics.RequestsLimited.WithLabelValues(class).Inc()
				metrics.ViolationsRecorded.WithLabelValues(class).Inc()

				violations, blockedUntil, blocked := g.tracker.RecordViolation(addr)

				if blocked {
					retryAfter := int(math.Ceil(blockedUntil.Sub(now).Seconds()))
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
					apierror.IPBlocked(retryAfter).WriteJSON(w)
					return
				}

				g.log.Warn("rate limit exceeded",
					"class", class,
					"addr", addr,
					"violations", violations,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter(now)))
				apierror.RateLimitExceeded(class).WriteJSON(w)
				return
			}

			metrics.RequestsAdmitted.WithLabelValues(class).Inc()
			next.ServeHTTP(w, r)
		})
	}
}
