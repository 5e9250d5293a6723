package server

import (
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/metrics"
)

// limiterIdleTTL drops per-caller buckets that have not been used for a while.
const limiterIdleTTL = 10 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-caller token bucket keyed by client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	callers   map[string]*callerLimiter
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows rps requests per second per caller with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		callers: make(map[string]*callerLimiter),
		now:     time.Now,
	}
}

// reserve takes a token for key. It returns false and the wait until the
// next token when the bucket is empty.
func (rl *RateLimiter) reserve(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) > limiterIdleTTL {
		for k, c := range rl.callers {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(rl.callers, k)
			}
		}
		rl.lastSweep = now
	}
	c, ok := rl.callers[key]
	if !ok {
		c = &callerLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.callers[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware rejects callers over budget with 429 RATE_LIMITED.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.reserve(callerKey(r))
		if !ok {
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.RateLimitedTotal.WithLabelValues(route).Inc()
			if wait < time.Second {
				wait = time.Second
			}
			writeAppError(w, r, apperror.RateLimited(wait, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerKey identifies a caller. middleware.RealIP has already rewritten RemoteAddr.
func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
