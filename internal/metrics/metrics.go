// Package metrics holds the Prometheus collectors for both services.
//
// Collectors are registered once on a private registry, exposed by Handler.
// All operations are safe for concurrent use.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "encounterd"

// Registry is the registry every collector in this package is registered on.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var (
	// HTTPRequestsTotal counts served requests.
	// Labels: service (gateway, engine), route, method, status
	HTTPRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route and status.",
	}, []string{"service", "route", "method", "status"})

	// HTTPRequestDuration measures handler latency.
	HTTPRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"service", "route"})

	// UpstreamRequestsTotal counts provider calls after retries.
	// Labels: provider, op (encounter, reward, health), outcome (success, error, rejected, cancelled)
	UpstreamRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Provider calls by outcome.",
	}, []string{"provider", "op", "outcome"})

	// UpstreamDuration measures a provider call including retries.
	UpstreamDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Provider call latency including retry waits.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90, 180},
	}, []string{"provider", "op"})

	// UpstreamRetriesTotal counts retry waits.
	UpstreamRetriesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "retries_total",
		Help:      "Retries scheduled after a failed provider attempt.",
	}, []string{"provider", "op"})

	// BreakerState is 0 closed, 1 open, 2 half-open.
	BreakerState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state per provider (0 closed, 1 open, 2 half-open).",
	}, []string{"provider"})

	// BreakerTransitionsTotal counts state changes.
	BreakerTransitionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions.",
	}, []string{"provider", "from", "to"})

	// AuthRejectionsTotal counts requests refused by signature verification.
	// Labels: reason (missing, mismatch, too_large, read)
	AuthRejectionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "rejections_total",
		Help:      "Requests rejected by HMAC verification.",
	}, []string{"reason"})

	// RateLimitedTotal counts requests refused by the rate limiter.
	RateLimitedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-caller rate limiter.",
	}, []string{"route"})

	// SessionsCached is the number of sessions in the engine cache.
	SessionsCached = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "cached",
		Help:      "Sessions currently held in the cache.",
	})

	// SessionEventsTotal counts lifecycle events.
	// Labels: event (started, objective_completed, interaction, completed)
	SessionEventsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Session lifecycle events.",
	}, []string{"event"})

	// SessionEvictionsTotal counts cache evictions.
	// Labels: state (active, completed), durable (true, false)
	SessionEvictionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "evictions_total",
		Help:      "Sessions evicted from the cache.",
	}, []string{"state", "durable"})

	// StoreErrorsTotal counts durable store failures.
	StoreErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "store_errors_total",
		Help:      "Durable session store failures by operation.",
	}, []string{"op"})
)

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Middleware records request count and latency under the matched chi route pattern.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			HTTPRequestsTotal.WithLabelValues(service, route, r.Method, strconv.Itoa(status)).Inc()
			HTTPRequestDuration.WithLabelValues(service, route).Observe(time.Since(start).Seconds())
		})
	}
}
