package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/hmacauth"
	"github.com/questforge/encounterd/internal/metrics"
	"github.com/questforge/encounterd/internal/provider"
	"github.com/questforge/encounterd/internal/validation"
	"github.com/questforge/encounterd/pkg/types"
)

// healthCheckTimeout bounds the whole /health/providers check.
const healthCheckTimeout = 15 * time.Second

// GatewayOptions configures the generation gateway.
type GatewayOptions struct {
	// Secret verifies X-HMAC-Signature on /gen routes.
	Secret string
	// RateLimit is requests per second per caller on /gen routes; 0 disables it.
	RateLimit float64
	RateBurst int
}

// Gateway serves encounter and reward generation.
type Gateway struct {
	*Server
	providers *provider.Registry
}

// NewGateway creates the gateway server.
func NewGateway(cfg *Config, providers *provider.Registry, opts GatewayOptions) (*Gateway, error) {
	auth, err := hmacauth.Middleware(opts.Secret,
		hmacauth.WithErrorHandler(authErrorHandler),
		hmacauth.WithFailureHook(func(reason string) {
			metrics.AuthRejectionsTotal.WithLabelValues(reason).Inc()
		}),
	)
	if err != nil {
		return nil, err
	}

	g := &Gateway{Server: newServer("gateway", cfg), providers: providers}
	r := g.router

	// Routes that reach an upstream share one limiter and require a signature.
	var limiter *RateLimiter
	if opts.RateLimit > 0 {
		limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	guarded := func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Use(auth)
	}

	r.Get("/health", g.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		guarded(r)
		r.Get("/health/providers", g.providerHealth)
	})

	r.Route("/gen", func(r chi.Router) {
		guarded(r)
		r.Post("/encounter", g.generateEncounter)
		r.Post("/reward", g.generateReward)
		r.Post("/estimate", g.estimate)
	})

	return g, nil
}

func (g *Gateway) generateEncounter(w http.ResponseWriter, r *http.Request) {
	var req types.EncounterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := validation.Struct(&req); err != nil {
		writeAppError(w, r, err)
		return
	}

	p, err := g.providers.Resolve(req.Provider)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	enc, err := p.GenerateEncounter(r.Context(), &req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enc)
}

func (g *Gateway) generateReward(w http.ResponseWriter, r *http.Request) {
	var req types.RewardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := validation.Struct(&req); err != nil {
		writeAppError(w, r, err)
		return
	}

	p, err := g.providers.Resolve(req.Provider)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	rewards, err := p.GenerateReward(r.Context(), &req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.RewardResponse{Rewards: rewards})
}

func (g *Gateway) estimate(w http.ResponseWriter, r *http.Request) {
	var req types.EncounterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := validation.Struct(&req); err != nil {
		writeAppError(w, r, err)
		return
	}

	p, err := g.providers.Resolve(req.Provider)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.EstimateCost(&req))
}

// providerHealth checks every provider concurrently.
func (g *Gateway) providerHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	providers := g.providers.List()
	statuses := make([]types.HealthStatus, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			statuses[i] = p.HealthCheck(ctx)
		}(i, p)
	}
	wg.Wait()

	if len(statuses) == 0 {
		writeAppError(w, r, apperror.Unavailable(time.Minute, "no providers configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": statuses})
}
