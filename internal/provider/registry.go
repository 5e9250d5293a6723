package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/breaker"
	"github.com/questforge/encounterd/internal/logging"
	"github.com/questforge/encounterd/internal/retry"
	"github.com/questforge/encounterd/pkg/types"
)

// preference orders providers when no default is configured.
var preference = []string{"anthropic", "openai", "ark"}

// Registry holds the configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	defaultID string
}

// NewRegistry creates an empty registry. defaultID may be empty.
func NewRegistry(defaultID string) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		defaultID: defaultID,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, apperror.Validation("unknown provider %q", providerID)
	}
	return provider, nil
}

// Resolve returns the provider pinned by id, or the default provider when id is empty.
func (r *Registry) Resolve(id string) (Provider, error) {
	if id != "" {
		return r.Get(id)
	}
	return r.Default()
}

// Default returns the configured default provider, falling back to the preferred available one.
func (r *Registry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.defaultID != "" {
		if p, ok := r.providers[r.defaultID]; ok {
			return p, nil
		}
	}
	for _, id := range preference {
		if p, ok := r.providers[id]; ok {
			return p, nil
		}
	}
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, apperror.Unavailable(time.Minute, "no providers configured")
	}
	sort.Strings(ids)
	return r.providers[ids[0]], nil
}

// List returns all providers sorted by ID.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	return providers
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// ClientConfigFrom derives the resilience and pricing settings for one provider.
func ClientConfigFrom(config *types.Config, pc types.ProviderConfig) ClientConfig {
	cc := ClientConfig{
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		InputPrice:  pc.InputPrice,
		OutputPrice: pc.OutputPrice,
		CallTimeout: time.Duration(config.Gateway.CallTimeoutMs) * time.Millisecond,
		Breaker: breaker.Config{
			FailureThreshold: config.Breaker.FailureThreshold,
			ResetTimeout:     time.Duration(config.Breaker.ResetTimeoutMs) * time.Millisecond,
			MonitoringWindow: time.Duration(config.Breaker.MonitoringWindowMs) * time.Millisecond,
		},
		Retry: retry.Options{MaxAttempts: config.Retry.MaxAttempts},
	}
	if len(config.Retry.DelaysMs) > 0 {
		cc.Retry.Delays = make([]time.Duration, len(config.Retry.DelaysMs))
		for i, ms := range config.Retry.DelaysMs {
			cc.Retry.Delays[i] = time.Duration(ms) * time.Millisecond
		}
	}
	return cc
}

// InitializeProviders creates and registers every enabled provider with credentials.
// A provider that fails to initialize is logged and skipped.
func InitializeProviders(ctx context.Context, config *types.Config) (*Registry, error) {
	registry := NewRegistry(config.DefaultProvider)

	enabled := func(id string) (types.ProviderConfig, bool) {
		cfg, ok := config.Provider[id]
		return cfg, ok && !cfg.Disable && cfg.APIKey != ""
	}
	skip := func(id string, err error) {
		logging.Warn().Str("provider", id).Err(err).Msg("provider not initialized")
	}

	if cfg, ok := enabled("anthropic"); ok {
		p, err := NewAnthropicProvider(ctx, &AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Client:    ClientConfigFrom(config, cfg),
		})
		if err != nil {
			skip("anthropic", err)
		} else {
			registry.Register(p)
		}
	}

	if cfg, ok := enabled("openai"); ok {
		p, err := NewOpenAIProvider(ctx, &OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Client:    ClientConfigFrom(config, cfg),
		})
		if err != nil {
			skip("openai", err)
		} else {
			registry.Register(p)
		}
	}

	if cfg, ok := enabled("ark"); ok {
		p, err := NewArkProvider(ctx, &ArkConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Client:    ClientConfigFrom(config, cfg),
		})
		if err != nil {
			skip("ark", err)
		} else {
			registry.Register(p)
		}
	}

	for _, p := range registry.List() {
		logging.Info().Str("provider", p.ID()).Str("model", p.Model()).Msg("provider ready")
	}
	return registry, nil
}
