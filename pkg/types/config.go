package types

// Config represents the encounterd configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Default provider id used when a request does not pin one.
	DefaultProvider string `json:"defaultProvider,omitempty" yaml:"defaultProvider,omitempty"`

	// Provider configs keyed by provider id ("anthropic", "openai", "ark").
	Provider map[string]ProviderConfig `json:"provider,omitempty" yaml:"provider,omitempty"`

	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
	Retry   RetryConfig   `json:"retry" yaml:"retry"`
	Session SessionConfig `json:"session" yaml:"session"`

	// Shared secret for X-HMAC-Signature between engine and gateway.
	HMACSecret string `json:"hmacSecret,omitempty" yaml:"hmacSecret,omitempty"`

	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
}

// ProviderConfig holds static configuration for one upstream provider.
// It is immutable once loaded.
type ProviderConfig struct {
	APIKey      string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL     string  `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`

	// Pricing in USD per 1M tokens, used for cost estimation.
	InputPrice  float64 `json:"inputPrice,omitempty" yaml:"inputPrice,omitempty"`
	OutputPrice float64 `json:"outputPrice,omitempty" yaml:"outputPrice,omitempty"`

	// Disable provider
	Disable bool `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// GatewayConfig configures the generation gateway process.
type GatewayConfig struct {
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// Requests per second allowed per caller on /gen routes; 0 disables limiting.
	RateLimit float64 `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	RateBurst int     `json:"rateBurst,omitempty" yaml:"rateBurst,omitempty"`
	// Upstream call timeout in milliseconds.
	CallTimeoutMs int `json:"callTimeoutMs,omitempty" yaml:"callTimeoutMs,omitempty"`
}

// EngineConfig configures the session engine process.
type EngineConfig struct {
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	GatewayURL string `json:"gatewayURL,omitempty" yaml:"gatewayURL,omitempty"`
	EnableCORS bool   `json:"enableCORS,omitempty" yaml:"enableCORS,omitempty"`
	// Timeout for a single gateway call in milliseconds.
	GatewayTimeoutMs int `json:"gatewayTimeoutMs,omitempty" yaml:"gatewayTimeoutMs,omitempty"`
}

// BreakerConfig configures the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold   int `json:"failureThreshold,omitempty" yaml:"failureThreshold,omitempty"`
	ResetTimeoutMs     int `json:"resetTimeoutMs,omitempty" yaml:"resetTimeoutMs,omitempty"`
	MonitoringWindowMs int `json:"monitoringWindowMs,omitempty" yaml:"monitoringWindowMs,omitempty"`
}

// RetryConfig configures the retry executor.
type RetryConfig struct {
	MaxAttempts int   `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	DelaysMs    []int `json:"delaysMs,omitempty" yaml:"delaysMs,omitempty"`
}

// SessionConfig configures the session store and cache.
type SessionConfig struct {
	DataDir       string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`
	CacheSize     int    `json:"cacheSize,omitempty" yaml:"cacheSize,omitempty"`
	PersistActive *bool  `json:"persistActive,omitempty" yaml:"persistActive,omitempty"`
}
