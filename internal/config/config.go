package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/questforge/encounterd/pkg/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ENCOUNTERD_"

// Defaults
const (
	DefaultGatewayPort      = 8081
	DefaultEnginePort       = 8080
	DefaultGatewayURL       = "http://localhost:8081"
	DefaultGatewayTimeoutMs = 90_000
	DefaultCallTimeoutMs    = 15_000
	DefaultRateLimit        = 10
	DefaultRateBurst        = 20
	DefaultFailureThreshold = 5
	DefaultResetTimeoutMs   = 60_000
	DefaultWindowMs         = 120_000
	DefaultMaxAttempts      = 4
	DefaultCacheSize        = 1024
)

// defaultDelaysMs is the retry wait schedule.
var defaultDelaysMs = []int{1000, 2000, 4000}

// fileNames are tried in order inside each config directory.
var fileNames = []string{"encounterd.json", "encounterd.jsonc", "encounterd.yaml", "encounterd.yml"}

// Default returns the built-in configuration.
func Default() *types.Config {
	persist := true
	return &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Gateway: types.GatewayConfig{
			Port:          DefaultGatewayPort,
			RateLimit:     DefaultRateLimit,
			RateBurst:     DefaultRateBurst,
			CallTimeoutMs: DefaultCallTimeoutMs,
		},
		Engine: types.EngineConfig{
			Port:             DefaultEnginePort,
			GatewayURL:       DefaultGatewayURL,
			GatewayTimeoutMs: DefaultGatewayTimeoutMs,
		},
		Breaker: types.BreakerConfig{
			FailureThreshold:   DefaultFailureThreshold,
			ResetTimeoutMs:     DefaultResetTimeoutMs,
			MonitoringWindowMs: DefaultWindowMs,
		},
		Retry: types.RetryConfig{
			MaxAttempts: DefaultMaxAttempts,
			DelaysMs:    append([]int(nil), defaultDelaysMs...),
		},
		Session: types.SessionConfig{
			DataDir:       GetPaths().StoragePath(),
			CacheSize:     DefaultCacheSize,
			PersistActive: &persist,
		},
		LogLevel: "info",
	}
}

// Load loads configuration from multiple sources (priority order):
// 1. Built-in defaults
// 2. Global config ($XDG_CONFIG_HOME/encounterd/)
// 3. Project config (directory/encounterd.* and directory/.encounterd/)
// 4. ENCOUNTERD_CONFIG file
// 5. ENCOUNTERD_* environment variables
// 6. Provider API key variables (ANTHROPIC_API_KEY, ...)
func Load(directory string) (*types.Config, error) {
	config := Default()

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if loaded[absPath] {
			return nil
		}
		err = loadConfigFile(path, config, baseDir)
		if err == nil {
			loaded[absPath] = true
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config %s: %w", path, err)
	}

	dirs := []string{GetPaths().Config}
	if directory != "" {
		dirs = append(dirs, directory, filepath.Join(directory, ".encounterd"))
	}
	for _, dir := range dirs {
		for _, name := range fileNames {
			if err := loadOnce(filepath.Join(dir, name), dir); err != nil {
				return nil, err
			}
		}
	}

	if configPath := os.Getenv("ENCOUNTERD_CONFIG"); configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config %s: %w", configPath, err)
		}
		if err := loadOnce(configPath, filepath.Dir(configPath)); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	applyProviderKeys(config)

	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// GatewayRetryBudget is the longest one generation call can spend in the
// gateway: every attempt running to the call timeout plus the waits between them.
func GatewayRetryBudget(config *types.Config) time.Duration {
	attempts := config.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	callMs := config.Gateway.CallTimeoutMs
	if callMs <= 0 {
		callMs = DefaultCallTimeoutMs
	}
	delays := config.Retry.DelaysMs
	if len(delays) == 0 {
		delays = defaultDelaysMs
	}

	total := attempts * callMs
	for i := 0; i < attempts-1; i++ {
		// The last delay repeats once the schedule runs out.
		total += delays[min(i, len(delays)-1)]
	}
	return time.Duration(total) * time.Millisecond
}

// validate rejects settings that contradict each other.
func validate(config *types.Config) error {
	// The engine must outwait the gateway, or a hung upstream cancels the
	// gateway's request and the breaker never sees the failure.
	if ms := config.Engine.GatewayTimeoutMs; ms > 0 {
		budget := GatewayRetryBudget(config)
		if time.Duration(ms)*time.Millisecond <= budget {
			return fmt.Errorf("engine.gatewayTimeoutMs (%d) must exceed the gateway retry budget of %dms "+
				"(retry.maxAttempts x gateway.callTimeoutMs + retry delays)", ms, budget.Milliseconds())
		}
	}
	return nil
}

// loadConfigFile loads a single JSON, JSONC or YAML file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileConfig types.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(interpolate(data, baseDir, false), &fileConfig); err != nil {
			return err
		}
	default:
		// Strip JSONC comments using tidwall/jsonc
		data = jsonc.ToJSON(data)
		if err := json.Unmarshal(interpolate(data, baseDir, true), &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders. File contents
// are escaped for a JSON string when jsonEscape is set.
func interpolate(data []byte, baseDir string, jsonEscape bool) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		value := strings.TrimRight(string(content), "\r\n")
		if !jsonEscape {
			return value
		}
		quoted, _ := json.Marshal(value)
		return string(quoted[1 : len(quoted)-1])
	})

	return []byte(str)
}

// mergeConfig merges non-zero source fields into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.DefaultProvider != "" {
		target.DefaultProvider = source.DefaultProvider
	}
	if source.HMACSecret != "" {
		target.HMACSecret = source.HMACSecret
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	g := source.Gateway
	setInt(&target.Gateway.Port, g.Port)
	setFloat(&target.Gateway.RateLimit, g.RateLimit)
	setInt(&target.Gateway.RateBurst, g.RateBurst)
	setInt(&target.Gateway.CallTimeoutMs, g.CallTimeoutMs)

	e := source.Engine
	setInt(&target.Engine.Port, e.Port)
	setString(&target.Engine.GatewayURL, e.GatewayURL)
	setInt(&target.Engine.GatewayTimeoutMs, e.GatewayTimeoutMs)
	if e.EnableCORS {
		target.Engine.EnableCORS = true
	}

	b := source.Breaker
	setInt(&target.Breaker.FailureThreshold, b.FailureThreshold)
	setInt(&target.Breaker.ResetTimeoutMs, b.ResetTimeoutMs)
	setInt(&target.Breaker.MonitoringWindowMs, b.MonitoringWindowMs)

	setInt(&target.Retry.MaxAttempts, source.Retry.MaxAttempts)
	if len(source.Retry.DelaysMs) > 0 {
		target.Retry.DelaysMs = append([]int(nil), source.Retry.DelaysMs...)
	}

	s := source.Session
	setString(&target.Session.DataDir, s.DataDir)
	setInt(&target.Session.CacheSize, s.CacheSize)
	if s.PersistActive != nil {
		v := *s.PersistActive
		target.Session.PersistActive = &v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// envOverrides mirrors the settings that may be set from ENCOUNTERD_* variables.
// Unset variables leave the pointer nil.
type envOverrides struct {
	DefaultProvider  *string  `env:"DEFAULT_PROVIDER"`
	HMACSecret       *string  `env:"HMAC_SECRET"`
	LogLevel         *string  `env:"LOG_LEVEL"`
	GatewayPort      *int     `env:"GATEWAY_PORT"`
	RateLimit        *float64 `env:"RATE_LIMIT"`
	RateBurst        *int     `env:"RATE_BURST"`
	CallTimeoutMs    *int     `env:"CALL_TIMEOUT_MS"`
	EnginePort       *int     `env:"ENGINE_PORT"`
	GatewayURL       *string  `env:"GATEWAY_URL"`
	GatewayTimeoutMs *int     `env:"GATEWAY_TIMEOUT_MS"`
	EnableCORS       *bool    `env:"ENABLE_CORS"`
	FailureThreshold *int     `env:"BREAKER_THRESHOLD"`
	ResetTimeoutMs   *int     `env:"BREAKER_RESET_MS"`
	MaxAttempts      *int     `env:"RETRY_MAX_ATTEMPTS"`
	RetryDelaysMs    []int    `env:"RETRY_DELAYS_MS" envSeparator:","`
	DataDir          *string  `env:"DATA_DIR"`
	CacheSize        *int     `env:"CACHE_SIZE"`
	PersistActive    *bool    `env:"PERSIST_ACTIVE"`
}

// applyEnvOverrides applies ENCOUNTERD_* environment variables.
func applyEnvOverrides(config *types.Config) error {
	var e envOverrides
	if err := env.ParseWithOptions(&e, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	str := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	num := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}

	str(&config.DefaultProvider, e.DefaultProvider)
	str(&config.HMACSecret, e.HMACSecret)
	str(&config.LogLevel, e.LogLevel)
	num(&config.Gateway.Port, e.GatewayPort)
	if e.RateLimit != nil {
		config.Gateway.RateLimit = *e.RateLimit
	}
	num(&config.Gateway.RateBurst, e.RateBurst)
	num(&config.Gateway.CallTimeoutMs, e.CallTimeoutMs)
	num(&config.Engine.Port, e.EnginePort)
	str(&config.Engine.GatewayURL, e.GatewayURL)
	num(&config.Engine.GatewayTimeoutMs, e.GatewayTimeoutMs)
	if e.EnableCORS != nil {
		config.Engine.EnableCORS = *e.EnableCORS
	}
	num(&config.Breaker.FailureThreshold, e.FailureThreshold)
	num(&config.Breaker.ResetTimeoutMs, e.ResetTimeoutMs)
	num(&config.Retry.MaxAttempts, e.MaxAttempts)
	if len(e.RetryDelaysMs) > 0 {
		config.Retry.DelaysMs = e.RetryDelaysMs
	}
	str(&config.Session.DataDir, e.DataDir)
	num(&config.Session.CacheSize, e.CacheSize)
	if e.PersistActive != nil {
		v := *e.PersistActive
		config.Session.PersistActive = &v
	}
	return nil
}

// providerEnvMap names the conventional key variable of each provider.
var providerEnvMap = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"ark":       "ARK_API_KEY",
}

// applyProviderKeys fills missing provider API keys from the environment.
func applyProviderKeys(config *types.Config) {
	for provider, envVar := range providerEnvMap {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		p := config.Provider[provider]
		if p.APIKey == "" {
			p.APIKey = apiKey
			config.Provider[provider] = p
		}
	}
}

// PersistActive reports the effective session durability setting.
func PersistActive(config *types.Config) bool {
	return config.Session.PersistActive == nil || *config.Session.PersistActive
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
