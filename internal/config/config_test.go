package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questforge/encounterd/pkg/types"
)

// isolate points HOME and XDG at a temp dir and clears variables Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, ".local", "share"))
	for _, key := range []string{"ENCOUNTERD_CONFIG", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "ARK_API_KEY"} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := isolate(t)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, DefaultGatewayPort, cfg.Gateway.Port)
	assert.Equal(t, DefaultEnginePort, cfg.Engine.Port)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60_000, cfg.Breaker.ResetTimeoutMs)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, []int{1000, 2000, 4000}, cfg.Retry.DelaysMs)
	assert.Equal(t, 1024, cfg.Session.CacheSize)
	assert.True(t, PersistActive(cfg))
	assert.Equal(t, filepath.Join(tmpDir, ".local", "share", "encounterd", "storage"), cfg.Session.DataDir)
}

func TestLoadProjectJSON(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "encounterd.json"), `{
		"defaultProvider": "openai",
		"provider": {
			"openai": {
				"apiKey": "sk-openai-test",
				"baseURL": "https://api.openai.com/v1",
				"model": "gpt-4o-mini"
			}
		},
		"gateway": {"port": 9001}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.Equal(t, "sk-openai-test", cfg.Provider["openai"].APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider["openai"].Model)
	assert.Equal(t, 9001, cfg.Gateway.Port)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultRateBurst, cfg.Gateway.RateBurst)
}

func TestJSONCComments(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, ".encounterd", "encounterd.jsonc"), `{
		// This is a single-line comment
		"logLevel": "debug",
		/* This is a
		   multi-line comment */
		"provider": {
			"anthropic": {
				"apiKey": "test-key" // inline comment
			}
		}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "test-key", cfg.Provider["anthropic"].APIKey)
}

func TestLoadYAML(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "encounterd.yaml"), `
engine:
  gatewayURL: http://gateway:8081
  enableCORS: true
session:
  dataDir: /var/lib/encounterd
  persistActive: false
retry:
  delaysMs: [10, 20]
`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "http://gateway:8081", cfg.Engine.GatewayURL)
	assert.True(t, cfg.Engine.EnableCORS)
	assert.Equal(t, "/var/lib/encounterd", cfg.Session.DataDir)
	assert.False(t, PersistActive(cfg))
	assert.Equal(t, []int{10, 20}, cfg.Retry.DelaysMs)
}

func TestEnvInterpolation(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("TEST_API_KEY", "interpolated-key")

	writeFile(t, filepath.Join(tmpDir, "encounterd.json"), `{
		"provider": {
			"anthropic": {
				"apiKey": "{env:TEST_API_KEY}"
			}
		}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "interpolated-key", cfg.Provider["anthropic"].APIKey)
}

func TestFileInterpolation(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "secret.txt"), "s3cr\"et\n")
	writeFile(t, filepath.Join(tmpDir, ".encounterd", "encounterd.json"), `{
		"hmacSecret": "{file:../secret.txt}"
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, `s3cr"et`, cfg.HMACSecret)
}

func TestConfigMerge(t *testing.T) {
	tmpDir := isolate(t)
	project := filepath.Join(tmpDir, "project")

	writeFile(t, filepath.Join(tmpDir, ".config", "encounterd", "encounterd.json"), `{
		"hmacSecret": "global-secret",
		"provider": {"anthropic": {"apiKey": "global-key"}},
		"breaker": {"failureThreshold": 3}
	}`)
	writeFile(t, filepath.Join(project, "encounterd.json"), `{
		"provider": {"openai": {"apiKey": "project-key"}},
		"breaker": {"resetTimeoutMs": 5000}
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "global-secret", cfg.HMACSecret)
	assert.Equal(t, "global-key", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, "project-key", cfg.Provider["openai"].APIKey)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 5000, cfg.Breaker.ResetTimeoutMs)
}

func TestEnvVarOverride(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "encounterd.json"), `{"engine": {"port": 7000}, "hmacSecret": "file"}`)
	t.Setenv("ENCOUNTERD_ENGINE_PORT", "7100")
	t.Setenv("ENCOUNTERD_HMAC_SECRET", "from-env")
	t.Setenv("ENCOUNTERD_PERSIST_ACTIVE", "false")
	t.Setenv("ENCOUNTERD_RETRY_DELAYS_MS", "5,10,20")
	t.Setenv("ENCOUNTERD_RATE_LIMIT", "2.5")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 7100, cfg.Engine.Port)
	assert.Equal(t, "from-env", cfg.HMACSecret)
	assert.False(t, PersistActive(cfg))
	assert.Equal(t, []int{5, 10, 20}, cfg.Retry.DelaysMs)
	assert.Equal(t, 2.5, cfg.Gateway.RateLimit)
}

func TestEnvVarParseError(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("ENCOUNTERD_ENGINE_PORT", "not-a-number")

	_, err := Load(tmpDir)
	assert.Error(t, err)
}

func TestProviderKeyFallback(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")
	t.Setenv("ARK_API_KEY", "env-ark")

	writeFile(t, filepath.Join(tmpDir, "encounterd.json"), `{
		"provider": {"ark": {"apiKey": "file-ark", "model": "ep-123"}}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "env-anthropic", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, "file-ark", cfg.Provider["ark"].APIKey, "file keys win over the fallback")
	assert.Equal(t, "ep-123", cfg.Provider["ark"].Model)
}

func TestENCOUNTERD_CONFIG(t *testing.T) {
	tmpDir := isolate(t)

	custom := filepath.Join(tmpDir, "elsewhere", "custom.yaml")
	writeFile(t, custom, "defaultProvider: ark\n")
	t.Setenv("ENCOUNTERD_CONFIG", custom)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "ark", cfg.DefaultProvider)

	t.Setenv("ENCOUNTERD_CONFIG", filepath.Join(tmpDir, "missing.json"))
	_, err = Load(tmpDir)
	assert.Error(t, err)
}

func TestMalformedFileIsAnError(t *testing.T) {
	tmpDir := isolate(t)
	writeFile(t, filepath.Join(tmpDir, "encounterd.json"), `{"gateway": {"port": "eighty"}}`)

	_, err := Load(tmpDir)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := isolate(t)

	cfg := Default()
	cfg.HMACSecret = "abc"
	cfg.Provider["openai"] = types.ProviderConfig{APIKey: "k", Model: "gpt-4o"}

	path := filepath.Join(tmpDir, ".encounterd", "encounterd.json")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "abc", loaded.HMACSecret)
	assert.Equal(t, "gpt-4o", loaded.Provider["openai"].Model)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestGatewayRetryBudget(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4*15*time.Second+7*time.Second, GatewayRetryBudget(cfg))
	assert.Greater(t, time.Duration(cfg.Engine.GatewayTimeoutMs)*time.Millisecond, GatewayRetryBudget(cfg))

	cfg.Retry.MaxAttempts = 6
	cfg.Retry.DelaysMs = []int{100, 200}
	cfg.Gateway.CallTimeoutMs = 1000
	// The last delay repeats for the later retries.
	assert.Equal(t, 6*time.Second+(100+200+200+200+200)*time.Millisecond, GatewayRetryBudget(cfg))
}

func TestGatewayTimeoutMustOutlastRetries(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("ENCOUNTERD_CALL_TIMEOUT_MS", "45000")

	_, err := Load(tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gatewayTimeoutMs")

	t.Setenv("ENCOUNTERD_GATEWAY_TIMEOUT_MS", "200000")
	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 200_000, cfg.Engine.GatewayTimeoutMs)
}
