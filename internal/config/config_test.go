package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexballas/mcp-jellyfin/internal/session"
)

func envFrom(values map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envFrom(map[string]string{
		EnvAPIURL: "http://jellyfin.local:8096/",
		EnvAPIKey: "secret-key",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://jellyfin.local:8096", cfg.APIURL)
	assert.Equal(t, "secret-key", cfg.APIKey)
	assert.Equal(t, session.StrategyActive, cfg.Strategy)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRateLimitRPS, cfg.RateLimitRPS)
	assert.Equal(t, DefaultMaxFrameBytes, cfg.MaxFrameBytes)
	assert.False(t, cfg.EnableCast)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := load(envFrom(map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvAPIURL)
	assert.Contains(t, err.Error(), EnvAPIKey)

	_, err = load(envFrom(map[string]string{EnvAPIURL: "http://x", EnvAPIKey: "   "}))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), EnvAPIURL)
	assert.Contains(t, err.Error(), EnvAPIKey)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(envFrom(map[string]string{
		EnvAPIURL:          "http://x",
		EnvAPIKey:          "k",
		EnvUserID:          "u1",
		EnvSessionStrategy: "ASK",
		EnvDeviceIDHint:    "living-room",
		EnvTimeoutMS:       "2500",
		EnvMaxRetries:      "0",
		EnvRateLimitRPS:    "2.5",
		EnvMaxFrameBytes:   "4096",
		EnvEnableCast:      "true",
		EnvLogLevel:        "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "u1", cfg.UserID)
	assert.Equal(t, session.StrategyAsk, cfg.Strategy)
	assert.Equal(t, "living-room", cfg.DeviceHint)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 4096, cfg.MaxFrameBytes)
	assert.True(t, cfg.EnableCast)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	cfg, err := load(envFrom(map[string]string{
		EnvAPIURL:          "http://x",
		EnvAPIKey:          "k",
		EnvSessionStrategy: "loudest",
		EnvTimeoutMS:       "-1",
		EnvMaxRetries:      "many",
		EnvRateLimitRPS:    "0",
		EnvMaxFrameBytes:   "abc",
		EnvEnableCast:      "sometimes",
	}))
	require.NoError(t, err)

	assert.Equal(t, session.StrategyActive, cfg.Strategy)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRateLimitRPS, cfg.RateLimitRPS)
	assert.Equal(t, DefaultMaxFrameBytes, cfg.MaxFrameBytes)
	assert.False(t, cfg.EnableCast)
	assert.Len(t, cfg.Warnings, 6)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jellyfin.toml")
	content := `
[jellyfin]
api_url = "http://from-file:8096"
api_key = "file-key"
session_strategy = "recent"
timeout_ms = 1000
max_retries = 0

[server]
max_frame_bytes = 2048
enable_cast = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := load(envFrom(map[string]string{
		EnvConfigFile: path,
		EnvAPIKey:     "env-key",
	}))
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, "http://from-file:8096", cfg.APIURL)
	assert.Equal(t, "env-key", cfg.APIKey, "environment wins over the file")
	assert.Equal(t, session.StrategyRecent, cfg.Strategy)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 2048, cfg.MaxFrameBytes)
	assert.True(t, cfg.EnableCast)
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := load(envFrom(map[string]string{
		EnvConfigFile: filepath.Join(t.TempDir(), "missing.toml"),
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[jellyfin\napi_url ="), 0o600))
	_, err = load(envFrom(map[string]string{EnvConfigFile: path}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse TOML")
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("JELLYFIN_API_URL=http://dotenv:8096\nJELLYFIN_API_KEY=dotenv-key\n"), 0o600))

	t.Chdir(dir)
	t.Setenv(EnvAPIKey, "shell-key")
	t.Setenv(EnvConfigFile, "")
	// Registered with t.Setenv so cleanup restores whatever godotenv sets.
	t.Setenv(EnvAPIURL, "")
	require.NoError(t, os.Unsetenv(EnvAPIURL))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://dotenv:8096", cfg.APIURL)
	assert.Equal(t, "shell-key", cfg.APIKey)
}

func TestLoadDotEnvMissingFileIsFine(t *testing.T) {
	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestSummaryRedactsKey(t *testing.T) {
	cfg := &Config{APIURL: "http://x", APIKey: "abcdef123456", Strategy: session.StrategyDevice, Timeout: 3 * time.Second}
	summary := cfg.Summary()
	assert.Equal(t, "****3456", summary.APIKey)
	assert.Equal(t, "device", summary.Strategy)
	assert.Equal(t, int64(3000), summary.TimeoutMS)

	short := (&Config{APIKey: "abc"}).Summary()
	assert.Equal(t, "****", short.APIKey)
}
