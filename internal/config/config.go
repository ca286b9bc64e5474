// Package config resolves runtime settings from the environment, an optional
// .env file and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"

	"github.com/alexballas/mcp-jellyfin/internal/session"
)

const (
	EnvAPIURL          = "JELLYFIN_API_URL"
	EnvAPIKey          = "JELLYFIN_API_KEY"
	EnvUserID          = "JELLYFIN_USER_ID"
	EnvSessionStrategy = "JELLYFIN_SESSION_STRATEGY"
	EnvDeviceIDHint    = "JELLYFIN_DEVICE_ID_HINT"
	EnvTimeoutMS       = "JELLYFIN_TIMEOUT_MS"
	EnvMaxRetries      = "JELLYFIN_MAX_RETRIES"
	EnvRateLimitRPS    = "JELLYFIN_RATE_LIMIT_RPS"
	EnvMaxFrameBytes   = "MCP_JELLYFIN_MAX_FRAME_BYTES"
	EnvEnableCast      = "MCP_JELLYFIN_ENABLE_CAST"
	EnvLogLevel        = "MCP_JELLYFIN_LOG_LEVEL"
	EnvConfigFile      = "MCP_JELLYFIN_CONFIG"

	DefaultTimeout       = 15 * time.Second
	DefaultMaxRetries    = 2
	DefaultRateLimitRPS  = 10.0
	DefaultMaxFrameBytes = 8 * 1024 * 1024
)

type Config struct {
	APIURL        string
	APIKey        string
	UserID        string
	Strategy      session.Strategy
	DeviceHint    string
	Timeout       time.Duration
	MaxRetries    int
	RateLimitRPS  float64
	MaxFrameBytes int
	EnableCast    bool
	LogLevel      string
	ConfigFile    string

	// Warnings lists values that were rejected and replaced by defaults.
	Warnings []string
}

type fileConfig struct {
	Jellyfin struct {
		APIURL          string  `toml:"api_url"`
		APIKey          string  `toml:"api_key"`
		UserID          string  `toml:"user_id"`
		SessionStrategy string  `toml:"session_strategy"`
		DeviceIDHint    string  `toml:"device_id_hint"`
		TimeoutMS       int     `toml:"timeout_ms"`
		MaxRetries      *int    `toml:"max_retries"`
		RateLimitRPS    float64 `toml:"rate_limit_rps"`
	} `toml:"jellyfin"`
	Server struct {
		MaxFrameBytes int    `toml:"max_frame_bytes"`
		EnableCast    *bool  `toml:"enable_cast"`
		LogLevel      string `toml:"log_level"`
	} `toml:"server"`
}

type lookupFunc func(key string) (string, bool)

// Load reads .env from the working directory without overriding variables
// that are already set, then resolves the configuration.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	return load(os.LookupEnv)
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func load(env lookupFunc) (*Config, error) {
	lookup := env
	cfg := &Config{}

	if raw, ok := env(EnvConfigFile); ok && strings.TrimSpace(raw) != "" {
		path, err := homedir.Expand(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", EnvConfigFile, err)
		}
		defaults, err := readFile(path)
		if err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
		lookup = func(key string) (string, bool) {
			if v, ok := env(key); ok && strings.TrimSpace(v) != "" {
				return v, true
			}
			v, ok := defaults[key]
			return v, ok
		}
	}

	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg.APIURL = strings.TrimRight(get(EnvAPIURL), "/")
	cfg.APIKey = get(EnvAPIKey)
	var missing []string
	if cfg.APIURL == "" {
		missing = append(missing, EnvAPIURL)
	}
	if cfg.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	cfg.UserID = get(EnvUserID)
	cfg.DeviceHint = get(EnvDeviceIDHint)
	cfg.LogLevel = get(EnvLogLevel)

	cfg.Strategy = session.StrategyActive
	if raw := get(EnvSessionStrategy); raw != "" {
		strategy, ok := session.ParseStrategy(raw)
		if !ok {
			cfg.warn("invalid %s=%q; using %q", EnvSessionStrategy, raw, strategy)
		}
		cfg.Strategy = strategy
	}

	cfg.Timeout = time.Duration(cfg.positiveInt(EnvTimeoutMS, get(EnvTimeoutMS), int(DefaultTimeout/time.Millisecond))) * time.Millisecond
	cfg.MaxFrameBytes = cfg.positiveInt(EnvMaxFrameBytes, get(EnvMaxFrameBytes), DefaultMaxFrameBytes)

	cfg.MaxRetries = DefaultMaxRetries
	if raw := get(EnvMaxRetries); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			cfg.warn("invalid %s=%q; using %d", EnvMaxRetries, raw, DefaultMaxRetries)
		} else {
			cfg.MaxRetries = n
		}
	}

	cfg.RateLimitRPS = DefaultRateLimitRPS
	if raw := get(EnvRateLimitRPS); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps <= 0 {
			cfg.warn("invalid %s=%q; using %g", EnvRateLimitRPS, raw, DefaultRateLimitRPS)
		} else {
			cfg.RateLimitRPS = rps
		}
	}

	if raw := get(EnvEnableCast); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			cfg.warn("invalid %s=%q; cast stays disabled", EnvEnableCast, raw)
		}
		cfg.EnableCast = enabled
	}

	return cfg, nil
}

func (c *Config) positiveInt(key, raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.warn("invalid %s=%q; using %d", key, raw, fallback)
		return fallback
	}
	return n
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// readFile flattens the TOML file into the same keys as the environment.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse TOML in '%s': %w", path, err)
	}

	out := map[string]string{}
	setString := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			out[key] = value
		}
	}
	setString(EnvAPIURL, fc.Jellyfin.APIURL)
	setString(EnvAPIKey, fc.Jellyfin.APIKey)
	setString(EnvUserID, fc.Jellyfin.UserID)
	setString(EnvSessionStrategy, fc.Jellyfin.SessionStrategy)
	setString(EnvDeviceIDHint, fc.Jellyfin.DeviceIDHint)
	setString(EnvLogLevel, fc.Server.LogLevel)
	if fc.Jellyfin.TimeoutMS != 0 {
		out[EnvTimeoutMS] = strconv.Itoa(fc.Jellyfin.TimeoutMS)
	}
	if fc.Jellyfin.MaxRetries != nil {
		out[EnvMaxRetries] = strconv.Itoa(*fc.Jellyfin.MaxRetries)
	}
	if fc.Jellyfin.RateLimitRPS != 0 {
		out[EnvRateLimitRPS] = strconv.FormatFloat(fc.Jellyfin.RateLimitRPS, 'f', -1, 64)
	}
	if fc.Server.MaxFrameBytes != 0 {
		out[EnvMaxFrameBytes] = strconv.Itoa(fc.Server.MaxFrameBytes)
	}
	if fc.Server.EnableCast != nil {
		out[EnvEnableCast] = strconv.FormatBool(*fc.Server.EnableCast)
	}
	return out, nil
}

// Summary is a printable view with the API key redacted.
type Summary struct {
	APIURL        string   `json:"api_url"`
	APIKey        string   `json:"api_key"`
	UserID        string   `json:"user_id,omitempty"`
	Strategy      string   `json:"session_strategy"`
	DeviceHint    string   `json:"device_id_hint,omitempty"`
	TimeoutMS     int64    `json:"timeout_ms"`
	MaxRetries    int      `json:"max_retries"`
	RateLimitRPS  float64  `json:"rate_limit_rps"`
	MaxFrameBytes int      `json:"max_frame_bytes"`
	EnableCast    bool     `json:"enable_cast"`
	ConfigFile    string   `json:"config_file,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

func (c *Config) Summary() Summary {
	return Summary{
		APIURL:        c.APIURL,
		APIKey:        redact(c.APIKey),
		UserID:        c.UserID,
		Strategy:      string(c.Strategy),
		DeviceHint:    c.DeviceHint,
		TimeoutMS:     c.Timeout.Milliseconds(),
		MaxRetries:    c.MaxRetries,
		RateLimitRPS:  c.RateLimitRPS,
		MaxFrameBytes: c.MaxFrameBytes,
		EnableCast:    c.EnableCast,
		ConfigFile:    c.ConfigFile,
		Warnings:      c.Warnings,
	}
}

func redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
