// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file; a local .env file is loaded first when
// present.
//
// OPENROUTER_API_KEY is the only hard requirement: the gateway cannot reach
// its primary completion provider without it. Gemini and Pollinations are
// optional upstreams enabled by their own settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// OpenRouter is the primary completion provider. APIKey is required.
	OpenRouter ProviderConfig

	// Gemini enables the Google Gemini upstream when APIKey is non-empty.
	Gemini ProviderConfig

	// Pollinations enables the Pollinations upstream. The endpoint is
	// anonymous, so only a BaseURL override is configurable.
	Pollinations ProviderConfig

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// FallbackModels are tried in order after the requested model fails with
	// a retryable error. The attempt list is deduplicated and capped at
	// MaxModelAttempts candidates.
	FallbackModels []string

	// MaxModelAttempts bounds the number of models tried per request.
	// Default: 3. The cap bounds worst-case latency and upstream spend when
	// providers degrade.
	MaxModelAttempts int

	// ProviderTimeout is the per-attempt upstream HTTP timeout. Default: 30s.
	ProviderTimeout time.Duration

	// StreamIdleTimeout aborts a stream when no upstream event arrives for
	// this long. Default: 30s.
	StreamIdleTimeout time.Duration

	// RateLimit controls the per-client request limiter.
	RateLimit RateLimitConfig

	// Redis holds the connection URL for the Redis-backed rate limiter.
	// Required only when RateLimit.Mode is "redis".
	Redis RedisConfig

	// AppBaseURL is the canonical URL of the web client. Used both for CORS
	// matching and for upstream attribution headers.
	AppBaseURL string

	// DeploymentURL is the platform-assigned deployment hostname (with or
	// without scheme), added to the CORS allowlist when set.
	DeploymentURL string

	// AllowedOrigins is an additional comma-separated CORS allowlist.
	AllowedOrigins []string
}

// ProviderConfig holds configuration for a single upstream provider.
type ProviderConfig struct {
	// APIKey authenticates against the provider. Empty disables the provider
	// except for Pollinations, which accepts anonymous requests.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	// Useful for local mocks and tests. Leave empty to use the default.
	BaseURL string
}

// RateLimitConfig controls the fixed-window request limiter.
type RateLimitConfig struct {
	// Mode selects the backend:
	//   "memory" - in-process sharded counters. Per-instance quota.
	//   "redis"  - Redis-backed counters shared across replicas.
	// Default: "memory".
	Mode string

	// Window is the fixed window length. Default: 60s.
	Window time.Duration

	// Max is the number of requests allowed per client key per window.
	// Default: 30.
	Max int
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DEFAULT_MODEL", "deepseek/deepseek-chat-v3-0324:free")
	v.SetDefault("FALLBACK_MODELS", []string{
		"google/gemini-2.0-flash-exp:free",
		"meta-llama/llama-3.3-70b-instruct:free",
	})

	v.SetDefault("MAX_MODEL_ATTEMPTS", 3)
	v.SetDefault("PROVIDER_TIMEOUT", "30s")
	v.SetDefault("STREAM_IDLE_TIMEOUT", "30s")

	v.SetDefault("RATE_LIMIT_MODE", "memory")
	v.SetDefault("RATE_LIMIT_WINDOW", "60s")
	v.SetDefault("RATE_LIMIT_MAX", 30)

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		OpenRouter: ProviderConfig{
			APIKey:  v.GetString("OPENROUTER_API_KEY"),
			BaseURL: v.GetString("OPENROUTER_BASE_URL"),
		},
		Gemini: ProviderConfig{
			APIKey:  v.GetString("GOOGLE_API_KEY"),
			BaseURL: v.GetString("GEMINI_BASE_URL"),
		},
		Pollinations: ProviderConfig{
			BaseURL: v.GetString("POLLINATIONS_BASE_URL"),
		},

		DefaultModel:   v.GetString("DEFAULT_MODEL"),
		FallbackModels: splitList(v.GetStringSlice("FALLBACK_MODELS")),

		MaxModelAttempts:  v.GetInt("MAX_MODEL_ATTEMPTS"),
		ProviderTimeout:   v.GetDuration("PROVIDER_TIMEOUT"),
		StreamIdleTimeout: v.GetDuration("STREAM_IDLE_TIMEOUT"),

		RateLimit: RateLimitConfig{
			Mode:   strings.ToLower(v.GetString("RATE_LIMIT_MODE")),
			Window: v.GetDuration("RATE_LIMIT_WINDOW"),
			Max:    v.GetInt("RATE_LIMIT_MAX"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		AppBaseURL:     v.GetString("APP_BASE_URL"),
		DeploymentURL:  v.GetString("DEPLOYMENT_URL"),
		AllowedOrigins: splitList(v.GetStringSlice("ALLOWED_ORIGINS")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	// A missing credential is a configuration error, not a per-request one.
	if c.OpenRouter.APIKey == "" {
		return fmt.Errorf(
			"config: OPENROUTER_API_KEY is required; the gateway cannot reach " +
				"its completion provider without it",
		)
	}

	if c.DefaultModel == "" && len(c.FallbackModels) == 0 {
		return fmt.Errorf("config: DEFAULT_MODEL or FALLBACK_MODELS must be set")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	switch c.RateLimit.Mode {
	case "memory", "redis":
	default:
		return fmt.Errorf(
			"config: invalid RATE_LIMIT_MODE %q; must be one of: memory, redis",
			c.RateLimit.Mode,
		)
	}
	if c.RateLimit.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when RATE_LIMIT_MODE=redis; " +
				"set RATE_LIMIT_MODE=memory to use in-process counters",
		)
	}
	if c.RateLimit.Max < 1 {
		return fmt.Errorf("config: RATE_LIMIT_MAX must be ≥ 1, got %d", c.RateLimit.Max)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_WINDOW must be a positive duration")
	}

	if c.MaxModelAttempts < 1 {
		return fmt.Errorf("config: MAX_MODEL_ATTEMPTS must be ≥ 1, got %d", c.MaxModelAttempts)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("config: PROVIDER_TIMEOUT must be a positive duration")
	}

	return nil
}

// splitList normalizes a viper string slice that may arrive as a single
// comma-separated env value ("a,b,c") or as a real YAML list.
func splitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
