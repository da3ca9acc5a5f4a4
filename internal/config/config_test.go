package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 8080 {
		t.Errorf("port: %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level: %q", cfg.LogLevel)
	}
	if cfg.DefaultModel != "deepseek/deepseek-chat-v3-0324:free" {
		t.Errorf("default model: %q", cfg.DefaultModel)
	}
	if len(cfg.FallbackModels) != 2 {
		t.Errorf("fallback models: %v", cfg.FallbackModels)
	}
	if cfg.MaxModelAttempts != 3 {
		t.Errorf("max attempts: %d", cfg.MaxModelAttempts)
	}
	if cfg.ProviderTimeout != 30*time.Second || cfg.StreamIdleTimeout != 30*time.Second {
		t.Errorf("timeouts: %v %v", cfg.ProviderTimeout, cfg.StreamIdleTimeout)
	}
	if cfg.RateLimit.Mode != "memory" || cfg.RateLimit.Window != time.Minute || cfg.RateLimit.Max != 30 {
		t.Errorf("rate limit: %+v", cfg.RateLimit)
	}
}

func TestLoad_MissingOpenRouterKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "OPENROUTER_API_KEY") {
		t.Errorf("error should name the missing variable: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RATE_LIMIT_MAX", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9090 {
		t.Errorf("port: %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level should be lowercased, got %q", cfg.LogLevel)
	}
	if cfg.RateLimit.Max != 5 || cfg.RateLimit.Window != 10*time.Second {
		t.Errorf("rate limit: %+v", cfg.RateLimit)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("LOG_LEVEL", "verbose")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestLoad_RedisModeRequiresURL(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("RATE_LIMIT_MODE", "redis")
	t.Setenv("REDIS_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "REDIS_URL") {
		t.Errorf("error should name REDIS_URL: %v", err)
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redis.URL != "redis://localhost:6379" {
		t.Errorf("redis url: %q", cfg.Redis.URL)
	}
}

func TestLoad_CommaSeparatedLists(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("FALLBACK_MODELS", "alpha/one, beta/two ,,gamma/three")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"alpha/one", "beta/two", "gamma/three"}
	if !reflect.DeepEqual(cfg.FallbackModels, want) {
		t.Errorf("fallback models: %v", cfg.FallbackModels)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("allowed origins: %v", cfg.AllowedOrigins)
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{nil, nil},
		{[]string{"a,b"}, []string{"a", "b"}},
		{[]string{"a", "b"}, []string{"a", "b"}},
		{[]string{" a , b ", ""}, []string{"a", "b"}},
	}
	for _, tc := range cases {
		if got := splitList(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitList(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
