// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     - external connections (Redis when needed)
//  2. initProviders - upstream completion clients
//  3. initServices  - rate limiter, metrics registry, access logger
//  4. initGateway   - dispatcher + HTTP routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lumora-chat/chat-gateway/internal/config"
	"github.com/lumora-chat/chat-gateway/internal/cors"
	"github.com/lumora-chat/chat-gateway/internal/gateway"
	"github.com/lumora-chat/chat-gateway/internal/logger"
	"github.com/lumora-chat/chat-gateway/internal/metrics"
	"github.com/lumora-chat/chat-gateway/internal/providers"
	geminiprov "github.com/lumora-chat/chat-gateway/internal/providers/gemini"
	openrouterprov "github.com/lumora-chat/chat-gateway/internal/providers/openrouter"
	pollinationsprov "github.com/lumora-chat/chat-gateway/internal/providers/pollinations"
	"github.com/lumora-chat/chat-gateway/internal/ratelimit"
)

// memorySweepInterval is how often expired in-memory rate-limit windows are
// reclaimed.
const memorySweepInterval = 5 * time.Minute

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections; nil when not configured.
	rdb *redis.Client

	accessLog *logger.Logger
	limiter   ratelimit.Limiter
	memory    *ratelimit.MemoryLimiter

	prom *metrics.Registry

	provs map[string]providers.Provider
	gw    *gateway.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"providers", a.initProviders},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("ratelimit_mode", a.cfg.RateLimit.Mode),
		slog.Int("providers", len(a.provs)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.Serve(addr)
	})

	if a.memory != nil {
		g.Go(func() error {
			ticker := time.NewTicker(memorySweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					a.memory.Sweep()
				case <-gctx.Done():
					return nil
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	if a.accessLog != nil {
		if err := a.accessLog.Close(); err != nil {
			a.log.Error("access logger close error", slog.String("error", err.Error()))
		}
		a.accessLog = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Init steps ───────────────────────────────────────────────────────────────

func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.RateLimit.Mode != "redis" {
		return nil
	}
	rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	return nil
}

func (a *App) initProviders(ctx context.Context) error {
	a.provs = make(map[string]providers.Provider)

	// OpenRouter is the primary upstream and always configured: config
	// validation guarantees the API key.
	orOpts := []openrouterprov.Option{
		openrouterprov.WithAttribution(a.cfg.AppBaseURL, "Lumora Chat"),
	}
	if a.cfg.OpenRouter.BaseURL != "" {
		orOpts = append(orOpts, openrouterprov.WithBaseURL(a.cfg.OpenRouter.BaseURL))
	}
	a.provs["openrouter"] = openrouterprov.New(a.cfg.OpenRouter.APIKey, orOpts...)

	if a.cfg.Gemini.APIKey != "" {
		var gopts []geminiprov.Option
		if a.cfg.Gemini.BaseURL != "" {
			gopts = append(gopts, geminiprov.WithBaseURL(a.cfg.Gemini.BaseURL))
		}
		p, err := geminiprov.New(ctx, a.cfg.Gemini.APIKey, gopts...)
		if err != nil {
			return fmt.Errorf("gemini: %w", err)
		}
		a.provs["gemini"] = p
	}

	// Pollinations accepts anonymous requests, so it is always available.
	var popts []pollinationsprov.Option
	if a.cfg.Pollinations.BaseURL != "" {
		popts = append(popts, pollinationsprov.WithBaseURL(a.cfg.Pollinations.BaseURL))
	}
	a.provs["pollinations"] = pollinationsprov.New(popts...)

	return nil
}

func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New(a.version)

	al, err := logger.New(a.baseCtx, a.log)
	if err != nil {
		return err
	}
	a.accessLog = al

	switch a.cfg.RateLimit.Mode {
	case "redis":
		a.limiter = ratelimit.NewRedisLimiter(a.rdb, a.cfg.RateLimit.Window, a.cfg.RateLimit.Max)
	default:
		a.memory = ratelimit.NewMemoryLimiter(a.cfg.RateLimit.Window, a.cfg.RateLimit.Max)
		a.limiter = a.memory
	}

	return nil
}

func (a *App) initGateway(ctx context.Context) error {
	a.gw = gateway.New(a.provs, gateway.Options{
		Logger:    a.log,
		Metrics:   a.prom,
		AccessLog: a.accessLog,
		Limiter:   a.limiter,
		CORS:      cors.New(a.cfg.AppBaseURL, a.cfg.DeploymentURL, a.cfg.AllowedOrigins),

		DefaultModel:     a.cfg.DefaultModel,
		FallbackModels:   a.cfg.FallbackModels,
		MaxModelAttempts: a.cfg.MaxModelAttempts,

		ProviderTimeout:   a.cfg.ProviderTimeout,
		StreamIdleTimeout: a.cfg.StreamIdleTimeout,
	})
	return nil
}

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error; callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}
