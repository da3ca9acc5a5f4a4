// Package gateway is the core chat request dispatcher.
//
// The Gateway receives a browser chat request, checks its Origin and rate
// limit, validates the conversation payload, and walks an ordered list of
// model candidates until one produces a completion, streamed to the client
// as Server-Sent Events or returned as a single JSON body.
//
// Key design constraints:
//   - The gateway is stateless: no conversation history is stored anywhere.
//   - Logger, metrics, and rate limiter are optional and nil-safe.
//   - All upstream I/O uses context.Context so timeouts propagate correctly.
//   - Once the first byte of a stream reaches the client, fallback stops;
//     failures after that point surface as in-band error events.
package gateway

import (
	"log/slog"
	"time"

	"github.com/lumora-chat/chat-gateway/internal/cors"
	"github.com/lumora-chat/chat-gateway/internal/logger"
	"github.com/lumora-chat/chat-gateway/internal/metrics"
	"github.com/lumora-chat/chat-gateway/internal/providers"
	"github.com/lumora-chat/chat-gateway/internal/ratelimit"
)

// Defaults applied when Options fields are zero.
const (
	defaultMaxAttempts       = 3
	defaultStreamIdleTimeout = 30 * time.Second
)

// Options holds optional tuning parameters for a Gateway. All fields have
// sensible defaults and can be omitted.
type Options struct {
	// Logger is the structured logger used for request events and fallback
	// diagnostics. Defaults to slog.Default() when nil.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. When nil, metrics are
	// disabled and /metrics returns 404.
	Metrics *metrics.Registry

	// AccessLog is the async per-request logger. Optional.
	AccessLog *logger.Logger

	// Limiter is the per-client rate limiter. When nil, no limiting applies.
	Limiter ratelimit.Limiter

	// CORS decides which Origins may read responses. Defaults to the static
	// development allowlist when nil.
	CORS *cors.Validator

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// FallbackModels are tried in order after a retryable failure.
	FallbackModels []string

	// MaxModelAttempts bounds the number of models tried per request.
	// Must be ≥ 1. Default: 3.
	MaxModelAttempts int

	// ProviderTimeout is the per-attempt upstream timeout.
	// Default: providers.ProviderTimeout (30s).
	ProviderTimeout time.Duration

	// StreamIdleTimeout aborts a stream when no upstream event arrives for
	// this long. Default: 30s.
	StreamIdleTimeout time.Duration

	// CBConfig configures the per-provider circuit breaker thresholds.
	// Zero values use the package-level defaults.
	CBConfig CBConfig
}

// Gateway is the request dispatcher. All dependencies are injected via the
// constructor so they can be replaced with doubles in unit tests.
type Gateway struct {
	providers map[string]providers.Provider
	cors      *cors.Validator
	limiter   ratelimit.Limiter
	cb        *CircuitBreaker
	log       *slog.Logger
	metrics   *metrics.Registry
	accessLog *logger.Logger

	defaultModel   string
	fallbackModels []string
	maxAttempts    int

	providerTimeout   time.Duration
	streamIdleTimeout time.Duration
}

// New creates a fully configured Gateway.
func New(provs map[string]providers.Provider, opts Options) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	corsValidator := opts.CORS
	if corsValidator == nil {
		corsValidator = cors.New("", "", nil)
	}

	maxAttempts := opts.MaxModelAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	providerTimeout := opts.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = providers.ProviderTimeout
	}

	idleTimeout := opts.StreamIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultStreamIdleTimeout
	}

	return &Gateway{
		providers: provs,
		cors:      corsValidator,
		limiter:   opts.Limiter,
		cb:        NewCircuitBreaker(opts.CBConfig),
		log:       log,
		metrics:   opts.Metrics,
		accessLog: opts.AccessLog,

		defaultModel:   opts.DefaultModel,
		fallbackModels: opts.FallbackModels,
		maxAttempts:    maxAttempts,

		providerTimeout:   providerTimeout,
		streamIdleTimeout: idleTimeout,
	}
}

// logAccess enqueues an access log entry. Never blocks.
func (g *Gateway) logAccess(e logger.AccessLog) {
	if g.accessLog == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	g.accessLog.Log(e)
}
