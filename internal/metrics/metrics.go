// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// chat_inflight_requests
	inFlight prometheus.Gauge

	// chat_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// chat_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// chat_upstream_attempts_total{provider,model,outcome}
	upstreamAttempts *prometheus.CounterVec

	// chat_upstream_attempt_duration_seconds{provider,outcome}
	upstreamDuration *prometheus.HistogramVec

	// chat_model_fallback_total{from,to}
	fallbackTotal *prometheus.CounterVec

	// chat_model_fallback_exhausted_total
	fallbackExhausted prometheus.Counter

	// chat_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// chat_stream_events_total{kind}
	streamEvents *prometheus.CounterVec

	// chat_tokens_total{provider,direction}
	tokensTotal *prometheus.CounterVec

	// chat_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

// New creates a Registry with all metric families registered.
func New(version string) *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_http_request_duration_seconds",
				Help:    "End-to-end HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_upstream_attempts_total",
				Help: "Completion attempts per provider, model, and outcome",
			},
			[]string{"provider", "model", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_upstream_attempt_duration_seconds",
				Help:    "Duration of individual upstream attempts",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "outcome"},
		),

		fallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_model_fallback_total",
				Help: "Fallback transitions between model candidates",
			},
			[]string{"from", "to"},
		),

		fallbackExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_model_fallback_exhausted_total",
			Help: "Requests for which every model candidate failed",
		}),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_stream_events_total",
				Help: "Normalized SSE events emitted to clients",
			},
			[]string{"kind"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_tokens_total",
				Help: "Token usage per provider and direction",
			},
			[]string{"provider", "direction"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chat_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.fallbackTotal,
		r.fallbackExhausted,
		r.rateLimitTotal,
		r.streamEvents,
		r.tokensTotal,
		r.buildInfo,
	)

	r.buildInfo.WithLabelValues(version).Set(1)

	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)

	return r
}

// Handler returns the fasthttp handler serving the /metrics endpoint.
func (r *Registry) Handler() fasthttp.RequestHandler {
	if r == nil {
		return func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(http.StatusNotFound)
		}
	}
	return r.metricsHandler
}

// IncInFlight / DecInFlight track concurrently handled requests.
func (r *Registry) IncInFlight() {
	if r != nil {
		r.inFlight.Inc()
	}
}

func (r *Registry) DecInFlight() {
	if r != nil {
		r.inFlight.Dec()
	}
}

// ObserveHTTP records one finished HTTP exchange.
func (r *Registry) ObserveHTTP(route string, status int, dur time.Duration) {
	if r == nil {
		return
	}
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// ObserveAttempt records one upstream model attempt.
func (r *Registry) ObserveAttempt(provider, model, outcome string, dur time.Duration) {
	if r == nil {
		return
	}
	r.upstreamAttempts.WithLabelValues(provider, model, outcome).Inc()
	r.upstreamDuration.WithLabelValues(provider, outcome).Observe(dur.Seconds())
}

// RecordFallback records a transition from one model candidate to the next.
func (r *Registry) RecordFallback(from, to string) {
	if r != nil {
		r.fallbackTotal.WithLabelValues(from, to).Inc()
	}
}

// RecordFallbackExhausted records a request that ran out of candidates.
func (r *Registry) RecordFallbackExhausted() {
	if r != nil {
		r.fallbackExhausted.Inc()
	}
}

// RecordRateLimit records a limiter decision ("allowed" or "blocked").
func (r *Registry) RecordRateLimit(result string) {
	if r != nil {
		r.rateLimitTotal.WithLabelValues(result).Inc()
	}
}

// RecordStreamEvent records one client-facing SSE event by kind.
func (r *Registry) RecordStreamEvent(kind string) {
	if r != nil {
		r.streamEvents.WithLabelValues(kind).Inc()
	}
}

// AddTokens records token usage for a served request.
func (r *Registry) AddTokens(provider string, input, output int) {
	if r == nil {
		return
	}
	if input > 0 {
		r.tokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		r.tokensTotal.WithLabelValues(provider, "output").Add(float64(output))
	}
}
