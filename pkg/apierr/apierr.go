// Package apierr writes client-facing JSON error bodies.
//
// Every error response uses the flat {"error": "..."} envelope the web client
// expects. Helpers exist for the statuses the gateway actually produces.
package apierr

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"
)

type envelope struct {
	Error string `json:"error"`
}

// Write writes message as an {"error": ...} JSON body with the given status.
func Write(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: message})
	ctx.SetBody(body)
}

// WriteRateLimit writes a 429 with a Retry-After header of retryAfterSecs
// seconds. Values below 1 are clamped to 1.
func WriteRateLimit(ctx *fasthttp.RequestCtx, retryAfterSecs int) {
	if retryAfterSecs < 1 {
		retryAfterSecs = 1
	}
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(retryAfterSecs))
	Write(ctx, fasthttp.StatusTooManyRequests, "Rate limit exceeded")
}

// WriteUpstream relays an upstream provider failure. Statuses the gateway can
// legitimately surface as-is (auth and quota failures, gateway-class errors)
// pass through; anything else becomes a 502.
func WriteUpstream(ctx *fasthttp.RequestCtx, upstreamStatus int, message string) {
	status := upstreamStatus
	switch {
	case status == fasthttp.StatusUnauthorized,
		status == fasthttp.StatusPaymentRequired,
		status == fasthttp.StatusForbidden,
		status == fasthttp.StatusTooManyRequests:
	case status >= 500 && status < 600:
	default:
		status = fasthttp.StatusBadGateway
	}
	Write(ctx, status, message)
}
