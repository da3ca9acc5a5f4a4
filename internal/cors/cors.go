// Package cors decides whether a request Origin may read gateway responses.
//
// The validator never fails a request: an unrecognised Origin simply gets no
// Access-Control-Allow-Origin header, so the browser blocks the read while the
// request itself still executes. Same-origin and non-browser callers send no
// Origin header and are unaffected.
package cors

import (
	"regexp"
	"strings"

	"github.com/valyala/fasthttp"
)

// staticAllowlist covers local development hosts for the web client.
var staticAllowlist = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// deploymentPattern matches the application's own preview/production
// subdomains on the hosting platform.
var deploymentPattern = regexp.MustCompile(`^https://[a-z0-9]([a-z0-9-]*[a-z0-9])?\.vercel\.app$`)

// Validator holds the configured origin sources.
type Validator struct {
	allowed map[string]struct{}
}

// New builds a Validator from the environment-provided origins: the canonical
// app URL, the platform deployment URL, and any extra configured origins.
func New(appBaseURL, deploymentURL string, extra []string) *Validator {
	v := &Validator{allowed: make(map[string]struct{})}

	for _, o := range staticAllowlist {
		v.add(o)
	}
	v.add(appBaseURL)
	if deploymentURL != "" && !strings.Contains(deploymentURL, "://") {
		// Platform env vars expose a bare hostname.
		deploymentURL = "https://" + deploymentURL
	}
	v.add(deploymentURL)
	for _, o := range extra {
		v.add(o)
	}

	return v
}

func (v *Validator) add(origin string) {
	origin = normalize(origin)
	if origin != "" {
		v.allowed[origin] = struct{}{}
	}
}

// Allow returns the origin value to echo in Access-Control-Allow-Origin and
// whether the origin is authorized. An empty or unknown origin returns
// ("", false); that is not an error condition.
func (v *Validator) Allow(origin string) (string, bool) {
	norm := normalize(origin)
	if norm == "" {
		return "", false
	}
	if _, ok := v.allowed[norm]; ok {
		return norm, true
	}
	if deploymentPattern.MatchString(norm) {
		return norm, true
	}
	return "", false
}

// normalize trims whitespace and strips a single trailing slash so that
// configured values like "https://app.example.com/" still match the browser's
// Origin header.
func normalize(origin string) string {
	origin = strings.TrimSpace(origin)
	return strings.TrimSuffix(origin, "/")
}

// ApplyHeaders sets the CORS response headers for the request's Origin.
// The allow-origin header is only emitted for authorized origins; the
// remaining headers are harmless and always set so preflights are answerable.
func (v *Validator) ApplyHeaders(ctx *fasthttp.RequestCtx) {
	h := &ctx.Response.Header

	if origin, ok := v.Allow(string(ctx.Request.Header.Peek("Origin"))); ok {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Vary", "Origin")
	}
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", "86400")
}
