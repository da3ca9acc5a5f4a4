package gateway

import (
	"encoding/json"
	"net"
	"sort"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// Handler returns the fully wired fasthttp handler: routes plus the
// middleware chain. Exposed separately from Serve for in-memory tests.
func (g *Gateway) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.POST("/chat", g.handleChat)
	r.OPTIONS("/chat", g.handlePreflight)
	r.POST("/chat/text", g.handleChatText)
	r.OPTIONS("/chat/text", g.handlePreflight)
	r.GET("/health", g.handleHealth)

	if g.metrics != nil {
		r.GET("/metrics", g.metrics.Handler())
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		securityHeaders,
	)
}

// newServer builds the fasthttp server. WriteTimeout is disabled because SSE
// responses stay open for the duration of the upstream stream.
func (g *Gateway) newServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler:           g.Handler(),
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
		StreamRequestBody: false,
	}
}

// Serve starts the HTTP server on addr (e.g. ":8080") and blocks.
func (g *Gateway) Serve(addr string) error {
	return g.newServer().ListenAndServe(addr)
}

// ServeListener starts the HTTP server on an existing listener and blocks.
func (g *Gateway) ServeListener(ln net.Listener) error {
	return g.newServer().Serve(ln)
}

// handleHealth reports liveness plus the set of configured providers.
func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	writeJSON(ctx, map[string]any{
		"status":    "ok",
		"providers": names,
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
