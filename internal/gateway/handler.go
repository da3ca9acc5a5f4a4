package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/lumora-chat/chat-gateway/internal/chat"
	"github.com/lumora-chat/chat-gateway/internal/logger"
	"github.com/lumora-chat/chat-gateway/internal/providers"
	"github.com/lumora-chat/chat-gateway/internal/ratelimit"
	"github.com/lumora-chat/chat-gateway/internal/sse"
	"github.com/lumora-chat/chat-gateway/pkg/apierr"
)

// completionBody is the non-streaming 200 response envelope.
type completionBody struct {
	Response string    `json:"response"`
	Usage    sse.Usage `json:"usage"`
	Model    string    `json:"model"`
	ID       string    `json:"id"`
}

func (g *Gateway) handleChat(ctx *fasthttp.RequestCtx) {
	g.dispatchChat(ctx, false)
}

func (g *Gateway) handleChatText(ctx *fasthttp.RequestCtx) {
	g.dispatchChat(ctx, true)
}

// handlePreflight answers CORS preflight requests with 204 No Content.
func (g *Gateway) handlePreflight(ctx *fasthttp.RequestCtx) {
	g.cors.ApplyHeaders(ctx)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// dispatchChat is the core handler for POST /chat and POST /chat/text.
// forceJSON suppresses streaming regardless of the request body.
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx, forceJSON bool) {
	start := time.Now()
	route := "chat"
	if forceJSON {
		route = "chat_text"
	}
	streaming := false

	g.metrics.IncInFlight()
	defer func() {
		if streaming {
			return // finalised by the stream writer
		}
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	g.cors.ApplyHeaders(ctx)

	// 1. Rate limit. The limiter degrades open: a backend error allows the
	// request through rather than failing it.
	clientKey := ratelimit.ClientKey(
		string(ctx.Request.Header.Peek("X-Forwarded-For")),
		string(ctx.Request.Header.Peek("X-Real-IP")),
	)
	if g.limiter != nil {
		dec, err := g.limiter.Check(ctx, clientKey)
		switch {
		case err != nil:
			g.metrics.RecordRateLimit("error")
			g.log.WarnContext(ctx, "ratelimit_check_failed",
				slog.String("request_id", reqID),
				slog.String("error", err.Error()),
			)
		case !dec.Allowed:
			g.metrics.RecordRateLimit("blocked")
			g.log.WarnContext(ctx, "rate_limit_exceeded",
				slog.String("request_id", reqID),
				slog.String("client", clientKey),
			)
			apierr.WriteRateLimit(ctx, ratelimit.RetryAfter(dec.ResetAt, time.Now()))
			return
		default:
			g.metrics.RecordRateLimit("allowed")
		}
	}

	// 2. Validate the conversation payload.
	req, err := chat.Validate(ctx.PostBody())
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}

	// 3. Decide the response mode. /chat streams unless the body opts out;
	// /chat/text is always a single JSON body.
	streamWanted := !forceJSON && (req.Stream == nil || *req.Stream)

	g.log.InfoContext(ctx, "chat_request",
		slog.String("request_id", reqID),
		slog.String("model", req.Model),
		slog.Bool("stream", streamWanted),
		slog.Int("messages", len(req.Messages)),
	)

	// 4. Walk the model candidates.
	res, err := g.attemptModels(ctx, req, reqID, streamWanted)
	if err != nil {
		g.log.ErrorContext(ctx, "chat_failed",
			slog.String("request_id", reqID),
			slog.String("model", req.Model),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		writeAttemptError(ctx, err)
		g.logAccess(logger.AccessLog{
			ID:        reqID,
			Route:     route,
			Model:     req.Model,
			ClientKey: clientKey,
			Status:    ctx.Response.StatusCode(),
			LatencyMs: time.Since(start).Milliseconds(),
		})
		return
	}

	// 5a. Streaming: hand off to the SSE writer.
	if streamWanted {
		streaming = true
		g.writeStream(ctx, res, streamMeta{
			reqID:     reqID,
			clientKey: clientKey,
			route:     route,
			start:     start,
		})
		return
	}

	// 5b. Non-streaming: single JSON body.
	comp := res.completion
	usage := sse.Usage{
		Tokens:           comp.Usage.InputTokens + comp.Usage.OutputTokens,
		PromptTokens:     comp.Usage.InputTokens,
		CompletionTokens: comp.Usage.OutputTokens,
	}

	body, err := json.Marshal(completionBody{
		Response: comp.Text,
		Usage:    usage,
		Model:    comp.Model,
		ID:       comp.ID,
	})
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError, "failed to serialize response")
		return
	}

	g.metrics.AddTokens(res.provider, comp.Usage.InputTokens, comp.Usage.OutputTokens)
	g.logAccess(logger.AccessLog{
		ID:           reqID,
		Route:        route,
		Provider:     res.provider,
		Model:        comp.Model,
		ClientKey:    clientKey,
		Status:       fasthttp.StatusOK,
		Attempts:     res.attempts,
		InputTokens:  comp.Usage.InputTokens,
		OutputTokens: comp.Usage.OutputTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
	})

	g.log.DebugContext(ctx, "chat_ok",
		slog.String("request_id", reqID),
		slog.String("provider", res.provider),
		slog.String("model", comp.Model),
		slog.Int("input_tokens", comp.Usage.InputTokens),
		slog.Int("output_tokens", comp.Usage.OutputTokens),
		slog.Duration("elapsed", time.Since(start)),
	)

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// writeAttemptError maps a failed attempt walk to the client response.
//
//	statused upstream errors     → passed through with remapping (apierr)
//	context.DeadlineExceeded     → 504 Gateway Timeout
//	everything else              → 502 Bad Gateway
func writeAttemptError(ctx *fasthttp.RequestCtx, err error) {
	var ue *providers.UpstreamError
	if errors.As(err, &ue) {
		apierr.WriteUpstream(ctx, ue.Status, ue.Message)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		apierr.Write(ctx, fasthttp.StatusGatewayTimeout, "upstream request timed out")
		return
	}
	apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error())
}
