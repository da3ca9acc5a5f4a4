package gateway

import (
	"bufio"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/lumora-chat/chat-gateway/internal/logger"
	"github.com/lumora-chat/chat-gateway/internal/providers"
	"github.com/lumora-chat/chat-gateway/internal/sse"
)

// streamMeta carries per-request bookkeeping into the stream writer, which
// runs after the handler returns.
type streamMeta struct {
	reqID     string
	clientKey string
	route     string
	start     time.Time
}

// writeStream relays a live upstream stream to the client as SSE.
//
// The terminal event is always logically last: a clean upstream close
// synthesizes the done event with the full accumulated text, any failure
// mid-stream emits an in-band error event instead. Text already streamed is
// never retracted. A stalled upstream is cut off by the idle watchdog.
func (g *Gateway) writeStream(ctx *fasthttp.RequestCtx, res *attemptResult, meta streamMeta) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	// Disable proxy buffering so deltas reach the browser immediately.
	ctx.Response.Header.Set("X-Accel-Buffering", "no")
	ctx.SetStatusCode(fasthttp.StatusOK)

	idleTimeout := g.streamIdleTimeout

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer
		if res.cancel != nil {
			defer res.cancel()
		}

		sw := sse.NewWriter(w)

		var (
			full  strings.Builder
			usage *providers.Usage
			model = res.model
			id    = meta.reqID
		)

		defer func() {
			in, out := 0, 0
			if usage != nil {
				in, out = usage.InputTokens, usage.OutputTokens
			}
			if out == 0 && full.Len() > 0 {
				out = providers.EstimateTokens(full.String())
			}
			dur := time.Since(meta.start)
			g.metrics.DecInFlight()
			g.metrics.ObserveHTTP(meta.route, fasthttp.StatusOK, dur)
			g.metrics.AddTokens(res.provider, in, out)
			g.logAccess(logger.AccessLog{
				ID:           id,
				Route:        meta.route,
				Provider:     res.provider,
				Model:        model,
				ClientKey:    meta.clientKey,
				Status:       fasthttp.StatusOK,
				Attempts:     res.attempts,
				InputTokens:  in,
				OutputTokens: out,
				LatencyMs:    dur.Milliseconds(),
				Streamed:     true,
			})
		}()

		// handle relays one upstream event; returns false when the stream must
		// stop (terminal error or client disconnect).
		handle := func(ev providers.StreamEvent) bool {
			switch ev.Kind {
			case providers.KindDelta:
				full.WriteString(ev.Content)
				g.metrics.RecordStreamEvent("delta")
				if err := sw.Delta(ev.Content); err != nil {
					return false
				}

			case providers.KindMetadata:
				if ev.Usage != nil {
					usage = ev.Usage
				}
				if ev.Model != "" {
					model = ev.Model
				}
				if ev.ID != "" {
					id = ev.ID
				}
				md := sse.Metadata{
					Model:        ev.Model,
					ID:           ev.ID,
					FinishReason: ev.FinishReason,
				}
				if ev.Usage != nil {
					md.Usage = &sse.Usage{
						Tokens:           ev.Usage.InputTokens + ev.Usage.OutputTokens,
						PromptTokens:     ev.Usage.InputTokens,
						CompletionTokens: ev.Usage.OutputTokens,
					}
				} else if full.Len() > 0 {
					// Upstream omitted usage; estimate from the text streamed
					// so far, same as the terminal event does.
					est := providers.EstimateTokens(full.String())
					md.Usage = &sse.Usage{
						Tokens:           est,
						CompletionTokens: est,
					}
				}
				g.metrics.RecordStreamEvent("metadata")
				if err := sw.Metadata(md); err != nil {
					return false
				}

			case providers.KindError:
				g.metrics.RecordStreamEvent("error")
				sw.Error(ev.Err) //nolint:errcheck // terminal event, nothing left to do
				return false
			}
			return true
		}

		if res.first != nil {
			if !handle(*res.first) {
				return
			}
		}

		idle := time.NewTimer(idleTimeout)
		defer idle.Stop()

		for {
			select {
			case ev, ok := <-res.events:
				if !ok {
					// Clean upstream close: synthesize the terminal event.
					in, out := 0, 0
					if usage != nil {
						in, out = usage.InputTokens, usage.OutputTokens
					}
					if out == 0 && full.Len() > 0 {
						out = providers.EstimateTokens(full.String())
					}
					g.metrics.RecordStreamEvent("done")
					sw.Done(full.String(), sse.Usage{ //nolint:errcheck
						Tokens:           in + out,
						PromptTokens:     in,
						CompletionTokens: out,
					}, model)
					return
				}
				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(idleTimeout)
				if !handle(ev) {
					return
				}

			case <-idle.C:
				g.log.Warn("stream_idle_timeout",
					slog.String("request_id", meta.reqID),
					slog.String("provider", res.provider),
				)
				g.metrics.RecordStreamEvent("error")
				sw.Error("upstream stream stalled") //nolint:errcheck
				return
			}
		}
	})
}
