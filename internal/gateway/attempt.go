package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumora-chat/chat-gateway/internal/chat"
	"github.com/lumora-chat/chat-gateway/internal/providers"
)

// Outcome classifies the result of one upstream model attempt.
type Outcome int

const (
	// OutcomeSuccess: the attempt produced a completion (or a live stream).
	OutcomeSuccess Outcome = iota

	// OutcomeRetryable: the attempt failed in a way the next model candidate
	// may not: transient upstream statuses, timeouts, transport errors.
	OutcomeRetryable

	// OutcomeFatal: the attempt failed in a way no other candidate can fix
	// (auth, billing). Fallback stops and the status is surfaced to the client.
	OutcomeFatal
)

// Label returns the metrics/log label for the outcome.
func (o Outcome) Label() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// retryableStatuses are upstream HTTP statuses worth trying the next model
// for. 400 and 404 are included deliberately: free-tier routers answer with
// them for model-specific conditions (unknown or delisted model ids), so a
// different candidate can genuinely succeed.
var retryableStatuses = map[int]bool{
	400: true,
	404: true,
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Classify maps an attempt error to its Outcome. nil is success; timeouts,
// cancellations, and errors without an HTTP status (transport failures) are
// retryable; statused errors are retryable only for retryableStatuses.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeRetryable
	}
	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		if retryableStatuses[sc.HTTPStatus()] {
			return OutcomeRetryable
		}
		return OutcomeFatal
	}
	return OutcomeRetryable
}

// attemptResult is a successful upstream attempt. Exactly one of completion
// (non-streaming) or events (streaming) is set.
type attemptResult struct {
	completion *providers.Completion

	events <-chan providers.StreamEvent
	first  *providers.StreamEvent // first event, consumed while probing the stream
	cancel context.CancelFunc     // aborts the upstream stream; nil for completions

	provider string
	model    string
	attempts int
}

// attemptModels walks the model candidate list until one attempt succeeds.
//
// Retryable failures advance to the next candidate; a fatal failure or an
// exhausted list returns the last error. Candidates whose provider is not
// configured or whose circuit breaker is open are skipped without consuming
// an attempt.
func (g *Gateway) attemptModels(
	pctx context.Context,
	req *chat.Request,
	reqID string,
	stream bool,
) (*attemptResult, error) {

	plan := chat.PlanModels(req.Model, g.defaultModel, g.fallbackModels, g.maxAttempts)
	if len(plan) == 0 {
		return nil, fmt.Errorf("no model candidates configured")
	}

	var lastErr error
	attempts := 0
	prevModel := ""

	for _, model := range plan {
		if err := pctx.Err(); err != nil {
			return nil, err
		}

		providerName := providers.Resolve(model)
		prov, ok := g.providers[providerName]
		if !ok {
			g.log.WarnContext(pctx, "provider_unconfigured",
				slog.String("request_id", reqID),
				slog.String("model", model),
				slog.String("provider", providerName),
			)
			continue
		}

		if g.cb != nil && !g.cb.Allow(providerName) {
			g.log.WarnContext(pctx, "circuit_breaker_open",
				slog.String("request_id", reqID),
				slog.String("provider", providerName),
				slog.String("model", model),
			)
			g.metrics.ObserveAttempt(providerName, model, "circuit_open", 0)
			continue
		}

		if prevModel != "" {
			g.metrics.RecordFallback(prevModel, model)
			g.log.InfoContext(pctx, "model_fallback",
				slog.String("request_id", reqID),
				slog.String("from", prevModel),
				slog.String("to", model),
			)
		}
		attempts++
		prevModel = model

		creq := &providers.CompletionRequest{
			Model:       model,
			Messages:    toProviderMessages(req.Messages),
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			RequestID:   reqID,
		}

		start := time.Now()
		var (
			res *attemptResult
			err error
		)
		if stream {
			res, err = g.tryStream(pctx, prov, creq)
		} else {
			res, err = g.tryComplete(pctx, prov, creq)
		}
		dur := time.Since(start)

		outcome := Classify(err)
		g.metrics.ObserveAttempt(providerName, model, outcome.Label(), dur)

		if outcome == OutcomeSuccess {
			if g.cb != nil {
				g.cb.RecordSuccess(providerName)
			}
			res.provider = providerName
			res.model = model
			res.attempts = attempts
			return res, nil
		}

		if g.cb != nil {
			g.cb.RecordFailure(providerName)
		}
		g.log.WarnContext(pctx, "model_attempt_failed",
			slog.String("request_id", reqID),
			slog.String("model", model),
			slog.String("provider", providerName),
			slog.String("outcome", outcome.Label()),
			slog.Int64("latency_ms", dur.Milliseconds()),
			slog.String("error", err.Error()),
		)
		lastErr = err

		if outcome == OutcomeFatal {
			return nil, err
		}
	}

	g.metrics.RecordFallbackExhausted()
	if lastErr == nil {
		return nil, fmt.Errorf("no configured provider can serve the requested models")
	}
	return nil, fmt.Errorf("all model attempts failed after %d attempt(s): %w", attempts, lastErr)
}

// tryComplete runs one non-streaming attempt under the per-attempt timeout.
func (g *Gateway) tryComplete(
	ctx context.Context,
	prov providers.Provider,
	req *providers.CompletionRequest,
) (*attemptResult, error) {
	actx, cancel := context.WithTimeout(ctx, g.providerTimeout)
	defer cancel()

	comp, err := prov.Complete(actx, req)
	if err != nil {
		return nil, err
	}
	return &attemptResult{completion: comp}, nil
}

// tryStream starts one streaming attempt and waits for its first event, so a
// stream that fails before producing any output still counts as a failed
// attempt and fallback can advance. The consumed event is carried in the
// result and replayed by the stream writer.
func (g *Gateway) tryStream(
	ctx context.Context,
	prov providers.Provider,
	req *providers.CompletionRequest,
) (*attemptResult, error) {
	sctx, cancel := context.WithCancel(ctx)

	events, err := prov.Stream(sctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	select {
	case ev, ok := <-events:
		if !ok {
			// Stream ended without a single event: an empty completion.
			return &attemptResult{events: events, cancel: cancel}, nil
		}
		if ev.Kind == providers.KindError {
			cancel()
			return nil, fmt.Errorf("%s: %s", prov.Name(), ev.Err)
		}
		first := ev
		return &attemptResult{events: events, first: &first, cancel: cancel}, nil

	case <-time.After(g.providerTimeout):
		cancel()
		return nil, context.DeadlineExceeded

	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

func toProviderMessages(msgs []chat.Message) []providers.Message {
	out := make([]providers.Message, len(msgs))
	for i, m := range msgs {
		out[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
