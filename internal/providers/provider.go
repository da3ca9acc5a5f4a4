// Package providers defines the common interfaces and types used by all
// upstream completion provider implementations (OpenRouter, Gemini,
// Pollinations).
//
// Each provider lives in its own sub-package and implements the Provider
// interface. Streaming providers deliver normalized events over a channel;
// the channel is closed when the upstream stream ends, and an Error event is
// the last element when it ends abnormally.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request defaults applied by providers when the client omits the fields.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
	ProviderTimeout    = 30 * time.Second
)

type (
	// Message is a single turn in a conversation (role + text content).
	Message struct {
		Role    string
		Content string
	}

	// Usage holds token usage stats.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// CompletionRequest is the normalized upstream request for one model
	// attempt. Temperature is a pointer so an explicit 0 from the client is
	// preserved; nil means the provider default applies.
	CompletionRequest struct {
		Model       string
		Messages    []Message
		Temperature *float64
		MaxTokens   int
		RequestID   string
	}

	// Completion is the normalized non-streaming provider response.
	Completion struct {
		ID    string
		Model string
		Text  string
		Usage Usage
	}
)

// EventKind tags a StreamEvent.
type EventKind string

const (
	KindDelta    EventKind = "delta"
	KindMetadata EventKind = "metadata"
	KindDone     EventKind = "done"
	KindError    EventKind = "error"
)

// StreamEvent is one element of a normalized completion stream. Providers
// emit delta, metadata, and error events; the gateway synthesizes the
// terminal done event when the channel closes cleanly.
type StreamEvent struct {
	Kind EventKind

	// Delta fields.
	Content string

	// Metadata / done fields.
	Model        string
	ID           string
	FinishReason string
	Usage        *Usage

	// Error fields.
	Err string
}

// Provider is an upstream completion endpoint.
//
// Both methods classify the HTTP exchange before returning: a non-2xx status
// or transport failure is an *UpstreamError and no stream is started, so the
// caller can fall back to another model before any client bytes are written.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error)
}

// StatusCoder is implemented by errors carrying an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// UpstreamError is a classified provider failure.
type UpstreamError struct {
	Provider string
	Model    string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s (model=%s, status=%d)", e.Provider, e.Message, e.Model, e.Status)
}

// HTTPStatus implements StatusCoder.
func (e *UpstreamError) HTTPStatus() int { return e.Status }

// EstimateTokens approximates a token count from text length when the
// provider omits usage: ceil(len/4), the usual ~4-chars-per-token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Resolve maps a model identifier to the provider that serves it.
// Bare gemini-* models go to the Gemini API directly; the pollinations/
// prefix routes to Pollinations (the prefix is stripped by that provider);
// everything else, including vendor-prefixed ids like "google/gemini-...",
// goes through OpenRouter.
func Resolve(model string) string {
	switch {
	case strings.HasPrefix(model, "gemini-"), strings.HasPrefix(model, "gemma-"):
		return "gemini"
	case strings.HasPrefix(model, "pollinations/"):
		return "pollinations"
	default:
		return "openrouter"
	}
}
