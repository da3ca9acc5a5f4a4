// Package openrouter implements the primary completion provider over the
// OpenRouter HTTP API.
//
// Unlike the SDK-backed providers this one speaks the wire protocol directly:
// the streaming path hands raw response-body chunks to the incremental SSE
// parser, which is what lets the gateway guarantee chunk-boundary-independent
// reframing end to end.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/lumora-chat/chat-gateway/internal/providers"
	"github.com/lumora-chat/chat-gateway/internal/sse"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	providerName   = "openrouter"

	// maxErrorBody caps how much of an upstream error body is read back.
	maxErrorBody = 8 << 10

	readBufSize = 4 << 10
)

// Provider is the OpenRouter upstream client.
type Provider struct {
	apiKey  string
	baseURL string

	// referer and title are OpenRouter attribution headers identifying the
	// application the traffic belongs to.
	referer string
	title   string

	// jsonClient enforces a full-request deadline; streamClient only bounds
	// the time to response headers, since the body is a long-lived stream.
	jsonClient   *http.Client
	streamClient *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithAttribution sets the HTTP-Referer and X-Title attribution headers.
func WithAttribution(referer, title string) Option {
	return func(p *Provider) {
		p.referer = referer
		p.title = title
	}
}

// New creates a new OpenRouter Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}

	p.jsonClient = &http.Client{Timeout: providers.ProviderTimeout}
	p.streamClient = &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: providers.ProviderTimeout,
		},
	}

	return p
}

func (p *Provider) Name() string { return providerName }

// wireRequest is the OpenRouter chat completions body.
type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

// Complete performs one non-streaming completion attempt.
func (p *Provider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	resp, err := p.post(ctx, p.jsonClient, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, p.statusError(resp, req.Model)
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &providers.UpstreamError{
			Provider: providerName, Model: req.Model,
			Status: http.StatusBadGateway, Message: fmt.Sprintf("malformed response: %v", err),
		}
	}

	text := ""
	if len(out.Choices) > 0 {
		text = out.Choices[0].Message.Content
	}

	usage := providers.Usage{}
	if out.Usage != nil {
		usage.InputTokens = out.Usage.PromptTokens
		usage.OutputTokens = out.Usage.CompletionTokens
	}
	if usage.OutputTokens == 0 && text != "" {
		usage.OutputTokens = providers.EstimateTokens(text)
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}

	return &providers.Completion{
		ID:    out.ID,
		Model: model,
		Text:  text,
		Usage: usage,
	}, nil
}

// Stream performs one streaming completion attempt. The HTTP exchange is
// classified before any event is delivered: a non-2xx status or transport
// failure returns an *UpstreamError and no channel, so the caller can still
// fall back to another model.
func (p *Provider) Stream(ctx context.Context, req *providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	resp, err := p.post(ctx, p.streamClient, req, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, p.statusError(resp, req.Model)
	}

	ch := make(chan providers.StreamEvent, 64)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var parser sse.Parser
		buf := make([]byte, readBufSize)

		emit := func(events []providers.StreamEvent) bool {
			for _, ev := range events {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return false
				}
				if ev.Kind == providers.KindError {
					return false
				}
			}
			return true
		}

		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				for _, raw := range parser.Feed(buf[:n]) {
					if !emit(decodeChunk(raw, req.Model)) {
						return
					}
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					// Drain a trailing unterminated event through the same path.
					for _, raw := range parser.Flush() {
						if !emit(decodeChunk(raw, req.Model)) {
							return
						}
					}
				} else if ctx.Err() == nil {
					emit([]providers.StreamEvent{{
						Kind: providers.KindError,
						Err:  fmt.Sprintf("stream interrupted: %v", err),
					}})
				}
				return
			}
		}
	}()

	return ch, nil
}

func (p *Provider) post(ctx context.Context, client *http.Client, req *providers.CompletionRequest, stream bool) (*http.Response, error) {
	msgs := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = wireMessage{Role: m.Role, Content: m.Content}
	}

	temp := float64(providers.DefaultTemperature)
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = providers.DefaultMaxTokens
	}

	body, err := json.Marshal(wireRequest{
		Model:       req.Model,
		Messages:    msgs,
		Stream:      stream,
		Temperature: temp,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openrouter: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openrouter: build request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.referer != "" {
		httpReq.Header.Set("HTTP-Referer", p.referer)
	}
	if p.title != "" {
		httpReq.Header.Set("X-Title", p.title)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		// Transport failures are classified like a bad gateway so the
		// fallback loop treats them as retryable.
		return nil, &providers.UpstreamError{
			Provider: providerName, Model: req.Model,
			Status: http.StatusBadGateway, Message: err.Error(),
		}
	}
	return resp, nil
}

// statusError turns a non-2xx response into an UpstreamError, pulling the
// provider's error message out of the body when it is recognisable.
func (p *Provider) statusError(resp *http.Response, model string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := extractErrorMessage(raw)
	if msg == "" {
		msg = fmt.Sprintf("upstream returned status %d", resp.StatusCode)
	}

	return &providers.UpstreamError{
		Provider: providerName,
		Model:    model,
		Status:   resp.StatusCode,
		Message:  msg,
	}
}

func extractErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}

	text := string(bytes.TrimSpace(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
