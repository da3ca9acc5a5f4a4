// Package pollinations implements the Pollinations upstream through its
// OpenAI-compatible endpoint. The service accepts anonymous requests, so no
// credential is required; model ids are addressed as "pollinations/<model>"
// and the prefix is stripped before the upstream call.
package pollinations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lumora-chat/chat-gateway/internal/providers"
)

const (
	defaultBaseURL = "https://text.pollinations.ai/openai"
	providerName   = "pollinations"
	modelPrefix    = "pollinations/"
)

// Provider is the Pollinations upstream client.
type Provider struct {
	baseURL string
	client  openaiSDK.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates a new Pollinations Provider.
func New(opts ...Option) *Provider {
	p := &Provider{baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}

	p.client = openaiSDK.NewClient(
		option.WithBaseURL(p.baseURL),
		option.WithAPIKey("anonymous"),
		option.WithHTTPClient(&http.Client{Timeout: providers.ProviderTimeout}),
	)

	return p
}

func (p *Provider) Name() string { return providerName }

// Complete performs one non-streaming completion attempt.
func (p *Provider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	resp, err := p.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return nil, toUpstreamError(err, req.Model)
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	usage := providers.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if usage.OutputTokens == 0 && text != "" {
		usage.OutputTokens = providers.EstimateTokens(text)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return &providers.Completion{
		ID:    resp.ID,
		Model: model,
		Text:  text,
		Usage: usage,
	}, nil
}

// Stream performs one streaming completion attempt.
func (p *Provider) Stream(ctx context.Context, req *providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, buildParams(req))

	ch := make(chan providers.StreamEvent, 64)

	go func() {
		defer close(ch)

		send := func(ev providers.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]

			if c.Delta.Content != "" {
				if !send(providers.StreamEvent{
					Kind:    providers.KindDelta,
					Content: c.Delta.Content,
				}) {
					return
				}
			}

			if c.FinishReason != "" {
				ev := providers.StreamEvent{
					Kind:         providers.KindMetadata,
					Model:        req.Model,
					ID:           chunk.ID,
					FinishReason: c.FinishReason,
				}
				if chunk.Usage.CompletionTokens > 0 || chunk.Usage.PromptTokens > 0 {
					ev.Usage = &providers.Usage{
						InputTokens:  int(chunk.Usage.PromptTokens),
						OutputTokens: int(chunk.Usage.CompletionTokens),
					}
				}
				if !send(ev) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(providers.StreamEvent{
				Kind: providers.KindError,
				Err:  toUpstreamError(err, req.Model).Error(),
			})
		}
	}()

	return ch, nil
}

func buildParams(req *providers.CompletionRequest) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	temp := float64(providers.DefaultTemperature)
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = providers.DefaultMaxTokens
	}

	return openaiSDK.ChatCompletionNewParams{
		Messages:            msgs,
		Model:               strings.TrimPrefix(req.Model, modelPrefix),
		Temperature:         openaiSDK.Float(temp),
		MaxCompletionTokens: openaiSDK.Int(int64(maxTokens)),
	}
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch strings.ToLower(role) {
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}

func toUpstreamError(err error, model string) error {
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		return &providers.UpstreamError{
			Provider: providerName,
			Model:    model,
			Status:   apiErr.StatusCode,
			Message:  apiErr.Error(),
		}
	}
	return &providers.UpstreamError{
		Provider: providerName,
		Model:    model,
		Status:   http.StatusBadGateway,
		Message:  fmt.Sprintf("request failed: %v", err),
	}
}
