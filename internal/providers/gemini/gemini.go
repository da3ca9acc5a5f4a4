// Package gemini implements the Google Gemini upstream via the official
// GenAI SDK. It serves bare gemini-* model ids that bypass OpenRouter.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/lumora-chat/chat-gateway/internal/providers"
)

const providerName = "gemini"

// Provider implements providers.Provider for Google Gemini.
type Provider struct {
	apiKey  string
	baseURL string
	client  *genai.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates a new Gemini Provider. Returns an error when the SDK client
// cannot be constructed.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if ctx == nil {
		return nil, fmt.Errorf("gemini: context must not be nil")
	}
	p := &Provider{apiKey: apiKey}
	for _, o := range opts {
		o(p)
	}

	cfg := &genai.ClientConfig{
		APIKey:     p.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: providers.ProviderTimeout},
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: client: %w", err)
	}
	p.client = client

	return p, nil
}

func (p *Provider) Name() string { return providerName }

// Complete performs one non-streaming generation attempt.
func (p *Provider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	contents, cfg := buildContentsAndConfig(req)

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, toUpstreamError(err, req.Model)
	}

	text := ""
	if resp != nil {
		text = resp.Text()
	}

	usage := providers.Usage{}
	if resp != nil && resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if usage.OutputTokens == 0 && text != "" {
		usage.OutputTokens = providers.EstimateTokens(text)
	}

	id := req.RequestID
	if resp != nil && resp.ResponseID != "" {
		id = resp.ResponseID
	}

	return &providers.Completion{
		ID:    id,
		Model: req.Model,
		Text:  text,
		Usage: usage,
	}, nil
}

// Stream performs one streaming generation attempt. SDK-level call errors
// surface as events on the channel; the first chunk is not awaited here, so
// fatal request errors (bad key, unknown model) also arrive as an error
// event rather than an UpstreamError; the gateway treats an error event
// before any delta as a failed stream.
func (p *Provider) Stream(ctx context.Context, req *providers.CompletionRequest) (<-chan providers.StreamEvent, error) {
	contents, cfg := buildContentsAndConfig(req)

	ch := make(chan providers.StreamEvent, 64)

	go func() {
		defer close(ch)

		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				ch <- providers.StreamEvent{
					Kind: providers.KindError,
					Err:  toUpstreamError(err, req.Model).Error(),
				}
				return
			}
			if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
				continue
			}

			c := resp.Candidates[0]
			if text := candidateText(c); text != "" {
				select {
				case ch <- providers.StreamEvent{Kind: providers.KindDelta, Content: text}:
				case <-ctx.Done():
					return
				}
			}

			if c.FinishReason != "" {
				ev := providers.StreamEvent{
					Kind:         providers.KindMetadata,
					Model:        req.Model,
					ID:           resp.ResponseID,
					FinishReason: string(c.FinishReason),
				}
				if resp.UsageMetadata != nil {
					ev.Usage = &providers.Usage{
						InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
						OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					}
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// buildContentsAndConfig folds system messages into a system instruction and
// maps the remaining turns onto the Gemini role model.
func buildContentsAndConfig(req *providers.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemPrompt string
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default: // user / tool
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	temp := float64(providers.DefaultTemperature)
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	cfg.Temperature = genai.Ptr[float32](float32(temp))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = providers.DefaultMaxTokens
	}
	cfg.MaxOutputTokens = int32(maxTokens)

	return contents, cfg
}

func candidateText(c *genai.Candidate) string {
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range c.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func toUpstreamError(err error, model string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &providers.UpstreamError{
			Provider: providerName,
			Model:    model,
			Status:   apiErr.Code,
			Message:  apiErr.Message,
		}
	}
	return &providers.UpstreamError{
		Provider: providerName,
		Model:    model,
		Status:   http.StatusBadGateway,
		Message:  err.Error(),
	}
}
