package openrouter

import (
	"encoding/json"

	"github.com/lumora-chat/chat-gateway/internal/providers"
	"github.com/lumora-chat/chat-gateway/internal/sse"
)

// chunkPayload mirrors the provider's streaming choice/delta schema.
type chunkPayload struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// decodeChunk converts one raw upstream SSE event into zero or more
// normalized stream events. The [DONE] sentinel and blank payloads produce
// nothing; malformed JSON is skipped rather than surfaced, so a single
// garbled upstream frame cannot corrupt the client stream.
func decodeChunk(raw sse.RawEvent, fallbackModel string) []providers.StreamEvent {
	if raw.Data == "" || raw.Data == "[DONE]" {
		return nil
	}

	if raw.Name == "error" {
		return []providers.StreamEvent{{
			Kind: providers.KindError,
			Err:  errorText(raw.Data),
		}}
	}

	var chunk chunkPayload
	if err := json.Unmarshal([]byte(raw.Data), &chunk); err != nil {
		return nil
	}

	if chunk.Error != nil && chunk.Error.Message != "" {
		return []providers.StreamEvent{{
			Kind: providers.KindError,
			Err:  chunk.Error.Message,
		}}
	}

	model := chunk.Model
	if model == "" {
		model = fallbackModel
	}

	var events []providers.StreamEvent

	finish := ""
	if len(chunk.Choices) > 0 {
		c := chunk.Choices[0]
		finish = c.FinishReason
		if c.Delta.Content != "" {
			events = append(events, providers.StreamEvent{
				Kind:    providers.KindDelta,
				Content: c.Delta.Content,
			})
		}
	}

	if finish != "" || chunk.Usage != nil {
		ev := providers.StreamEvent{
			Kind:         providers.KindMetadata,
			Model:        model,
			ID:           chunk.ID,
			FinishReason: finish,
		}
		if chunk.Usage != nil {
			ev.Usage = &providers.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		events = append(events, ev)
	}

	return events
}

// errorText extracts a message from an error event payload, which may be a
// bare string or a JSON object.
func errorText(data string) string {
	var envelope struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return data
}
