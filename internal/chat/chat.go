// Package chat holds the client-facing request model: payload validation and
// the model fallback plan.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validation limits for the incoming conversation payload.
const (
	MaxMessages   = 50
	MaxContentLen = 20000
)

// validRoles is the closed set of accepted message roles.
var validRoles = map[string]struct{}{
	"system":    {},
	"user":      {},
	"assistant": {},
	"tool":      {},
}

// Message is one conversation turn as accepted from the client. Content is
// never mutated after validation; the gateway forwards it verbatim.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a validated chat request. Stream and Temperature are pointers
// so an explicit client value of false or 0 stays distinguishable from an
// omitted field.
type Request struct {
	Messages    []Message
	Model       string
	Stream      *bool
	Temperature *float64
	MaxTokens   int
}

// Validate parses and checks a request body. The checks run in a fixed order
// and the first violation anywhere in the message list rejects the whole
// request with a rule-specific error; there is no partial acceptance.
func Validate(body []byte) (*Request, error) {
	var raw struct {
		Messages    []json.RawMessage `json:"messages"`
		Model       string            `json:"model"`
		Stream      *bool             `json:"stream"`
		Temperature *float64          `json:"temperature"`
		MaxTokens   int               `json:"max_tokens"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}

	if len(raw.Messages) == 0 {
		return nil, fmt.Errorf("messages must be a non-empty array")
	}
	if len(raw.Messages) > MaxMessages {
		return nil, fmt.Errorf("messages must contain at most %d entries", MaxMessages)
	}

	msgs := make([]Message, len(raw.Messages))
	for i, rawMsg := range raw.Messages {
		var fields struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(rawMsg, &fields); err != nil || !isJSONObject(rawMsg) {
			return nil, fmt.Errorf("messages[%d] must be an object", i)
		}

		role := fields.Role
		if _, ok := validRoles[strings.TrimSpace(role)]; !ok {
			return nil, fmt.Errorf("messages[%d].role must be one of: system, user, assistant, tool", i)
		}

		// json.Unmarshal accepts null into a string silently, so the literal
		// form is checked first.
		var content string
		if !isJSONString(fields.Content) || json.Unmarshal(fields.Content, &content) != nil {
			return nil, fmt.Errorf("messages[%d].content must be a string", i)
		}
		if content == "" {
			return nil, fmt.Errorf("messages[%d].content must not be empty", i)
		}
		// The limit counts characters, not bytes: multibyte text must get the
		// full budget.
		if utf8.RuneCountInString(content) > MaxContentLen {
			return nil, fmt.Errorf("messages[%d].content exceeds %d characters", i, MaxContentLen)
		}

		// Role trimming is for the comparison only; the message is stored
		// exactly as received.
		msgs[i] = Message{Role: role, Content: content}
	}

	return &Request{
		Messages:    msgs,
		Model:       raw.Model,
		Stream:      raw.Stream,
		Temperature: raw.Temperature,
		MaxTokens:   raw.MaxTokens,
	}, nil
}

// isJSONObject reports whether raw is a JSON object (not null, array, or
// primitive). json.Unmarshal into a struct accepts null silently, so the
// first byte is checked explicitly.
func isJSONObject(raw json.RawMessage) bool {
	return firstByte(raw) == '{'
}

func isJSONString(raw json.RawMessage) bool {
	return firstByte(raw) == '"'
}

func firstByte(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// PlanModels builds the ordered candidate list for one request: the
// requested model first (falling back to the configured default, then the
// first static fallback), followed by the static fallbacks in order.
// Duplicates are removed keeping first-seen order (exact, case-sensitive
// match) and the list is truncated to maxAttempts; the cap bounds
// worst-case latency and upstream spend, it is a policy choice rather than
// an incidental limit.
func PlanModels(requested, defaultModel string, fallbacks []string, maxAttempts int) []string {
	primary := requested
	if primary == "" {
		primary = defaultModel
	}
	if primary == "" && len(fallbacks) > 0 {
		primary = fallbacks[0]
	}
	if primary == "" {
		return nil
	}

	seen := map[string]bool{primary: true}
	plan := []string{primary}
	for _, m := range fallbacks {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		plan = append(plan, m)
	}

	if maxAttempts > 0 && len(plan) > maxAttempts {
		plan = plan[:maxAttempts]
	}
	return plan
}
