package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
)

// Usage is the client-facing token usage shape, shared by the metadata and
// done events and by the non-streaming JSON response.
type Usage struct {
	Tokens           int `json:"tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Metadata carries stream bookkeeping surfaced alongside the text deltas.
type Metadata struct {
	Model        string `json:"model,omitempty"`
	ID           string `json:"id,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Writer emits the gateway's normalized SSE protocol to the client. Every
// event is flushed immediately: deltas must reach the browser as they are
// produced, not when a buffer happens to fill.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps the response body stream writer.
func NewWriter(w *bufio.Writer) *Writer {
	return &Writer{w: w}
}

// Delta emits one incremental content fragment.
func (s *Writer) Delta(content string) error {
	return s.emit(struct {
		Content string `json:"content"`
	}{content})
}

// Metadata emits usage/model/finish bookkeeping.
func (s *Writer) Metadata(md Metadata) error {
	return s.emit(struct {
		Metadata Metadata `json:"metadata"`
	}{md})
}

// Done emits the terminal success event carrying the full accumulated text.
func (s *Writer) Done(finalText string, usage Usage, model string) error {
	return s.emit(struct {
		Done     bool   `json:"done"`
		Response string `json:"response"`
		Usage    Usage  `json:"usage"`
		Model    string `json:"model"`
	}{true, finalText, usage, model})
}

// Error emits the terminal in-band error event. Text already delta-streamed
// before the failure stays valid; nothing is retracted.
func (s *Writer) Error(message string) error {
	return s.emit(struct {
		Error string `json:"error"`
	}{message})
}

func (s *Writer) emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.w.Flush()
}
