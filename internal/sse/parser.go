// Package sse implements the gateway's Server-Sent-Events plumbing: an
// incremental parser for the upstream provider's event framing, and a writer
// for the normalized client-facing protocol.
//
// The parser is deliberately a pure accumulate-and-slice step function over a
// byte buffer it owns. Upstream network chunks can split anywhere, inside a
// JSON object or inside the event delimiter, and the emitted event sequence
// must not depend on where those splits fall.
package sse

import (
	"bytes"
	"strings"
)

// RawEvent is one upstream SSE event: the event name (default "message") and
// the concatenated data payload.
type RawEvent struct {
	Name string
	Data string
}

// Parser incrementally consumes upstream SSE bytes. Feed as many chunks as
// arrive, then call Flush once the connection closes to drain a trailing
// unterminated event.
type Parser struct {
	buf []byte
}

// Feed appends chunk to the internal buffer and returns every complete event
// now available, in order. Incomplete trailing data is retained for the next
// call.
func (p *Parser) Feed(chunk []byte) []RawEvent {
	p.buf = append(p.buf, chunk...)

	var events []RawEvent
	for {
		raw, rest, ok := cutEvent(p.buf)
		if !ok {
			break
		}
		p.buf = rest
		if ev, ok := parseEvent(raw); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush parses whatever remains in the buffer as a final event. Call exactly
// once, at end of stream; afterwards the parser is empty.
func (p *Parser) Flush() []RawEvent {
	raw := p.buf
	p.buf = nil
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if ev, ok := parseEvent(raw); ok {
		return []RawEvent{ev}
	}
	return nil
}

// cutEvent slices one complete raw event off the front of buf. Events are
// delimited by a blank line: "\n\n", with tolerance for CRLF framing.
func cutEvent(buf []byte) (event, rest []byte, ok bool) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))

	switch {
	case lf < 0 && crlf < 0:
		return nil, buf, false
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return buf[:crlf], buf[crlf+4:], true
	default:
		return buf[:lf], buf[lf+2:], true
	}
}

// parseEvent extracts the event name and data payload from one raw event.
// Multiple data: lines are concatenated with newlines per the SSE spec.
// Comment lines (leading colon) and unknown fields are ignored.
func parseEvent(raw []byte) (RawEvent, bool) {
	ev := RawEvent{Name: "message"}
	var data []string

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if len(data) == 0 {
		return RawEvent{}, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}
