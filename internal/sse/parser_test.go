package sse

import (
	"fmt"
	"reflect"
	"testing"
)

// feedAll pushes the whole input through the parser in one call and flushes.
func feedAll(input string) []RawEvent {
	var p Parser
	events := p.Feed([]byte(input))
	return append(events, p.Flush()...)
}

// feedSplit pushes the input in fixed-size chunks and flushes.
func feedSplit(input string, size int) []RawEvent {
	var p Parser
	var events []RawEvent
	for i := 0; i < len(input); i += size {
		end := i + size
		if end > len(input) {
			end = len(input)
		}
		events = append(events, p.Feed([]byte(input[i:end]))...)
	}
	return append(events, p.Flush()...)
}

func TestParser_SingleEvent(t *testing.T) {
	events := feedAll("data: {\"content\":\"hi\"}\n\n")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "message" {
		t.Errorf("expected default name 'message', got %q", events[0].Name)
	}
	if events[0].Data != `{"content":"hi"}` {
		t.Errorf("unexpected data: %q", events[0].Data)
	}
}

func TestParser_MultipleEventsOneChunk(t *testing.T) {
	events := feedAll("data: a\n\ndata: b\n\ndata: c\n\n")
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"a", "b", "c"} {
		if events[i].Data != want {
			t.Errorf("event %d: expected %q, got %q", i, want, events[i].Data)
		}
	}
}

// The emitted event sequence must not depend on where the network splits the
// byte stream, including splits inside JSON payloads and inside the \n\n
// delimiter itself.
func TestParser_ChunkBoundaryIndependence(t *testing.T) {
	input := "event: chunk\ndata: {\"content\":\"hel\"}\n\n" +
		"data: {\"content\":\"lo \\n world\"}\n\n" +
		"data: [DONE]\n\n" +
		"data: trailing"

	want := feedAll(input)
	if len(want) != 4 {
		t.Fatalf("sanity check: expected 4 events, got %d", len(want))
	}

	for size := 1; size <= len(input); size++ {
		t.Run(fmt.Sprintf("chunk_size_%d", size), func(t *testing.T) {
			got := feedSplit(input, size)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("split at %d bytes changed output:\n got  %#v\n want %#v", size, got, want)
			}
		})
	}
}

func TestParser_CRLFDelimiters(t *testing.T) {
	events := feedAll("data: one\r\n\r\ndata: two\r\n\r\n")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Data != "one" || events[1].Data != "two" {
		t.Errorf("unexpected events: %#v", events)
	}
}

func TestParser_MixedDelimiters(t *testing.T) {
	events := feedAll("data: a\r\n\r\ndata: b\n\n")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestParser_EventName(t *testing.T) {
	events := feedAll("event: error\ndata: boom\n\n")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "error" {
		t.Errorf("expected name 'error', got %q", events[0].Name)
	}
	if events[0].Data != "boom" {
		t.Errorf("expected data 'boom', got %q", events[0].Data)
	}
}

func TestParser_MultipleDataLines(t *testing.T) {
	events := feedAll("data: line1\ndata: line2\n\n")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Data != "line1\nline2" {
		t.Errorf("expected joined data lines, got %q", events[0].Data)
	}
}

func TestParser_CommentsAndUnknownFieldsIgnored(t *testing.T) {
	events := feedAll(": keep-alive\nretry: 3000\ndata: payload\n\n")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Data != "payload" {
		t.Errorf("expected 'payload', got %q", events[0].Data)
	}
}

func TestParser_EventWithoutDataDropped(t *testing.T) {
	events := feedAll("event: ping\n\ndata: real\n\n")
	if len(events) != 1 {
		t.Fatalf("expected only the data-bearing event, got %d", len(events))
	}
	if events[0].Data != "real" {
		t.Errorf("expected 'real', got %q", events[0].Data)
	}
}

func TestParser_FlushDrainsTrailingEvent(t *testing.T) {
	var p Parser
	if got := p.Feed([]byte("data: unterminated")); len(got) != 0 {
		t.Fatalf("unterminated event must not be emitted by Feed, got %#v", got)
	}
	events := p.Flush()
	if len(events) != 1 || events[0].Data != "unterminated" {
		t.Fatalf("Flush should drain the trailing event, got %#v", events)
	}
	if got := p.Flush(); len(got) != 0 {
		t.Errorf("second Flush should be empty, got %#v", got)
	}
}

func TestParser_FlushEmptyBuffer(t *testing.T) {
	var p Parser
	p.Feed([]byte("data: done\n\n"))
	if events := p.Flush(); len(events) != 0 {
		t.Errorf("expected no trailing event, got %#v", events)
	}
}

func TestParser_WhitespaceOnlyRemainderIgnored(t *testing.T) {
	var p Parser
	p.Feed([]byte("data: x\n\n\n"))
	if events := p.Flush(); len(events) != 0 {
		t.Errorf("expected trailing whitespace to be dropped, got %#v", events)
	}
}
