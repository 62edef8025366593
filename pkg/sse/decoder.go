package sse

import (
	"bytes"
	"fmt"
	"strings"
)

// DefaultMaxPending bounds the bytes held while waiting for a line to complete.
const DefaultMaxPending = 64 << 10

// EventType tags an Event.
type EventType int

const (
	EventDelta EventType = iota
	EventDone
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is one decoder output: a content delta, the end of the stream, or a
// decode/transport error. Done and Error are terminal.
type Event struct {
	Type    EventType
	Content string
	Err     error
}

// Decoder turns raw chunks of a chat-completion SSE body into events.
// Chunk boundaries are arbitrary: bytes are buffered until a '\n' completes a
// line, so a UTF-8 sequence split across chunks is never decoded in halves.
//
// A data payload that is a truncated JSON prefix is held and joined with the
// next line. That only recovers a newline between JSON tokens: a newline
// inside a string literal is invalid JSON. A payload that can never parse, or
// pending bytes beyond MaxPending, ends the stream with ErrMalformedFrame.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	MaxPending int

	buf     []byte
	pending string
	done    bool
}

// NewDecoder returns a Decoder with DefaultMaxPending.
func NewDecoder() *Decoder {
	return &Decoder{MaxPending: DefaultMaxPending}
}

// Done reports whether a terminal event has been produced.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed consumes one chunk and returns the events completed by it.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]
		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
			if d.done {
				d.buf = nil
				return events
			}
		}
	}

	if len(d.buf)+len(d.pending) > d.maxPending() {
		events = append(events, d.fail(fmt.Errorf("%w: %d bytes without a complete frame", ErrMalformedFrame, len(d.buf)+len(d.pending))))
	}
	if len(d.buf) == 0 {
		// 释放底层数组
		d.buf = nil
	}
	return events
}

// Finish is called once the underlying stream has closed. It flushes an
// unterminated last line and ends the stream with Done unless a terminal
// event was already produced.
func (d *Decoder) Finish() []Event {
	if d.done {
		return nil
	}
	var events []Event
	if len(d.buf) > 0 {
		line := string(d.buf)
		d.buf = nil
		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
			if d.done {
				return events
			}
		}
	}
	if d.pending != "" {
		return append(events, d.fail(fmt.Errorf("%w: stream closed inside a frame", ErrMalformedFrame)))
	}
	d.done = true
	return append(events, Event{Type: EventDone})
}

func (d *Decoder) processLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")

	if d.pending != "" {
		payload := d.pending + "\n" + line
		d.pending = ""
		return d.handlePayload(payload)
	}

	trimmed := strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(trimmed, "data:")
	if !ok {
		return Event{}, false
	}
	return d.handlePayload(rest)
}

func (d *Decoder) handlePayload(payload string) (Event, bool) {
	frame, err := ParseData(payload)
	switch {
	case err == errIncomplete:
		d.pending = strings.TrimSpace(payload)
		if len(d.pending) > d.maxPending() {
			return d.fail(fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformedFrame, d.maxPending())), true
		}
		return Event{}, false
	case err != nil:
		return d.fail(fmt.Errorf("%w: %q", err, truncate(payload, 80))), true
	}

	switch frame.Kind {
	case FrameDone:
		d.done = true
		return Event{Type: EventDone}, true
	case FrameDelta:
		return Event{Type: EventDelta, Content: frame.Content}, true
	}
	return Event{}, false
}

func (d *Decoder) fail(err error) Event {
	d.done = true
	d.buf = nil
	d.pending = ""
	return Event{Type: EventError, Err: err}
}

func (d *Decoder) maxPending() int {
	if d.MaxPending <= 0 {
		return DefaultMaxPending
	}
	return d.MaxPending
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
