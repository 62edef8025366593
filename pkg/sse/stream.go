package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const readSize = 4096

// Stream reads r in a goroutine and sends decoded events on the returned
// channel. The channel is closed after a Done or Error event, or without a
// final event once ctx is cancelled.
func Stream(ctx context.Context, r io.Reader) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		dec := NewDecoder()
		buf := make([]byte, readSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if !send(ctx, ch, dec.Feed(buf[:n])) || dec.Done() {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				send(ctx, ch, dec.Finish())
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(ctx, ch, []Event{{Type: EventError, Err: fmt.Errorf("read stream: %w", err)}})
				return
			}
		}
	}()
	return ch
}

func send(ctx context.Context, ch chan<- Event, events []Event) bool {
	for _, ev := range events {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
