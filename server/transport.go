package server

import (
	"context"
	"io"
)

// Transport is the duplex channel between a host and the app for a single
// connection. Receive pulls the next inbound event; Send pushes one frame.
type Transport interface {
	Receive(ctx context.Context) (Event, error)
	Send(ctx context.Context, f Frame) error
}

// chanTransport connects a host and the app inside one process.
type chanTransport struct {
	events chan Event
	frames chan Frame
}

func newChanTransport() *chanTransport {
	return &chanTransport{
		events: make(chan Event, 1),
		frames: make(chan Frame, 1),
	}
}

func (t *chanTransport) Receive(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-t.events:
		if !ok {
			return Event{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (t *chanTransport) Send(ctx context.Context, f Frame) error {
	select {
	case t.frames <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
