package server

import (
	"context"
	"errors"
	"testing"

	"kvgate/store"
)

var errScriptExhausted = errors.New("script exhausted")

// scriptedTransport replays a fixed list of events and records every frame
// together with how many events had been pulled when it was sent.
type scriptedTransport struct {
	events []Event
	pulled int

	frames       []Frame
	pulledAtSend []int
}

func newScript(events ...Event) *scriptedTransport {
	return &scriptedTransport{events: events}
}

func (s *scriptedTransport) Receive(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.pulled >= len(s.events) {
		return Event{}, errScriptExhausted
	}
	ev := s.events[s.pulled]
	s.pulled++
	return ev, nil
}

func (s *scriptedTransport) Send(_ context.Context, f Frame) error {
	s.frames = append(s.frames, f)
	s.pulledAtSend = append(s.pulledAtSend, s.pulled)
	return nil
}

// response returns the status and body of a complete one-shot response.
func (s *scriptedTransport) response(t *testing.T) (int, string) {
	t.Helper()
	if len(s.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %+v", len(s.frames), s.frames)
	}
	if s.frames[0].Type != FrameResponseStart {
		t.Fatalf("first frame = %q, want %q", s.frames[0].Type, FrameResponseStart)
	}
	if s.frames[1].Type != FrameResponseBody || s.frames[1].MoreBody {
		t.Fatalf("second frame is not a final body: %+v", s.frames[1])
	}
	return s.frames[0].Status, string(s.frames[1].Body)
}

func (s *scriptedTransport) header(name string) (string, bool) {
	if len(s.frames) == 0 {
		return "", false
	}
	for _, h := range s.frames[0].Headers {
		if h.Name() == name {
			return h.Value(), true
		}
	}
	return "", false
}

func body(chunks ...string) []Event {
	if len(chunks) == 0 {
		return []Event{RequestChunk(nil, false)}
	}
	events := make([]Event, 0, len(chunks))
	for i, c := range chunks {
		events = append(events, RequestChunk([]byte(c), i < len(chunks)-1))
	}
	return events
}

func newTestRouter(cfg RouterConfig) (*Router, *store.Store) {
	kv := store.New()
	return NewRouter(kv, cfg), kv
}

type recordingNotifier struct {
	changes []string
}

func (n *recordingNotifier) NotifyChange(op, key string) {
	n.changes = append(n.changes, op+":"+key)
}
