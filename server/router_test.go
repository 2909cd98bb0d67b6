package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func do(t *testing.T, r *Router, method, path string, events ...Event) *scriptedTransport {
	t.Helper()
	if len(events) == 0 {
		events = body()
	}
	s := newScript(events...)
	if _, err := r.Handle(context.Background(), Scope{Type: ScopeHTTP, Method: method, Path: path}, s); err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return s
}

func TestRouterPutThenGetReturnsLastWrite(t *testing.T) {
	r, _ := newTestRouter(RouterConfig{})

	if status, _ := do(t, r, "PUT", "/api/v1/storage/k", body("first")...).response(t); status != http.StatusAccepted {
		t.Fatalf("PUT status = %d, want 202", status)
	}
	do(t, r, "PUT", "/api/v1/storage/k", body("second")...)

	s := do(t, r, "GET", "/api/v1/storage/k")
	status, got := s.response(t)
	if status != http.StatusOK || got != "second" {
		t.Fatalf("GET = %d %q, want 200 second", status, got)
	}
	if ct, _ := s.header("content-type"); ct != "application/octet-stream" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestRouterPutRespondsWithEmptyBody(t *testing.T) {
	r, _ := newTestRouter(RouterConfig{})

	s := do(t, r, "PUT", "/k", body("v")...)
	status, got := s.response(t)
	if status != http.StatusAccepted || got != "" {
		t.Fatalf("PUT = %d %q", status, got)
	}
	if _, ok := s.header("content-type"); !ok {
		t.Fatalf("expected a content-type header on an empty response")
	}
}

func TestRouterGetMissingKey(t *testing.T) {
	r, _ := newTestRouter(RouterConfig{})

	status, got := do(t, r, "GET", "/nope").response(t)
	if status != http.StatusNotFound || got != "key nope doesn't exist" {
		t.Fatalf("GET = %d %q", status, got)
	}
}

func TestRouterDelete(t *testing.T) {
	r, kv := newTestRouter(RouterConfig{})
	kv.Put("k", []byte("v"))

	if status, _ := do(t, r, "DELETE", "/k").response(t); status != http.StatusOK {
		t.Fatalf("DELETE existing = %d, want 200", status)
	}
	if status, _ := do(t, r, "GET", "/k").response(t); status != http.StatusNotFound {
		t.Fatalf("GET after DELETE = %d, want 404", status)
	}

	status, got := do(t, r, "DELETE", "/k").response(t)
	if status != http.StatusNotFound || got != "key k doesn't exist" {
		t.Fatalf("DELETE missing = %d %q", status, got)
	}
	if kv.Len() != 0 {
		t.Fatalf("store not empty")
	}
}

func TestRouterChunkedPutMatchesSingleChunk(t *testing.T) {
	r, kv := newTestRouter(RouterConfig{})

	do(t, r, "PUT", "/split", body("ab", "cd")...)
	do(t, r, "PUT", "/whole", body("abcd")...)

	split, _ := kv.Get("split")
	whole, _ := kv.Get("whole")
	if string(split) != "abcd" || string(split) != string(whole) {
		t.Fatalf("split=%q whole=%q", split, whole)
	}
}

func TestRouterSnapshot(t *testing.T) {
	r, _ := newTestRouter(RouterConfig{})
	do(t, r, "PUT", "/k1", body("v1")...)
	do(t, r, "PUT", "/k2", body("v2")...)

	for _, path := range []string{"/api/storage", "/api/storage/", "/api/storage//"} {
		s := do(t, r, "GET", path)
		status, got := s.response(t)
		if status != http.StatusOK || got != `{"k1":"v1","k2":"v2"}` {
			t.Fatalf("GET %s = %d %s", path, status, got)
		}
		if ct, _ := s.header("content-type"); ct != "application/json" {
			t.Fatalf("content-type = %q", ct)
		}
	}
}

func TestRouterSnapshotBase64(t *testing.T) {
	r, kv := newTestRouter(RouterConfig{SnapshotEncoding: EncodingBase64, CollectionPath: "/all/"})
	kv.Put("k1", []byte("v1"))

	_, got := do(t, r, "GET", "/all").response(t)
	if got != `{"k1":"djE="}` {
		t.Fatalf("snapshot = %s", got)
	}
}

func TestRouterSnapshotBase64RoundTripsBinary(t *testing.T) {
	r, kv := newTestRouter(RouterConfig{SnapshotEncoding: EncodingBase64})
	value := []byte{0xff, 0xfe, 0x00, 0x80, 'x'}
	do(t, r, "PUT", "/bin", body(string(value))...)

	_, got := do(t, r, "GET", "/api/storage").response(t)

	var snap map[string]string
	if err := json.Unmarshal([]byte(got), &snap); err != nil {
		t.Fatalf("decode snapshot %s: %v", got, err)
	}
	decoded, err := base64.StdEncoding.DecodeString(snap["bin"])
	if err != nil {
		t.Fatalf("decode value: %v", err)
	}
	stored, _ := kv.Get("bin")
	if !bytes.Equal(decoded, value) || !bytes.Equal(stored, value) {
		t.Fatalf("snapshot value %v, stored %v, want %v", decoded, stored, value)
	}
}

func TestRouterCollectionPathIsNotAPrefixMatch(t *testing.T) {
	r, kv := newTestRouter(RouterConfig{})
	kv.Put("storage", []byte("plain key"))

	_, got := do(t, r, "GET", "/api/v1/storage").response(t)
	if got != "plain key" {
		t.Fatalf("expected key lookup for /api/v1/storage, got %q", got)
	}
}

func TestRouterDisconnectDuringPutKeepsPriorValue(t *testing.T) {
	r, kv := newTestRouter(RouterConfig{})
	kv.Put("k", []byte("old"))

	s := newScript(RequestChunk([]byte("ne"), true), Event{Type: EventDisconnect})
	_, err := r.Handle(context.Background(), Scope{Type: ScopeHTTP, Method: "PUT", Path: "/k"}, s)
	if !errors.Is(err, ErrPeerDisconnected) {
		t.Fatalf("expected ErrPeerDisconnected, got %v", err)
	}
	if len(s.frames) != 0 {
		t.Fatalf("expected no frames, got %+v", s.frames)
	}

	v, _ := kv.Get("k")
	if string(v) != "old" {
		t.Fatalf("value changed to %q", v)
	}

	s = newScript(Event{Type: EventDisconnect})
	if _, err := r.Handle(context.Background(), Scope{Type: ScopeHTTP, Method: "PUT", Path: "/fresh"}, s); !errors.Is(err, ErrPeerDisconnected) {
		t.Fatalf("expected ErrPeerDisconnected, got %v", err)
	}
	if _, ok := kv.Get("fresh"); ok {
		t.Fatalf("aborted PUT created a key")
	}
}

func TestRouterUnsupportedMethods(t *testing.T) {
	r, _ := newTestRouter(RouterConfig{})

	for _, method := range []string{"PATCH", "POST", "HEAD", "OPTIONS", ""} {
		s := newScript(body("x")...)
		_, err := r.Handle(context.Background(), Scope{Type: ScopeHTTP, Method: method, Path: "/k"}, s)
		if !errors.Is(err, ErrUnsupportedMethod) {
			t.Fatalf("%q: expected ErrUnsupportedMethod, got %v", method, err)
		}
		if len(s.frames) != 0 || s.pulled != 0 {
			t.Fatalf("%q: expected no frames and no pulls, got %d frames %d pulls", method, len(s.frames), s.pulled)
		}
	}
}

func TestRouterMethodIsCaseSensitive(t *testing.T) {
	r, kv := newTestRouter(RouterConfig{})

	for _, method := range []string{"put", "get", "Delete"} {
		s := newScript(body("v")...)
		_, err := r.Handle(context.Background(), Scope{Type: ScopeHTTP, Method: method, Path: "/k"}, s)
		if !errors.Is(err, ErrUnsupportedMethod) {
			t.Fatalf("%q: expected ErrUnsupportedMethod, got %v", method, err)
		}
		if len(s.frames) != 0 {
			t.Fatalf("%q: expected no frames, got %+v", method, s.frames)
		}
	}
	if kv.Len() != 0 {
		t.Fatalf("lower-case PUT reached the store")
	}
}

func TestRouterWriteToCollectionNotAllowed(t *testing.T) {
	r, kv := newTestRouter(RouterConfig{})

	s := do(t, r, "PUT", "/api/storage", body("v")...)
	if status, _ := s.response(t); status != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", status)
	}
	if allow, _ := s.header("allow"); allow != "GET" {
		t.Fatalf("allow = %q", allow)
	}
	if kv.Len() != 0 {
		t.Fatalf("collection write reached the store")
	}
}

func TestRouterPutEmptyKey(t *testing.T) {
	r, kv := newTestRouter(RouterConfig{})

	if status, _ := do(t, r, "PUT", "/", body("v")...).response(t); status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if kv.Len() != 0 {
		t.Fatalf("empty key stored")
	}
}

func TestRouterNotifiesChanges(t *testing.T) {
	n := &recordingNotifier{}
	r, _ := newTestRouter(RouterConfig{Notifier: n})

	do(t, r, "PUT", "/k", body("v")...)
	do(t, r, "GET", "/k")
	do(t, r, "DELETE", "/k")
	do(t, r, "DELETE", "/k")

	if len(n.changes) != 2 || n.changes[0] != "put:k" || n.changes[1] != "delete:k" {
		t.Fatalf("unexpected changes %v", n.changes)
	}
}
