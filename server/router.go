package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"kvgate/store"
)

// DefaultCollectionPath is the route that lists the whole store.
const DefaultCollectionPath = "/api/storage"

// KV is the storage capability the router needs.
type KV interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte)
	Delete(key string) bool
	Snapshot() store.Snapshot
}

// ChangeNotifier is told about every applied mutation.
type ChangeNotifier interface {
	NotifyChange(op, key string)
}

type RouterConfig struct {
	CollectionPath   string
	SnapshotEncoding SnapshotEncoding
	Notifier         ChangeNotifier
}

// Router maps a method and path to one of the store handlers.
type Router struct {
	kv         KV
	collection string
	encoding   SnapshotEncoding
	notifier   ChangeNotifier
}

func NewRouter(kv KV, cfg RouterConfig) *Router {
	collection := strings.TrimRight(cfg.CollectionPath, "/")
	if collection == "" {
		collection = DefaultCollectionPath
	}
	enc := cfg.SnapshotEncoding
	if enc == "" {
		enc = EncodingRaw
	}
	return &Router{
		kv:         kv,
		collection: collection,
		encoding:   enc,
		notifier:   cfg.Notifier,
	}
}

type route struct {
	collection bool
	key        string
}

func (r *Router) match(path string) route {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == r.collection {
		return route{collection: true}
	}
	return route{key: trimmed[strings.LastIndex(trimmed, "/")+1:]}
}

// Handle serves one http connection and returns the status it sent. An
// unsupported method fails before anything is pulled or sent.
func (r *Router) Handle(ctx context.Context, scope Scope, t Transport) (int, error) {
	method := ParseMethod(scope.Method)
	switch method {
	case MethodGet, MethodPut, MethodDelete:
	default:
		return 0, &ProtocolError{Kind: ErrUnsupportedMethod, Op: "route", Detail: scope.Method}
	}

	body, err := AssembleBody(ctx, t)
	if err != nil {
		return 0, err
	}
	req := Request{Method: method, Path: scope.Path, Body: body}

	rt := r.match(req.Path)
	if rt.collection {
		if req.Method != MethodGet {
			return r.respond(ctx, t, http.StatusMethodNotAllowed,
				Text(fmt.Sprintf("method %s not allowed on %s", req.Method, r.collection)),
				Header{"Allow", string(MethodGet)})
		}
		return r.respond(ctx, t, http.StatusOK, r.snapshot())
	}

	switch req.Method {
	case MethodGet:
		v, ok := r.kv.Get(rt.key)
		if !ok {
			return r.respond(ctx, t, http.StatusNotFound, notFound(rt.key))
		}
		return r.respond(ctx, t, http.StatusOK, Raw{Data: v, ContentType: "application/octet-stream"})

	case MethodPut:
		if rt.key == "" {
			return r.respond(ctx, t, http.StatusBadRequest, Text("key must not be empty"))
		}
		r.kv.Put(rt.key, req.Body)
		r.notify("put", rt.key)
		return r.respond(ctx, t, http.StatusAccepted, Text(""))

	default:
		if !r.kv.Delete(rt.key) {
			return r.respond(ctx, t, http.StatusNotFound, notFound(rt.key))
		}
		r.notify("delete", rt.key)
		return r.respond(ctx, t, http.StatusOK, Text(""))
	}
}

func (r *Router) snapshot() Mapping {
	snap := r.kv.Snapshot()
	m := make(Mapping, 0, len(snap))
	for _, e := range snap {
		m = append(m, Field{Key: e.Key, Value: r.encoding.encode(e.Value)})
	}
	return m
}

func (r *Router) notify(op, key string) {
	if r.notifier != nil {
		r.notifier.NotifyChange(op, key)
	}
}

func (r *Router) respond(ctx context.Context, t Transport, status int, v Value, extra ...Header) (int, error) {
	start, body, err := Encode(status, v, extra...)
	if err != nil {
		return 0, err
	}
	if err := t.Send(ctx, start); err != nil {
		return status, err
	}
	return status, t.Send(ctx, body)
}

func notFound(key string) Text {
	return Text(fmt.Sprintf("key %s doesn't exist", key))
}
