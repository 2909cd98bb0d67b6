package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// DefaultChunkSize is how much of a request body goes into one event.
const DefaultChunkSize = 64 * 1024

type HostConfig struct {
	ChunkSize int
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Host bridges net/http onto the event/frame protocol: every request
// becomes one http connection for the App, and the process lifetime is one
// lifespan connection.
type Host struct {
	app       *App
	chunkSize int
	logger    *slog.Logger
	metrics   *Metrics

	lifespan     *chanTransport
	lifespanDone chan struct{}
	stopLifespan context.CancelFunc
}

func NewHost(app *App, cfg HostConfig) *Host {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Host{
		app:       app,
		chunkSize: cfg.ChunkSize,
		logger:    cfg.Logger.With("component", "host"),
		metrics:   cfg.Metrics,
	}
}

// ServeHTTP runs the app for one request. If the app ends without a
// complete response the connection is dropped.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.metrics.startRequest()
	defer h.metrics.endRequest()

	scope := BuildScope(r)
	t := &httpTransport{r: r, w: w, chunkSize: h.chunkSize}

	h.app.Serve(r.Context(), scope, t)

	if !t.finished {
		h.logger.Debug("dropping connection without complete response",
			"request_id", scope.ID, "started", t.started)
		panic(http.ErrAbortHandler)
	}
}

// BuildScope describes r as an http scope. The request id is taken from
// X-Request-Id when the client sent one.
func BuildScope(r *http.Request) Scope {
	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.New().String()
	}

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := make([]Header, 0, len(names)+2)
	for _, name := range names {
		// Rebuilt below with the peer address appended.
		if name == "X-Forwarded-For" {
			continue
		}
		for _, v := range r.Header[name] {
			headers = append(headers, Header{strings.ToLower(name), v})
		}
	}

	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	if host != "" {
		headers = append(headers, Header{"host", host})
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && ip != "" {
		if fwd := r.Header.Values("X-Forwarded-For"); len(fwd) > 0 {
			ip = strings.Join(fwd, ", ") + ", " + ip
		}
		headers = append(headers, Header{"x-forwarded-for", ip})
	}

	return Scope{
		Type:    ScopeHTTP,
		ID:      id,
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: headers,
	}
}

// httpTransport reads the request body as chunk events and writes frames
// to the ResponseWriter.
type httpTransport struct {
	r         *http.Request
	w         http.ResponseWriter
	chunkSize int

	bodyDone bool
	started  bool
	finished bool
}

func (t *httpTransport) Receive(ctx context.Context) (Event, error) {
	if t.bodyDone {
		// Nothing more will arrive; report the disconnect once it happens.
		<-ctx.Done()
		return Event{Type: EventDisconnect}, nil
	}
	if ctx.Err() != nil {
		return Event{Type: EventDisconnect}, nil
	}
	if t.r.Body == nil {
		t.bodyDone = true
		return RequestChunk(nil, false), nil
	}

	buf := make([]byte, t.chunkSize)
	n, err := io.ReadFull(t.r.Body, buf)
	switch {
	case err == nil:
		return RequestChunk(buf[:n], true), nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		t.bodyDone = true
		return RequestChunk(buf[:n], false), nil
	default:
		return Event{Type: EventDisconnect}, nil
	}
}

func (t *httpTransport) Send(_ context.Context, f Frame) error {
	switch f.Type {
	case FrameResponseStart:
		if t.started {
			return violation("send", "response already started")
		}
		for _, hdr := range f.Headers {
			t.w.Header().Add(hdr.Name(), hdr.Value())
		}
		t.w.WriteHeader(f.Status)
		t.started = true
		return nil

	case FrameResponseBody:
		if !t.started {
			return violation("send", "response body before response start")
		}
		if t.finished {
			return violation("send", "response body after final body")
		}
		if len(f.Body) > 0 {
			if _, err := t.w.Write(f.Body); err != nil {
				return err
			}
		}
		if f.MoreBody {
			if fl, ok := t.w.(http.Flusher); ok {
				fl.Flush()
			}
			return nil
		}
		t.finished = true
		return nil

	default:
		return violation("send", "frame %q on an http connection", f.Type)
	}
}

// Startup opens the lifespan connection and waits for the app to
// acknowledge startup.
func (h *Host) Startup(ctx context.Context) error {
	if h.lifespan != nil {
		return errors.New("lifespan already started")
	}

	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.lifespan = newChanTransport()
	h.lifespanDone = make(chan struct{})
	h.stopLifespan = cancel

	go func() {
		defer close(h.lifespanDone)
		h.app.Serve(lctx, Scope{Type: ScopeLifespan}, h.lifespan)
	}()

	return h.handshake(ctx, EventStartup, FrameStartupComplete)
}

// Shutdown asks the app to finish the lifespan connection and waits until
// it has.
func (h *Host) Shutdown(ctx context.Context) error {
	if h.lifespan == nil {
		return errors.New("lifespan not started")
	}
	defer h.stopLifespan()

	if err := h.handshake(ctx, EventShutdown, FrameShutdownComplete); err != nil {
		return err
	}

	select {
	case <-h.lifespanDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) handshake(ctx context.Context, send EventType, want FrameType) error {
	if err := h.pushLifespan(ctx, Event{Type: send}); err != nil {
		return err
	}

	select {
	case f := <-h.lifespan.frames:
		return h.acknowledged(f, want)
	case <-h.lifespanDone:
		// The final ack may still be buffered when the app returns.
		select {
		case f := <-h.lifespan.frames:
			return h.acknowledged(f, want)
		default:
			return fmt.Errorf("lifespan ended before %q", want)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) acknowledged(f Frame, want FrameType) error {
	if f.Type != want {
		return fmt.Errorf("lifespan: got %q, want %q", f.Type, want)
	}
	h.logger.Info("lifespan acknowledged", "frame", string(f.Type))
	return nil
}

func (h *Host) pushLifespan(ctx context.Context, ev Event) error {
	select {
	case h.lifespan.events <- ev:
		return nil
	case <-h.lifespanDone:
		return fmt.Errorf("lifespan ended before %q", ev.Type)
	case <-ctx.Done():
		return ctx.Err()
	}
}
