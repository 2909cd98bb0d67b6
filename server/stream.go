package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxMessageSize bounds one length-prefixed message on a stream.
const maxMessageSize = 10 * 1024 * 1024

// FrameConnectionClosed is written after the app finishes each connection
// on a stream, so the remote host knows no more frames will follow.
const FrameConnectionClosed FrameType = "connection.close"

// message is the wire form of everything a remote host writes: a scope
// opens the connection named by Conn, events belong to that connection.
type message struct {
	Conn     string   `json:"conn"`
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Method   string   `json:"method,omitempty"`
	Path     string   `json:"path,omitempty"`
	Headers  []Header `json:"headers,omitempty"`
	Body     []byte   `json:"body,omitempty"`
	MoreBody bool     `json:"more_body,omitempty"`
}

// StreamFrame is a frame on the wire, tagged with the connection it
// belongs to.
type StreamFrame struct {
	Conn string `json:"conn"`
	Frame
}

func (m message) isScope() bool {
	return m.Type == string(ScopeHTTP) || m.Type == string(ScopeLifespan)
}

func (m message) scope() Scope {
	return Scope{Type: ScopeType(m.Type), ID: m.ID, Method: m.Method, Path: m.Path, Headers: m.Headers}
}

func (m message) event() Event {
	return Event{Type: EventType(m.Type), Body: m.Body, MoreBody: m.MoreBody}
}

// WriteMessage writes v as JSON behind a 4-byte big-endian length.
func WriteMessage(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(raw) > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", len(raw))
	}

	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(len(raw)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

// ReadMessage reads one length-prefixed JSON message into v.
func ReadMessage(r io.Reader, v any) error {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(hdr)
	if n == 0 || n > maxMessageSize {
		return io.ErrUnexpectedEOF
	}

	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// streamSession multiplexes connections over a single reader/writer pair.
// Connections are keyed by the conn id the remote host puts on every
// message, so a lifespan connection stays open while http connections come
// and go.
type streamSession struct {
	r *bufio.Reader

	mu sync.Mutex // guards w
	w  io.Writer

	conns map[string]*streamConn
}

// ServeStream runs app over a length-prefixed message stream until r is
// exhausted. Each scope opens a connection served on its own goroutine; a
// scope reusing the id of an open connection disconnects that connection
// first. Events for unknown or finished connections are discarded. When r
// ends, connections still open see a disconnect.
func ServeStream(ctx context.Context, app *App, r io.Reader, w io.Writer) error {
	s := &streamSession{r: bufio.NewReader(r), w: w, conns: make(map[string]*streamConn)}
	g, gctx := errgroup.WithContext(ctx)

	readErr := s.dispatch(gctx, g, app)
	for _, c := range s.conns {
		c.hangUp()
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if errors.Is(readErr, io.EOF) {
		return nil
	}
	return readErr
}

func (s *streamSession) dispatch(ctx context.Context, g *errgroup.Group, app *App) error {
	for {
		var msg message
		if err := ReadMessage(s.r, &msg); err != nil {
			return err
		}

		if msg.isScope() {
			s.prune()
			if prev, ok := s.conns[msg.Conn]; ok {
				prev.hangUp()
				<-prev.done
			}
			c := newStreamConn(s, msg.Conn)
			s.conns[msg.Conn] = c
			g.Go(func() error {
				defer close(c.done)
				app.Serve(ctx, msg.scope(), c)
				return s.write(StreamFrame{Conn: c.id, Frame: Frame{Type: FrameConnectionClosed}})
			})
			continue
		}

		c, ok := s.conns[msg.Conn]
		if !ok {
			continue
		}
		select {
		case c.events <- msg.event():
		case <-c.done:
			delete(s.conns, msg.Conn)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// prune forgets connections the app has finished.
func (s *streamSession) prune() {
	for id, c := range s.conns {
		select {
		case <-c.done:
			delete(s.conns, id)
		default:
		}
	}
}

func (s *streamSession) write(f StreamFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteMessage(s.w, f)
}

// streamConn is the Transport for one connection of a stream session. Only
// the session's reader feeds events; hangUp tells the app nothing more
// will arrive.
type streamConn struct {
	session *streamSession
	id      string

	events chan Event
	gone   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newStreamConn(s *streamSession, id string) *streamConn {
	return &streamConn{
		session: s,
		id:      id,
		events:  make(chan Event, 16),
		gone:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *streamConn) hangUp() {
	c.once.Do(func() { close(c.gone) })
}

func (c *streamConn) Receive(ctx context.Context) (Event, error) {
	// Events read before the hang-up are still delivered.
	select {
	case ev := <-c.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.gone:
		return Event{Type: EventDisconnect}, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (c *streamConn) Send(_ context.Context, f Frame) error {
	return c.session.write(StreamFrame{Conn: c.id, Frame: f})
}
