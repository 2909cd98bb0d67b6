package server

type ScopeType string

const (
	ScopeLifespan ScopeType = "lifespan"
	ScopeHTTP     ScopeType = "http"
)

// Scope describes a connection before any of its events are pulled.
type Scope struct {
	Type    ScopeType `json:"type"`
	ID      string    `json:"id,omitempty"`
	Method  string    `json:"method,omitempty"`
	Path    string    `json:"path,omitempty"`
	Headers []Header  `json:"headers,omitempty"`
}

// Header is a (name, value) pair. Frames carry headers as an ordered slice.
type Header [2]string

func (h Header) Name() string  { return h[0] }
func (h Header) Value() string { return h[1] }

type EventType string

const (
	EventStartup    EventType = "lifespan.startup"
	EventShutdown   EventType = "lifespan.shutdown"
	EventRequest    EventType = "http.request"
	EventDisconnect EventType = "http.disconnect"
)

// Event is one inbound unit pulled from a Transport.
type Event struct {
	Type     EventType `json:"type"`
	Body     []byte    `json:"body,omitempty"`
	MoreBody bool      `json:"more_body,omitempty"`
}

type FrameType string

const (
	FrameResponseStart    FrameType = "http.response.start"
	FrameResponseBody     FrameType = "http.response.body"
	FrameStartupComplete  FrameType = "lifespan.startup.complete"
	FrameShutdownComplete FrameType = "lifespan.shutdown.complete"
)

// Frame is one outbound unit pushed to a Transport.
type Frame struct {
	Type     FrameType `json:"type"`
	Status   int       `json:"status,omitempty"`  // only for http.response.start
	Headers  []Header  `json:"headers,omitempty"` // only for http.response.start
	Body     []byte    `json:"body,omitempty"`
	MoreBody bool      `json:"more_body,omitempty"`
}

func ResponseStart(status int, headers []Header) Frame {
	return Frame{Type: FrameResponseStart, Status: status, Headers: headers}
}

func ResponseBody(body []byte, more bool) Frame {
	return Frame{Type: FrameResponseBody, Body: body, MoreBody: more}
}

func StartupComplete() Frame  { return Frame{Type: FrameStartupComplete} }
func ShutdownComplete() Frame { return Frame{Type: FrameShutdownComplete} }

func RequestChunk(body []byte, more bool) Event {
	return Event{Type: EventRequest, Body: body, MoreBody: more}
}

type Method string

const (
	MethodGet     Method = "GET"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodPost    Method = "POST"
	MethodUnknown Method = ""
)

// ParseMethod recognises the methods the router knows about. Method names
// are case-sensitive. POST is recognised but never routed.
func ParseMethod(s string) Method {
	switch m := Method(s); m {
	case MethodGet, MethodPut, MethodDelete, MethodPost:
		return m
	default:
		return MethodUnknown
	}
}

// Request is built once per http connection after its body is assembled.
type Request struct {
	Method Method
	Path   string
	Body   []byte
}
