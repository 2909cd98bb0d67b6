package server

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation means the event sequence did not match what the
	// current state accepts.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrPeerDisconnected means the client went away before the request
	// body was complete.
	ErrPeerDisconnected  = errors.New("peer disconnected")
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrUnknownScope      = errors.New("unknown scope type")
)

// ProtocolError wraps one of the sentinel kinds with the operation that
// produced it.
type ProtocolError struct {
	Kind   error
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Kind }

func violation(op, format string, args ...any) error {
	return &ProtocolError{Kind: ErrProtocolViolation, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Classify names the kind of err for logs and metric labels.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrPeerDisconnected):
		return "peer_disconnected"
	case errors.Is(err, ErrUnsupportedMethod):
		return "unsupported_method"
	case errors.Is(err, ErrUnknownScope):
		return "unknown_scope"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
