package server

import (
	"bytes"
	"context"
)

// AssembleBody drains http.request events from t and returns their payloads
// concatenated in arrival order. Empty chunks are accepted and ignored; the
// first chunk with MoreBody=false ends the body whether or not it carries
// data. Total size is not limited here.
func AssembleBody(ctx context.Context, t Transport) ([]byte, error) {
	var buf bytes.Buffer

	for {
		ev, err := t.Receive(ctx)
		if err != nil {
			return nil, err
		}

		switch ev.Type {
		case EventRequest:
			if len(ev.Body) > 0 {
				buf.Write(ev.Body)
			}
			if !ev.MoreBody {
				return buf.Bytes(), nil
			}

		case EventDisconnect:
			return nil, &ProtocolError{Kind: ErrPeerDisconnected, Op: "assemble body"}

		default:
			return nil, violation("assemble body", "unexpected event %q", ev.Type)
		}
	}
}
