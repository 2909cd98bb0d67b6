package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is the body of a response. The concrete variants are Raw, Text and
// Mapping; each one decides the content-type of the response.
type Value interface {
	isValue()
}

// Raw is an opaque byte body. An empty ContentType omits the header.
type Raw struct {
	Data        []byte
	ContentType string
}

// Text is a UTF-8 body sent as text/plain.
type Text string

// Field is one member of a Mapping.
type Field struct {
	Key   string
	Value any
}

// Mapping is a JSON object whose members keep their slice order.
type Mapping []Field

func (Raw) isValue()     {}
func (Text) isValue()    {}
func (Mapping) isValue() {}

const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeJSON = "application/json"
)

// MarshalJSON writes the fields in order. Field values go through
// encoding/json individually.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode turns a status and value into exactly one response start frame and
// one final response body frame. Extra header names are lower-cased; extra
// content-type and content-length headers are dropped.
func Encode(status int, v Value, extra ...Header) (Frame, Frame, error) {
	var (
		body        []byte
		contentType string
	)

	switch val := v.(type) {
	case Raw:
		body = val.Data
		contentType = val.ContentType
	case Text:
		body = []byte(val)
		contentType = contentTypeText
	case Mapping:
		b, err := json.Marshal(val)
		if err != nil {
			return Frame{}, Frame{}, fmt.Errorf("encode mapping: %w", err)
		}
		body = b
		contentType = contentTypeJSON
	case nil:
		contentType = contentTypeText
	default:
		return Frame{}, Frame{}, fmt.Errorf("encode: unsupported value %T", v)
	}

	headers := make([]Header, 0, len(extra)+2)
	if contentType != "" {
		headers = append(headers, Header{"content-type", contentType})
	}
	headers = append(headers, Header{"content-length", strconv.Itoa(len(body))})
	for _, h := range extra {
		name := strings.ToLower(h.Name())
		// Both are derived from the value.
		if name == "content-type" || name == "content-length" {
			continue
		}
		headers = append(headers, Header{name, h.Value()})
	}

	return ResponseStart(status, headers), ResponseBody(body, false), nil
}

// SnapshotEncoding selects how stored bytes appear in a JSON snapshot. Raw
// is lossy for values that are not valid UTF-8; base64 round-trips any bytes.
type SnapshotEncoding string

const (
	EncodingRaw    SnapshotEncoding = "raw"
	EncodingBase64 SnapshotEncoding = "base64"
)

func (e SnapshotEncoding) encode(b []byte) string {
	if e == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(b)
	}
	return string(b)
}
