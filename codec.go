package phx

import "encoding/json"

// PayloadCodec encodes user values to wire bytes and decodes wire bytes
// back into user-provided types or a dynamic JSON tree. The core only
// requires round-trip faithfulness for JSON objects, arrays, strings,
// numbers, bools and null; it never depends on a specific codec
// implementation, so callers may swap this out (e.g. for a codec that
// preserves field order or supports a different wire encoding).
type PayloadCodec interface {
	// Encode marshals v to bytes suitable for Message.Payload.
	Encode(v any) ([]byte, error)

	// Decode unmarshals bytes into v, a pointer to a Go value.
	Decode(data []byte, v any) error

	// DecodeAny unmarshals bytes into a dynamic JSON tree (nil, bool,
	// float64, string, []any, or map[string]any).
	DecodeAny(data []byte) (any, error)
}

// JSONCodec is the default PayloadCodec, backed by encoding/json. No
// example in the retrieved pack reaches for a third-party JSON library
// for this job, so the standard library is what's grounded here.
type JSONCodec struct{}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) DecodeAny(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// emptyPayload is the canonical "{}" payload used for phx_join params
// defaults, phx_leave pushes, and synthesized replies.
var emptyPayload = []byte("{}")
