package phx

import "errors"

// Serializer/decode error taxonomy, per the wire boundary's error
// contract: reported to the socket's error callbacks and the
// offending frame is dropped. Never panics.
var (
	ErrDataFromStringFailed  = errors.New("phx: could not produce bytes from text frame")
	ErrStringFromDataFailed  = errors.New("phx: could not produce text frame from bytes")
	ErrInvalidReplyStructure = errors.New("phx: phx_reply payload missing response/status")
	ErrInvalidBinaryKind     = errors.New("phx: unknown binary frame kind")
	ErrDecodeMissingTopic    = errors.New("phx: frame missing topic")
	ErrDecodeMissingEvent    = errors.New("phx: frame missing event")
	ErrDecodingPayloadFailed = errors.New("phx: could not decode payload")

	// ErrBinaryFieldTooLong is returned when encoding a binary frame
	// whose join_ref/ref/topic/event exceeds the single-byte length
	// prefix's 255-byte limit.
	ErrBinaryFieldTooLong = errors.New("phx: binary field exceeds 255 bytes")

	// errNotConnected is returned by WebsocketTransport.Send/SendText
	// when called with no live connection.
	errNotConnected = errors.New("phx: transport is not connected")
)

// DecodeError wraps a serializer error with the raw bytes that
// triggered it, for diagnostics passed to the socket's OnError
// callbacks.
type DecodeError struct {
	Err  error
	Data []byte
}

func (e *DecodeError) Error() string {
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(err error, data []byte) *DecodeError {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &DecodeError{Err: err, Data: cp}
}
