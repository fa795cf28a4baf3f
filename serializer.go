package phx

import (
	"encoding/json"
	"fmt"
)

// Serializer is the bi-directional codec for text and binary frames.
// JSONSerializerV2 is the only implementation SPEC_FULL calls for: the
// wire version is pinned at "2.0.0" (see Vsn and protocolVersion).
type Serializer interface {
	Vsn() string
	EncodeText(msg Message) ([]byte, error)
	DecodeText(data []byte) (Message, error)
	EncodeBinary(msg Message) ([]byte, error)
	DecodeBinary(data []byte) (Message, error)
}

// Binary frame kinds, per §4.3.
const (
	binaryKindPush      byte = 0
	binaryKindReply     byte = 1
	binaryKindBroadcast byte = 2
)

// JSONSerializerV2 implements the versioned text-array format
// `[join_ref, ref, topic, event, payload]` and the binary framing
// described in spec §4.3. Grounded on nshafer-phx/serializer.go's
// JSONSerializerV2 (the array shape) generalized to the full decode
// rules, and on chrismccord-go-phx-channels/backup/serializer.go's
// length-prefixed binary layout.
type JSONSerializerV2 struct{}

func NewJSONSerializerV2() *JSONSerializerV2 {
	return &JSONSerializerV2{}
}

func (JSONSerializerV2) Vsn() string {
	return protocolVersion
}

// replyEnvelope is the JSON object carried as the payload of a
// phx_reply frame.
type replyEnvelope struct {
	Response json.RawMessage `json:"response"`
	Status   *string         `json:"status"`
}

func (JSONSerializerV2) EncodeText(msg Message) ([]byte, error) {
	var joinRefVal, refVal any
	if msg.JoinRef != nil {
		joinRefVal = *msg.JoinRef
	}
	if msg.Ref != nil {
		refVal = *msg.Ref
	}

	var payloadVal json.RawMessage
	if msg.IsReply() {
		status := ""
		if msg.Status != nil {
			status = *msg.Status
		}
		respVal, err := encodePayloadValue(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStringFromDataFailed, err)
		}
		envelope, err := json.Marshal(replyEnvelope{Response: respVal, Status: &status})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStringFromDataFailed, err)
		}
		payloadVal = envelope
	} else {
		v, err := encodePayloadValue(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStringFromDataFailed, err)
		}
		payloadVal = v
	}

	arr := []any{joinRefVal, refVal, msg.Topic, msg.Event, payloadVal}
	data, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStringFromDataFailed, err)
	}
	return data, nil
}

// encodePayloadValue turns stored payload bytes back into a JSON value
// for the outer array. Bytes that are already valid JSON are reused
// as-is; anything else is treated as a raw string (the form a decoded
// reply's "response" field is stored in) and re-quoted.
func encodePayloadValue(payload []byte) (json.RawMessage, error) {
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload), nil
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(quoted), nil
}

func (JSONSerializerV2) DecodeText(data []byte) (Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, newDecodeError(fmt.Errorf("%w: %v", ErrDataFromStringFailed, err), data)
	}
	if len(raw) != 5 {
		return Message{}, newDecodeError(fmt.Errorf("%w: expected 5 elements, got %d", ErrDataFromStringFailed, len(raw)), data)
	}

	joinRef, err := decodeNullableString(raw[0])
	if err != nil {
		return Message{}, newDecodeError(fmt.Errorf("%w: join_ref: %v", ErrDataFromStringFailed, err), data)
	}
	ref, err := decodeNullableString(raw[1])
	if err != nil {
		return Message{}, newDecodeError(fmt.Errorf("%w: ref: %v", ErrDataFromStringFailed, err), data)
	}

	var topic string
	if err := json.Unmarshal(raw[2], &topic); err != nil || topic == "" {
		return Message{}, newDecodeError(ErrDecodeMissingTopic, data)
	}
	var event string
	if err := json.Unmarshal(raw[3], &event); err != nil || event == "" {
		return Message{}, newDecodeError(ErrDecodeMissingEvent, data)
	}

	payloadRaw := raw[4]

	if event == ReplyEvent {
		var envelope replyEnvelope
		if err := json.Unmarshal(payloadRaw, &envelope); err != nil || envelope.Status == nil {
			return Message{}, newDecodeError(ErrInvalidReplyStructure, data)
		}
		return NewReply(joinRef, ref, topic, *envelope.Status, decodeResponseBytes(envelope.Response)), nil
	}

	if joinRef != nil || ref != nil {
		return NewMessage(joinRef, ref, topic, event, []byte(payloadRaw)), nil
	}

	return NewBroadcast(topic, event, []byte(payloadRaw)), nil
}

// decodeResponseBytes strips JSON quoting from a string response so
// that the stored payload is the raw UTF-8 text, not a re-quotable
// JSON string; any other JSON value (object, array, number, bool,
// null) is kept as its literal encoded bytes.
func decodeResponseBytes(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return []byte(raw)
}

func decodeNullableString(raw json.RawMessage) (*string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EncodeBinary encodes msg as a binary push frame: outbound binary
// from the client is always KIND=push (§4.3).
func (JSONSerializerV2) EncodeBinary(msg Message) ([]byte, error) {
	joinRef := ""
	if msg.JoinRef != nil {
		joinRef = *msg.JoinRef
	}
	fields := [][]byte{[]byte(joinRef), []byte(msg.Topic), []byte(msg.Event)}
	for _, f := range fields {
		if len(f) > maxWireLen {
			return nil, ErrBinaryFieldTooLong
		}
	}

	buf := make([]byte, 0, 1+len(fields)+len(msg.Payload)+len(joinRef)+len(msg.Topic)+len(msg.Event))
	buf = append(buf, binaryKindPush)
	for _, f := range fields {
		buf = append(buf, byte(len(f)))
	}
	for _, f := range fields {
		buf = append(buf, f...)
	}
	buf = append(buf, msg.Payload...)
	return buf, nil
}

func (JSONSerializerV2) DecodeBinary(data []byte) (Message, error) {
	if len(data) < 1 {
		return Message{}, newDecodeError(fmt.Errorf("%w: empty frame", ErrInvalidBinaryKind), data)
	}

	switch data[0] {
	case binaryKindPush:
		fields, rest, err := readBinaryFields(data[1:], 3)
		if err != nil {
			return Message{}, newDecodeError(err, data)
		}
		joinRef, topic, event := fields[0], fields[1], fields[2]
		var joinRefPtr *string
		if joinRef != "" {
			joinRefPtr = &joinRef
		}
		return NewMessage(joinRefPtr, nil, topic, event, rest), nil

	case binaryKindReply:
		fields, rest, err := readBinaryFields(data[1:], 4)
		if err != nil {
			return Message{}, newDecodeError(err, data)
		}
		joinRef, ref, topic, status := fields[0], fields[1], fields[2], fields[3]
		var joinRefPtr, refPtr *string
		if joinRef != "" {
			joinRefPtr = &joinRef
		}
		if ref != "" {
			refPtr = &ref
		}
		return NewReply(joinRefPtr, refPtr, topic, status, rest), nil

	case binaryKindBroadcast:
		fields, rest, err := readBinaryFields(data[1:], 2)
		if err != nil {
			return Message{}, newDecodeError(err, data)
		}
		topic, event := fields[0], fields[1]
		return NewBroadcast(topic, event, rest), nil

	default:
		return Message{}, newDecodeError(ErrInvalidBinaryKind, data)
	}
}

// readBinaryFields reads n single-byte-length-prefixed UTF-8 fields
// from the front of data, returning the decoded fields, the remaining
// bytes (the payload), and any error.
func readBinaryFields(data []byte, n int) ([]string, []byte, error) {
	if len(data) < n {
		return nil, nil, fmt.Errorf("%w: truncated meta", ErrInvalidBinaryKind)
	}
	lengths := data[:n]
	offset := n
	fields := make([]string, n)
	for i, l := range lengths {
		end := offset + int(l)
		if end > len(data) {
			return nil, nil, fmt.Errorf("%w: truncated field", ErrInvalidBinaryKind)
		}
		fields[i] = string(data[offset:end])
		offset = end
	}
	return fields, data[offset:], nil
}
