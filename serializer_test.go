package phx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializerV2Vsn(t *testing.T) {
	assert.Equal(t, "2.0.0", NewJSONSerializerV2().Vsn())
}

func TestDecodeTextReply(t *testing.T) {
	s := NewJSONSerializerV2()

	msg, err := s.DecodeText([]byte(`[null,"1","room:lobby","phx_reply",{"response":{"ok":true},"status":"ok"}]`))
	require.NoError(t, err)

	assert.Nil(t, msg.JoinRef)
	require.NotNil(t, msg.Ref)
	assert.Equal(t, "1", *msg.Ref)
	assert.Equal(t, "room:lobby", msg.Topic)
	assert.True(t, msg.IsReply())
	require.NotNil(t, msg.Status)
	assert.Equal(t, "ok", *msg.Status)
	assert.JSONEq(t, `{"ok":true}`, string(msg.Payload))
}

func TestDecodeTextReplyMissingStatus(t *testing.T) {
	s := NewJSONSerializerV2()

	_, err := s.DecodeText([]byte(`[null,"1","room:lobby","phx_reply",{"response":{"ok":true}}]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidReplyStructure)
}

func TestDecodeTextReplyStringResponse(t *testing.T) {
	s := NewJSONSerializerV2()

	msg, err := s.DecodeText([]byte(`[null,"1","room:lobby","phx_reply",{"response":"pong","status":"ok"}]`))
	require.NoError(t, err)
	assert.Equal(t, "pong", string(msg.Payload))
}

func TestDecodeTextBroadcast(t *testing.T) {
	s := NewJSONSerializerV2()

	msg, err := s.DecodeText([]byte(`[null,null,"room:lobby","shout",{"body":"hi"}]`))
	require.NoError(t, err)

	assert.Nil(t, msg.JoinRef)
	assert.Nil(t, msg.Ref)
	assert.Equal(t, "shout", msg.Event)
	assert.JSONEq(t, `{"body":"hi"}`, string(msg.Payload))
}

func TestDecodeTextMessageWithRefs(t *testing.T) {
	s := NewJSONSerializerV2()

	msg, err := s.DecodeText([]byte(`["3","4","room:lobby","custom",{"a":1}]`))
	require.NoError(t, err)

	require.NotNil(t, msg.JoinRef)
	assert.Equal(t, "3", *msg.JoinRef)
	require.NotNil(t, msg.Ref)
	assert.Equal(t, "4", *msg.Ref)
}

func TestDecodeTextWrongArity(t *testing.T) {
	s := NewJSONSerializerV2()

	_, err := s.DecodeText([]byte(`["1","2","topic"]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataFromStringFailed)
}

func TestEncodeDecodeTextRoundTrip(t *testing.T) {
	s := NewJSONSerializerV2()
	msg := NewMessage(strPtr("1"), strPtr("2"), "room:lobby", "shout", []byte(`{"body":"hi"}`))

	data, err := s.EncodeText(msg)
	require.NoError(t, err)

	decoded, err := s.DecodeText(data)
	require.NoError(t, err)

	assert.Equal(t, msg.Topic, decoded.Topic)
	assert.Equal(t, msg.Event, decoded.Event)
	assert.Equal(t, *msg.JoinRef, *decoded.JoinRef)
	assert.Equal(t, *msg.Ref, *decoded.Ref)
	assert.JSONEq(t, string(msg.Payload), string(decoded.Payload))
}

func TestDecodeBinaryPush(t *testing.T) {
	s := NewJSONSerializerV2()

	data := []byte{
		0x00, 0x02, 0x05, 0x05,
		'1', '2',
		'r', 'o', 'o', 'm', ':',
		'h', 'e', 'l', 'l', 'o',
		0xAB, 0xCD,
	}

	msg, err := s.DecodeBinary(data)
	require.NoError(t, err)

	require.NotNil(t, msg.JoinRef)
	assert.Equal(t, "12", *msg.JoinRef)
	assert.Nil(t, msg.Ref)
	assert.Equal(t, "room:", msg.Topic)
	assert.Equal(t, "hello", msg.Event)
	assert.Equal(t, []byte{0xAB, 0xCD}, msg.Payload)
}

func TestEncodeDecodeBinaryPushRoundTrip(t *testing.T) {
	s := NewJSONSerializerV2()
	msg := NewMessage(strPtr("1"), strPtr("2"), "room:lobby", "shout", []byte{0x01, 0x02, 0x03})

	data, err := s.EncodeBinary(msg)
	require.NoError(t, err)

	decoded, err := s.DecodeBinary(data)
	require.NoError(t, err)

	require.NotNil(t, decoded.JoinRef)
	assert.Equal(t, "1", *decoded.JoinRef)
	assert.Equal(t, "room:lobby", decoded.Topic)
	assert.Equal(t, "shout", decoded.Event)
	assert.Equal(t, msg.Payload, decoded.Payload)
}

func TestDecodeBinaryReply(t *testing.T) {
	s := NewJSONSerializerV2()

	data := []byte{
		0x01, 0x01, 0x01, 0x05, 0x02,
		'1',
		'2',
		'r', 'o', 'o', 'm', ':',
		'o', 'k',
		'{', '}',
	}

	msg, err := s.DecodeBinary(data)
	require.NoError(t, err)
	require.NotNil(t, msg.Status)
	assert.Equal(t, "ok", *msg.Status)
	assert.True(t, msg.IsReply())
}

func TestDecodeBinaryBroadcast(t *testing.T) {
	s := NewJSONSerializerV2()

	data := []byte{
		0x02, 0x05, 0x05,
		'r', 'o', 'o', 'm', ':',
		'h', 'e', 'l', 'l', 'o',
	}

	msg, err := s.DecodeBinary(data)
	require.NoError(t, err)
	assert.Nil(t, msg.JoinRef)
	assert.Nil(t, msg.Ref)
	assert.Equal(t, "room:", msg.Topic)
	assert.Equal(t, "hello", msg.Event)
}

func TestDecodeBinaryUnknownKind(t *testing.T) {
	s := NewJSONSerializerV2()

	_, err := s.DecodeBinary([]byte{0x09})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidBinaryKind)
}

func TestEncodeBinaryFieldTooLong(t *testing.T) {
	s := NewJSONSerializerV2()
	longTopic := make([]byte, 256)
	for i := range longTopic {
		longTopic[i] = 'x'
	}

	msg := NewMessage(strPtr("1"), strPtr("2"), string(longTopic), "shout", []byte("{}"))
	_, err := s.EncodeBinary(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinaryFieldTooLong)
}
