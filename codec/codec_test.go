package codec

import (
	"testing"

	"chat-fabric/message"

	"github.com/stretchr/testify/require"
)

func sampleEnvelope() *message.RPCMessage {
	return &message.RPCMessage{
		ServiceMethod: "Friend.FriendAddSend",
		RequestID:     "8d7a",
		Payload:       []byte(`{"respondent_id":"u2"}`),
		Error:         "",
	}
}

func TestCodecs(t *testing.T) {
	for _, c := range []Codec{&JSONCodec{}, &BinaryCodec{}} {
		t.Run(c.Type().String(), func(t *testing.T) {
			original := sampleEnvelope()
			data, err := c.Encode(original)
			require.NoError(t, err)

			var decoded message.RPCMessage
			require.NoError(t, c.Decode(data, &decoded))
			require.Equal(t, original.ServiceMethod, decoded.ServiceMethod)
			require.Equal(t, original.RequestID, decoded.RequestID)
			require.Equal(t, string(original.Payload), string(decoded.Payload))
			require.Empty(t, decoded.Error)
		})
	}
}

func TestBinaryCodecCarriesError(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(&message.RPCMessage{ServiceMethod: "User.GetUserInfo", Error: "call failed"})
	require.NoError(t, err)

	var decoded message.RPCMessage
	require.NoError(t, c.Decode(data, &decoded))
	require.Equal(t, "call failed", decoded.Error)
	require.Nil(t, decoded.Payload)
}

func TestBinaryCodecTruncated(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(sampleEnvelope())
	require.NoError(t, err)

	var decoded message.RPCMessage
	require.ErrorIs(t, c.Decode(data[:len(data)-3], &decoded), ErrShortBuffer)
	require.ErrorIs(t, c.Decode([]byte{0x00}, &decoded), ErrShortBuffer)
}

func TestCodecsRejectForeignValue(t *testing.T) {
	for _, c := range []Codec{&JSONCodec{}, &BinaryCodec{}} {
		_, err := c.Encode("not an envelope")
		require.ErrorIs(t, err, ErrNotEnvelope, c.Type().String())
		var m map[string]any
		require.ErrorIs(t, c.Decode([]byte(`{}`), &m), ErrNotEnvelope, c.Type().String())
	}
}

func TestJSONCodecMalformed(t *testing.T) {
	var decoded message.RPCMessage
	err := (&JSONCodec{}).Decode([]byte(`{"ServiceMethod":`), &decoded)
	require.Error(t, err)
	require.Contains(t, err.Error(), "codec: json envelope")
}

func TestParseCodecType(t *testing.T) {
	ct, err := ParseCodecType("binary")
	require.NoError(t, err)
	require.Equal(t, CodecTypeBinary, ct)

	ct, err = ParseCodecType("")
	require.NoError(t, err)
	require.Equal(t, CodecTypeJSON, ct)

	_, err = ParseCodecType("xml")
	require.Error(t, err)
}
