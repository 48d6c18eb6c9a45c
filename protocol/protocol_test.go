package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	body := []byte(`{"session_id":"abc"}`)
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
		BodyLen:   uint32(len(body)),
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	require.Equal(t, HeaderSize+len(body), buf.Len())

	decoded, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, header, *decoded)
	require.Equal(t, body, decodedBody)
}

func TestDecodeSequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	for seq := uint32(1); seq <= 3; seq++ {
		body := []byte{byte(seq)}
		require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeResponse, Seq: seq, BodyLen: 1}, body))
	}

	for seq := uint32(1); seq <= 3; seq++ {
		h, body, err := Decode(&buf)
		require.NoError(t, err)
		require.Equal(t, seq, h.Seq)
		require.Equal(t, []byte{byte(seq)}, body)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	frame := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, byte(MsgTypeRequest), 0, 0, 0x30, 0x39, 0, 0, 0, 0}
	_, _, err := Decode(bytes.NewReader(frame))
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestDecodeInvalidVersion(t *testing.T) {
	frame := []byte{MagicNumber, MagicByte2, MagicByte3, 0xFF, CodecTypeJSON, byte(MsgTypeRequest), 0, 0, 0, 1, 0, 0, 0, 0}
	_, _, err := Decode(bytes.NewReader(frame))
	require.ErrorIs(t, err, ErrVersion)
}

func TestDecodeInvalidMsgType(t *testing.T) {
	frame := []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, 0x09, 0, 0, 0, 1, 0, 0, 0, 0}
	_, _, err := Decode(bytes.NewReader(frame))
	require.ErrorIs(t, err, ErrMsgType)
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil))

	h, body, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, MsgTypeHeartbeat, h.MsgType)
	require.Empty(t, body)
}

func TestDecodeOversizedBody(t *testing.T) {
	frame := []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeBinary, byte(MsgTypeRequest), 0, 0, 0, 1, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(frame[10:14], MaxBodyLen+1)
	_, _, err := Decode(bytes.NewReader(frame))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &Header{BodyLen: 4}, []byte("ab"))
	require.ErrorIs(t, err, ErrBodyLenMismatch)
	require.Zero(t, buf.Len())
}

func TestDecodeLargeBody(t *testing.T) {
	large := make([]byte, 1024*1024)
	for i := range large {
		large[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{CodecType: CodecTypeBinary, Seq: 999, BodyLen: uint32(len(large))}, large))

	_, body, err := Decode(&buf)
	require.NoError(t, err)
	require.True(t, bytes.Equal(large, body))
}
