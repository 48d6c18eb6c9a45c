// Package codec encodes the RPC envelope carried inside protocol frames.
package codec

import (
	"errors"
	"fmt"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

var (
	ErrNotEnvelope = errors.New("codec: value must be *message.RPCMessage")
	ErrShortBuffer = errors.New("codec: truncated envelope")
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// GetCodec returns the codec for t. Unknown types fall back to the binary codec.
func GetCodec(t CodecType) Codec {
	if t == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}

// ParseCodecType maps a configuration string to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}
