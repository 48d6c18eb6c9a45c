package codec

import (
	"encoding/json"
	"fmt"

	"chat-fabric/message"
)

// JSONCodec is the default codec. The payload is already JSON, so the
// envelope stays readable when frames are captured for debugging.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, ErrNotEnvelope
	}
	return json.Marshal(msg)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return ErrNotEnvelope
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("codec: json envelope: %w", err)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
