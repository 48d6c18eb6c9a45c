package codec

import (
	"encoding/binary"

	"chat-fabric/message"
)

// BinaryCodec lays the envelope out as length-prefixed fields:
//
//	u16 len | ServiceMethod | u16 len | RequestID | u32 len | Payload | u16 len | Error
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, ErrNotEnvelope
	}

	total := 2 + len(msg.ServiceMethod) + 2 + len(msg.RequestID) + 4 + len(msg.Payload) + 2 + len(msg.Error)
	buf := make([]byte, 0, total)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.ServiceMethod)))
	buf = append(buf, msg.ServiceMethod...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.RequestID)))
	buf = append(buf, msg.RequestID...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.Error)))
	buf = append(buf, msg.Error...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return ErrNotEnvelope
	}

	r := reader{data: data}
	msg.ServiceMethod = string(r.field(2))
	msg.RequestID = string(r.field(2))
	if payload := r.field(4); payload != nil {
		msg.Payload = append([]byte(nil), payload...)
	} else {
		msg.Payload = nil
	}
	msg.Error = string(r.field(2))
	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks length-prefixed fields and remembers the first truncation.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) field(prefix int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data)-r.off < prefix {
		r.err = ErrShortBuffer
		return nil
	}
	var n int
	if prefix == 2 {
		n = int(binary.BigEndian.Uint16(r.data[r.off:]))
	} else {
		n = int(binary.BigEndian.Uint32(r.data[r.off:]))
	}
	r.off += prefix
	if len(r.data)-r.off < n {
		r.err = ErrShortBuffer
		return nil
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	if n == 0 {
		return nil
	}
	return out
}
