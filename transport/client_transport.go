// Package transport multiplexes concurrent RPC calls over one TCP connection.
//
// Every request gets a sequence id. A single reader goroutine (recvLoop) routes
// each response frame to the pending channel registered under its id:
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ one TCP conn ──→ backend
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop: ←── response(seq=2) → pending[2] → goroutine-2
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"chat-fabric/codec"
	"chat-fabric/message"
	"chat-fabric/protocol"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("transport: connection closed")

// DefaultHeartbeat is the interval between keep-alive frames.
const DefaultHeartbeat = 30 * time.Second

type ClientTransport struct {
	conn   net.Conn
	codec  codec.CodecType
	logger *zap.Logger

	// sending serializes writes and guards seq, closed and closeErr.
	sending  sync.Mutex
	seq      uint32
	closed   bool
	closeErr error
	pending  sync.Map // uint32 -> chan *message.RPCMessage

	done chan struct{}
}

// NewClientTransport takes ownership of conn and starts the receive and
// heartbeat goroutines. A heartbeat <= 0 disables heartbeats.
func NewClientTransport(conn net.Conn, ct codec.CodecType, heartbeat time.Duration, logger *zap.Logger) *ClientTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ClientTransport{
		conn:   conn,
		codec:  ct,
		logger: logger,
		done:   make(chan struct{}),
	}
	go t.recvLoop()
	if heartbeat > 0 {
		go t.heartbeatLoop(heartbeat)
	}
	return t
}

// Send encodes args and writes one request frame. The returned channel
// receives exactly one message: the response, or an envelope whose Error is
// set when the connection broke first.
func (t *ClientTransport) Send(serviceMethod, requestID string, args any) (uint32, <-chan *message.RPCMessage, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return 0, nil, err
	}

	t.sending.Lock()
	defer t.sending.Unlock()
	if t.closed {
		return 0, nil, ErrClosed
	}

	t.seq++
	seq := t.seq

	body, err := codec.GetCodec(t.codec).Encode(&message.RPCMessage{
		ServiceMethod: serviceMethod,
		RequestID:     requestID,
		Payload:       payload,
	})
	if err != nil {
		return 0, nil, err
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Registered before the write so recvLoop can never see an unknown seq.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}
	return seq, respChan, nil
}

// Forget drops the pending slot for seq, used when the caller gave up waiting.
func (t *ClientTransport) Forget(seq uint32) {
	t.pending.Delete(seq)
}

func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		resp := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, resp); err != nil {
			resp = &message.RPCMessage{Error: err.Error()}
		}
		if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
			ch.(chan *message.RPCMessage) <- resp
		}
	}
}

// shutdown marks the transport dead and fails every pending caller.
func (t *ClientTransport) shutdown(cause error) {
	t.sending.Lock()
	if t.closed {
		t.sending.Unlock()
		return
	}
	t.closed = true
	t.closeErr = cause
	close(t.done)
	t.sending.Unlock()

	t.conn.Close()
	t.logger.Debug("transport closed", zap.String("addr", t.RemoteAddr()), zap.Error(cause))

	t.pending.Range(func(key, _ any) bool {
		if ch, ok := t.pending.LoadAndDelete(key); ok {
			ch.(chan *message.RPCMessage) <- &message.RPCMessage{Error: ErrClosed.Error() + ": " + cause.Error()}
		}
		return true
	})
}

// Close tears the connection down. It is safe to call more than once.
func (t *ClientTransport) Close() error {
	t.shutdown(ErrClosed)
	return nil
}

// Done is closed once the transport can no longer carry calls.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

func (t *ClientTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		t.sending.Lock()
		if t.closed {
			t.sending.Unlock()
			return
		}
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.shutdown(err)
			return
		}
	}
}
