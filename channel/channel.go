// Package channel holds outbound RPC handles to backend instances, grouped
// per logical service and selected round-robin.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"chat-fabric/codec"
	"chat-fabric/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultDialTimeout = 30 * time.Second

var (
	ErrNodeNotFound       = errors.New("channel: node not found")
	ErrServiceNotDeclared = fmt.Errorf("%w: service not declared", ErrNodeNotFound)
	ErrPoolEmpty          = fmt.Errorf("%w: pool empty", ErrNodeNotFound)
	ErrPoolClosed         = errors.New("channel: pool closed")
	ErrRemote             = errors.New("channel: remote error")
)

// Conn is an RPC handle to one backend instance.
type Conn interface {
	Addr() string
	// Call invokes serviceMethod and decodes the result into reply. ctx is
	// the caller's own deadline; handles impose none.
	Call(ctx context.Context, serviceMethod string, args, reply any) error
	Close() error
}

// Dialer opens a Conn to addr.
type Dialer func(addr string) (Conn, error)

// Channel is a Conn over a multiplexed transport: concurrent calls share one
// TCP connection.
type Channel struct {
	addr string
	t    *transport.ClientTransport
}

var _ Conn = (*Channel)(nil)

// TCPDialer returns a Dialer using the fixed connection timeout and the
// transport's default heartbeat.
func TCPDialer(ct codec.CodecType, logger *zap.Logger) Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(addr string) (Conn, error) {
		conn, err := net.DialTimeout("tcp", addr, DefaultDialTimeout)
		if err != nil {
			return nil, err
		}
		return &Channel{
			addr: addr,
			t:    transport.NewClientTransport(conn, ct, transport.DefaultHeartbeat, logger.Named("transport")),
		}, nil
	}
}

func (c *Channel) Addr() string { return c.addr }

func (c *Channel) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	seq, ch, err := c.t.Send(serviceMethod, uuid.NewString(), args)
	if err != nil {
		return err
	}
	select {
	case msg := <-ch:
		if msg.Failed() {
			return fmt.Errorf("%w: %s", ErrRemote, msg.Error)
		}
		if reply == nil || len(msg.Payload) == 0 {
			return nil
		}
		return json.Unmarshal(msg.Payload, reply)
	case <-ctx.Done():
		c.t.Forget(seq)
		return ctx.Err()
	}
}

// Done is closed once the underlying connection is gone.
func (c *Channel) Done() <-chan struct{} {
	return c.t.Done()
}

func (c *Channel) Close() error {
	return c.t.Close()
}
