package gateway

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultSendQueue = 64
	pingInterval     = 30 * time.Second
	pongWait         = 2 * pingInterval
	writeWait        = 10 * time.Second
)

var (
	ErrQueueFull  = errors.New("gateway: send queue full")
	ErrConnClosed = errors.New("gateway: connection closed")
)

type ConnState int32

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Conn is one duplex client connection. Only its write loop writes data
// frames to the socket; everyone else hands frames over through Push.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	state  atomic.Int32
	logger *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ Handle = (*Conn)(nil)

func newConn(ws *websocket.Conn, queue int, logger *zap.Logger) *Conn {
	if queue <= 0 {
		queue = DefaultSendQueue
	}
	id := uuid.NewString()
	c := &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, queue),
		logger: logger.With(zap.String("conn", id)),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) authenticate() bool {
	return c.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateAuthenticated))
}

// Push queues frame for delivery without blocking.
func (c *Conn) Push(frame []byte) error {
	if c.State() == StateClosed {
		return ErrConnClosed
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				c.logger.Debug("write frame", zap.Error(err))
				c.shutdown()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// reject closes the connection with a protocol close code.
func (c *Conn) reject(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("write close", zap.Error(err))
	}
	c.shutdown()
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.ws.Close()
	})
}

// Done is closed once the connection is torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }
