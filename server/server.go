// Package server implements the backend RPC server: reflection dispatch,
// middleware chain, a bounded worker pool, registration with the coordination
// service and graceful shutdown.
//
// Request pipeline:
//
//	Accept conn → handleConn (single reader per conn)
//	  → acquire worker → go handleRequest
//	    → Codec.Decode → Middleware Chain → businessHandler (reflect.Call) → Codec.Encode → write response
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chat-fabric/codec"
	"chat-fabric/message"
	"chat-fabric/middleware"
	"chat-fabric/protocol"
	"chat-fabric/registry"

	"go.uber.org/zap"
)

var (
	ErrServerClosed  = errors.New("server: closed")
	ErrNotAnnounced  = errors.New("server: no registrar attached")
	ErrUnknownTarget = errors.New("server: unknown service or method")
)

type Server struct {
	serviceMap  map[string]*service
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	workers     chan struct{}
	logger      *zap.Logger

	mu        sync.Mutex
	listener  net.Listener
	conns     map[net.Conn]struct{}
	registrar *registry.Registrar

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool
}

type Option func(*Server)

// WithWorkers bounds how many requests are processed concurrently across all
// connections. n <= 0 keeps the default of 4 * GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.workers = make(chan struct{}, n)
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap: make(map[string]*service),
		conns:      make(map[net.Conn]struct{}),
		workers:    make(chan struct{}, 4*runtime.GOMAXPROCS(0)),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register exposes the exported methods of rcvr that have the shape
// Method(args *A, reply *R) error under the receiver's type name.
func (svr *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	if len(svc.method) == 0 {
		return fmt.Errorf("server: %s has no RPC methods", svc.name)
	}
	svr.serviceMap[svc.name] = svc
	svr.logger.Debug("service registered", zap.String("service", svc.name), zap.Int("methods", len(svc.method)))
	return nil
}

// Use appends a middleware. Middlewares run in the order they are added.
// Panics in service methods are always recovered into an error reply.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Listen binds the listening socket so the caller can learn the bound address
// before announcing it.
func (svr *Server) Listen(network, address string) (net.Listener, error) {
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	svr.mu.Lock()
	svr.listener = l
	svr.mu.Unlock()
	return l, nil
}

// Announce publishes this instance under key with the routable advertiseAddr.
// The registration is owned by the server from now on and is revoked first
// during Shutdown.
func (svr *Server) Announce(ctx context.Context, reg *registry.Registrar, key, advertiseAddr string) error {
	if reg == nil {
		return ErrNotAnnounced
	}
	if err := reg.Register(ctx, key, advertiseAddr); err != nil {
		return err
	}
	svr.mu.Lock()
	svr.registrar = reg
	svr.mu.Unlock()
	svr.logger.Info("instance announced", zap.String("key", key), zap.String("addr", advertiseAddr))
	return nil
}

// Serve runs the accept loop on the listener bound by Listen.
func (svr *Server) Serve() error {
	svr.mu.Lock()
	listener := svr.listener
	svr.mu.Unlock()
	if listener == nil {
		return fmt.Errorf("server: Serve called before Listen")
	}

	// Recovery wraps the service call itself; Timeout runs its next handler
	// on another goroutine, out of reach of an outer recover.
	business := middleware.RecoverMiddleware(svr.logger)(svr.businessHandler)
	svr.handler = middleware.Chain(svr.middlewares...)(business)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		if !svr.track(conn) {
			conn.Close()
			return nil
		}
		go svr.handleConn(conn)
	}
}

// ListenAndServe is Listen followed by Serve.
func (svr *Server) ListenAndServe(network, address string) error {
	if _, err := svr.Listen(network, address); err != nil {
		return err
	}
	return svr.Serve()
}

func (svr *Server) track(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	return true
}

func (svr *Server) untrack(conn net.Conn) {
	svr.mu.Lock()
	delete(svr.conns, conn)
	svr.mu.Unlock()
}

// handleConn reads frames sequentially and hands each request to a worker.
// writeMu is shared by every response written on this connection.
func (svr *Server) handleConn(conn net.Conn) {
	defer func() {
		svr.untrack(conn)
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeRequest {
			svr.logger.Warn("unexpected frame type", zap.Uint8("type", uint8(header.MsgType)))
			continue
		}

		svr.workers <- struct{}{}
		if !svr.begin() {
			<-svr.workers
			return
		}
		go func() {
			defer func() {
				<-svr.workers
				svr.wg.Done()
			}()
			svr.handleRequest(header, body, conn, writeMu)
		}()
	}
}

// begin counts a request as in flight unless Shutdown has started. The check
// and the Add share mu with Shutdown, so no Add races its Wait.
func (svr *Server) begin() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	c := codec.GetCodec(codec.CodecType(header.CodecType))
	req := &message.RPCMessage{}
	var resp *message.RPCMessage
	if err := c.Decode(body, req); err != nil {
		resp = &message.RPCMessage{Error: err.Error()}
	} else {
		resp = svr.handler(context.Background(), req)
	}
	resp.RequestID = req.RequestID

	result, err := c.Encode(resp)
	if err != nil {
		svr.logger.Error("encode response", zap.String("method", req.ServiceMethod), zap.Error(err))
		return
	}
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
		BodyLen:   uint32(len(result)),
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.logger.Debug("write response", zap.String("method", req.ServiceMethod), zap.Error(err))
	}
}

// Shutdown stops the server gracefully:
//  1. revoke the registration so discovery stops routing here
//  2. stop accepting connections
//  3. wait for in-flight requests, bounded by timeout
//  4. close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	if svr.shutdown.Swap(true) {
		svr.mu.Unlock()
		return ErrServerClosed
	}
	reg := svr.registrar
	listener := svr.listener
	svr.mu.Unlock()

	if reg != nil {
		reg.Close()
	}
	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("server: timeout waiting for in-flight requests")
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}

// businessHandler resolves "Service.Method" and invokes it through reflection.
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, methodName, ok := strings.Cut(req.ServiceMethod, ".")
	if !ok {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "invalid service method format"}
	}

	svc, ok := svr.serviceMap[serviceName]
	if !ok {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: ErrUnknownTarget.Error()}
	}
	method, ok := svc.method[methodName]
	if !ok {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: ErrUnknownTarget.Error()}
	}

	argv, replyv := method.newArgs()
	if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: err.Error()}
	}

	methodErr := svc.Call(method, argv, replyv)

	payload, err := json.Marshal(replyv.Interface())
	if err != nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: err.Error()}
	}
	resp := &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       payload,
	}
	if methodErr != nil {
		resp.Error = methodErr.Error()
	}
	return resp
}
