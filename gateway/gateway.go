// Package gateway terminates client traffic: JSON over HTTP for requests and
// websocket connections for server-pushed notifications.
//
// Every HTTP request is resolved to a user through its login session, sent to
// one instance of the owning backend service and relayed back. Some requests
// also notify other users over their live websocket connection.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"chat-fabric/api"
	"chat-fabric/session"
	"chat-fabric/telemetry"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

const (
	maxFrameSize     = 64 << 10
	sessionOpTimeout = 5 * time.Second
)

type Options struct {
	HTTPAddr  string
	WSAddr    string
	SendQueue int
}

type Gateway struct {
	opts     Options
	conns    *Registry
	router   *Router
	notifier *Notifier
	sessions session.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	servers []*http.Server
	live    map[*Conn]struct{}
}

func New(opts Options, services Services, channels Channels, sessions session.Store, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	m = telemetry.OrNop(m)
	conns := NewRegistry()
	notifier := NewNotifier(conns, channels, services.User, logger, m)
	return &Gateway{
		opts:     opts,
		conns:    conns,
		router:   NewRouter(Routes(services, notifier), sessions, channels, logger, m),
		notifier: notifier,
		sessions: sessions,
		logger:   logger.Named("gateway"),
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		live: make(map[*Conn]struct{}),
	}
}

func (g *Gateway) Router() *Router { return g.router }

func (g *Gateway) Registry() *Registry { return g.conns }

func (g *Gateway) Notifier() *Notifier { return g.notifier }

// ServeWS upgrades the request and runs the connection until it closes.
// The first frame must authenticate; later client frames are ignored.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("upgrade", zap.Error(err))
		return
	}
	c := newConn(ws, g.opts.SendQueue, g.logger)
	c.logger.Debug("connection opened", zap.String("remote", r.RemoteAddr))
	g.mu.Lock()
	g.live[c] = struct{}{}
	g.mu.Unlock()
	defer g.release(c)

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		if c.State() != StateUnauthenticated {
			continue
		}
		if !g.authenticate(r.Context(), c, data) {
			return
		}
	}
}

func (g *Gateway) authenticate(ctx context.Context, c *Conn, data []byte) bool {
	var auth api.ClientAuthentication
	if err := json.Unmarshal(data, &auth); err != nil || auth.SessionID == "" {
		c.logger.Info("malformed authentication frame")
		c.reject(websocket.CloseInvalidFramePayloadData, "malformed authentication")
		return false
	}
	uid, err := g.sessions.UserID(ctx, auth.SessionID)
	if err != nil {
		c.logger.Info("authentication rejected", zap.String("request_id", auth.RequestID), zap.Error(err))
		c.reject(websocket.CloseUnsupportedData, "session not found")
		return false
	}
	if !c.authenticate() {
		return false
	}
	g.conns.Bind(c, uid, auth.SessionID)
	g.metrics.SetGauge(telemetry.KeyConnections, float32(g.conns.Len()))
	c.logger.Info("connection authenticated", zap.String("user", uid))
	return true
}

// release runs once per connection after its read loop ends.
func (g *Gateway) release(c *Conn) {
	c.shutdown()
	g.mu.Lock()
	delete(g.live, c)
	g.mu.Unlock()
	b, err := g.conns.Unbind(c)
	if err != nil {
		c.logger.Debug("connection closed before authentication")
		return
	}
	g.metrics.SetGauge(telemetry.KeyConnections, float32(g.conns.Len()))
	c.logger.Info("connection closed", zap.String("user", b.UserID))
	if !b.Active {
		// A newer connection of the same user owns the session now.
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()
	if err := g.sessions.Remove(ctx, b.SessionID); err != nil {
		c.logger.Error("remove login session", zap.Error(err))
	}
	if err := g.sessions.SetOffline(ctx, b.UserID); err != nil {
		c.logger.Error("clear user status", zap.Error(err))
	}
}

// ListenAndServe runs the HTTP and websocket listeners until one fails or
// Shutdown is called.
func (g *Gateway) ListenAndServe() error {
	ws := http.NewServeMux()
	ws.HandleFunc("/", g.ServeWS)

	servers := []*http.Server{
		{Addr: g.opts.HTTPAddr, Handler: g.router},
		{Addr: g.opts.WSAddr, Handler: ws},
	}
	g.mu.Lock()
	g.servers = servers
	g.mu.Unlock()

	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			g.logger.Info("listening", zap.String("addr", srv.Addr))
			errc <- srv.ListenAndServe()
		}(srv)
	}
	for range servers {
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.Shutdown(context.Background())
			return err
		}
	}
	return nil
}

// Shutdown stops both listeners and closes every websocket connection.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	servers := g.servers
	live := make([]*Conn, 0, len(g.live))
	for c := range g.live {
		live = append(live, c)
	}
	g.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range live {
		c.reject(websocket.CloseGoingAway, "server shutting down")
	}
	return errors.Join(errs...)
}
