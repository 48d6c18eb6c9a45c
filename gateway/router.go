package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"chat-fabric/api"
	"chat-fabric/channel"
	"chat-fabric/telemetry"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

const maxBodySize = 32 << 20

// Client-visible error strings. Nothing else ever reaches a client.
const (
	ErrMsgMalformed          = "malformed request"
	ErrMsgSessionNotFound    = "session not found"
	ErrMsgServiceUnavailable = "service unavailable"
	ErrMsgCallFailed         = "call failed"
)

var ErrBackendCallFailed = errors.New("gateway: backend call failed")

// Channels hands out an RPC handle for a logical service.
type Channels interface {
	Get(service string) (channel.Conn, error)
}

// Sessions resolves a login session token to a user id.
type Sessions interface {
	UserID(ctx context.Context, sessionID string) (string, error)
}

// Router serves the HTTP surface: one POST path per backend operation.
type Router struct {
	mux      *http.ServeMux
	sessions Sessions
	channels Channels
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewRouter(routes []Route, sessions Sessions, channels Channels, logger *zap.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		mux:      http.NewServeMux(),
		sessions: sessions,
		channels: channels,
		logger:   logger.Named("router"),
		metrics:  telemetry.OrNop(m),
	}
	for _, route := range routes {
		r.mux.Handle("POST "+route.Path, r.handler(route))
	}
	return r
}

// Handle mounts an extra handler, such as /metrics.
func (r *Router) Handle(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handler(route Route) http.HandlerFunc {
	label := []metrics.Label{telemetry.LabelRoute.M(route.Path)}
	return func(w http.ResponseWriter, req *http.Request) {
		r.metrics.IncrCounterWithLabels(telemetry.KeyGatewayRequest, 1, label)
		rsp, requestID, err := r.dispatch(w, req, route)
		if err != nil {
			r.writeError(w, requestID, err)
			return
		}
		writeJSON(w, rsp)
	}
}

// dispatchError carries the client-visible message next to the cause.
type dispatchError struct {
	msg   string
	cause error
}

func (e *dispatchError) Error() string { return e.msg + ": " + e.cause.Error() }
func (e *dispatchError) Unwrap() error { return e.cause }

func fail(msg string, cause error) error {
	return &dispatchError{msg: msg, cause: cause}
}

// dispatch runs one request through session lookup, channel selection, the
// backend call and the route's fan-out. Nothing is retried.
func (r *Router) dispatch(w http.ResponseWriter, req *http.Request, route Route) (api.Message, string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodySize))
	if err != nil {
		return nil, "", fail(ErrMsgMalformed, err)
	}
	msg, err := api.Decode(body)
	if err != nil {
		return nil, "", fail(ErrMsgMalformed, err)
	}
	requestID := msg.String(api.FieldRequestID)

	// The backend never sees a caller id sent by the client.
	msg.Delete(api.FieldUserID)

	// A client hanging up does not abort the backend call.
	ctx := context.WithoutCancel(req.Context())

	var userID string
	if !route.Public {
		userID, err = r.sessions.UserID(ctx, msg.String(api.FieldSessionID))
		if err != nil {
			return nil, requestID, fail(ErrMsgSessionNotFound, err)
		}
		msg.SetString(api.FieldUserID, userID)
	}

	conn, err := r.channels.Get(route.Service)
	if err != nil {
		return nil, requestID, fail(ErrMsgServiceUnavailable, err)
	}

	rsp := api.Message{}
	if err := conn.Call(ctx, route.Method, msg, &rsp); err != nil {
		r.metrics.IncrCounterWithLabels(telemetry.KeyGatewayBackendErr, 1, []metrics.Label{telemetry.LabelRoute.M(route.Path)})
		return nil, requestID, fail(ErrMsgCallFailed, fmt.Errorf("%w: %s: %v", ErrBackendCallFailed, route.Method, err))
	}
	if !rsp.Success() {
		r.metrics.IncrCounterWithLabels(telemetry.KeyGatewayBackendErr, 1, []metrics.Label{telemetry.LabelRoute.M(route.Path)})
		return nil, requestID, fail(ErrMsgCallFailed, fmt.Errorf("%w: %s: %s", ErrBackendCallFailed, route.Method, rsp.String(api.FieldErrMsg)))
	}

	if route.After != nil {
		route.After(&Exchange{Ctx: ctx, UserID: userID, RequestID: requestID, Req: msg, Rsp: rsp})
	}
	rsp.Delete(route.Strip...)
	return rsp, requestID, nil
}

func (r *Router) writeError(w http.ResponseWriter, requestID string, err error) {
	msg := ErrMsgCallFailed
	var de *dispatchError
	if errors.As(err, &de) {
		msg = de.msg
	}
	r.logger.Warn("request failed", zap.String("request_id", requestID), zap.Error(err))
	writeJSON(w, &api.ErrorResponse{RequestID: requestID, Success: false, ErrMsg: msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
