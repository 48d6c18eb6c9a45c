// Package middleware wraps the backend RPC handler with cross-cutting
// behavior. Chain(A, B, C)(h) runs A.before, B.before, C.before, h, then the
// afters in reverse.
package middleware

import (
	"context"
	"time"

	"chat-fabric/message"

	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Options configures the chain installed by backend processes. A zero
// Timeout or Rate leaves that middleware out.
type Options struct {
	Timeout time.Duration
	Rate    float64
	Burst   int
}

// Standard returns logging, then rate limiting, then the handler timeout, so
// rejected and timed-out calls are logged too.
func Standard(logger *zap.Logger, o Options) []Middleware {
	chain := []Middleware{LoggingMiddleware(logger)}
	if o.Rate > 0 {
		burst := o.Burst
		if burst <= 0 {
			burst = 1
		}
		chain = append(chain, RateLimitMiddleware(o.Rate, burst))
	}
	if o.Timeout > 0 {
		chain = append(chain, TimeOutMiddleware(o.Timeout))
	}
	return chain
}

// failure builds the error reply for req.
func failure(req *message.RPCMessage, msg string) *message.RPCMessage {
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod, RequestID: req.RequestID, Error: msg}
}
