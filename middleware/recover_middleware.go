package middleware

import (
	"context"
	"fmt"

	"chat-fabric/message"

	"go.uber.org/zap"
)

// RecoverMiddleware turns a handler panic into an error response so one bad
// request does not take the backend process down.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (resp *message.RPCMessage) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic", zap.String("method", req.ServiceMethod), zap.Any("panic", r))
					resp = failure(req, fmt.Sprintf("internal error: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}
