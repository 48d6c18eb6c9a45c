package middleware

import (
	"context"
	"time"

	"chat-fabric/message"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.ServiceMethod),
				zap.String("request_id", req.RequestID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Failed() {
				logger.Warn("rpc failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				logger.Debug("rpc served", fields...)
			}
			return resp
		}
	}
}
