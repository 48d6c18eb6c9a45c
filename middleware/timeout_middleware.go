package middleware

import (
	"context"
	"time"

	"chat-fabric/message"
)

const ErrTimedOut = "request timed out"

// TimeOutMiddleware answers with ErrTimedOut once timeout elapses, or sooner
// when the incoming context already carries an earlier deadline. The handler
// keeps running in its goroutine; its late result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() { done <- next(ctx, req) }()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return failure(req, ErrTimedOut)
			}
		}
	}
}
