package middleware

import (
	"context"
	"strings"
	"sync"

	"chat-fabric/message"

	"golang.org/x/time/rate"
)

const ErrRateLimited = "rate limit exceeded"

// RateLimitMiddleware keeps one token bucket per service ("User" of
// "User.GetUserInfo"), so services hosted by the same process are limited
// independently.
func RateLimitMiddleware(r float64, burst int) Middleware {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)
	limiter := func(serviceMethod string) *rate.Limiter {
		name, _, _ := strings.Cut(serviceMethod, ".")
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[name]
		if !ok {
			l = rate.NewLimiter(rate.Limit(r), burst)
			limiters[name] = l
		}
		return l
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter(req.ServiceMethod).Allow() {
				return failure(req, ErrRateLimited)
			}
			return next(ctx, req)
		}
	}
}
