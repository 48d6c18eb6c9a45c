package middleware

import (
	"context"
	"testing"
	"time"

	"chat-fabric/message"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Payload: []byte("ok")}
}

func slowHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	time.Sleep(200 * time.Millisecond)
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Payload: []byte("ok")}
}

func panicHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	panic("boom")
}

var testReq = &message.RPCMessage{ServiceMethod: "User.GetUserInfo", RequestID: "r1"}

func TestLogging(t *testing.T) {
	resp := LoggingMiddleware(zap.NewNop())(echoHandler)(context.Background(), testReq)
	require.NotNil(t, resp)
	require.Equal(t, "ok", string(resp.Payload))
}

func TestTimeoutPass(t *testing.T) {
	resp := TimeOutMiddleware(500*time.Millisecond)(echoHandler)(context.Background(), testReq)
	require.Empty(t, resp.Error)
}

func TestTimeoutExceeded(t *testing.T) {
	resp := TimeOutMiddleware(50*time.Millisecond)(slowHandler)(context.Background(), testReq)
	require.Equal(t, ErrTimedOut, resp.Error)
	require.Equal(t, testReq.ServiceMethod, resp.ServiceMethod)
	require.Equal(t, testReq.RequestID, resp.RequestID)
}

func TestTimeoutHonoursEarlierDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	resp := TimeOutMiddleware(time.Minute)(slowHandler)(ctx, testReq)
	require.Equal(t, ErrTimedOut, resp.Error)
	require.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestRateLimit(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), testReq)
		require.Empty(t, resp.Error, "request %d should pass", i)
	}
	resp := handler(context.Background(), testReq)
	require.Equal(t, ErrRateLimited, resp.Error)
	require.Equal(t, testReq.RequestID, resp.RequestID)
}

func TestRateLimitPerService(t *testing.T) {
	handler := RateLimitMiddleware(0.001, 1)(echoHandler)
	user := &message.RPCMessage{ServiceMethod: "User.GetUserInfo"}
	friend := &message.RPCMessage{ServiceMethod: "Friend.FriendRemove"}

	require.Empty(t, handler(context.Background(), user).Error)
	require.Equal(t, ErrRateLimited, handler(context.Background(), user).Error)
	require.Empty(t, handler(context.Background(), friend).Error)
	require.Equal(t, ErrRateLimited, handler(context.Background(), &message.RPCMessage{ServiceMethod: "User.SetUserName"}).Error)
}

func TestStandard(t *testing.T) {
	require.Len(t, Standard(nil, Options{}), 1)

	chain := Standard(zap.NewNop(), Options{Timeout: 50 * time.Millisecond, Rate: 0.001})
	require.Len(t, chain, 3)
	handler := Chain(chain...)(slowHandler)
	require.Equal(t, ErrTimedOut, handler(context.Background(), testReq).Error)
	require.Equal(t, ErrRateLimited, handler(context.Background(), testReq).Error)
}

func TestRecover(t *testing.T) {
	resp := RecoverMiddleware(nil)(panicHandler)(context.Background(), testReq)
	require.Contains(t, resp.Error, "boom")
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(mark("a"), mark("b"), LoggingMiddleware(nil), TimeOutMiddleware(500*time.Millisecond))(echoHandler)
	resp := handler(context.Background(), testReq)
	require.Empty(t, resp.Error)
	require.Equal(t, []string{"a", "b"}, order)
}
