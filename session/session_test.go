package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Store) {
	ctx := context.Background()
	sid, uid := uuid.NewString(), uuid.NewString()

	_, err := s.UserID(ctx, sid)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.UserID(ctx, "")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, s.Insert(ctx, sid, uid))
	got, err := s.UserID(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, uid, got)

	online, err := s.IsOnline(ctx, uid)
	require.NoError(t, err)
	require.False(t, online)
	require.NoError(t, s.SetOnline(ctx, uid))
	online, err = s.IsOnline(ctx, uid)
	require.NoError(t, err)
	require.True(t, online)

	require.NoError(t, s.SetOffline(ctx, uid))
	require.NoError(t, s.Remove(ctx, sid))
	_, err = s.UserID(ctx, sid)
	require.ErrorIs(t, err, ErrSessionNotFound)
	online, err = s.IsOnline(ctx, uid)
	require.NoError(t, err)
	require.False(t, online)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemory())
}

func TestRedisStore(t *testing.T) {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:6379", 200*time.Millisecond)
	if err != nil {
		t.Skip("redis not reachable on 127.0.0.1:6379")
	}
	conn.Close()

	c, err := DialRedis(context.Background(), "127.0.0.1:6379", "", 0)
	require.NoError(t, err)
	defer c.Close()
	exercise(t, NewRedis(c, WithKeyPrefix("chat-fabric-test:")))
}
