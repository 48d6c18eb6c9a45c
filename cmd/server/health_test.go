package main

import (
	"context"
	"testing"
	"time"

	"chat-fabric/channel"
	"chat-fabric/codec"
	"chat-fabric/config"
	"chat-fabric/registry"
	"chat-fabric/server"

	"github.com/stretchr/testify/require"
)

func TestHealthThroughFabric(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Server.Instance = "node-1"
	cfg.Server.ShutdownTimeout = time.Second

	backend := registry.NewMemoryBackend()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx, backend, cfg, nil, nil, NewHealth(cfg.Server.Instance)) }()

	m := channel.NewManager(channel.TCPDialer(codec.CodecTypeJSON, nil), nil, nil)
	defer m.Close()
	m.Declare(cfg.Server.Service)
	d, err := registry.NewDiscoverer(context.Background(), backend, "/service/", m, nil, nil)
	require.NoError(t, err)
	defer d.Close()

	var rsp CheckRsp
	require.Eventually(t, func() bool {
		c, err := m.Get(cfg.Server.Service)
		if err != nil {
			return false
		}
		return c.Call(context.Background(), "Health.Check", &CheckReq{RequestID: "r1"}, &rsp) == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, rsp.Success)
	require.Equal(t, "node-1", rsp.Instance)
	require.Equal(t, "r1", rsp.RequestID)

	cancel()
	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return m.Pool(cfg.Server.Service).Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
