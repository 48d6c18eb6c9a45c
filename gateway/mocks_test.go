package gateway

import (
	"context"

	"chat-fabric/channel"

	"github.com/stretchr/testify/mock"
)

type mockChannels struct {
	mock.Mock
}

func (m *mockChannels) Get(service string) (channel.Conn, error) {
	ret := m.Called(service)
	conn, _ := ret.Get(0).(channel.Conn)
	return conn, ret.Error(1)
}

type mockConn struct {
	mock.Mock
}

func (m *mockConn) Addr() string { return "10.0.0.1:9000" }

func (m *mockConn) Call(ctx context.Context, serviceMethod string, args, reply any) error {
	return m.Called(serviceMethod, args, reply).Error(0)
}

func (m *mockConn) Close() error { return nil }
