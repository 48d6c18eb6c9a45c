// Package session resolves login session tokens to user ids and tracks which
// users hold a live duplex connection.
//
// Records are plain string keys written by the user service at login:
//
//	<session_id> -> <user_id>
//	<user_id>    -> ""          (present while the user is connected)
package session

import (
	"context"
	"errors"
	"sync"
)

var ErrSessionNotFound = errors.New("session: not found")

type Store interface {
	UserID(ctx context.Context, sessionID string) (string, error)
	Insert(ctx context.Context, sessionID, userID string) error
	Remove(ctx context.Context, sessionID string) error

	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]string
	online   map[string]struct{}
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]string),
		online:   make(map[string]struct{}),
	}
}

func (m *Memory) UserID(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid, ok := m.sessions[sessionID]
	if !ok || sessionID == "" {
		return "", ErrSessionNotFound
	}
	return uid, nil
}

func (m *Memory) Insert(_ context.Context, sessionID, userID string) error {
	m.mu.Lock()
	m.sessions[sessionID] = userID
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetOnline(_ context.Context, userID string) error {
	m.mu.Lock()
	m.online[userID] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetOffline(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.online, userID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) IsOnline(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.online[userID]
	return ok, nil
}
