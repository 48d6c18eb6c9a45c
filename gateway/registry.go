package gateway

import (
	"errors"
	"sync"
)

var (
	ErrConnectionUnknown = errors.New("gateway: unknown connection")
	ErrNoLiveConnection  = errors.New("gateway: no live connection")
)

// Handle is a live duplex connection notifications can be pushed to.
type Handle interface {
	ID() string
	Push(frame []byte) error
}

// Binding is what a connection authenticated as.
type Binding struct {
	UserID    string
	SessionID string
	// Active is set by Unbind when the user's forward mapping still pointed
	// at the unbound connection.
	Active bool
}

// Registry maps authenticated users to their live connection and back.
//
// A user authenticating again on a new connection takes over the forward
// mapping. The old connection keeps its reverse entry until its own close
// calls Unbind, and that Unbind leaves the newer forward mapping alone.
type Registry struct {
	mu      sync.Mutex
	users   map[string]Handle
	handles map[Handle]Binding
}

func NewRegistry() *Registry {
	return &Registry{
		users:   make(map[string]Handle),
		handles: make(map[Handle]Binding),
	}
}

func (r *Registry) Bind(h Handle, userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = h
	r.handles[h] = Binding{UserID: userID, SessionID: sessionID}
}

// Unbind drops h. The user's forward mapping is removed only while it still
// points at h.
func (r *Registry) Unbind(h Handle) (Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.handles[h]
	if !ok {
		return Binding{}, ErrConnectionUnknown
	}
	delete(r.handles, h)
	if r.users[b.UserID] == h {
		delete(r.users, b.UserID)
		b.Active = true
	}
	return b, nil
}

func (r *Registry) Lookup(h Handle) (Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.handles[h]
	if !ok {
		return Binding{}, ErrConnectionUnknown
	}
	return b, nil
}

// Resolve returns the user's live connection. ErrNoLiveConnection is the
// normal answer for offline users.
func (r *Registry) Resolve(userID string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.users[userID]
	if !ok {
		return nil, ErrNoLiveConnection
	}
	return h, nil
}

// Len counts bound connections, stale ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
