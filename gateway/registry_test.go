package gateway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Push(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeHandle) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func TestRegistryBindUnbind(t *testing.T) {
	r := NewRegistry()
	h1 := &fakeHandle{id: "h1"}
	r.Bind(h1, "u1", "s1")

	got, err := r.Resolve("u1")
	require.NoError(t, err)
	require.Same(t, h1, got)

	b, err := r.Lookup(h1)
	require.NoError(t, err)
	require.Equal(t, Binding{UserID: "u1", SessionID: "s1"}, b)

	b, err = r.Unbind(h1)
	require.NoError(t, err)
	require.True(t, b.Active)

	_, err = r.Resolve("u1")
	require.ErrorIs(t, err, ErrNoLiveConnection)
	_, err = r.Lookup(h1)
	require.ErrorIs(t, err, ErrConnectionUnknown)
	_, err = r.Unbind(h1)
	require.ErrorIs(t, err, ErrConnectionUnknown)
	require.Zero(t, r.Len())
}

// A second authentication of the same user takes over the forward mapping.
// The first connection still looks bound to the user until it closes itself;
// closing it leaves the newer mapping in place.
func TestRegistryRebindKeepsStaleReverseEntry(t *testing.T) {
	r := NewRegistry()
	h1 := &fakeHandle{id: "h1"}
	h2 := &fakeHandle{id: "h2"}
	r.Bind(h1, "u1", "s1")
	r.Bind(h2, "u1", "s2")

	got, err := r.Resolve("u1")
	require.NoError(t, err)
	require.Same(t, h2, got)

	stale, err := r.Lookup(h1)
	require.NoError(t, err)
	require.Equal(t, "u1", stale.UserID)
	require.Equal(t, 2, r.Len())

	b, err := r.Unbind(h1)
	require.NoError(t, err)
	require.False(t, b.Active)

	got, err = r.Resolve("u1")
	require.NoError(t, err)
	require.Same(t, h2, got)

	b, err = r.Unbind(h2)
	require.NoError(t, err)
	require.True(t, b.Active)
	_, err = r.Resolve("u1")
	require.ErrorIs(t, err, ErrNoLiveConnection)
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := &fakeHandle{id: string(rune('a' + i%26))}
			uid := "u" + h.id
			r.Bind(h, uid, "s")
			r.Resolve(uid)
			r.Unbind(h)
		}(i)
	}
	wg.Wait()
	require.Zero(t, r.Len())
}
