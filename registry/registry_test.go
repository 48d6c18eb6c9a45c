package registry

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"chat-fabric/telemetry"

	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type change struct {
	added bool
	key   string
	value string
}

type recorder struct {
	mu      sync.Mutex
	changes []change
	notify  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 64)}
}

func (r *recorder) OnAdded(key, value string) {
	r.record(change{added: true, key: key, value: value})
}

func (r *recorder) OnRemoved(key, value string) {
	r.record(change{key: key, value: value})
}

func (r *recorder) record(c change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) snapshot() []change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]change(nil), r.changes...)
}

func (r *recorder) waitFor(t *testing.T, n int) []change {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func TestInstanceKey(t *testing.T) {
	require.Equal(t, "/service/user_service/abc", InstanceKey("/service", "user_service", "abc"))
	require.Equal(t, "/service/user_service/abc", InstanceKey("service/", "user_service", "abc"))
	require.Equal(t, "/service/user_service", ServicePath("/service/user_service/abc"))
	require.Equal(t, "", ServicePath("abc"))
}

func TestMemoryBackendListAndWatchFromRevision(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "/service/a/1", "10.0.0.1:9000", 0))
	require.NoError(t, b.Put(ctx, "/other/x", "skip", 0))

	kvs, rev, err := b.List(ctx, "/service/")
	require.NoError(t, err)
	require.Equal(t, []KeyValue{{Key: "/service/a/1", Value: "10.0.0.1:9000"}}, kvs)
	require.Equal(t, int64(2), rev)

	// Written after the list but before the watch starts.
	require.NoError(t, b.Put(ctx, "/service/a/2", "10.0.0.2:9000", 0))

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watch := b.Watch(wctx, "/service/", rev+1)

	resp := <-watch
	require.NoError(t, resp.Err)
	require.Len(t, resp.Events, 1)
	require.Equal(t, "/service/a/2", resp.Events[0].Key)

	b.Delete("/service/a/1")
	resp = <-watch
	require.Len(t, resp.Events, 1)
	require.Equal(t, EventDelete, resp.Events[0].Type)
	require.Equal(t, "10.0.0.1:9000", resp.Events[0].Value)

	cancel()
	_, ok := <-watch
	require.False(t, ok)
}

func TestMemoryBackendExpireDropsKeys(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	lease, err := b.Grant(ctx, 3)
	require.NoError(t, err)
	alive, err := b.KeepAlive(ctx, lease)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "/service/a/1", "addr", lease))

	require.NoError(t, b.Expire(lease))
	for range alive {
	}
	kvs, _, err := b.List(ctx, "/service/")
	require.NoError(t, err)
	require.Empty(t, kvs)

	require.ErrorIs(t, b.Put(ctx, "/service/a/2", "addr", lease), ErrLeaseNotFound)
	require.ErrorIs(t, b.Expire(lease), ErrLeaseNotFound)
}

func TestRegistrarRegisterAndClose(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	reg, err := NewRegistrar(ctx, b, 3, zap.NewNop(), nil)
	require.NoError(t, err)
	require.True(t, reg.Alive())

	key := InstanceKey("/service", "svc-a", NewInstanceName())
	require.NoError(t, reg.Register(ctx, key, "10.0.0.1:9000"))

	kvs, _, err := b.List(ctx, "/service/svc-a/")
	require.NoError(t, err)
	require.Len(t, kvs, 1)
	require.Equal(t, "10.0.0.1:9000", kvs[0].Value)

	reg.Close()
	require.False(t, reg.Alive())
	kvs, _, err = b.List(ctx, "/service/svc-a/")
	require.NoError(t, err)
	require.Empty(t, kvs, "close revokes the lease")

	err = reg.Register(ctx, key, "10.0.0.1:9000")
	require.ErrorIs(t, err, ErrRegistrationFailed)
	reg.Close()
}

type rejectingBackend struct {
	*MemoryBackend
}

func (rejectingBackend) Put(context.Context, string, string, LeaseID) error {
	return errors.New("permission denied")
}

func TestRegistrarRejectedWrite(t *testing.T) {
	reg, err := NewRegistrar(context.Background(), rejectingBackend{NewMemoryBackend()}, 3, nil, nil)
	require.NoError(t, err)
	defer reg.Close()

	err = reg.Register(context.Background(), "/service/a/1", "addr")
	require.ErrorIs(t, err, ErrRegistrationFailed)
	require.NotContains(t, err.Error(), "lease")
}

func TestRegistrarLostLease(t *testing.T) {
	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	m, err := telemetry.New(sink)
	require.NoError(t, err)

	b := NewMemoryBackend()
	reg, err := NewRegistrar(context.Background(), b, 3, nil, m)
	require.NoError(t, err)
	require.NoError(t, reg.Register(context.Background(), "/service/a/1", "addr"))

	require.NoError(t, b.Expire(reg.Lease()))
	require.Eventually(t, func() bool { return !reg.Alive() }, time.Second, 5*time.Millisecond)

	data := sink.Data()
	require.NotEmpty(t, data)
	counter, ok := data[0].Counters["chat.registry.keepalive_lost"]
	require.True(t, ok)
	require.Equal(t, 1, counter.Count)
	reg.Close()
}

func TestDiscovererInitialSyncThenWatch(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "/service/svc-a/1", "10.0.0.1:9000", 0))

	rec := newRecorder()
	d, err := NewDiscoverer(ctx, b, "/service/", rec, zap.NewNop(), nil)
	require.NoError(t, err)
	defer d.Close()

	// Delivered before NewDiscoverer returns.
	require.Equal(t, []change{{added: true, key: "/service/svc-a/1", value: "10.0.0.1:9000"}}, rec.snapshot())

	require.NoError(t, b.Put(ctx, "/service/svc-a/2", "10.0.0.2:9000", 0))
	b.Delete("/service/svc-a/1")

	got := rec.waitFor(t, 3)
	require.Equal(t, []change{
		{added: true, key: "/service/svc-a/1", value: "10.0.0.1:9000"},
		{added: true, key: "/service/svc-a/2", value: "10.0.0.2:9000"},
		{added: false, key: "/service/svc-a/1", value: "10.0.0.1:9000"},
	}, got)
	require.NoError(t, d.Err())
}

func TestDiscovererSmallQueuePreservesOrder(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	rec := newRecorder()
	d, err := NewDiscoverer(ctx, b, "/service/", rec, nil, nil, WithQueueSize(1))
	require.NoError(t, err)
	defer d.Close()

	keys := []string{"/service/a/1", "/service/a/2", "/service/a/3", "/service/a/4"}
	for _, k := range keys {
		require.NoError(t, b.Put(ctx, k, "addr", 0))
	}
	got := rec.waitFor(t, len(keys))
	for i, k := range keys {
		require.Equal(t, k, got[i].key)
	}
}

type failingList struct {
	*MemoryBackend
}

func (failingList) List(context.Context, string) ([]KeyValue, int64, error) {
	return nil, 0, errors.New("connection refused")
}

func TestDiscovererListFailure(t *testing.T) {
	_, err := NewDiscoverer(context.Background(), failingList{NewMemoryBackend()}, "/service/", newRecorder(), nil, nil)
	require.ErrorIs(t, err, ErrDiscoveryUnavailable)
}

type brokenWatch struct {
	*MemoryBackend
}

func (brokenWatch) Watch(context.Context, string, int64) <-chan WatchResponse {
	ch := make(chan WatchResponse, 1)
	ch <- WatchResponse{Err: ErrCompacted}
	close(ch)
	return ch
}

func TestDiscovererWatchFailureIsReported(t *testing.T) {
	d, err := NewDiscoverer(context.Background(), brokenWatch{NewMemoryBackend()}, "/service/", newRecorder(), nil, nil)
	require.NoError(t, err)
	defer d.Close()
	require.Eventually(t, func() bool { return errors.Is(d.Err(), ErrCompacted) }, time.Second, 5*time.Millisecond)
}

func etcdOrSkip(t *testing.T) *EtcdBackend {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:2379", 200*time.Millisecond)
	if err != nil {
		t.Skip("etcd not reachable on 127.0.0.1:2379")
	}
	conn.Close()
	b, err := NewEtcdBackend([]string{"127.0.0.1:2379"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	b := etcdOrSkip(t)
	ctx := context.Background()
	prefix := "/chat-fabric-test/" + NewInstanceName() + "/"

	reg, err := NewRegistrar(ctx, b, 5, nil, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, prefix+"svc-a/1", "10.0.0.1:9000"))

	rec := newRecorder()
	d, err := NewDiscoverer(ctx, b, prefix, rec, nil, nil)
	require.NoError(t, err)
	defer d.Close()
	require.Len(t, rec.snapshot(), 1)

	require.NoError(t, reg.Register(ctx, prefix+"svc-a/2", "10.0.0.2:9000"))
	rec.waitFor(t, 2)

	reg.Close()
	got := rec.waitFor(t, 4)
	require.False(t, got[2].added)
	require.False(t, got[3].added)
}
