package registry

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DefaultDialTimeout = 5 * time.Second

// EtcdBackend implements Backend on etcd v3. The client is safe for
// concurrent use and shared by every Registrar and Discoverer in the process.
type EtcdBackend struct {
	client *clientv3.Client
}

var _ Backend = (*EtcdBackend)(nil)

func NewEtcdBackend(endpoints []string, logger *zap.Logger) (*EtcdBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: DefaultDialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: etcd client: %w", err)
	}
	return &EtcdBackend{client: c}, nil
}

// NewEtcdBackendFromClient wraps an existing client. Close closes it.
func NewEtcdBackendFromClient(c *clientv3.Client) *EtcdBackend {
	return &EtcdBackend{client: c}
}

func (b *EtcdBackend) Grant(ctx context.Context, ttl int64) (LeaseID, error) {
	resp, err := b.client.Grant(ctx, ttl)
	if err != nil {
		return 0, err
	}
	return LeaseID(resp.ID), nil
}

func (b *EtcdBackend) KeepAlive(ctx context.Context, lease LeaseID) (<-chan struct{}, error) {
	ch, err := b.client.KeepAlive(ctx, clientv3.LeaseID(lease))
	if err != nil {
		return nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		// The etcd channel closes on ctx cancellation, lease expiry or a
		// renewal the server refused.
		for range ch {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, nil
}

func (b *EtcdBackend) Revoke(ctx context.Context, lease LeaseID) error {
	_, err := b.client.Revoke(ctx, clientv3.LeaseID(lease))
	return err
}

func (b *EtcdBackend) Put(ctx context.Context, key, value string, lease LeaseID) error {
	opts := []clientv3.OpOption{}
	if lease != 0 {
		opts = append(opts, clientv3.WithLease(clientv3.LeaseID(lease)))
	}
	_, err := b.client.Put(ctx, key, value, opts...)
	return err
}

func (b *EtcdBackend) List(ctx context.Context, prefix string) ([]KeyValue, int64, error) {
	resp, err := b.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}
	kvs := make([]KeyValue, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		kvs = append(kvs, KeyValue{Key: string(kv.Key), Value: string(kv.Value)})
	}
	return kvs, resp.Header.Revision, nil
}

func (b *EtcdBackend) Watch(ctx context.Context, prefix string, fromRevision int64) <-chan WatchResponse {
	opts := []clientv3.OpOption{clientv3.WithPrefix(), clientv3.WithPrevKV()}
	if fromRevision > 0 {
		opts = append(opts, clientv3.WithRev(fromRevision))
	}
	wch := b.client.Watch(ctx, prefix, opts...)
	out := make(chan WatchResponse)
	go func() {
		defer close(out)
		for resp := range wch {
			var wr WatchResponse
			if resp.CompactRevision != 0 {
				wr.Err = fmt.Errorf("%w: at %d", ErrCompacted, resp.CompactRevision)
			} else if err := resp.Err(); err != nil {
				wr.Err = err
			}
			for _, ev := range resp.Events {
				e := Event{Key: string(ev.Kv.Key), Value: string(ev.Kv.Value), Revision: ev.Kv.ModRevision}
				if ev.Type == clientv3.EventTypeDelete {
					e.Type = EventDelete
					if ev.PrevKv != nil {
						e.Value = string(ev.PrevKv.Value)
					}
				}
				wr.Events = append(wr.Events, e)
			}
			select {
			case out <- wr:
			case <-ctx.Done():
				return
			}
			if wr.Err != nil {
				return
			}
		}
	}()
	return out
}

func (b *EtcdBackend) Close() error {
	return b.client.Close()
}
