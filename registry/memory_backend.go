package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value string
	lease LeaseID
}

type memLease struct {
	ttl      int64
	keys     map[string]struct{}
	keepers  []chan struct{}
	finished bool
}

// MemoryBackend is a revisioned in-process Backend. Leases never expire on
// their own; Expire simulates a missed renewal.
type MemoryBackend struct {
	mu       sync.Mutex
	rev      int64
	nextID   LeaseID
	data     map[string]memEntry
	leases   map[LeaseID]*memLease
	history  []Event
	watchers map[*memWatcher]struct{}
	tick     time.Duration
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:     make(map[string]memEntry),
		leases:   make(map[LeaseID]*memLease),
		watchers: make(map[*memWatcher]struct{}),
		tick:     time.Second,
	}
}

func (b *MemoryBackend) Grant(ctx context.Context, ttl int64) (LeaseID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.leases[b.nextID] = &memLease{ttl: ttl, keys: make(map[string]struct{})}
	return b.nextID, nil
}

func (b *MemoryBackend) KeepAlive(ctx context.Context, lease LeaseID) (<-chan struct{}, error) {
	b.mu.Lock()
	l, ok := b.leases[lease]
	if !ok {
		b.mu.Unlock()
		return nil, ErrLeaseNotFound
	}
	stop := make(chan struct{})
	l.keepers = append(l.keepers, stop)
	b.mu.Unlock()

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(b.tick)
		defer ticker.Stop()
		out <- struct{}{}
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (b *MemoryBackend) Revoke(ctx context.Context, lease LeaseID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Expire(lease)
}

// Expire drops lease and every key attached to it, as if renewal had lapsed.
func (b *MemoryBackend) Expire(lease LeaseID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.leases[lease]
	if !ok {
		return ErrLeaseNotFound
	}
	delete(b.leases, lease)
	keys := make([]string, 0, len(l.keys))
	for k := range l.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.deleteLocked(k)
	}
	if !l.finished {
		l.finished = true
		for _, stop := range l.keepers {
			close(stop)
		}
	}
	return nil
}

func (b *MemoryBackend) Put(ctx context.Context, key, value string, lease LeaseID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if lease != 0 {
		l, ok := b.leases[lease]
		if !ok {
			return ErrLeaseNotFound
		}
		l.keys[key] = struct{}{}
	}
	if old, ok := b.data[key]; ok && old.lease != lease {
		if l, ok := b.leases[old.lease]; ok {
			delete(l.keys, key)
		}
	}
	b.data[key] = memEntry{value: value, lease: lease}
	b.rev++
	b.publishLocked(Event{Type: EventPut, Key: key, Value: value, Revision: b.rev})
	return nil
}

// Delete removes key regardless of its lease.
func (b *MemoryBackend) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.data[key]; ok {
		if l, ok := b.leases[e.lease]; ok {
			delete(l.keys, key)
		}
		b.deleteLocked(key)
	}
}

func (b *MemoryBackend) deleteLocked(key string) {
	e, ok := b.data[key]
	if !ok {
		return
	}
	delete(b.data, key)
	b.rev++
	b.publishLocked(Event{Type: EventDelete, Key: key, Value: e.value, Revision: b.rev})
}

func (b *MemoryBackend) publishLocked(ev Event) {
	b.history = append(b.history, ev)
	for w := range b.watchers {
		if strings.HasPrefix(ev.Key, w.prefix) {
			w.push(ev)
		}
	}
}

func (b *MemoryBackend) List(ctx context.Context, prefix string) ([]KeyValue, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	kvs := make([]KeyValue, 0)
	for k, e := range b.data {
		if strings.HasPrefix(k, prefix) {
			kvs = append(kvs, KeyValue{Key: k, Value: e.value})
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs, b.rev, nil
}

func (b *MemoryBackend) Watch(ctx context.Context, prefix string, fromRevision int64) <-chan WatchResponse {
	w := &memWatcher{prefix: prefix, wake: make(chan struct{}, 1)}
	b.mu.Lock()
	for _, ev := range b.history {
		if ev.Revision >= fromRevision && strings.HasPrefix(ev.Key, prefix) {
			w.pending = append(w.pending, ev)
		}
	}
	b.watchers[w] = struct{}{}
	b.mu.Unlock()

	out := make(chan WatchResponse)
	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.watchers, w)
			b.mu.Unlock()
			close(out)
		}()
		for {
			if evs := w.drain(); len(evs) > 0 {
				select {
				case out <- WatchResponse{Events: evs}:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case <-w.wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	w.signal()
	return out
}

// Revision reports the current store revision.
func (b *MemoryBackend) Revision() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rev
}

type memWatcher struct {
	prefix  string
	mu      sync.Mutex
	pending []Event
	wake    chan struct{}
}

func (w *memWatcher) push(ev Event) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	w.mu.Unlock()
	w.signal()
}

func (w *memWatcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *memWatcher) drain() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	evs := w.pending
	w.pending = nil
	return evs
}
