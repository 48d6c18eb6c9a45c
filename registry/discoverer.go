package registry

import (
	"context"
	"fmt"
	"sync"

	"chat-fabric/telemetry"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

const DefaultQueueSize = 128

// Handler receives membership changes. Calls are made from a single goroutine
// in the order the backend emitted them.
type Handler interface {
	OnAdded(key, value string)
	OnRemoved(key, value string)
}

// HandlerFuncs adapts two functions to Handler. Nil members are skipped.
type HandlerFuncs struct {
	Added   func(key, value string)
	Removed func(key, value string)
}

func (h HandlerFuncs) OnAdded(key, value string) {
	if h.Added != nil {
		h.Added(key, value)
	}
}

func (h HandlerFuncs) OnRemoved(key, value string) {
	if h.Removed != nil {
		h.Removed(key, value)
	}
}

type DiscovererOption func(*Discoverer)

// WithQueueSize bounds the number of events buffered between the watch and
// the handler.
func WithQueueSize(n int) DiscovererOption {
	return func(d *Discoverer) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// Discoverer follows every key under a prefix.
type Discoverer struct {
	backend   Backend
	prefix    string
	handler   Handler
	logger    *zap.Logger
	metrics   *metrics.Metrics
	queueSize int

	events chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

// NewDiscoverer lists prefix and delivers OnAdded for every entry before it
// returns, then follows the prefix from the next revision on.
func NewDiscoverer(ctx context.Context, backend Backend, prefix string, h Handler, logger *zap.Logger, m *metrics.Metrics, opts ...DiscovererOption) (*Discoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Discoverer{
		backend:   backend,
		prefix:    prefix,
		handler:   h,
		logger:    logger.Named("discoverer").With(zap.String("prefix", prefix)),
		metrics:   telemetry.OrNop(m),
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	kvs, rev, err := backend.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrDiscoveryUnavailable, prefix, err)
	}
	for _, kv := range kvs {
		d.count(EventPut)
		h.OnAdded(kv.Key, kv.Value)
	}
	d.logger.Info("initial sync", zap.Int("instances", len(kvs)), zap.Int64("revision", rev))

	wctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.events = make(chan Event, d.queueSize)
	watch := backend.Watch(wctx, prefix, rev+1)

	d.wg.Add(2)
	go d.receive(wctx, watch)
	go d.apply()
	return d, nil
}

// receive moves watch events onto the bounded queue. It blocks when the
// handler falls behind.
func (d *Discoverer) receive(ctx context.Context, watch <-chan WatchResponse) {
	defer d.wg.Done()
	defer close(d.events)
	for resp := range watch {
		for _, ev := range resp.Events {
			select {
			case d.events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if resp.Err != nil {
			d.fail(resp.Err)
			return
		}
	}
	if ctx.Err() == nil {
		d.fail(fmt.Errorf("%w: watch closed", ErrDiscoveryUnavailable))
	}
}

func (d *Discoverer) apply() {
	defer d.wg.Done()
	for ev := range d.events {
		d.count(ev.Type)
		switch ev.Type {
		case EventPut:
			d.handler.OnAdded(ev.Key, ev.Value)
		case EventDelete:
			d.handler.OnRemoved(ev.Key, ev.Value)
		}
	}
}

func (d *Discoverer) count(t EventType) {
	d.metrics.IncrCounterWithLabels(telemetry.KeyDiscoveryEvent, 1, []metrics.Label{telemetry.LabelEvent.M(t.String())})
}

func (d *Discoverer) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	d.metrics.IncrCounter(telemetry.KeyDiscoveryWatchErr, 1)
	d.logger.Error("watch stopped", zap.Error(err))
}

// Err returns the error that stopped the watch, if any.
func (d *Discoverer) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close stops the watch and waits for queued events to be delivered.
func (d *Discoverer) Close() {
	d.cancel()
	d.wg.Wait()
}
