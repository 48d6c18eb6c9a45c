package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-fabric/telemetry"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

const (
	DefaultTTL    = 3
	revokeTimeout = 2 * time.Second
)

// Registrar holds one lease for the lifetime of the process and publishes
// instance records under it. Renewal failures are logged and never retried:
// an instance that cannot renew drops out of discovery once the TTL passes.
type Registrar struct {
	backend Backend
	lease   LeaseID
	logger  *zap.Logger
	metrics *metrics.Metrics

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	keys   []string
	closed bool
	lost   bool
}

// NewRegistrar grants a lease of ttl seconds and starts renewing it.
func NewRegistrar(ctx context.Context, backend Backend, ttl int64, logger *zap.Logger, m *metrics.Metrics) (*Registrar, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	lease, err := backend.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: grant lease: %v", ErrRegistrationFailed, err)
	}
	kctx, cancel := context.WithCancel(context.Background())
	alive, err := backend.KeepAlive(kctx, lease)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: keepalive: %v", ErrRegistrationFailed, err)
	}
	r := &Registrar{
		backend: backend,
		lease:   lease,
		logger:  logger.Named("registrar").With(zap.Int64("lease", int64(lease))),
		metrics: telemetry.OrNop(m),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.renew(kctx, alive)
	return r, nil
}

func (r *Registrar) renew(ctx context.Context, alive <-chan struct{}) {
	defer close(r.done)
	for range alive {
	}
	if ctx.Err() != nil {
		return
	}
	r.mu.Lock()
	r.lost = true
	keys := append([]string(nil), r.keys...)
	r.mu.Unlock()
	r.metrics.IncrCounter(telemetry.KeyKeepAliveLost, 1)
	r.logger.Error("lease renewal stopped, registration will expire", zap.Strings("keys", keys))
}

// Register writes key -> addr under the held lease.
func (r *Registrar) Register(ctx context.Context, key, addr string) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: %v", ErrRegistrationFailed, ErrClosed)
	}
	if err := r.backend.Put(ctx, key, addr, r.lease); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrRegistrationFailed, key, err)
	}
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	r.logger.Info("registered", zap.String("key", key), zap.String("addr", addr))
	return nil
}

// Lease returns the lease the records are attached to.
func (r *Registrar) Lease() LeaseID {
	return r.lease
}

// Alive reports whether the lease is still being renewed.
func (r *Registrar) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lost && !r.closed
}

// Close stops renewal and revokes the lease so the records vanish at once.
// Revocation is best effort.
func (r *Registrar) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	<-r.done

	ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
	defer cancel()
	if err := r.backend.Revoke(ctx, r.lease); err != nil {
		r.logger.Warn("revoke lease", zap.Error(err))
		return
	}
	r.logger.Info("lease revoked")
}

// NewInstanceName returns a random instance segment for InstanceKey.
func NewInstanceName() string {
	return uuid.NewString()
}
