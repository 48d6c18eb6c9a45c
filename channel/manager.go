package channel

import (
	"strings"
	"sync"

	"chat-fabric/registry"
	"chat-fabric/telemetry"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

// DefaultBasePath is the key prefix services register under.
const DefaultBasePath = "/service"

type ManagerOption func(*Manager)

// WithPoolOptions applies opts to every pool the manager creates.
func WithPoolOptions(opts ...PoolOption) ManagerOption {
	return func(m *Manager) {
		m.poolOpts = append(m.poolOpts, opts...)
	}
}

// WithBasePath sets the prefix stripped from instance keys before the service
// name is matched against the declared set.
func WithBasePath(base string) ManagerOption {
	return func(m *Manager) {
		m.basePath = "/" + strings.Trim(base, "/")
	}
}

// Manager owns one Pool per declared service and turns discovery events into
// pool mutations. It implements registry.Handler.
type Manager struct {
	dial     Dialer
	logger   *zap.Logger
	metrics  *metrics.Metrics
	basePath string
	poolOpts []PoolOption

	mu        sync.RWMutex
	declared  map[string]struct{}
	pools     map[string]*Pool
	instances map[string]string // instance key -> addr
}

var _ registry.Handler = (*Manager)(nil)

func NewManager(dial Dialer, logger *zap.Logger, m *metrics.Metrics, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	mgr := &Manager{
		dial:      dial,
		logger:    logger.Named("channels"),
		metrics:   telemetry.OrNop(m),
		basePath:  DefaultBasePath,
		declared:  make(map[string]struct{}),
		pools:     make(map[string]*Pool),
		instances: make(map[string]string),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// normalize accepts both "user_service" and "/service/user_service".
func (m *Manager) normalize(name string) string {
	name = strings.TrimPrefix(name, m.basePath+"/")
	return strings.Trim(name, "/")
}

// Declare marks services whose instances should be tracked. Events for
// undeclared services are ignored.
func (m *Manager) Declare(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		m.declared[m.normalize(name)] = struct{}{}
	}
}

// Get returns the next handle for service name.
func (m *Manager) Get(name string) (Conn, error) {
	name = m.normalize(name)
	m.mu.RLock()
	_, declared := m.declared[name]
	pool := m.pools[name]
	m.mu.RUnlock()
	if !declared {
		m.logger.Debug("service not declared", zap.String("service", name))
		return nil, ErrServiceNotDeclared
	}
	if pool == nil {
		return nil, ErrPoolEmpty
	}
	return pool.Get()
}

// Pool returns the pool for name, or nil before its first instance appeared.
func (m *Manager) Pool(name string) *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[m.normalize(name)]
}

// serviceOf derives the service name from <base>/<service>/<instance>.
func (m *Manager) serviceOf(key string) string {
	return m.normalize(registry.ServicePath(key))
}

func (m *Manager) OnAdded(key, addr string) {
	name := m.serviceOf(key)
	m.mu.Lock()
	if _, ok := m.declared[name]; !ok {
		m.mu.Unlock()
		return
	}
	pool, ok := m.pools[name]
	if !ok {
		pool = NewPool(name, m.dial, m.logger, m.metrics, m.poolOpts...)
		m.pools[name] = pool
	}
	prev, moved := m.instances[key]
	m.instances[key] = addr
	stale := moved && prev != addr && !m.sharedLocked(name, prev)
	m.mu.Unlock()

	if stale {
		pool.Remove(prev)
	}
	// Failures are logged by the pool; the instance stays unreachable until
	// it is announced again.
	_ = pool.Insert(addr)
}

func (m *Manager) OnRemoved(key, addr string) {
	name := m.serviceOf(key)
	m.mu.Lock()
	pool, ok := m.pools[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	if known, ok := m.instances[key]; ok {
		addr = known
		delete(m.instances, key)
	}
	shared := m.sharedLocked(name, addr)
	m.mu.Unlock()

	if addr == "" || shared {
		return
	}
	pool.Remove(addr)
}

// sharedLocked reports whether another instance of service name still points
// at addr. Instances of other services at the same address do not count.
func (m *Manager) sharedLocked(name, addr string) bool {
	for key, a := range m.instances {
		if a == addr && m.serviceOf(key) == name {
			return true
		}
	}
	return false
}

// Close tears down every pool.
func (m *Manager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.instances = make(map[string]string)
	m.mu.Unlock()
	for _, p := range pools {
		p.Close()
	}
}
