package channel

import (
	"fmt"
	"sync"
	"time"

	"chat-fabric/telemetry"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

type slot struct {
	addr string
	conn Conn
}

const (
	DefaultRedialMin = time.Second
	DefaultRedialMax = 30 * time.Second
)

type PoolOption func(*Pool)

// WithRedialBackoff bounds the delay between attempts to reconnect an
// instance whose connection dropped. The delay doubles from first up to limit.
func WithRedialBackoff(first, limit time.Duration) PoolOption {
	return func(p *Pool) {
		if first > 0 {
			p.redialMin = first
		}
		if limit >= p.redialMin {
			p.redialMax = limit
		}
	}
}

// Pool is the set of handles to every known instance of one service.
//
// Entries live in an append-only arena of slots; removal empties a slot in
// place so the cursor and the positions of other entries never move. The
// arena is compacted once more than half of it is empty.
//
// A handle whose connection drops is evicted and redialed in the background
// for as long as its address has not been removed.
type Pool struct {
	service   string
	dial      Dialer
	logger    *zap.Logger
	metrics   *metrics.Metrics
	redialMin time.Duration
	redialMax time.Duration
	stop      chan struct{}

	mu     sync.Mutex
	slots  []slot
	index  map[string]int
	wanted map[string]struct{}
	live   int
	cursor int
	closed bool
}

func NewPool(service string, dial Dialer, logger *zap.Logger, m *metrics.Metrics, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		service:   service,
		dial:      dial,
		logger:    logger.With(zap.String("service", service)),
		metrics:   telemetry.OrNop(m),
		redialMin: DefaultRedialMin,
		redialMax: DefaultRedialMax,
		stop:      make(chan struct{}),
		index:     make(map[string]int),
		wanted:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) labels() []metrics.Label {
	return []metrics.Label{telemetry.LabelService.M(p.service)}
}

// doner is implemented by handles that can report a lost connection.
type doner interface {
	Done() <-chan struct{}
}

func dead(c Conn) bool {
	d, ok := c.(doner)
	if !ok {
		return false
	}
	select {
	case <-d.Done():
		return true
	default:
		return false
	}
}

// presentLocked reports whether addr has a usable entry. A dead entry is
// evicted and returned so the caller can close it outside the lock.
func (p *Pool) presentLocked(addr string) (bool, Conn) {
	i, ok := p.index[addr]
	if !ok {
		return false, nil
	}
	if !dead(p.slots[i].conn) {
		return true, nil
	}
	return false, p.evictLocked(i)
}

func (p *Pool) evictLocked(i int) Conn {
	s := p.slots[i]
	p.slots[i] = slot{}
	delete(p.index, s.addr)
	p.live--
	if len(p.slots) > 8 && p.live*2 < len(p.slots) {
		p.compactLocked()
	}
	return s.conn
}

// Insert dials addr and appends it. Inserting an address already present is
// a no-op unless its connection dropped, in which case it is redialed. A
// failed dial is logged and the address is left out.
func (p *Pool) Insert(addr string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wanted[addr] = struct{}{}
	present, stale := p.presentLocked(addr)
	p.mu.Unlock()
	if stale != nil {
		stale.Close()
	}
	if present {
		return nil
	}
	err := p.connect(addr, false)
	if err != nil && stale != nil {
		go p.redial(addr)
	}
	return err
}

func (p *Pool) connect(addr string, redial bool) error {
	// Dial without the lock so Get keeps serving while a slow connect runs.
	conn, err := p.dial(addr)
	if err != nil {
		p.metrics.IncrCounterWithLabels(telemetry.KeyChannelDialError, 1, p.labels())
		p.logger.Warn("dial instance", zap.String("addr", addr), zap.Error(err))
		return fmt.Errorf("channel: dial %s: %w", addr, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return ErrPoolClosed
	}
	if _, ok := p.wanted[addr]; redial && !ok {
		p.mu.Unlock()
		conn.Close()
		return nil
	}
	present, stale := p.presentLocked(addr)
	if present {
		p.mu.Unlock()
		conn.Close()
		return nil
	}
	p.index[addr] = len(p.slots)
	p.slots = append(p.slots, slot{addr: addr, conn: conn})
	p.live++
	size := p.live
	p.mu.Unlock()
	if stale != nil {
		stale.Close()
	}

	if d, ok := conn.(doner); ok {
		go p.watch(addr, conn, d.Done())
	}
	p.metrics.IncrCounterWithLabels(telemetry.KeyChannelInsert, 1, p.labels())
	p.logger.Info("instance added", zap.String("addr", addr), zap.Int("size", size), zap.Bool("redial", redial))
	return nil
}

// watch evicts conn once its connection is gone, then redials addr.
func (p *Pool) watch(addr string, conn Conn, done <-chan struct{}) {
	select {
	case <-done:
	case <-p.stop:
		return
	}

	p.mu.Lock()
	i, ok := p.index[addr]
	if !ok || p.slots[i].conn != conn {
		p.mu.Unlock()
		return
	}
	p.evictLocked(i)
	p.mu.Unlock()
	conn.Close()
	p.metrics.IncrCounterWithLabels(telemetry.KeyChannelLost, 1, p.labels())
	p.logger.Warn("instance connection lost", zap.String("addr", addr))
	p.redial(addr)
}

// redial retries addr with backoff until it is back, removed, or the pool
// closes.
func (p *Pool) redial(addr string) {
	backoff := p.redialMin
	for {
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-p.stop:
			timer.Stop()
			return
		}
		p.mu.Lock()
		_, wanted := p.wanted[addr]
		_, present := p.index[addr]
		p.mu.Unlock()
		if !wanted || present {
			return
		}
		if p.connect(addr, true) == nil {
			return
		}
		backoff = min(backoff*2, p.redialMax)
	}
}

// Remove drops addr and closes its handle. It reports whether addr was present.
func (p *Pool) Remove(addr string) bool {
	p.mu.Lock()
	delete(p.wanted, addr)
	i, ok := p.index[addr]
	if !ok {
		p.mu.Unlock()
		return false
	}
	conn := p.evictLocked(i)
	size := p.live
	p.mu.Unlock()

	conn.Close()
	p.metrics.IncrCounterWithLabels(telemetry.KeyChannelRemove, 1, p.labels())
	p.logger.Info("instance removed", zap.String("addr", addr), zap.Int("size", size))
	return true
}

// compactLocked squeezes out empty slots, keeping order, and moves the cursor
// to the position of the entry it would have reached next.
func (p *Pool) compactLocked() {
	kept := make([]slot, 0, p.live)
	cursor := -1
	for i, s := range p.slots {
		if s.conn == nil {
			continue
		}
		if cursor < 0 && i >= p.cursor {
			cursor = len(kept)
		}
		p.index[s.addr] = len(kept)
		kept = append(kept, s)
	}
	if cursor < 0 {
		cursor = 0
	}
	p.slots = kept
	p.cursor = cursor
}

// Get returns the entry at the cursor and advances it. Empty slots and
// handles whose connection dropped are skipped; an out-of-range cursor
// restarts at the first slot.
func (p *Pool) Get() (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == 0 {
		p.metrics.IncrCounterWithLabels(telemetry.KeyChannelEmpty, 1, p.labels())
		return nil, fmt.Errorf("%w: %s", ErrPoolEmpty, p.service)
	}
	if p.cursor >= len(p.slots) {
		p.cursor = 0
	}
	for n := 0; n < len(p.slots); n++ {
		i := (p.cursor + n) % len(p.slots)
		if s := p.slots[i]; s.conn != nil && !dead(s.conn) {
			p.cursor = i + 1
			return s.conn, nil
		}
	}
	p.metrics.IncrCounterWithLabels(telemetry.KeyChannelEmpty, 1, p.labels())
	return nil, fmt.Errorf("%w: %s", ErrPoolEmpty, p.service)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Addrs lists the live addresses in round-robin order starting at slot zero.
func (p *Pool) Addrs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	addrs := make([]string, 0, p.live)
	for _, s := range p.slots {
		if s.conn != nil {
			addrs = append(addrs, s.addr)
		}
	}
	return addrs
}

// Close closes every handle. Later inserts fail with ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	slots := p.slots
	p.slots = nil
	p.index = make(map[string]int)
	p.wanted = make(map[string]struct{})
	p.live = 0
	if !p.closed {
		close(p.stop)
	}
	p.closed = true
	p.mu.Unlock()

	for _, s := range slots {
		if s.conn != nil {
			s.conn.Close()
		}
	}
}
