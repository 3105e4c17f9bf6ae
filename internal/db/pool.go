package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/suite224/suite-db/internal/config"
	"github.com/suite224/suite-db/internal/logger"
	"github.com/suite224/suite-db/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// closeTimeout bounds the graceful close of a single connection.
const closeTimeout = 5 * time.Second

// waitWindow is the number of recent acquire waits kept for Stat.
const waitWindow = 256

type dialFunc func(ctx context.Context) (*Conn, error)

// Pool is a bounded set of reusable connections for one profile.
//
// Slots are handed out by a FIFO semaphore sized MaxConnections; a caller
// holding a slot either reuses an idle connection or dials a new one, so the
// number of live connections never exceeds MaxConnections. Pools are plain
// values owned by whoever created them; there is no process-wide pool.
type Pool struct {
	profile config.ConnectionProfile
	opts    PoolOptions
	dial    dialFunc
	slots   *semaphore.Weighted

	mu     sync.Mutex
	idle   []idleConn // most recently released last
	total  int        // live connections, idle + leased + dialing
	closed bool

	waiting      atomic.Int64
	acquired     atomic.Int64
	exhausted    atomic.Int64
	dialFailures atomic.Int64
	waits        *metrics.WaitStats

	closeCtx   context.Context
	closeFn    context.CancelFunc
	reaperDone chan struct{}
}

type idleConn struct {
	conn  *Conn
	since time.Time
}

// PoolStat is a snapshot of pool accounting.
type PoolStat struct {
	MaxConnections int                  `json:"max_connections"`
	TotalConns     int                  `json:"total_conns"`
	IdleConns      int                  `json:"idle_conns"`
	InUse          int                  `json:"in_use"`
	Waiting        int64                `json:"waiting"`
	AcquireCount   int64                `json:"acquire_count"`
	ExhaustedCount int64                `json:"exhausted_count"`
	DialFailures   int64                `json:"dial_failures"`
	Wait           metrics.WaitSnapshot `json:"wait"`
	Closed         bool                 `json:"closed"`
}

// NewPool creates a pool that dials connections for profile on demand. No
// connection is opened until the first Acquire.
func NewPool(profile config.ConnectionProfile, opts PoolOptions) (*Pool, error) {
	return newPool(profile, opts, func(ctx context.Context) (*Conn, error) {
		return Connect(ctx, profile)
	})
}

func newPool(profile config.ConnectionProfile, opts PoolOptions, dial dialFunc) (*Pool, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	closeCtx, closeFn := context.WithCancel(context.Background())
	p := &Pool{
		profile:  profile,
		opts:     opts,
		dial:     dial,
		slots:    semaphore.NewWeighted(int64(opts.MaxConnections)),
		waits:    metrics.NewWaitStats(waitWindow),
		closeCtx: closeCtx,
		closeFn:  closeFn,
	}

	if opts.IdleTimeout > 0 {
		p.reaperDone = make(chan struct{})
		go p.reapLoop(opts.reapInterval())
	}

	logger.Debug("Connection pool created",
		"host", profile.Host,
		"port", profile.Port,
		"database", profile.Database,
		"max_conns", opts.MaxConnections,
		"queue", opts.QueueBehavior,
		"queue_timeout", opts.QueueTimeout,
		"idle_timeout", opts.IdleTimeout,
	)
	return p, nil
}

// Acquire leases a connection. When the pool is at capacity it queues in
// FIFO order or fails fast, according to QueueBehavior. The returned Lease
// must be released exactly once; further releases are ignored.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	if err := p.reserve(ctx); err != nil {
		return nil, err
	}
	wait := time.Since(start)
	p.waits.Observe(time.Now(), wait)

	conn, err := p.take(ctx)
	if err != nil {
		p.slots.Release(1)
		return nil, err
	}

	p.acquired.Add(1)
	lease := &Lease{
		id:         uuid.New(),
		pool:       p,
		conn:       conn,
		acquiredAt: time.Now(),
	}
	logger.Debug("Connection acquired", "lease", lease.id, "wait", wait)
	return lease, nil
}

// reserve claims one slot of the semaphore.
func (p *Pool) reserve(ctx context.Context) error {
	if p.opts.QueueBehavior == QueueFail {
		if !p.slots.TryAcquire(1) {
			p.exhausted.Add(1)
			logger.Warn("Connection pool exhausted", "max_conns", p.opts.MaxConnections, "queue", QueueFail)
			return &PoolExhaustedError{MaxConnections: p.opts.MaxConnections, Behavior: QueueFail}
		}
		return nil
	}

	var (
		waitCtx context.Context
		cancel  context.CancelFunc
	)
	if p.opts.QueueTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.QueueTimeout)
	} else {
		waitCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	stop := context.AfterFunc(p.closeCtx, cancel)
	defer stop()

	start := time.Now()
	p.waiting.Add(1)
	err := p.slots.Acquire(waitCtx, 1)
	p.waiting.Add(-1)

	if err == nil {
		if p.isClosed() {
			p.slots.Release(1)
			return ErrPoolClosed
		}
		return nil
	}
	if p.closeCtx.Err() != nil {
		return ErrPoolClosed
	}

	waited := time.Since(start)
	p.exhausted.Add(1)
	logger.Warn("Gave up waiting for a pooled connection",
		"max_conns", p.opts.MaxConnections,
		"waited", waited,
		"error", err,
	)
	return &PoolExhaustedError{
		MaxConnections: p.opts.MaxConnections,
		Behavior:       QueueWait,
		Waited:         waited,
		Err:            err,
	}
}

// take returns an idle connection or dials a new one. The caller holds a slot.
func (p *Pool) take(ctx context.Context) (*Conn, error) {
	now := time.Now()
	var stale []*Conn

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		ic := p.idle[last]
		p.idle[last] = idleConn{}
		p.idle = p.idle[:last]
		if p.expired(ic, now) || ic.conn.IsClosed() {
			p.total--
			stale = append(stale, ic.conn)
			continue
		}
		p.mu.Unlock()
		closeConns(stale, "idle timeout")
		return ic.conn, nil
	}
	p.total++
	p.mu.Unlock()
	closeConns(stale, "idle timeout")

	conn, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.dialFailures.Add(1)
		return nil, err
	}

	if p.isClosed() {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		closeConns([]*Conn{conn}, "pool closed")
		return nil, ErrPoolClosed
	}
	return conn, nil
}

// release returns a leased connection and frees its slot.
func (p *Pool) release(l *Lease) {
	conn := l.conn
	destroy := l.unhealthy.Load() || conn.IsClosed()

	p.mu.Lock()
	if p.closed || destroy {
		p.total--
		p.mu.Unlock()
		reason := "unhealthy"
		if !destroy {
			reason = "pool closed"
		}
		closeConns([]*Conn{conn}, reason)
	} else {
		p.idle = append(p.idle, idleConn{conn: conn, since: time.Now()})
		p.mu.Unlock()
	}

	p.slots.Release(1)
	logger.Debug("Connection released", "lease", l.id, "held", time.Since(l.acquiredAt), "destroyed", destroy)
}

func (p *Pool) expired(ic idleConn, now time.Time) bool {
	return p.opts.IdleTimeout > 0 && now.Sub(ic.since) >= p.opts.IdleTimeout
}

func (p *Pool) reapLoop(interval time.Duration) {
	defer close(p.reaperDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeCtx.Done():
			return
		case now := <-ticker.C:
			p.reapIdle(now)
		}
	}
}

// reapIdle closes idle connections past IdleTimeout and returns how many.
func (p *Pool) reapIdle(now time.Time) int {
	var stale []*Conn

	p.mu.Lock()
	keep := p.idle[:0]
	for _, ic := range p.idle {
		if p.expired(ic, now) {
			stale = append(stale, ic.conn)
			continue
		}
		keep = append(keep, ic)
	}
	clear(p.idle[len(keep):])
	p.idle = keep
	p.total -= len(stale)
	p.mu.Unlock()

	closeConns(stale, "idle timeout")
	return len(stale)
}

// Ping leases a connection and pings the server with it. A failed ping marks
// the connection unhealthy so it is not reused.
func (p *Pool) Ping(ctx context.Context) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	if err := lease.Conn().Ping(ctx); err != nil {
		lease.MarkUnhealthy()
		return err
	}
	return nil
}

// Stat returns a snapshot of pool accounting.
func (p *Pool) Stat() PoolStat {
	p.mu.Lock()
	total, idle, closed := p.total, len(p.idle), p.closed
	p.mu.Unlock()

	return PoolStat{
		MaxConnections: p.opts.MaxConnections,
		TotalConns:     total,
		IdleConns:      idle,
		InUse:          total - idle,
		Waiting:        p.waiting.Load(),
		AcquireCount:   p.acquired.Load(),
		ExhaustedCount: p.exhausted.Load(),
		DialFailures:   p.dialFailures.Load(),
		Wait:           p.waits.Snapshot(),
		Closed:         closed,
	}
}

// Profile returns the profile the pool dials.
func (p *Pool) Profile() config.ConnectionProfile {
	return p.profile
}

// Options returns the effective pool options.
func (p *Pool) Options() PoolOptions {
	return p.opts
}

// Close closes idle connections and stops the pool. Queued callers receive
// ErrPoolClosed; leased connections are closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.mu.Unlock()

	p.closeFn()
	if p.reaperDone != nil {
		<-p.reaperDone
	}

	conns := make([]*Conn, len(idle))
	for i, ic := range idle {
		conns[i] = ic.conn
	}
	closeConns(conns, "pool closed")

	logger.Info("Connection pool closed",
		"host", p.profile.Host,
		"database", p.profile.Database,
		"acquired", p.acquired.Load(),
	)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func closeConns(conns []*Conn, reason string) {
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := c.Close(ctx); err != nil {
			logger.Warn("Failed to close pooled connection", "addr", c.Addr(), "reason", reason, "error", err)
		} else {
			logger.Debug("Closed pooled connection", "addr", c.Addr(), "reason", reason, "age", c.Age())
		}
		cancel()
	}
}

// Lease is exclusive use of one pooled connection.
type Lease struct {
	id         uuid.UUID
	pool       *Pool
	conn       *Conn
	acquiredAt time.Time
	released   atomic.Bool
	unhealthy  atomic.Bool
}

// ID identifies the lease in logs.
func (l *Lease) ID() uuid.UUID {
	return l.id
}

// Conn returns the leased connection. It must not be used after Release.
func (l *Lease) Conn() *Conn {
	return l.conn
}

// MarkUnhealthy makes Release close the connection instead of pooling it.
func (l *Lease) MarkUnhealthy() {
	l.unhealthy.Store(true)
}

// Release returns the connection to the pool. Only the first call has an
// effect.
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		logger.Debug("Ignoring repeated release", "lease", l.id)
		return
	}
	l.pool.release(l)
}

// Released reports whether Release has been called.
func (l *Lease) Released() bool {
	return l.released.Load()
}
