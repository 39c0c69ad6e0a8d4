// Package pool manages bounded sets of reusable database connections,
// one pool per named connection, with idle-timeout and validation policy.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veridata-io/veridata-engine/pkg/apperrors"
	"github.com/veridata-io/veridata-engine/pkg/driver"
	"github.com/veridata-io/veridata-engine/pkg/logging"
)

const (
	DefaultMaxSize            = 10
	DefaultIdleTimeout        = 5 * time.Minute
	DefaultValidationInterval = 30 * time.Second
)

// Connector opens physical connections for one backend target.
// *driver.Factory implements it; tests substitute counting fakes.
type Connector interface {
	Connect(ctx context.Context) (driver.Conn, error)
	Kind() driver.Kind
}

// Options tunes one pool. Zero values fall back to defaults, except
// AcquireTimeout where zero means fail fast when the pool is exhausted.
type Options struct {
	MinSize            int
	MaxSize            int
	IdleTimeout        time.Duration
	ValidationInterval time.Duration
	AcquireTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.MinSize < 0 {
		o.MinSize = 0
	}
	if o.MinSize > o.MaxSize {
		o.MinSize = o.MaxSize
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.ValidationInterval <= 0 {
		o.ValidationInterval = DefaultValidationInterval
	}
	return o
}

// entry is one physical connection at rest or on loan.
type entry struct {
	conn          driver.Conn
	lastUsed      time.Time
	lastValidated time.Time
}

// waiter is an acquire call parked on an exhausted pool. A released
// connection is handed to it directly; nil means capacity was freed
// (or the pool closed) and the waiter should retry.
type waiter struct {
	ch chan *entry
}

// Pool maintains up to MaxSize physical connections for one target and
// hands out validated connections on demand. Lent-out connections are
// counted against the bound until released.
type Pool struct {
	id        uuid.UUID
	name      string
	connector Connector
	opts      Options
	logger    *zap.Logger

	mu      sync.Mutex
	idle    []*entry // oldest first, reused newest first
	active  int      // connections currently on loan
	waiters []*waiter
	closed  bool
	valid   bool // last known health, flipped by pings and connect attempts
}

// New creates an empty pool. Connections are built lazily on Acquire.
func New(name string, connector Connector, opts Options, logger *zap.Logger) *Pool {
	return &Pool{
		id:        uuid.New(),
		name:      name,
		connector: connector,
		opts:      opts.withDefaults(),
		logger:    logger,
		valid:     true,
	}
}

// ID returns the pool instance ID used for log correlation.
func (p *Pool) ID() uuid.UUID {
	return p.id
}

// Name returns the connection name this pool serves.
func (p *Pool) Name() string {
	return p.name
}

// Kind returns the backend driver kind.
func (p *Pool) Kind() driver.Kind {
	return p.connector.Kind()
}

// Conn is a connection on loan from a Pool. Release returns it to the
// idle set; releasing more than once is a no-op.
type Conn struct {
	driver.Conn

	pool     *Pool
	entry    *entry
	mu       sync.Mutex
	released bool
}

// Release returns the connection to its pool, stamping its last-used time.
func (c *Conn) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.mu.Unlock()
	c.pool.release(c.entry)
}

// Acquire returns a validated connection, reusing an idle one when it can,
// building a fresh one while under the size bound, and otherwise failing
// fast with ErrPoolExhausted (or waiting FIFO up to AcquireTimeout).
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	var timeout <-chan time.Time
	if p.opts.AcquireTimeout > 0 {
		timer := time.NewTimer(p.opts.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("%s (%s): %w", p.name, p.Kind(), apperrors.ErrPoolClosed)
		}

		if e := p.takeIdleLocked(ctx); e != nil {
			p.active++
			p.mu.Unlock()
			return &Conn{Conn: e.conn, pool: p, entry: e}, nil
		}

		if p.active < p.opts.MaxSize {
			// Reserve the slot, then dial without holding the lock.
			p.active++
			p.mu.Unlock()
			e, err := p.connect(ctx)
			p.mu.Lock()
			if err != nil {
				p.active--
				p.valid = false
				p.wakeOneLocked()
				p.mu.Unlock()
				return nil, err
			}
			if p.closed {
				p.active--
				p.closeEntry(e, "pool closed")
				p.mu.Unlock()
				return nil, fmt.Errorf("%s (%s): %w", p.name, p.Kind(), apperrors.ErrPoolClosed)
			}
			p.valid = true
			p.mu.Unlock()
			return &Conn{Conn: e.conn, pool: p, entry: e}, nil
		}

		if timeout == nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("%s (%s): %w: all %d connections in use",
				p.name, p.Kind(), apperrors.ErrPoolExhausted, p.opts.MaxSize)
		}

		w := &waiter{ch: make(chan *entry, 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case e := <-w.ch:
			if e != nil {
				return &Conn{Conn: e.conn, pool: p, entry: e}, nil
			}
			p.mu.Lock() // capacity freed or pool closing, retry
		case <-timeout:
			if e := p.abandonWait(w); e != nil {
				return &Conn{Conn: e.conn, pool: p, entry: e}, nil
			}
			return nil, fmt.Errorf("%s (%s): %w: no connection released within %s",
				p.name, p.Kind(), apperrors.ErrPoolExhausted, p.opts.AcquireTimeout)
		case <-ctx.Done():
			if e := p.abandonWait(w); e != nil {
				return &Conn{Conn: e.conn, pool: p, entry: e}, nil
			}
			return nil, ctx.Err()
		}
	}
}

// takeIdleLocked pops idle entries newest first, discarding members past
// the idle timeout and members that fail their due validation ping.
func (p *Pool) takeIdleLocked(ctx context.Context) *entry {
	now := time.Now()
	for len(p.idle) > 0 {
		e := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		if now.Sub(e.lastUsed) > p.opts.IdleTimeout {
			p.closeEntry(e, "idle timeout")
			continue
		}
		if now.Sub(e.lastValidated) > p.opts.ValidationInterval {
			if err := e.conn.PingContext(ctx); err != nil {
				p.logger.Warn("discarding connection that failed validation",
					zap.String("connection", p.name),
					zap.String("driver", p.Kind().String()),
					zap.String("error", logging.SanitizeError(err)))
				p.closeEntry(e, "validation failed")
				continue
			}
			e.lastValidated = now
		}
		return e
	}
	return nil
}

// connect builds one fresh connection, retrying once on failure. It does
// network I/O and must not be called with p.mu held.
func (p *Pool) connect(ctx context.Context) (*entry, error) {
	conn, err := p.connector.Connect(ctx)
	if err != nil {
		p.logger.Warn("connection attempt failed, retrying once",
			zap.String("connection", p.name),
			zap.String("driver", p.Kind().String()),
			zap.String("error", logging.SanitizeError(err)))
		conn, err = p.connector.Connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect %s (%s): %w", p.name, p.Kind(), err)
		}
	}
	now := time.Now()
	return &entry{conn: conn, lastUsed: now, lastValidated: now}, nil
}

func (p *Pool) release(e *entry) {
	p.mu.Lock()
	e.lastUsed = time.Now()

	if p.closed {
		p.active--
		p.closeEntry(e, "pool closed")
		p.mu.Unlock()
		return
	}

	if len(p.waiters) > 0 {
		// Direct handoff, the loan count carries over to the waiter.
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- e
		p.mu.Unlock()
		return
	}

	p.active--
	p.idle = append(p.idle, e)
	p.mu.Unlock()
}

// wakeOneLocked signals the first waiter that capacity was freed so it
// can retry its acquire. Caller holds p.mu.
func (p *Pool) wakeOneLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.ch <- nil
}

// abandonWait removes w from the wait queue. If a release already handed
// it a connection, that connection is returned so the caller can use it.
func (p *Pool) abandonWait(w *waiter) *entry {
	p.mu.Lock()
	for i, x := range p.waiters {
		if x == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return nil
		}
	}
	p.mu.Unlock()
	// Already dequeued: the handoff (or a nil retry signal) is in flight.
	return <-w.ch
}

// closeEntry closes a physical connection. Caller holds p.mu.
func (p *Pool) closeEntry(e *entry, reason string) {
	if err := e.conn.Close(); err != nil {
		p.logger.Warn("failed to close connection",
			zap.String("connection", p.name),
			zap.String("driver", p.Kind().String()),
			zap.String("reason", reason),
			zap.String("error", logging.SanitizeError(err)))
		return
	}
	p.logger.Debug("closed connection",
		zap.String("connection", p.name),
		zap.String("reason", reason))
}

// Ping reports whether the pool can supply a working connection. It
// validates the newest idle member when one exists, or builds and then
// discards a probe connection when the pool is empty. The outcome is
// remembered and reported by Valid.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%s (%s): %w", p.name, p.Kind(), apperrors.ErrPoolClosed)
	}

	if len(p.idle) > 0 {
		e := p.idle[len(p.idle)-1]
		if err := e.conn.PingContext(ctx); err != nil {
			p.idle = p.idle[:len(p.idle)-1]
			p.closeEntry(e, "validation failed")
			p.valid = false
			p.mu.Unlock()
			return fmt.Errorf("%s (%s): %w: %v", p.name, p.Kind(), apperrors.ErrConnectionValidation, err)
		}
		e.lastValidated = time.Now()
		p.valid = true
		p.mu.Unlock()
		return nil
	}

	if p.active > 0 {
		// All members are out with callers; nothing to probe.
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	e, err := p.connect(ctx)

	p.mu.Lock()
	if err != nil {
		p.valid = false
		p.mu.Unlock()
		return err
	}
	p.valid = true
	p.closeEntry(e, "probe discarded")
	p.mu.Unlock()
	return nil
}

// Valid reports the pool's last known health without touching the
// backend. A pool is valid until a ping or connect attempt fails, and
// again after one succeeds.
func (p *Pool) Valid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.valid
}

// EvictIdle closes idle members unused for longer than the idle timeout,
// keeping at least MinSize idle members. Returns the number evicted.
func (p *Pool) EvictIdle(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}

	evicted := 0
	kept := make([]*entry, 0, len(p.idle))
	for i, e := range p.idle {
		// the newest MinSize members stay regardless of age
		if len(p.idle)-i <= p.opts.MinSize {
			kept = append(kept, e)
			continue
		}
		if now.Sub(e.lastUsed) > p.opts.IdleTimeout {
			p.closeEntry(e, "idle timeout")
			evicted++
			continue
		}
		kept = append(kept, e)
	}
	p.idle = kept

	if evicted > 0 {
		p.logger.Info("evicted idle connections",
			zap.String("connection", p.name),
			zap.Int("evicted", evicted),
			zap.Int("remaining_idle", len(p.idle)))
	}
	return evicted
}

// Stats describes the pool's current occupancy.
type Stats struct {
	Active int
	Idle   int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: p.active, Idle: len(p.idle)}
}

// Closed reports whether Close has run.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close closes every idle member and marks the pool closed. Connections
// still on loan are closed as they are released. Idempotent; returns the
// first close error encountered.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var firstErr error
	for _, e := range p.idle {
		if err := e.conn.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.logger.Warn("failed to close connection",
				zap.String("connection", p.name),
				zap.String("error", logging.SanitizeError(err)))
		}
	}
	p.idle = nil

	for _, w := range p.waiters {
		w.ch <- nil
	}
	p.waiters = nil
	p.mu.Unlock()

	p.logger.Info("closed connection pool",
		zap.String("connection", p.name),
		zap.String("driver", p.Kind().String()))
	return firstErr
}
