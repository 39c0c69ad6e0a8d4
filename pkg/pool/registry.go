package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veridata-io/veridata-engine/pkg/logging"
	"github.com/veridata-io/veridata-engine/pkg/retry"
)

const (
	// DefaultJanitorInterval is how often idle members are swept.
	DefaultJanitorInterval = 1 * time.Minute

	healthCheckTimeout = 5 * time.Second
)

// Registry is the process-wide mapping from connection name to pool.
// GetOrCreate is the only path by which a pool is registered, so at most
// one pool exists per name at any time.
type Registry struct {
	mu       sync.RWMutex
	pools    map[string]*Pool
	logger   *zap.Logger
	stopChan chan struct{}
	stopped  bool
}

// NewRegistry creates an empty registry and starts a background janitor
// that sweeps idle connections until Close is called.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		pools:    make(map[string]*Pool),
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	go r.janitor()
	return r
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(DefaultJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepIdle()
		case <-r.stopChan:
			return
		}
	}
}

func (r *Registry) sweepIdle() {
	r.mu.RLock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.RUnlock()

	now := time.Now()
	for _, p := range pools {
		p.EvictIdle(now)
	}
}

// GetOrCreate returns the pool registered under name, creating it when
// absent. An existing pool is health-checked first; one that fails the
// check is discarded and rebuilt. With recreate set, any existing pool
// is closed (best-effort) before a new one is created.
func (r *Registry) GetOrCreate(ctx context.Context, name string, connector Connector, opts Options, recreate bool) (*Pool, error) {
	if recreate {
		r.mu.Lock()
		if p, ok := r.pools[name]; ok {
			delete(r.pools, name)
			if err := p.Close(); err != nil {
				r.logger.Warn("failed to close pool during recreate",
					zap.String("connection", name),
					zap.String("error", logging.SanitizeError(err)))
			}
		}
		r.mu.Unlock()
		return r.create(name, connector, opts)
	}

	r.mu.RLock()
	p, ok := r.pools[name]
	r.mu.RUnlock()

	if ok {
		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := p.Ping(healthCtx)
		if err != nil && retry.IsRetryable(err) {
			// Transient failures get the backoff treatment; permanent
			// ones go straight to recreation.
			err = retry.Do(healthCtx, retry.DefaultConfig(), func() error {
				return p.Ping(healthCtx)
			})
		}
		cancel()
		if err == nil {
			return p, nil
		}

		r.logger.Warn("pool unhealthy, recreating",
			zap.String("connection", name),
			zap.String("driver", p.Kind().String()),
			zap.String("error", logging.SanitizeError(err)))
		r.remove(name, p)
	}

	return r.create(name, connector, opts)
}

// create registers a new pool under name, unless another caller got there
// first while no lock was held.
func (r *Registry) create(name string, connector Connector, opts Options) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[name]; ok {
		return p, nil
	}

	p := New(name, connector, opts, r.logger)
	r.pools[name] = p

	r.logger.Info("created connection pool",
		zap.String("connection", name),
		zap.String("driver", connector.Kind().String()),
		zap.String("pool_id", p.ID().String()),
		zap.Int("max_size", p.opts.MaxSize),
		zap.Int("min_size", p.opts.MinSize))
	return p, nil
}

// remove drops the pool registered under name, but only if it is still
// the same pool instance, then closes it.
func (r *Registry) remove(name string, p *Pool) {
	r.mu.Lock()
	if cur, ok := r.pools[name]; ok && cur == p {
		delete(r.pools, name)
	}
	r.mu.Unlock()

	if err := p.Close(); err != nil {
		r.logger.Warn("failed to close pool",
			zap.String("connection", name),
			zap.String("error", logging.SanitizeError(err)))
	}
}

// ClosePool closes and removes the named pool. Returns false when no pool
// exists for name, which is a valid outcome of idempotent cleanup, not an
// error. A close failure is returned alongside true.
func (r *Registry) ClosePool(name string) (bool, error) {
	r.mu.Lock()
	p, ok := r.pools[name]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.pools, name)
	r.mu.Unlock()

	if err := p.Close(); err != nil {
		return true, err
	}
	return true, nil
}

// CloseAll closes every registered pool and returns the number closed
// cleanly. One pool failing to close does not stop the rest.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	closed := 0
	for name, p := range pools {
		if err := p.Close(); err != nil {
			r.logger.Warn("failed to close pool",
				zap.String("connection", name),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}
		closed++
	}
	return closed
}

// PoolInfo is one row of the diagnostic listing.
type PoolInfo struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
	Valid  bool   `json:"valid"`
	Active int    `json:"active_connections"`
	Idle   int    `json:"idle_connections"`
}

// List reports every registered pool, sorted by name. It reads pool
// bookkeeping only: no pings, no new connections, no evictions. Validity
// is the last known outcome recorded by acquires and health checks, so an
// unhealthy pool shows up with Valid false rather than failing the listing.
func (r *Registry) List() []PoolInfo {
	r.mu.RLock()
	pools := make(map[string]*Pool, len(r.pools))
	for name, p := range r.pools {
		pools[name] = p
	}
	r.mu.RUnlock()

	infos := make([]PoolInfo, 0, len(pools))
	for name, p := range pools {
		stats := p.Stats()
		infos = append(infos, PoolInfo{
			Name:   name,
			Driver: p.Kind().String(),
			Valid:  p.Valid(),
			Active: stats.Active,
			Idle:   stats.Idle,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close stops the janitor and closes every pool. Idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.stopChan)
	r.mu.Unlock()

	r.CloseAll()
	r.logger.Info("connection registry closed")
	return nil
}
