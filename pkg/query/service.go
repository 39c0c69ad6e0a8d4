// Package query is the public entry point for running SQL against named
// connections. It decides per connection whether a call borrows from a
// pool or opens a one-shot connection, and guarantees release on every
// exit path either way.
package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veridata-io/veridata-engine/pkg/apperrors"
	"github.com/veridata-io/veridata-engine/pkg/config"
	"github.com/veridata-io/veridata-engine/pkg/driver"
	"github.com/veridata-io/veridata-engine/pkg/logging"
	"github.com/veridata-io/veridata-engine/pkg/pool"
)

// connectorFunc resolves a driver and binds it to a target. Swapped for a
// fake in tests.
type connectorFunc func(kind driver.Kind, target driver.Target) (pool.Connector, error)

// Service routes queries to named connections.
type Service struct {
	specs     map[string]config.ConnectionSpec
	defaults  config.PoolConfig
	registry  *pool.Registry
	connector connectorFunc
	logger    *zap.Logger
}

// New creates a query service over the given connection specs.
func New(specs map[string]config.ConnectionSpec, defaults config.PoolConfig, registry *pool.Registry, logger *zap.Logger) *Service {
	s := &Service{
		specs:    specs,
		defaults: defaults,
		registry: registry,
		logger:   logger,
	}
	s.connector = s.resolveConnector
	return s
}

func (s *Service) resolveConnector(kind driver.Kind, target driver.Target) (pool.Connector, error) {
	d, err := driver.Resolve(kind)
	if err != nil {
		return nil, err
	}
	f := d.Factory(target)
	s.logger.Debug("resolved connection target",
		zap.String("driver", kind.String()),
		zap.String("dsn", logging.SanitizeConnectionString(f.DSN())))
	return f, nil
}

// poolOptions merges a spec's tuning fields over the registry-wide defaults.
func (s *Service) poolOptions(spec config.ConnectionSpec) pool.Options {
	opts := pool.Options{
		MinSize:            s.defaults.MinSize,
		MaxSize:            s.defaults.MaxSize,
		IdleTimeout:        time.Duration(s.defaults.IdleTimeoutMinutes) * time.Minute,
		ValidationInterval: time.Duration(s.defaults.ValidationIntervalSeconds) * time.Second,
		AcquireTimeout:     time.Duration(s.defaults.AcquireTimeoutSeconds) * time.Second,
	}
	if spec.PoolMinSize > 0 {
		opts.MinSize = spec.PoolMinSize
	}
	if spec.PoolMaxSize > 0 {
		opts.MaxSize = spec.PoolMaxSize
	}
	if spec.PoolIdleTimeoutMinutes > 0 {
		opts.IdleTimeout = time.Duration(spec.PoolIdleTimeoutMinutes) * time.Minute
	}
	if spec.PoolValidationIntervalSeconds > 0 {
		opts.ValidationInterval = time.Duration(spec.PoolValidationIntervalSeconds) * time.Second
	}
	if spec.PoolAcquireTimeoutSeconds > 0 {
		opts.AcquireTimeout = time.Duration(spec.PoolAcquireTimeoutSeconds) * time.Second
	}
	return opts
}

// withConn resolves the named spec, obtains a connection by the spec's
// pooling policy, runs fn, and releases or closes the connection on every
// exit path. Cleanup failures are logged and never mask fn's outcome.
func (s *Service) withConn(ctx context.Context, name string, fn func(conn driver.Conn, kind driver.Kind) error) error {
	spec, ok := s.specs[name]
	if !ok {
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownConnection, name)
	}
	kind, err := spec.Kind()
	if err != nil {
		return fmt.Errorf("connection %q: %w", name, err)
	}
	connector, err := s.connector(kind, spec.Target())
	if err != nil {
		return fmt.Errorf("connection %q: %w", name, err)
	}

	if spec.Pool {
		p, err := s.registry.GetOrCreate(ctx, name, connector, s.poolOptions(spec), false)
		if err != nil {
			return err
		}
		conn, err := p.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()
		return fn(conn, kind)
	}

	conn, err := connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect %q (%s): %w", name, kind, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.logger.Warn("failed to close connection",
				zap.String("connection", name),
				zap.String("driver", kind.String()),
				zap.String("error", logging.SanitizeError(cerr)))
		}
	}()
	return fn(conn, kind)
}

// WithConnection exposes a live connection handle to fn and guarantees
// release afterward regardless of how fn exits.
func (s *Service) WithConnection(ctx context.Context, name string, fn func(conn driver.Conn) error) error {
	return s.withConn(ctx, name, func(conn driver.Conn, _ driver.Kind) error {
		return fn(conn)
	})
}

// Query runs a statement that returns rows. Execution failures carry the
// driver's message verbatim and are never retried.
func (s *Service) Query(ctx context.Context, sqlText, name string, params ...any) (*Result, error) {
	var result *Result
	err := s.withConn(ctx, name, func(conn driver.Conn, kind driver.Kind) error {
		s.logger.Debug("executing query",
			zap.String("connection", name),
			zap.String("sql", logging.SanitizeQuery(sqlText)))

		rows, err := conn.QueryContext(ctx, sqlText, params...)
		if err != nil {
			return &QueryError{Connection: name, Driver: kind, Err: err}
		}
		defer rows.Close()

		r, err := collectRows(rows)
		if err != nil {
			return &QueryError{Connection: name, Driver: kind, Err: err}
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Execute runs a statement with side effects and returns the affected
// row count. Same lifecycle discipline as Query.
func (s *Service) Execute(ctx context.Context, sqlText, name string, params ...any) (int64, error) {
	var affected int64
	err := s.withConn(ctx, name, func(conn driver.Conn, kind driver.Kind) error {
		s.logger.Debug("executing statement",
			zap.String("connection", name),
			zap.String("sql", logging.SanitizeQuery(sqlText)))

		res, err := conn.ExecContext(ctx, sqlText, params...)
		if err != nil {
			return &QueryError{Connection: name, Driver: kind, Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return &QueryError{Connection: name, Driver: kind, Err: err}
		}
		affected = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// CloseConnection closes and removes the named pool. Returns false when
// no pool existed, which is not an error. Unlike release failures during
// query cleanup, a close failure here is the caller's primary operation
// and is surfaced.
func (s *Service) CloseConnection(name string) (bool, error) {
	return s.registry.ClosePool(name)
}

// CloseAllConnections closes every pool and returns the number closed.
func (s *Service) CloseAllConnections() int {
	return s.registry.CloseAll()
}

// ListConnections reports every live pool for diagnostics. It reads pool
// bookkeeping only and never touches a backend.
func (s *Service) ListConnections() []pool.PoolInfo {
	return s.registry.List()
}
