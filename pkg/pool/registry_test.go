package pool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(zaptest.NewLogger(t))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_GetOrCreate_AtMostOnePoolPerName(t *testing.T) {
	r := newTestRegistry(t)
	fc := &fakeConnector{}
	ctx := context.Background()

	p1, err := r.GetOrCreate(ctx, "warehouse", fc, Options{MaxSize: 2}, false)
	require.NoError(t, err)

	p2, err := r.GetOrCreate(ctx, "warehouse", fc, Options{MaxSize: 2}, false)
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("%p", p1), fmt.Sprintf("%p", p2), "same name must map to the same pool")
	assert.Len(t, r.List(), 1)
}

func TestRegistry_GetOrCreate_DifferentNames(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p1, err := r.GetOrCreate(ctx, "warehouse", &fakeConnector{}, Options{}, false)
	require.NoError(t, err)
	p2, err := r.GetOrCreate(ctx, "staging", &fakeConnector{}, Options{}, false)
	require.NoError(t, err)

	assert.NotEqual(t, fmt.Sprintf("%p", p1), fmt.Sprintf("%p", p2))
	assert.Len(t, r.List(), 2)
}

func TestRegistry_GetOrCreate_RecreatesUnhealthyPool(t *testing.T) {
	r := newTestRegistry(t)
	fc := &fakeConnector{}
	ctx := context.Background()

	p1, err := r.GetOrCreate(ctx, "warehouse", fc, Options{MaxSize: 2}, false)
	require.NoError(t, err)

	// park an idle member, then break it in a way retrying cannot heal
	c, err := p1.Acquire(ctx)
	require.NoError(t, err)
	c.Release()
	fc.mu.Lock()
	fc.pingErr = errors.New("permission denied for database")
	fc.failNext = 100
	fc.mu.Unlock()

	p2, err := r.GetOrCreate(ctx, "warehouse", fc, Options{MaxSize: 2}, false)
	require.NoError(t, err, "replacement pool is created lazily even while the backend is down")

	assert.NotEqual(t, fmt.Sprintf("%p", p1), fmt.Sprintf("%p", p2), "unhealthy pool must be replaced")
	assert.True(t, p1.Closed(), "old pool must be closed")
	assert.Len(t, r.List(), 1)

	_, _, pings := fc.counts()
	assert.Equal(t, 1, pings, "a permanent failure is not retried")
}

func TestRegistry_Recreate_ReplacesWithoutDuplicating(t *testing.T) {
	r := newTestRegistry(t)
	fc := &fakeConnector{}
	ctx := context.Background()

	p1, err := r.GetOrCreate(ctx, "warehouse", fc, Options{MaxSize: 2}, true)
	require.NoError(t, err)

	// leave an idle member behind so recreate has something to clean up
	c, err := p1.Acquire(ctx)
	require.NoError(t, err)
	c.Release()

	p2, err := r.GetOrCreate(ctx, "warehouse", fc, Options{MaxSize: 2}, true)
	require.NoError(t, err)

	assert.NotEqual(t, fmt.Sprintf("%p", p1), fmt.Sprintf("%p", p2))
	assert.True(t, p1.Closed())
	assert.Len(t, r.List(), 1)

	stats := p2.Stats()
	opens, closes, _ := fc.counts()
	assert.Equal(t, opens, closes+stats.Idle+stats.Active,
		"no connection from the first pool may leak")
}

func TestRegistry_ClosePool_Idempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "warehouse", &fakeConnector{}, Options{}, false)
	require.NoError(t, err)

	closed, err := r.ClosePool("warehouse")
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = r.ClosePool("warehouse")
	require.NoError(t, err)
	assert.False(t, closed, "second close of the same name reports absent")

	closed, err = r.ClosePool("never-existed")
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p1, err := r.GetOrCreate(ctx, "warehouse", &fakeConnector{}, Options{}, false)
	require.NoError(t, err)
	p2, err := r.GetOrCreate(ctx, "staging", &fakeConnector{}, Options{}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, r.CloseAll())
	assert.True(t, p1.Closed())
	assert.True(t, p2.Closed())
	assert.Empty(t, r.List())
	assert.Equal(t, 0, r.CloseAll())
}

func TestRegistry_List(t *testing.T) {
	r := newTestRegistry(t)
	healthy := &fakeConnector{}
	broken := &fakeConnector{}
	ctx := context.Background()

	ph, err := r.GetOrCreate(ctx, "healthy", healthy, Options{MaxSize: 3}, false)
	require.NoError(t, err)
	c, err := ph.Acquire(ctx)
	require.NoError(t, err)
	defer c.Release()

	pb, err := r.GetOrCreate(ctx, "broken", broken, Options{MaxSize: 3}, false)
	require.NoError(t, err)
	bc, err := pb.Acquire(ctx)
	require.NoError(t, err)
	bc.Release()
	broken.mu.Lock()
	broken.pingErr = errors.New("broken pipe")
	broken.mu.Unlock()
	require.Error(t, pb.Ping(ctx), "health check records the failure the listing reports")

	infos := r.List()
	require.Len(t, infos, 2)

	// sorted by name
	assert.Equal(t, "broken", infos[0].Name)
	assert.False(t, infos[0].Valid)
	assert.Equal(t, "sqlite", infos[0].Driver)

	assert.Equal(t, "healthy", infos[1].Name)
	assert.True(t, infos[1].Valid)
	assert.Equal(t, 1, infos[1].Active)
}

func TestRegistry_List_DoesNotTouchBackends(t *testing.T) {
	r := newTestRegistry(t)
	fc := &fakeConnector{}
	ctx := context.Background()

	p, err := r.GetOrCreate(ctx, "warehouse", fc, Options{MaxSize: 2}, false)
	require.NoError(t, err)

	infos := r.List()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Valid)
	assert.Equal(t, 0, infos[0].Idle)

	opens, closes, pings := fc.counts()
	assert.Equal(t, 0, opens, "listing must not open connections")
	assert.Equal(t, 0, closes)
	assert.Equal(t, 0, pings, "listing must not ping members")

	// even a member that would fail its ping stays untouched by the listing
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	c.Release()
	fc.mu.Lock()
	fc.pingErr = errors.New("broken pipe")
	fc.mu.Unlock()

	infos = r.List()
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].Idle, "listing must not evict members")

	_, _, pings = fc.counts()
	assert.Equal(t, 0, pings)
}

func TestRegistry_HealthCheck_RetriesTransientFailures(t *testing.T) {
	r := newTestRegistry(t)
	fc := &fakeConnector{}
	ctx := context.Background()

	p1, err := r.GetOrCreate(ctx, "warehouse", fc, Options{MaxSize: 2}, false)
	require.NoError(t, err)
	c, err := p1.Acquire(ctx)
	require.NoError(t, err)
	c.Release()

	fc.mu.Lock()
	fc.pingErr = errors.New("connection reset")
	fc.failNext = 100
	fc.mu.Unlock()

	p2, err := r.GetOrCreate(ctx, "warehouse", fc, Options{MaxSize: 2}, false)
	require.NoError(t, err)
	assert.NotEqual(t, fmt.Sprintf("%p", p1), fmt.Sprintf("%p", p2))

	// the first ping drops the broken member, then each retried health
	// check probes the backend again before the pool is given up on
	fc.mu.Lock()
	attempts := fc.attempts
	fc.mu.Unlock()
	assert.Greater(t, attempts, 2, "a transient failure gets retried before recreation")
}

func TestRegistry_Close_Idempotent(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	_, err := r.GetOrCreate(context.Background(), "warehouse", &fakeConnector{}, Options{}, false)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Empty(t, r.List())
}
