package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T, ttl time.Duration) (*reconcile.RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := reconcile.NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return reconcile.NewRedisLock(client, "sentinel:reconcile", ttl), mr
}

func TestRedisLock_Exclusive(t *testing.T) {
	lock, mr := newTestLock(t, time.Minute)
	ctx := context.Background()

	unlock, ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("sentinel:reconcile"))

	_, ok, err = lock.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("sentinel:reconcile"))

	_, ok, err = lock.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExpiredHolderDoesNotReleaseNewOwner(t *testing.T) {
	lock, mr := newTestLock(t, time.Second)
	ctx := context.Background()

	stale, ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("sentinel:reconcile"), "the new owner's lease must survive")
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := reconcile.NewRedisClient(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestReconciler_SkipsWhenLockHeldElsewhere(t *testing.T) {
	lock, _ := newTestLock(t, time.Minute)
	ctx := context.Background()

	_, ok, err := lock.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	store := newTestStore(t)
	require.NoError(t, store.UpsertInvoice(ctx, overdueInvoice("INV-1", date(2025, 1, 1))))
	r, _ := newReconciler(t, store, reconcile.Options{Overdue: true}, date(2025, 1, 20))
	r.SetLocker(lock)

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Created)
}

func TestReconciler_ReleasesLockAfterRun(t *testing.T) {
	lock, mr := newTestLock(t, time.Minute)
	ctx := context.Background()

	store := newTestStore(t)
	r, _ := newReconciler(t, store, reconcile.Options{Overdue: true}, date(2025, 1, 20))
	r.SetLocker(lock)

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.False(t, mr.Exists("sentinel:reconcile"))
}
