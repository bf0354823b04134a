package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-kpi-engine/lock"
	"go.uber.org/zap/zaptest"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	// GIVEN: Ten goroutines contending for one key
	// WHEN: Each holds the lock briefly
	// THEN: At most one holds it at any time

	l := lock.NewLocal()
	ctx := context.Background()

	var holders, maxHolders int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "kpi:TOP_CUSTOMERS")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&holders, 1)
			for {
				m := atomic.LoadInt32(&maxHolders)
				if n <= m || atomic.CompareAndSwapInt32(&maxHolders, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHolders)
}

func TestLocal_DifferentKeysIndependent(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "kpi:A")
	require.NoError(t, err)
	defer r1()

	r2, err := l.Acquire(ctx, "kpi:B")
	require.NoError(t, err)
	r2()
}

func TestLocal_ContextCancelled(t *testing.T) {
	// GIVEN: A held key
	// WHEN: A second caller waits with a short deadline
	// THEN: It gives up with ErrNotAcquired

	l := lock.NewLocal()
	release, err := l.Acquire(context.Background(), "kpi:A")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "kpi:A")
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_ReleaseTwiceIsSafe(t *testing.T) {
	l := lock.NewLocal()
	release, err := l.Acquire(context.Background(), "kpi:A")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(context.Background(), "kpi:A")
	require.NoError(t, err)
	again()
}

// =============================================================================
// REDIS
// =============================================================================

func newRedis(t *testing.T, ttl, wait time.Duration) (*lock.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := lock.NewRedis(context.Background(), mr.Addr(), 0, ttl, wait, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedis_ExclusiveUntilReleased(t *testing.T) {
	r, _ := newRedis(t, time.Second, 0)
	ctx := context.Background()

	release, err := r.Acquire(ctx, "kpi:TOP_CUSTOMERS")
	require.NoError(t, err)

	_, err = r.Acquire(ctx, "kpi:TOP_CUSTOMERS")
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	other, err := r.Acquire(ctx, "kpi:REVENUE_BY_REGION")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := r.Acquire(ctx, "kpi:TOP_CUSTOMERS")
	require.NoError(t, err)
	again()
}

func TestRedis_HeldLockOutlivesTTL(t *testing.T) {
	// GIVEN: A lock with a 1s TTL held by a long recomputation
	// WHEN: Well over the TTL passes on the server while it is still held
	// THEN: A second caller is still refused; after release it gets the lock

	r, mr := newRedis(t, time.Second, 0)
	ctx := context.Background()

	release, err := r.Acquire(ctx, "kpi:TOP_CUSTOMERS")
	require.NoError(t, err)

	// Each real-time pause lets a refresh land before the server clock jumps.
	for i := 0; i < 3; i++ {
		time.Sleep(600 * time.Millisecond)
		mr.FastForward(800 * time.Millisecond)
	}

	_, err = r.Acquire(ctx, "kpi:TOP_CUSTOMERS")
	assert.ErrorIs(t, err, lock.ErrNotAcquired, "lock expired while its holder was still running")

	release()

	again, err := r.Acquire(ctx, "kpi:TOP_CUSTOMERS")
	require.NoError(t, err)
	again()
}

func TestRedis_RejectsNonPositiveTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	_, err := lock.NewRedis(context.Background(), mr.Addr(), 0, 0, 0, zaptest.NewLogger(t))
	assert.Error(t, err)
}
