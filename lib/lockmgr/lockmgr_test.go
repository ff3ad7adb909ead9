package lockmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	lm := NewLockManager(0, 0)
	defer lm.Close()

	ok, owner, err := lm.AcquireLock("b", "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, owner)

	ok, _, err = lm.AcquireLock("b", "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	ok, _, err = lm.AcquireLock("b", "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per key")

	released, err := lm.ReleaseLock("b", "k", "someone-else")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = lm.ReleaseLock("b", "k", owner)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = lm.ReleaseLock("b", "k", owner)
	require.NoError(t, err)
	assert.True(t, released, "releasing a missing lock succeeds")
	assert.Equal(t, 1, lm.Held())
}

func TestConcurrencyCeiling(t *testing.T) {
	lm := NewLockManager(2, time.Minute)
	defer lm.Close()

	for _, key := range []string{"a", "b"} {
		ok, _, err := lm.AcquireLock("bucket", key, 0)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, _, err := lm.AcquireLock("bucket", "c", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lm.Lock(ctx, "bucket", "c")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLeaseExpiry(t *testing.T) {
	lm := NewLockManager(0, time.Minute)
	defer lm.Close()

	ok, _, err := lm.AcquireLock("b", "k", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool { return lm.Held() == 0 }, 2*time.Second, 10*time.Millisecond)

	ok, _, err = lm.AcquireLock("b", "k", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockWaitsForRelease(t *testing.T) {
	lm := NewLockManager(0, 0)
	defer lm.Close()

	unlock, err := lm.Lock(context.Background(), "b", "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := lm.Lock(context.Background(), "b", "k")
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second lock not acquired after release")
	}
}

func TestLockMutualExclusion(t *testing.T) {
	lm := NewLockManager(0, 0)
	defer lm.Close()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lm.Lock(context.Background(), "b", "k")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, lm.Held())
}

func TestClose(t *testing.T) {
	lm := NewLockManager(0, 0)
	lm.Close()
	lm.Close()

	_, _, err := lm.AcquireLock("b", "k", 0)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = lm.Lock(context.Background(), "b", "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLockAsHolder(t *testing.T) {
	lm := NewLockManager(0, 0)
	defer lm.Close()

	ok, owner, err := lm.AcquireLock("b", "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	unlock, err := lm.LockAs(context.Background(), "b", "k", owner)
	require.NoError(t, err)
	unlock()
	// the client lock survives the write
	assert.Equal(t, 1, lm.Held())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lm.LockAs(ctx, "b", "k", "someone-else")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	released, err := lm.ReleaseLock("b", "k", owner)
	require.NoError(t, err)
	require.True(t, released)

	// without a client lock, LockAs takes a lock of its own
	unlock, err = lm.LockAs(context.Background(), "b", "k", owner)
	require.NoError(t, err)
	assert.Equal(t, 1, lm.Held())
	unlock()
	assert.Equal(t, 0, lm.Held())
}
