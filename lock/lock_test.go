package lock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/lock"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence"
)

func TestLocal_SerializesOneSeries(t *testing.T) {
	// GIVEN: Many goroutines locking the same series
	// THEN: At most one holds it at any time
	l := lock.NewLocal()
	var holders, maxHolders int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "s1")
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
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHolders)
}

func TestLocal_DifferentSeriesDoNotBlock(t *testing.T) {
	l := lock.NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_TimesOutWhileHeld(t *testing.T) {
	l := lock.NewLocal()
	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "s1")
	assert.ErrorIs(t, err, recurrence.ErrSeriesLocked)
	assert.True(t, recurrence.IsRetryable(err))

	// Unlock is idempotent and frees the series.
	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	again()
}

// TestRedis runs against a real server when REDIS_ADDR is set.
func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	r := lock.NewRedisFromAddr(addr, os.Getenv("REDIS_PASSWORD"), 0)
	defer r.Close()
	require.NoError(t, r.Ping(t.Context()))
	r.Wait = 100 * time.Millisecond
	r.Retry = 10 * time.Millisecond

	id := recurrence.NewSeriesID()
	unlock, err := r.Lock(t.Context(), id)
	require.NoError(t, err)

	_, err = r.Lock(t.Context(), id)
	assert.ErrorIs(t, err, recurrence.ErrSeriesLocked)

	unlock()
	again, err := r.Lock(t.Context(), id)
	require.NoError(t, err)
	again()
}
