package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("jobs_kreatif/1")
			defer unlock()
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, km.Len(), "unused keys should be dropped")
}

func TestKeyedMutexDistinctKeysIndependent(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	unlockB, ok := km.TryLock("b")
	require.True(t, ok)
	unlockB()

	_, ok = km.TryLock("a")
	assert.False(t, ok)
}

func TestKeyedMutexLockContextCancelled(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("k")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := km.LockContext(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, km.Len())
}

func TestLocal(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "user-1")
	require.NoError(t, err)

	_, ok, err := l.TryLock(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := l.TryLock(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, ok)
	other()

	unlock()
	again, ok, _ := l.TryLock(ctx, "user-1")
	assert.True(t, ok)
	again()
}

var _ Locker = (*Local)(nil)
var _ Locker = (*Redis)(nil)
