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

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "ord-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestKeyedMutex_ContextCancelWhileWaiting(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "ord-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "ord-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedMutex_ReacquireAfterUnlock(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		unlock, err := m.Lock(ctx, "ord-1")
		require.NoError(t, err)
		unlock()
	}
}

func TestNoop(t *testing.T) {
	unlock, err := Noop{}.Lock(context.Background(), "x")
	require.NoError(t, err)
	unlock()
	unlock2, err := Noop{}.Lock(context.Background(), "x")
	require.NoError(t, err)
	unlock2()
}

func TestShardForStable(t *testing.T) {
	assert.Equal(t, shardFor("ord-1"), shardFor("ord-1"))
	assert.Less(t, shardFor("anything"), uint32(numShards))
}
