// Package lock provides an optional per-identifier critical section used to
// serialize concurrent runs against the same order.
package lock

import (
	"context"
	"fmt"
	"hash/fnv"
)

// Locker acquires an exclusive section for key. The returned unlock func
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Noop never blocks. It is the default when callers serialize upstream.
type Noop struct{}

func (Noop) Lock(context.Context, string) (func(), error) { return func() {}, nil }

const numShards = 128

// KeyedMutex serializes work per key within one process. Keys are spread
// over a fixed set of shards, so unrelated keys may occasionally share one.
type KeyedMutex struct {
	shards [numShards]chan struct{}
}

// NewKeyedMutex returns a ready KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock blocks until the shard for key is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	sh := m.shards[shardFor(key)]
	select {
	case sh <- struct{}{}:
		return func() { <-sh }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %q: %w", key, ctx.Err())
	}
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % numShards
}
