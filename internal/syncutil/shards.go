// Package syncutil provides keyed locks with bounded memory. Keys hash onto
// a fixed set of shards, so two unrelated keys occasionally share a lock.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// ShardedMutex serializes work per key, e.g. postings to one wallet.
// The zero value is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardOf(key)]
	mu.Lock()
	return mu.Unlock
}

// ContextShardedMutex is a ShardedMutex whose waiters give up when their
// context ends. Each shard is a one-slot channel holding the token. The
// zero value is ready to use.
type ContextShardedMutex struct {
	once   sync.Once
	shards [shardCount]chan struct{}
}

// NewContextShardedMutex returns a ready mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// LockContext waits for the lock on key. It returns the unlock function,
// or ctx.Err() if ctx ends first; the caller must call unlock exactly once.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	token := m.shards[shardOf(key)]
	select {
	case <-token:
		return func() { token <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
