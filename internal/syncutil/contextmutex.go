package syncutil

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a key could not be locked before the
// configured wait budget ran out. Callers surface it as a concurrent
// modification and let the client retry.
var ErrLockTimeout = errors.New("lock wait timed out")

const shardCount = 256

// ContextShardedMutex provides a fixed-size pool of channel-based mutexes
// keyed by string. Callers can bail out if their context is cancelled or
// the wait budget expires while waiting to acquire a lock.
//
// Keys that hash to the same shard share a lock, so a goroutine must never
// hold one key while acquiring another key from the same pool. Use separate
// pools for separate resource kinds (accounts, tasks).
type ContextShardedMutex struct {
	shards  [shardCount]chanMutex
	once    sync.Once
	timeout time.Duration
}

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel.
type chanMutex struct {
	ch chan struct{}
}

// NewContextShardedMutex creates a new context-aware sharded mutex. A zero
// timeout means callers wait until their own context is done.
func NewContextShardedMutex(timeout time.Duration) *ContextShardedMutex {
	m := &ContextShardedMutex{timeout: timeout}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // Start unlocked.
		}
	})
}

// LockContext acquires the mutex for the given key. On success it returns an
// unlock function the caller MUST call. If the parent context is cancelled
// its error is returned; if only the wait budget expired, ErrLockTimeout is.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	// Fast path.
	select {
	case <-shard.ch:
		return m.unlocker(shard), nil
	default:
	}

	waitCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	select {
	case <-shard.ch:
		return m.unlocker(shard), nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrLockTimeout
	}
}

func (m *ContextShardedMutex) unlocker(shard *chanMutex) func() {
	var once sync.Once
	return func() {
		once.Do(func() { shard.ch <- struct{}{} })
	}
}

func (m *ContextShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
