package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// shard owns a slice of the key space. Each check is a single
// increment-or-reset critical section under the shard mutex, so concurrent
// bursts from one client cannot undercount.
type shard struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is an in-process fixed-window limiter with key-sharded
// counters. Safe for concurrent use.
type MemoryLimiter struct {
	window time.Duration
	max    int
	shards [shardCount]*shard

	// now is swappable in tests.
	now func() time.Time
}

// NewMemoryLimiter creates a limiter allowing max requests per window per key.
func NewMemoryLimiter(window time.Duration, max int) *MemoryLimiter {
	l := &MemoryLimiter{window: window, max: max, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*windowEntry)}
	}
	return l
}

// Check implements Limiter. It never returns an error.
func (l *MemoryLimiter) Check(_ context.Context, key string) (Decision, error) {
	s := l.shards[shardIndex(key)]
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		// First request from this key, or the previous window has expired.
		e = &windowEntry{count: 1, resetAt: now.Add(l.window)}
		s.entries[key] = e
		return Decision{Allowed: true, Remaining: l.max - 1, ResetAt: e.resetAt}, nil
	}

	if e.count < l.max {
		e.count++
		return Decision{Allowed: true, Remaining: l.max - e.count, ResetAt: e.resetAt}, nil
	}

	return Decision{Allowed: false, Remaining: 0, ResetAt: e.resetAt}, nil
}

// Sweep removes expired entries. Called periodically by the owner to keep the
// maps from growing with one entry per client key forever.
func (l *MemoryLimiter) Sweep() {
	now := l.now()
	for _, s := range l.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if !now.Before(e.resetAt) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
