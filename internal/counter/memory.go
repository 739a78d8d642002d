package counter

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 16

// MemoryStore is an in-process fixed-window counter. State is sharded
// by key hash so serialization stays scoped to a slice of the keyspace
// rather than one process-wide lock.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

type memoryShard struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].windows = make(map[string]*window)
	}
	return s
}

// Increment implements Store. It never fails.
func (s *MemoryStore) Increment(_ context.Context, key string, winDur time.Duration) (Hit, error) {
	if winDur <= 0 {
		winDur = time.Second
	}
	now := time.Now()

	shard := &s.shards[shardIndex(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	w := shard.windows[key]
	if w == nil || !now.Before(w.expiresAt) {
		w = &window{count: 0, expiresAt: now.Add(winDur)}
		shard.windows[key] = w
	}
	w.count++
	return Hit{TotalHits: w.count, ResetAfter: w.expiresAt.Sub(now)}, nil
}

// Prune drops windows that have already expired. Returns the number of
// entries removed.
func (s *MemoryStore) Prune() int {
	now := time.Now()
	pruned := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for k, w := range shard.windows {
			if !now.Before(w.expiresAt) {
				delete(shard.windows, k)
				pruned++
			}
		}
		shard.mu.Unlock()
	}
	return pruned
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % memoryShards)
}
