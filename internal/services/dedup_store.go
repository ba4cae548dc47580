package services

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultTrackerCapacity = 1000
	DefaultTrackerTTL      = time.Hour
)

// DedupStore remembers which (backend, request id) pairs were admitted recently
type DedupStore interface {
	// Add records the pair; added is false when it is already present
	Add(ctx context.Context, backend, requestID string, firstSeen time.Time) (added bool, err error)
	// Len counts the live entries for a backend
	Len(ctx context.Context, backend string) (int, error)
	// Forget drops the pair so the same id can be admitted again
	Forget(ctx context.Context, backend, requestID string) error
	// Cleanup drops expired entries and returns how many were removed
	Cleanup() int
	Name() string
}

// MemoryDedupStore keeps entries in process memory. Each backend has its own
// TTL cache, insertion-ordered list and mutex; when a backend is at capacity
// the oldest insertion is evicted.
type MemoryDedupStore struct {
	backends sync.Map // map[string]*memoryBucket
	capacity int
	ttl      time.Duration
}

type memoryBucket struct {
	mu      sync.Mutex
	entries *cache.Cache
	order   *list.List // of string ids, oldest first
	index   map[string]*list.Element
}

// NewMemoryDedupStore creates an in-process store
func NewMemoryDedupStore(capacity int, ttl time.Duration) *MemoryDedupStore {
	if capacity <= 0 {
		capacity = DefaultTrackerCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTrackerTTL
	}
	return &MemoryDedupStore{capacity: capacity, ttl: ttl}
}

func (s *MemoryDedupStore) Name() string { return "memory" }

func (s *MemoryDedupStore) bucket(backend string) *memoryBucket {
	if b, ok := s.backends.Load(backend); ok {
		return b.(*memoryBucket)
	}
	// no janitor goroutine; the cleanup job calls Cleanup
	newBucket := &memoryBucket{
		entries: cache.New(s.ttl, 0),
		order:   list.New(),
		index:   make(map[string]*list.Element),
	}
	actual, _ := s.backends.LoadOrStore(backend, newBucket)
	return actual.(*memoryBucket)
}

func (s *MemoryDedupStore) Add(_ context.Context, backend, requestID string, firstSeen time.Time) (bool, error) {
	b := s.bucket(backend)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, found := b.entries.Get(requestID); found {
		return false, nil
	}
	// expired but not yet cleaned up
	if el, stale := b.index[requestID]; stale {
		b.order.Remove(el)
		delete(b.index, requestID)
	}

	b.pruneExpired()
	for b.order.Len() >= s.capacity {
		b.evict(b.order.Front())
	}

	b.entries.SetDefault(requestID, firstSeen)
	b.index[requestID] = b.order.PushBack(requestID)
	return true, nil
}

func (s *MemoryDedupStore) Len(_ context.Context, backend string) (int, error) {
	b := s.bucket(backend)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneExpired()
	return b.order.Len(), nil
}

func (s *MemoryDedupStore) Forget(_ context.Context, backend, requestID string) error {
	b := s.bucket(backend)

	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.index[requestID]; ok {
		b.evict(el)
	}
	return nil
}

func (s *MemoryDedupStore) Cleanup() int {
	removed := 0
	s.backends.Range(func(_, value any) bool {
		b := value.(*memoryBucket)
		b.mu.Lock()
		b.entries.DeleteExpired()
		for el := b.order.Front(); el != nil; {
			next := el.Next()
			if _, found := b.entries.Get(el.Value.(string)); !found {
				b.order.Remove(el)
				delete(b.index, el.Value.(string))
				removed++
			}
			el = next
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// pruneExpired drops expired entries from the front. All entries share one TTL,
// so insertion order is also expiry order. Caller holds b.mu.
func (b *memoryBucket) pruneExpired() {
	for el := b.order.Front(); el != nil; el = b.order.Front() {
		if _, found := b.entries.Get(el.Value.(string)); found {
			return
		}
		b.evict(el)
	}
}

func (b *memoryBucket) evict(el *list.Element) {
	id := el.Value.(string)
	b.order.Remove(el)
	delete(b.index, id)
	b.entries.Delete(id)
}

// RedisDedupStore keeps entries in Redis so several relay processes share one
// dedup set. Expiry is left to Redis; there is no capacity bound.
type RedisDedupStore struct {
	redis *RedisService
	ttl   time.Duration
}

// NewRedisDedupStore creates a store backed by redis
func NewRedisDedupStore(redis *RedisService, ttl time.Duration) *RedisDedupStore {
	if ttl <= 0 {
		ttl = DefaultTrackerTTL
	}
	return &RedisDedupStore{redis: redis, ttl: ttl}
}

func (s *RedisDedupStore) Name() string { return "redis" }

func dedupKey(backend, requestID string) string {
	return fmt.Sprintf("request:%s:%s", backend, requestID)
}

func (s *RedisDedupStore) Add(ctx context.Context, backend, requestID string, firstSeen time.Time) (bool, error) {
	added, err := s.redis.SetNX(ctx, dedupKey(backend, requestID), firstSeen.UnixMilli(), s.ttl)
	if err != nil {
		return false, fmt.Errorf("redis SETNX failed: %w", err)
	}
	return added, nil
}

func (s *RedisDedupStore) Len(ctx context.Context, backend string) (int, error) {
	return s.redis.CountKeys(ctx, dedupKey(backend, "*"))
}

func (s *RedisDedupStore) Forget(ctx context.Context, backend, requestID string) error {
	if err := s.redis.Delete(ctx, dedupKey(backend, requestID)); err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	return nil
}

func (s *RedisDedupStore) Cleanup() int { return 0 }
