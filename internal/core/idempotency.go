package core

import (
	"CustodyLedger/internal/observability"
	"container/list"
	"context"
	"sync"
)

// ProcessedLookup is the durable tier of report deduplication.
// store.Reader satisfies it.
type ProcessedLookup interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication of inbound reports:
// an in-memory LRU in front of the processed-message table. It is only an
// early filter; the unit of work that applies a report records the key
// itself and is the authority.
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU
	lru *IdempotencyLRU

	// Tier 2: processed-message table
	lookup ProcessedLookup

	metrics *observability.Metrics
}

func NewIdempotencyChecker(capacity int, lookup ProcessedLookup, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:     NewIdempotencyLRU(capacity),
		lookup:  lookup,
		metrics: metrics,
	}
}

// IsDuplicate checks whether key was already applied. A failing tier-2
// lookup is reported as not-duplicate: the unit of work rejects replays.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, key string) bool {
	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(key) {
		ic.recordDuplicate("lru")
		return true
	}

	// Tier 2: processed-message table (cold path)
	if ic.lookup == nil {
		return false
	}
	dup, err := ic.lookup.IsProcessed(ctx, key)
	if err != nil {
		ic.recordDuplicate("lookup_error")
		return false
	}
	if dup {
		ic.recordDuplicate("store")
		ic.MarkProcessed(key)
		return true
	}
	return false
}

// MarkProcessed adds key to the LRU after its unit of work committed.
func (ic *IdempotencyChecker) MarkProcessed(key string) {
	ic.lru.Add(key)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

// Warm preloads recently processed keys, oldest first, so a restart does
// not send every redelivery to the durable tier.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
	}
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}

// --- LRU Implementation ---

// IdempotencyLRU is a bounded LRU set of idempotency keys. Safe for
// concurrent use.
type IdempotencyLRU struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
	}
	return exists
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	lru.add(key)
}

// WarmFromKeys loads recently processed keys, oldest first, so a restart
// does not send every redelivery to the cold path.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	for _, key := range keys {
		lru.add(key)
	}
}

func (lru *IdempotencyLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		oldest := lru.lruList.Back()
		lru.lruList.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
		lru.evictions++
	}
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.lruList.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.evictions
}
