package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cachepulse/cachepulse/pkg/types"
)

// LocalCache implements a thread-safe, entry-bounded LRU cache. It is
// the fastest tier in a hierarchy and the only one whose entries this
// process owns. All mutations run under a single mutex with O(1)
// critical sections that never perform I/O.
type LocalCache struct {
	mu          sync.Mutex
	capacity    int
	defaultTTL  time.Duration
	items       map[string]*localEntry
	evictList   *list.List
	memoryBytes int64

	counters types.OpCounters
}

// localEntry is owned exclusively by the cache; it is destroyed on
// eviction, explicit delete, or clear.
type localEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
	element   *list.Element
}

// LocalConfig configures the local tier.
type LocalConfig struct {
	// Capacity is the maximum number of entries. Inserting into a full
	// cache evicts the least-recently-used entry first.
	Capacity int

	// DefaultTTL applies when Set is called with a zero ttl. Expiry is
	// lazy: an expired entry is dropped on the next access, there is no
	// background sweep.
	DefaultTTL time.Duration
}

// NewLocalCache creates a new bounded LRU cache.
func NewLocalCache(cfg LocalConfig) *LocalCache {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 10000
	}

	return &LocalCache{
		capacity:   capacity,
		defaultTTL: cfg.DefaultTTL,
		items:      make(map[string]*localEntry),
		evictList:  list.New(),
	}
}

// Name identifies the tier in logs and metrics.
func (c *LocalCache) Name() string { return "local" }

// Get retrieves a value and refreshes its recency. An expired entry is
// removed and counted as a miss.
func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	start := time.Now()

	c.mu.Lock()
	entry, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		c.counters.Miss(time.Since(start))
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.removeLocked(entry)
		c.mu.Unlock()
		c.counters.Miss(time.Since(start))
		return nil, false, nil
	}

	c.evictList.MoveToFront(entry.element)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	c.mu.Unlock()

	c.counters.Hit(time.Since(start))
	return value, true, nil
}

// Set stores a value. An existing key is replaced and its recency
// refreshed; a new key on a full cache evicts the least-recently-used
// entry first. A zero ttl falls back to the configured default.
func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	if entry, exists := c.items[key]; exists {
		c.memoryBytes += int64(len(stored)) - int64(len(entry.value))
		entry.value = stored
		entry.expiresAt = expiresAt
		c.evictList.MoveToFront(entry.element)
		c.mu.Unlock()
		c.counters.Request(time.Since(start))
		return nil
	}

	if len(c.items) >= c.capacity {
		c.evictOldestLocked()
	}

	entry := &localEntry{key: key, value: stored, expiresAt: expiresAt}
	entry.element = c.evictList.PushFront(entry)
	c.items[key] = entry
	c.memoryBytes += int64(len(stored))
	c.mu.Unlock()

	c.counters.Request(time.Since(start))
	return nil
}

// Delete removes a key. Absent keys are not an error.
func (c *LocalCache) Delete(_ context.Context, key string) error {
	c.Remove(key)
	return nil
}

// Remove removes a key and reports whether it was present.
func (c *LocalCache) Remove(key string) bool {
	start := time.Now()

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		c.removeLocked(entry)
	}
	c.mu.Unlock()

	c.counters.Request(time.Since(start))
	return exists
}

// Clear empties the storage and recency structure. Hit/miss counters
// are kept across clears; use ResetStats to drop them explicitly.
func (c *LocalCache) Clear(_ context.Context) error {
	start := time.Now()

	c.mu.Lock()
	c.items = make(map[string]*localEntry)
	c.evictList.Init()
	c.memoryBytes = 0
	c.mu.Unlock()

	c.counters.Request(time.Since(start))
	return nil
}

// ResetStats zeroes the historical counters.
func (c *LocalCache) ResetStats() {
	c.counters.Reset()
}

// Len returns the current number of entries.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Metrics returns a snapshot of this tier's counters.
func (c *LocalCache) Metrics() types.CacheMetrics {
	c.mu.Lock()
	memory := c.memoryBytes
	c.mu.Unlock()
	return c.counters.Snapshot(memory)
}

func (c *LocalCache) removeLocked(entry *localEntry) {
	c.evictList.Remove(entry.element)
	delete(c.items, entry.key)
	c.memoryBytes -= int64(len(entry.value))
}

func (c *LocalCache) evictOldestLocked() {
	element := c.evictList.Back()
	if element == nil {
		return
	}
	c.removeLocked(element.Value.(*localEntry))
	c.counters.Eviction()
}
