package types

import (
	"sync/atomic"
	"time"
)

// OpCounters accumulates the hit/miss/latency bookkeeping shared by all
// tier implementations. The zero value is ready to use. All methods are
// safe for concurrent callers; individual counters are independently
// atomic, so a Snapshot taken during concurrent updates may be off by a
// few in-flight operations but never inconsistent in its arithmetic.
type OpCounters struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	requests  atomic.Uint64
	latencyNS atomic.Int64
}

// Hit records a cache hit and the time the lookup took.
func (c *OpCounters) Hit(d time.Duration) {
	c.hits.Add(1)
	c.requests.Add(1)
	c.latencyNS.Add(int64(d))
}

// Miss records a cache miss and the time the lookup took.
func (c *OpCounters) Miss(d time.Duration) {
	c.misses.Add(1)
	c.requests.Add(1)
	c.latencyNS.Add(int64(d))
}

// Request records a non-lookup operation (set, delete, clear) for the
// request count and average latency without touching hit/miss counters.
func (c *OpCounters) Request(d time.Duration) {
	c.requests.Add(1)
	c.latencyNS.Add(int64(d))
}

// Eviction records a single evicted entry.
func (c *OpCounters) Eviction() {
	c.evictions.Add(1)
}

// Snapshot builds a CacheMetrics from the current counter values.
// memoryBytes is supplied by the caller because only the tier knows its
// resident size.
func (c *OpCounters) Snapshot(memoryBytes int64) CacheMetrics {
	m := CacheMetrics{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Requests:    c.requests.Load(),
		MemoryBytes: memoryBytes,
	}

	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
		m.MissRate = float64(m.Misses) / float64(total)
	}

	if m.Requests > 0 {
		m.AvgLatency = time.Duration(c.latencyNS.Load() / int64(m.Requests))
	}

	return m
}

// Reset zeroes all counters. Used only when a caller explicitly asks to
// drop historical statistics; Clear on a tier does not reset counters.
func (c *OpCounters) Reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.requests.Store(0)
	c.latencyNS.Store(0)
}
