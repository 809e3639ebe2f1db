/*
Package types provides the core interfaces and data structures shared by
the cachepulse cache hierarchy and telemetry engine.

The package defines the contracts between components so that the
hierarchy, the backend adapters, the resource monitor, and the facade
stay loosely coupled and independently testable.

# Core Interface

Tier abstracts a single cache backend. The local in-process LRU store
and every remote adapter (Redis, Memcached, S3) implement it, so the
hierarchy iterates an ordered []Tier without knowing what sits behind
each position. Tier 0 is always the fastest (local) tier.

# Data Structures

CacheMetrics:
Per-tier counters with derived hit/miss rates. The rates are computed at
snapshot time from monotonically increasing counters; they sum to 1
whenever any request has been recorded and are both zero otherwise.

ResourceSnapshot:
One sampling of host CPU, memory, disk I/O, and network I/O. Snapshots
are owned by the resource monitor's ring buffer; callers always receive
copies.

Alert:
A transient threshold violation derived from a single snapshot. The
engine never persists alerts.

OpCounters:
The shared atomic counter block embedded by every tier implementation,
keeping the hit-rate arithmetic in exactly one place.

# Thread Safety

All interfaces defined here must be implemented thread-safe. OpCounters
is safe for concurrent use out of the box.
*/
package types
