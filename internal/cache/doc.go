/*
Package cache implements the multi-tier cache hierarchy: a bounded
in-process LRU tier and an orchestrator that layers it over remote
adapters.

# Local Tier

LocalCache is an entry-bounded LRU store. Recency is tracked with a
doubly-linked list (container/list); the map plus list give O(1) get,
set, delete, and eviction under one mutex. TTL on the local tier is
advisory: expired entries are dropped lazily on access, there is no
background sweep.

# Hierarchy

Hierarchy owns the ordered tier list and implements the three core
behaviors:

  - read with promotion: first hit wins, the value is copied into every
    faster tier before returning, and a failing tier is just a miss
  - write-through: Set reaches every tier, all attempted even when some
    fail, with aggregate partial-failure reporting
  - best-effort fan-out: Delete and Clear follow the same rule

Remote tier calls are bounded by a configurable timeout and never run
under the local tier's lock. Per-key singleflight coalescing of
concurrent gets is available behind an option.
*/
package cache
