package types

import (
	"context"
	"time"
)

// Tier is the uniform capability exposed by every cache tier, local or
// remote. The hierarchy is written once against this interface and is
// backend-agnostic.
//
// Implementations must be safe for concurrent use. Get reports a miss as
// (nil, false, nil); an error return still counts as a miss for that tier
// and carries the adapter failure for logging. Delete of an absent key is
// not an error. A zero ttl means the implementation's default (or no
// expiry where the backend has no notion of one).
type Tier interface {
	// Name returns a short label for logs and metrics ("local", "redis", ...).
	Name() string

	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	// Metrics returns a point-in-time snapshot of this tier's counters.
	Metrics() CacheMetrics
}
