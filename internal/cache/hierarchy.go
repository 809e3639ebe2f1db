package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	cperrors "github.com/cachepulse/cachepulse/pkg/errors"
	"github.com/cachepulse/cachepulse/pkg/types"
)

// Hierarchy orchestrates an ordered list of cache tiers: the local tier
// at index 0, then zero or more remote adapters in increasing-latency
// order. Reads promote hits into faster tiers, writes go through to
// every tier, deletes and clears fan out best-effort.
//
// The hierarchy holds shared references to the tiers; adapter lifecycles
// (connections) belong to the caller.
type Hierarchy struct {
	tiers    []types.Tier
	opts     HierarchyOptions
	logger   *zap.Logger
	group    singleflight.Group
	observer func(tier int, backend string, hit bool)
}

// HierarchyOptions configures hierarchy behavior.
type HierarchyOptions struct {
	// AdapterTimeout bounds every call to a remote tier (index > 0). A
	// timed-out call counts as a miss on get and as that tier's failure
	// on set/delete/clear; it never blocks the whole operation.
	AdapterTimeout time.Duration

	// Singleflight coalesces concurrent Get calls for the same key so
	// that only one tier scan runs at a time per key. Off by default;
	// concurrent misses then each fall through independently.
	Singleflight bool
}

// NewHierarchy creates a hierarchy over the given tiers. Tier order is
// significant: index 0 must be the fastest (local) tier.
func NewHierarchy(tiers []types.Tier, opts HierarchyOptions, logger *zap.Logger) (*Hierarchy, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("hierarchy requires at least one tier")
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hierarchy{
		tiers:  tiers,
		opts:   opts,
		logger: logger.With(zap.String("component", "hierarchy")),
	}, nil
}

// Tiers returns the number of tiers.
func (h *Hierarchy) Tiers() int { return len(h.tiers) }

// SetObserver registers a callback invoked once per tier scanned by
// Get, with that tier's outcome; an erroring tier observes as a miss.
// Must be set before the hierarchy serves traffic.
func (h *Hierarchy) SetObserver(fn func(tier int, backend string, hit bool)) {
	h.observer = fn
}

func (h *Hierarchy) observe(tier int, backend string, hit bool) {
	if h.observer != nil {
		h.observer(tier, backend, hit)
	}
}

type lookupResult struct {
	value []byte
	found bool
}

// Get scans tiers fastest-first and returns the first hit, copying the
// value into every faster tier before returning. Adapter errors count
// as a miss for that tier only; Get itself never fails.
func (h *Hierarchy) Get(ctx context.Context, key string) ([]byte, bool) {
	if !h.opts.Singleflight {
		return h.lookup(ctx, key)
	}

	v, _, _ := h.group.Do(key, func() (interface{}, error) {
		// The coalesced scan is shared by every waiter, so it runs on a
		// context detached from the caller that happened to start it:
		// that caller cancelling must not feed a spurious miss to the
		// others. Per-tier adapter timeouts still apply.
		value, found := h.lookup(context.WithoutCancel(ctx), key)
		return lookupResult{value: value, found: found}, nil
	})
	res := v.(lookupResult)
	return res.value, res.found
}

func (h *Hierarchy) lookup(ctx context.Context, key string) ([]byte, bool) {
	for i, tier := range h.tiers {
		tctx, cancel := h.tierContext(ctx, i)
		value, found, err := tier.Get(tctx, key)
		cancel()

		if err != nil {
			h.logger.Warn("tier get failed, treating as miss",
				zap.Int("tier", i),
				zap.String("backend", tier.Name()),
				zap.Error(err),
			)
			h.observe(i, tier.Name(), false)
			continue
		}
		h.observe(i, tier.Name(), found)
		if found {
			if i > 0 {
				h.promote(ctx, key, value, i)
			}
			return value, true
		}
	}
	return nil, false
}

// promote copies a value produced by a hit at hitTier into every tier
// with a smaller index, fastest first. Promotion failures are logged
// and never fail the read: the caller already has the correct value.
func (h *Hierarchy) promote(ctx context.Context, key string, value []byte, hitTier int) {
	for i := 0; i < hitTier; i++ {
		tctx, cancel := h.tierContext(ctx, i)
		err := h.tiers[i].Set(tctx, key, value, 0)
		cancel()

		if err != nil {
			h.logger.Warn("promotion write failed",
				zap.Int("tier", i),
				zap.String("backend", h.tiers[i].Name()),
				zap.Error(err),
			)
		}
	}
}

// Set writes through to every tier unconditionally. All tiers are
// attempted concurrently and joined; if any failed, the returned
// *errors.PartialFailureError lists the failed tier indices. There is
// no rollback of the tiers that succeeded.
func (h *Hierarchy) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return h.fanOut(ctx, "set", func(tctx context.Context, tier types.Tier) error {
		return tier.Set(tctx, key, value, ttl)
	})
}

// Delete removes the key from every tier. A tier reporting the key as
// absent counts as success; aggregate failure reporting matches Set.
func (h *Hierarchy) Delete(ctx context.Context, key string) error {
	return h.fanOut(ctx, "delete", func(tctx context.Context, tier types.Tier) error {
		return tier.Delete(tctx, key)
	})
}

// Clear empties every tier, with the same aggregate-success rule as
// Delete.
func (h *Hierarchy) Clear(ctx context.Context) error {
	return h.fanOut(ctx, "clear", func(tctx context.Context, tier types.Tier) error {
		return tier.Clear(tctx)
	})
}

// Metrics returns each tier's own counters keyed by position
// ("tier_0", "tier_1", ...). No cross-tier aggregation is performed;
// callers that want a single number combine explicitly.
func (h *Hierarchy) Metrics() map[string]types.CacheMetrics {
	out := make(map[string]types.CacheMetrics, len(h.tiers))
	for i, tier := range h.tiers {
		out[fmt.Sprintf("tier_%d", i)] = tier.Metrics()
	}
	return out
}

// TierNames returns the backend label for each tier position.
func (h *Hierarchy) TierNames() []string {
	names := make([]string, len(h.tiers))
	for i, tier := range h.tiers {
		names[i] = tier.Name()
	}
	return names
}

// fanOut issues op against every tier concurrently, waits for all of
// them, and folds per-tier failures into a PartialFailureError.
func (h *Hierarchy) fanOut(ctx context.Context, op string, fn func(context.Context, types.Tier) error) error {
	var (
		mu       sync.Mutex
		failures map[int]error
		wg       sync.WaitGroup
	)

	for i, tier := range h.tiers {
		wg.Add(1)
		go func(i int, tier types.Tier) {
			defer wg.Done()

			tctx, cancel := h.tierContext(ctx, i)
			defer cancel()

			if err := fn(tctx, tier); err != nil {
				h.logger.Warn("tier operation failed",
					zap.String("op", op),
					zap.Int("tier", i),
					zap.String("backend", tier.Name()),
					zap.Error(err),
				)
				mu.Lock()
				if failures == nil {
					failures = make(map[int]error)
				}
				failures[i] = err
				mu.Unlock()
			}
		}(i, tier)
	}
	wg.Wait()

	if pf := cperrors.NewPartialFailure(op, failures); pf != nil {
		return pf
	}
	return nil
}

// tierContext bounds remote tier calls with the adapter timeout. The
// local tier (index 0 when it is a *LocalCache) performs no I/O, but a
// uniform deadline is harmless and keeps the call sites simple.
func (h *Hierarchy) tierContext(ctx context.Context, tier int) (context.Context, context.CancelFunc) {
	if tier == 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.opts.AdapterTimeout)
}
