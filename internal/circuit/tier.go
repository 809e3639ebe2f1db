package circuit

import (
	"context"
	"time"

	"go.uber.org/zap"

	cperrors "github.com/cachepulse/cachepulse/pkg/errors"
	"github.com/cachepulse/cachepulse/pkg/types"
)

// GuardedTier wraps a remote tier with a breaker. While the breaker is
// open every call fails fast with an unavailability error, which the
// hierarchy already treats as a miss on reads and a tier failure on
// writes.
type GuardedTier struct {
	tier    types.Tier
	breaker *Breaker
	logger  *zap.Logger
}

// Guard wraps a tier. The breaker observes every call outcome.
func Guard(tier types.Tier, cfg Config, logger *zap.Logger) *GuardedTier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardedTier{
		tier:    tier,
		breaker: New(cfg),
		logger: logger.With(
			zap.String("component", "circuit"),
			zap.String("backend", tier.Name()),
		),
	}
}

// Name identifies the wrapped tier.
func (g *GuardedTier) Name() string { return g.tier.Name() }

func (g *GuardedTier) rejected(op string) error {
	g.logger.Debug("request rejected by open circuit", zap.String("op", op))
	return cperrors.NewAdapterError(cperrors.KindUnavailable, g.tier.Name(), op, ErrOpen)
}

// Get passes through unless the circuit is open.
func (g *GuardedTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if g.breaker.Allow() != nil {
		return nil, false, g.rejected("get")
	}
	value, found, err := g.tier.Get(ctx, key)
	g.breaker.Record(err)
	return value, found, err
}

// Set passes through unless the circuit is open.
func (g *GuardedTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if g.breaker.Allow() != nil {
		return g.rejected("set")
	}
	err := g.tier.Set(ctx, key, value, ttl)
	g.breaker.Record(err)
	return err
}

// Delete passes through unless the circuit is open.
func (g *GuardedTier) Delete(ctx context.Context, key string) error {
	if g.breaker.Allow() != nil {
		return g.rejected("delete")
	}
	err := g.tier.Delete(ctx, key)
	g.breaker.Record(err)
	return err
}

// Clear passes through unless the circuit is open.
func (g *GuardedTier) Clear(ctx context.Context) error {
	if g.breaker.Allow() != nil {
		return g.rejected("clear")
	}
	err := g.tier.Clear(ctx)
	g.breaker.Record(err)
	return err
}

// Metrics reports the wrapped tier's counters.
func (g *GuardedTier) Metrics() types.CacheMetrics {
	return g.tier.Metrics()
}

// State exposes the breaker state for status reporting.
func (g *GuardedTier) State() State {
	return g.breaker.GetState()
}
