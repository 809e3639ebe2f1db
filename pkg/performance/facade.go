// Package performance is the composition surface of cachepulse: one
// facade over the cache hierarchy, the resource monitor, and the
// metrics exporter, plus a rule-based tuning advisor.
package performance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cachepulse/cachepulse/internal/backend/memcached"
	"github.com/cachepulse/cachepulse/internal/backend/redis"
	"github.com/cachepulse/cachepulse/internal/backend/s3"
	"github.com/cachepulse/cachepulse/internal/cache"
	"github.com/cachepulse/cachepulse/internal/circuit"
	"github.com/cachepulse/cachepulse/internal/config"
	"github.com/cachepulse/cachepulse/internal/logging"
	"github.com/cachepulse/cachepulse/internal/metrics"
	"github.com/cachepulse/cachepulse/internal/monitor"
	"github.com/cachepulse/cachepulse/pkg/types"
)

// Facade bundles the hierarchy with telemetry. All cache traffic in an
// embedding application should flow through it so the exporter sees
// every operation.
type Facade struct {
	hierarchy *cache.Hierarchy
	monitor   *monitor.Monitor
	exporter  *metrics.Exporter
	logger    *zap.Logger

	closers []func() error

	// lastAlertAt marks the snapshot whose alerts were already counted
	// into the exporter, so repeated Metrics calls over the same
	// snapshot do not inflate the alert counter.
	alertMu     sync.Mutex
	lastAlertAt time.Time
}

// Report is the merged view returned by Metrics: per-tier cache
// counters, the latest host snapshot when one exists, and the alerts
// that snapshot raises.
type Report struct {
	Tiers       map[string]types.CacheMetrics `json:"tiers"`
	TierNames   []string                      `json:"tier_names"`
	Resources   *types.ResourceSnapshot       `json:"resources,omitempty"`
	Alerts      []types.Alert                 `json:"alerts,omitempty"`
	GeneratedAt time.Time                     `json:"generated_at"`
}

// New assembles a facade from already-built parts. The exporter may be
// nil when telemetry export is not wanted.
func New(h *cache.Hierarchy, m *monitor.Monitor, e *metrics.Exporter, logger *zap.Logger) (*Facade, error) {
	if h == nil {
		return nil, fmt.Errorf("facade requires a hierarchy")
	}
	if m == nil {
		return nil, fmt.Errorf("facade requires a monitor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if e != nil {
		h.SetObserver(func(tier int, backend string, hit bool) {
			e.CountRequest(fmt.Sprintf("tier_%d", tier), backend, hit)
		})
	}

	return &Facade{
		hierarchy: h,
		monitor:   m,
		exporter:  e,
		logger:    logger.With(zap.String("component", "facade")),
	}, nil
}

// Build wires a complete facade from configuration: local tier, one
// adapter per configured remote tier, monitor, and exporter.
func Build(ctx context.Context, cfg *config.Configuration, logger *zap.Logger) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}

	tiers := []types.Tier{
		cache.NewLocalCache(cache.LocalConfig{
			Capacity:   cfg.Local.Capacity,
			DefaultTTL: cfg.Local.DefaultTTL,
		}),
	}
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, tc := range cfg.Tiers {
		tier, closer, err := buildTier(ctx, tc, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("tier %q: %w", tc.Name, err)
		}
		if cfg.Hierarchy.Breaker.Enabled {
			tier = circuit.Guard(tier, circuit.Config{
				FailureThreshold: cfg.Hierarchy.Breaker.FailureThreshold,
				Cooldown:         cfg.Hierarchy.Breaker.Cooldown,
			}, logger)
		}
		tiers = append(tiers, tier)
		if closer != nil {
			closers = append(closers, closer)
		}
	}

	h, err := cache.NewHierarchy(tiers, cache.HierarchyOptions{
		AdapterTimeout: cfg.Hierarchy.AdapterTimeout,
		Singleflight:   cfg.Hierarchy.Singleflight,
	}, logger)
	if err != nil {
		closeAll()
		return nil, err
	}

	mon, err := monitor.New(nil, monitor.Options{
		RingSize:       cfg.Monitor.RingSize,
		SampleInterval: cfg.Monitor.SampleInterval,
		Thresholds:     cfg.Monitor.Thresholds,
	}, logger)
	if err != nil {
		closeAll()
		return nil, err
	}

	var exp *metrics.Exporter
	if cfg.Metrics.Enabled {
		exp, err = metrics.New(cfg.Metrics, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
	}

	f, err := New(h, mon, exp, logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	f.closers = closers
	return f, nil
}

func buildTier(ctx context.Context, tc config.TierConfig, logger *zap.Logger) (types.Tier, func() error, error) {
	switch tc.Type {
	case config.TierTypeRedis:
		adapter, err := redis.New(ctx, redis.Config{
			Addr:     tc.Addr,
			Password: tc.Password,
			DB:       tc.DB,
			PoolSize: tc.PoolSize,
			Prefix:   tc.Prefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return adapter, adapter.Close, nil

	case config.TierTypeMemcached:
		adapter, err := memcached.New(memcached.Config{
			Addrs:   []string{tc.Addr},
			Timeout: tc.Timeout,
			Prefix:  tc.Prefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return adapter, nil, nil

	case config.TierTypeS3:
		adapter, err := s3.New(ctx, s3.Config{
			Bucket: tc.Bucket,
			Region: tc.Region,
			Prefix: tc.Prefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return adapter, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown tier type %q", tc.Type)
	}
}

// CacheGet reads through the hierarchy.
func (f *Facade) CacheGet(ctx context.Context, key string) ([]byte, bool) {
	start := time.Now()
	value, found := f.hierarchy.Get(ctx, key)
	f.record("get", start)
	return value, found
}

// CacheSet writes through every tier.
func (f *Facade) CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := f.hierarchy.Set(ctx, key, value, ttl)
	f.record("set", start)
	return err
}

// CacheDelete removes a key from every tier.
func (f *Facade) CacheDelete(ctx context.Context, key string) error {
	start := time.Now()
	err := f.hierarchy.Delete(ctx, key)
	f.record("delete", start)
	return err
}

// CacheClear empties every tier.
func (f *Facade) CacheClear(ctx context.Context) error {
	start := time.Now()
	err := f.hierarchy.Clear(ctx)
	f.record("clear", start)
	return err
}

func (f *Facade) record(op string, start time.Time) {
	if f.exporter != nil {
		f.exporter.RecordOp(op, time.Since(start))
	}
}

// Sample takes a host snapshot now, outside the background loop.
func (f *Facade) Sample(ctx context.Context) types.ResourceSnapshot {
	return f.monitor.Sample(ctx)
}

// Monitor exposes the resource monitor for threshold changes and
// trend queries.
func (f *Facade) Monitor() *monitor.Monitor { return f.monitor }

// Metrics merges tier counters, the latest host snapshot, and its
// alerts into one report, and mirrors the state into the exporter.
func (f *Facade) Metrics() Report {
	report := Report{
		Tiers:       f.hierarchy.Metrics(),
		TierNames:   f.hierarchy.TierNames(),
		GeneratedAt: time.Now(),
	}

	if snap, ok := f.monitor.Latest(); ok {
		report.Resources = &snap
		report.Alerts = f.monitor.Evaluate(snap)
	}

	if f.exporter != nil {
		for i, name := range report.TierNames {
			key := fmt.Sprintf("tier_%d", i)
			f.exporter.UpdateTier(key, name, report.Tiers[key])
		}
		if report.Resources != nil {
			f.exporter.UpdateResources(*report.Resources)
			f.countAlerts(report.Resources.TakenAt, report.Alerts)
		}
	}
	return report
}

// countAlerts feeds a snapshot's alerts into the exporter exactly once
// per snapshot, however often Metrics is called.
func (f *Facade) countAlerts(takenAt time.Time, alerts []types.Alert) {
	f.alertMu.Lock()
	defer f.alertMu.Unlock()

	if !takenAt.After(f.lastAlertAt) {
		return
	}
	f.lastAlertAt = takenAt
	for _, alert := range alerts {
		f.exporter.CountAlert(alert)
	}
}

// Recommend evaluates the tuning rules against the current state.
func (f *Facade) Recommend() []Recommendation {
	return Recommend(f.Metrics())
}

// Start launches background sampling and the metrics endpoint.
func (f *Facade) Start(ctx context.Context) error {
	f.monitor.Start(ctx)
	if f.exporter != nil {
		return f.exporter.Start()
	}
	return nil
}

// Stop halts background work and closes adapter connections.
func (f *Facade) Stop(ctx context.Context) error {
	f.monitor.Stop()
	var firstErr error
	if f.exporter != nil {
		firstErr = f.exporter.Stop(ctx)
	}
	for _, closer := range f.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
