// Package metrics exposes cache and host telemetry in Prometheus
// format, on an optional HTTP endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cachepulse/cachepulse/internal/config"
	"github.com/cachepulse/cachepulse/pkg/types"
)

// Exporter owns a private Prometheus registry so tests and embedding
// applications never collide with the global one.
type Exporter struct {
	cfg      config.MetricsConfig
	registry *prometheus.Registry
	logger   *zap.Logger

	requestCounter *prometheus.CounterVec
	hitRateGauge   *prometheus.GaugeVec
	sizeGauge      *prometheus.GaugeVec
	evictionGauge  *prometheus.GaugeVec
	opDuration     *prometheus.HistogramVec
	resourceGauge  *prometheus.GaugeVec
	alertCounter   *prometheus.CounterVec

	server *http.Server
}

// New builds the exporter and registers its metric families.
func New(cfg config.MetricsConfig, logger *zap.Logger) (*Exporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "cachepulse"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	registry := prometheus.NewRegistry()
	e := &Exporter{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),

		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "cache_requests_total",
			Help:      "Cache requests by tier and result",
		}, []string{"tier", "backend", "result"}),

		hitRateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "cache_hit_rate",
			Help:      "Per-tier hit rate over the counter lifetime",
		}, []string{"tier", "backend"}),

		sizeGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "cache_memory_bytes",
			Help:      "Per-tier resident value bytes",
		}, []string{"tier", "backend"}),

		evictionGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "cache_evictions_total",
			Help:      "Per-tier evictions over the counter lifetime",
		}, []string{"tier", "backend"}),

		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Hierarchy operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"operation"}),

		resourceGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "host_resource",
			Help:      "Latest host resource sample",
		}, []string{"metric"}),

		alertCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "resource_alerts_total",
			Help:      "Threshold alerts by kind and severity",
		}, []string{"kind", "severity"}),
	}

	for _, c := range []prometheus.Collector{
		e.requestCounter, e.hitRateGauge, e.sizeGauge, e.evictionGauge,
		e.opDuration, e.resourceGauge, e.alertCounter,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return e, nil
}

// RecordOp observes one hierarchy operation.
func (e *Exporter) RecordOp(operation string, duration time.Duration) {
	e.opDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateTier publishes one tier's counter snapshot. Counters are
// exported as gauges set to the snapshot value: the tiers own the
// counting, the exporter just mirrors it.
func (e *Exporter) UpdateTier(tier, backend string, m types.CacheMetrics) {
	e.hitRateGauge.WithLabelValues(tier, backend).Set(m.HitRate)
	e.sizeGauge.WithLabelValues(tier, backend).Set(float64(m.MemoryBytes))
	e.evictionGauge.WithLabelValues(tier, backend).Set(float64(m.Evictions))
}

// CountRequest increments the request counter for one tier lookup.
func (e *Exporter) CountRequest(tier, backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	e.requestCounter.WithLabelValues(tier, backend, result).Inc()
}

// UpdateResources publishes the latest host snapshot.
func (e *Exporter) UpdateResources(snap types.ResourceSnapshot) {
	e.resourceGauge.WithLabelValues("cpu_percent").Set(snap.CPUPercent)
	e.resourceGauge.WithLabelValues("memory_percent").Set(snap.MemoryPercent)
	e.resourceGauge.WithLabelValues("memory_available_gb").Set(snap.MemoryAvailableGB)
	e.resourceGauge.WithLabelValues("disk_read_mbps").Set(snap.DiskReadMBps)
	e.resourceGauge.WithLabelValues("disk_write_mbps").Set(snap.DiskWriteMBps)
	e.resourceGauge.WithLabelValues("net_sent_mbps").Set(snap.NetSentMBps)
	e.resourceGauge.WithLabelValues("net_recv_mbps").Set(snap.NetRecvMBps)
}

// CountAlert increments the alert counter.
func (e *Exporter) CountAlert(alert types.Alert) {
	e.alertCounter.WithLabelValues(alert.Kind, alert.Severity).Inc()
}

// Handler returns the scrape handler for embedding into an existing
// HTTP mux.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Start serves the scrape endpoint on the configured port. No-op when
// the exporter is disabled in config.
func (e *Exporter) Start() error {
	if !e.cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(e.cfg.Path, e.Handler())

	e.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", e.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		e.logger.Info("metrics endpoint listening",
			zap.Int("port", e.cfg.Port),
			zap.String("path", e.cfg.Path),
		)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the scrape endpoint down.
func (e *Exporter) Stop(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}
