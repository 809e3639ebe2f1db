// Package monitor samples host resource usage into a ring buffer,
// evaluates alert thresholds, and reports usage trends.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cachepulse/cachepulse/internal/config"
	"github.com/cachepulse/cachepulse/pkg/types"
)

const bytesPerMB = 1024 * 1024

// Metric names accepted by Trend.
const (
	MetricCPUPercent    = "cpu_percent"
	MetricMemoryPercent = "memory_percent"
	MetricDiskReadMBps  = "disk_read_mbps"
	MetricDiskWriteMBps = "disk_write_mbps"
	MetricNetSentMBps   = "net_sent_mbps"
	MetricNetRecvMBps   = "net_recv_mbps"
)

// Monitor owns a fixed-size ring of resource snapshots. Sample can be
// called on demand, or Start runs it on an interval until Stop.
type Monitor struct {
	probe  Probe
	logger *zap.Logger

	mu         sync.Mutex
	ring       []types.ResourceSnapshot
	head       int // next write position
	size       int // filled entries, up to len(ring)
	thresholds config.ThresholdConfig

	// previous cumulative counters for rate computation
	prevTime time.Time
	prevDisk [2]uint64
	prevNet  [2]uint64
	havePrev bool

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// Options configures a Monitor.
type Options struct {
	// RingSize caps the retained snapshot history. Defaults to 1000.
	RingSize int

	// SampleInterval drives the background loop started by Start.
	// Defaults to 10 seconds.
	SampleInterval time.Duration

	Thresholds config.ThresholdConfig
}

// New creates a monitor over the given probe. A nil probe reads the
// real host.
func New(probe Probe, opts Options, logger *zap.Logger) (*Monitor, error) {
	if probe == nil {
		probe = NewHostProbe()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RingSize <= 0 {
		opts.RingSize = 1000
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 10 * time.Second
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	return &Monitor{
		probe:      probe,
		logger:     logger.With(zap.String("component", "monitor")),
		ring:       make([]types.ResourceSnapshot, opts.RingSize),
		thresholds: opts.Thresholds,
		interval:   opts.SampleInterval,
		stopCh:     make(chan struct{}),
	}, nil
}

// Sample reads the host once and appends the snapshot to the ring. A
// metric that cannot be read is recorded in the snapshot's Missing list
// with its zero value; the sample itself never fails.
func (m *Monitor) Sample(ctx context.Context) types.ResourceSnapshot {
	now := time.Now()
	snap := types.ResourceSnapshot{TakenAt: now}

	cpuPct, err := m.probe.CPUPercent(ctx)
	if err != nil {
		m.recordMissing(&snap, "cpu_percent", err)
	} else {
		snap.CPUPercent = cpuPct
	}

	memPct, availBytes, err := m.probe.Memory(ctx)
	if err != nil {
		m.recordMissing(&snap, "memory_percent", err)
	} else {
		snap.MemoryPercent = memPct
		snap.MemoryAvailableGB = float64(availBytes) / (1024 * 1024 * 1024)
	}

	diskRead, diskWrite, diskErr := m.probe.DiskCounters(ctx)
	if diskErr != nil {
		m.recordMissing(&snap, "disk_io", diskErr)
	}
	netSent, netRecv, netErr := m.probe.NetCounters(ctx)
	if netErr != nil {
		m.recordMissing(&snap, "net_io", netErr)
	}

	m.mu.Lock()
	if m.havePrev {
		elapsed := now.Sub(m.prevTime).Seconds()
		if elapsed > 0 {
			if diskErr == nil {
				snap.DiskReadMBps = counterRate(m.prevDisk[0], diskRead, elapsed)
				snap.DiskWriteMBps = counterRate(m.prevDisk[1], diskWrite, elapsed)
			}
			if netErr == nil {
				snap.NetSentMBps = counterRate(m.prevNet[0], netSent, elapsed)
				snap.NetRecvMBps = counterRate(m.prevNet[1], netRecv, elapsed)
			}
		}
	}
	if diskErr == nil {
		m.prevDisk = [2]uint64{diskRead, diskWrite}
	}
	if netErr == nil {
		m.prevNet = [2]uint64{netSent, netRecv}
	}
	m.prevTime = now
	m.havePrev = true

	m.ring[m.head] = snap
	m.head = (m.head + 1) % len(m.ring)
	if m.size < len(m.ring) {
		m.size++
	}
	m.mu.Unlock()

	return snap
}

// counterRate converts a cumulative byte counter delta into MB/s. A
// counter reset (reboot, rollover) yields zero rather than a huge
// negative spike.
func counterRate(prev, cur uint64, elapsedSec float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / bytesPerMB / elapsedSec
}

func (m *Monitor) recordMissing(snap *types.ResourceSnapshot, metric string, err error) {
	snap.Missing = append(snap.Missing, metric)
	m.logger.Warn("host metric unreadable",
		zap.String("metric", metric),
		zap.Error(err),
	)
}

// Evaluate checks one snapshot against the thresholds. Each threshold
// fires independently; a snapshot can raise several alerts at once, and
// a metric listed as Missing never fires.
func (m *Monitor) Evaluate(snap types.ResourceSnapshot) []types.Alert {
	m.mu.Lock()
	th := m.thresholds
	m.mu.Unlock()

	missing := make(map[string]bool, len(snap.Missing))
	for _, metric := range snap.Missing {
		missing[metric] = true
	}

	var alerts []types.Alert
	if !missing["cpu_percent"] && snap.CPUPercent > th.CPUPercent {
		alerts = append(alerts, types.Alert{
			Kind:      types.AlertCPUHigh,
			Severity:  types.SeverityWarning,
			Message:   fmt.Sprintf("CPU usage %.1f%% exceeds %.1f%%", snap.CPUPercent, th.CPUPercent),
			Timestamp: snap.TakenAt,
		})
	}
	if !missing["memory_percent"] && snap.MemoryPercent > th.MemoryPercent {
		alerts = append(alerts, types.Alert{
			Kind:      types.AlertMemoryHigh,
			Severity:  types.SeverityCritical,
			Message:   fmt.Sprintf("memory usage %.1f%% exceeds %.1f%%", snap.MemoryPercent, th.MemoryPercent),
			Timestamp: snap.TakenAt,
		})
	}
	if !missing["disk_io"] && snap.DiskReadMBps > th.DiskReadMBps {
		alerts = append(alerts, types.Alert{
			Kind:      types.AlertDiskIOHigh,
			Severity:  types.SeverityWarning,
			Message:   fmt.Sprintf("disk reads %.1f MB/s exceed %.1f MB/s", snap.DiskReadMBps, th.DiskReadMBps),
			Timestamp: snap.TakenAt,
		})
	}

	for _, alert := range alerts {
		m.logger.Warn("resource alert",
			zap.String("kind", alert.Kind),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
	}
	return alerts
}

// SetThresholds replaces the alert thresholds after validation.
func (m *Monitor) SetThresholds(th config.ThresholdConfig) error {
	if err := th.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.thresholds = th
	m.mu.Unlock()
	return nil
}

// Thresholds returns the current alert thresholds.
func (m *Monitor) Thresholds() config.ThresholdConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// Latest returns the most recent snapshot, or false when nothing has
// been sampled yet.
func (m *Monitor) Latest() (types.ResourceSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.size == 0 {
		return types.ResourceSnapshot{}, false
	}
	last := (m.head - 1 + len(m.ring)) % len(m.ring)
	return m.ring[last], true
}

// History returns up to n snapshots, oldest first. n <= 0 returns the
// whole retained history.
func (m *Monitor) History(n int) []types.ResourceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyLocked(n)
}

func (m *Monitor) historyLocked(n int) []types.ResourceSnapshot {
	if n <= 0 || n > m.size {
		n = m.size
	}
	out := make([]types.ResourceSnapshot, 0, n)
	start := (m.head - n + len(m.ring)) % len(m.ring)
	for i := 0; i < n; i++ {
		out = append(out, m.ring[(start+i)%len(m.ring)])
	}
	return out
}

// Trend returns the ordered values of one metric for every retained
// snapshot taken within the trailing time window, oldest first. The
// slice is empty when no snapshot falls in range; an unknown metric
// name is an error.
func (m *Monitor) Trend(metric string, window time.Duration) ([]float64, error) {
	if _, err := metricValue(types.ResourceSnapshot{}, metric); err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-window)

	m.mu.Lock()
	snaps := m.historyLocked(0)
	m.mu.Unlock()

	values := make([]float64, 0, len(snaps))
	for _, snap := range snaps {
		if snap.TakenAt.Before(cutoff) {
			continue
		}
		v, _ := metricValue(snap, metric)
		values = append(values, v)
	}
	return values, nil
}

// TrendSlope condenses Trend into a per-sample least-squares slope. A
// positive slope means the metric is rising. At least two snapshots
// must fall within the window.
func (m *Monitor) TrendSlope(metric string, window time.Duration) (float64, error) {
	values, err := m.Trend(metric, window)
	if err != nil {
		return 0, err
	}
	if len(values) < 2 {
		return 0, fmt.Errorf("trend slope needs at least 2 samples, have %d", len(values))
	}
	return slope(values), nil
}

func metricValue(snap types.ResourceSnapshot, metric string) (float64, error) {
	switch metric {
	case MetricCPUPercent:
		return snap.CPUPercent, nil
	case MetricMemoryPercent:
		return snap.MemoryPercent, nil
	case MetricDiskReadMBps:
		return snap.DiskReadMBps, nil
	case MetricDiskWriteMBps:
		return snap.DiskWriteMBps, nil
	case MetricNetSentMBps:
		return snap.NetSentMBps, nil
	case MetricNetRecvMBps:
		return snap.NetRecvMBps, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

// slope computes the least-squares slope of values against their index.
func slope(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Start launches the background sampling loop. Calling Start on a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("starting resource sampling",
		zap.Duration("interval", m.interval),
		zap.Int("ring_size", len(m.ring)),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				snap := m.Sample(ctx)
				m.Evaluate(snap)
			}
		}
	}()
}

// Stop halts the background loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("resource sampling stopped")
}
