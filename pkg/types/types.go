package types

import (
	"time"
)

// CacheMetrics is an immutable snapshot of one tier's performance counters.
// HitRate and MissRate always sum to 1 when Requests > 0 and are both zero
// (never NaN) when no requests have been recorded.
type CacheMetrics struct {
	Hits        uint64        `json:"hits"`
	Misses      uint64        `json:"misses"`
	HitRate     float64       `json:"hit_rate"`
	MissRate    float64       `json:"miss_rate"`
	Evictions   uint64        `json:"evictions"`
	MemoryBytes int64         `json:"memory_bytes"`
	Requests    uint64        `json:"requests"`
	AvgLatency  time.Duration `json:"avg_latency"`
}

// ResourceSnapshot captures host-level resource usage at one instant.
// Rates are computed from the deltas between consecutive samples, so the
// first snapshot after startup reports zero for all rate fields.
// Metrics that could not be read are listed in Missing and carry their
// zero value; they must not trigger alerts.
type ResourceSnapshot struct {
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryPercent     float64   `json:"memory_percent"`
	MemoryAvailableGB float64   `json:"memory_available_gb"`
	DiskReadMBps      float64   `json:"disk_read_mbps"`
	DiskWriteMBps     float64   `json:"disk_write_mbps"`
	NetSentMBps       float64   `json:"net_sent_mbps"`
	NetRecvMBps       float64   `json:"net_recv_mbps"`
	TakenAt           time.Time `json:"taken_at"`
	Missing           []string  `json:"missing,omitempty"`
}

// Alert kinds produced by threshold evaluation.
const (
	AlertCPUHigh    = "cpu_high"
	AlertMemoryHigh = "memory_high"
	AlertDiskIOHigh = "disk_io_high"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is a transient threshold violation derived from a single
// ResourceSnapshot. Alerts are never persisted by this library.
type Alert struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}
