package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Tier type identifiers recognized in the tiers list.
const (
	TierTypeRedis     = "redis"
	TierTypeMemcached = "memcached"
	TierTypeS3        = "s3"
)

// Configuration represents the complete engine configuration
type Configuration struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Local     LocalCacheConfig `yaml:"local_cache"`
	Tiers     []TierConfig     `yaml:"tiers"`
	Hierarchy HierarchyConfig  `yaml:"hierarchy"`
	Monitor   MonitorConfig    `yaml:"monitor"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LocalCacheConfig represents the in-process LRU tier settings
type LocalCacheConfig struct {
	Capacity   int           `yaml:"capacity"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// TierConfig describes one remote tier, in increasing-latency order.
// Only the fields relevant to the tier's type are consulted.
type TierConfig struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"`
	Timeout time.Duration `yaml:"timeout"`

	// Redis / Memcached
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`

	// S3
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// HierarchyConfig represents hierarchy-level behavior
type HierarchyConfig struct {
	// AdapterTimeout bounds every remote tier call.
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`

	// Singleflight coalesces concurrent gets for the same key.
	Singleflight bool `yaml:"singleflight"`

	// Breaker wraps each remote tier in a circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig represents the remote-tier circuit breaker settings
type BreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long an open circuit rejects before probing the
	// backend again.
	Cooldown time.Duration `yaml:"cooldown"`
}

// MonitorConfig represents resource monitor settings
type MonitorConfig struct {
	RingSize       int             `yaml:"ring_size"`
	SampleInterval time.Duration   `yaml:"sample_interval"`
	Thresholds     ThresholdConfig `yaml:"thresholds"`
}

// ThresholdConfig represents alert thresholds. Values are upper bounds;
// a sampled metric strictly above its threshold raises an alert.
type ThresholdConfig struct {
	CPUPercent    float64 `yaml:"cpu_percent"`
	MemoryPercent float64 `yaml:"memory_percent"`
	DiskReadMBps  float64 `yaml:"disk_read_mbps"`
}

// MetricsConfig represents Prometheus exporter settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Local: LocalCacheConfig{
			Capacity:   10000,
			DefaultTTL: 5 * time.Minute,
		},
		Tiers: nil, // local-only by default
		Hierarchy: HierarchyConfig{
			AdapterTimeout: 2 * time.Second,
			Singleflight:   false,
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Cooldown:         30 * time.Second,
			},
		},
		Monitor: MonitorConfig{
			RingSize:       1000,
			SampleInterval: 30 * time.Second,
			Thresholds: ThresholdConfig{
				CPUPercent:    80,
				MemoryPercent: 85,
				DiskReadMBps:  100,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "cachepulse",
			Port:      9190,
			Path:      "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies environment variable overrides
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("CACHEPULSE_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("CACHEPULSE_LOCAL_CAPACITY"); val != "" {
		if capacity, err := strconv.Atoi(val); err == nil {
			c.Local.Capacity = capacity
		}
	}
	if val := os.Getenv("CACHEPULSE_DEFAULT_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Local.DefaultTTL = d
		}
	}
	if val := os.Getenv("CACHEPULSE_ADAPTER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Hierarchy.AdapterTimeout = d
		}
	}
	if val := os.Getenv("CACHEPULSE_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CACHEPULSE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	return nil
}

// Validate checks the configuration for consistency
func (c *Configuration) Validate() error {
	if c.Local.Capacity <= 0 {
		return fmt.Errorf("local_cache.capacity must be positive, got %d", c.Local.Capacity)
	}
	if c.Local.DefaultTTL < 0 {
		return fmt.Errorf("local_cache.default_ttl must not be negative")
	}
	if c.Hierarchy.AdapterTimeout <= 0 {
		return fmt.Errorf("hierarchy.adapter_timeout must be positive")
	}
	if c.Hierarchy.Breaker.Enabled {
		if c.Hierarchy.Breaker.FailureThreshold <= 0 {
			return fmt.Errorf("hierarchy.breaker.failure_threshold must be positive")
		}
		if c.Hierarchy.Breaker.Cooldown <= 0 {
			return fmt.Errorf("hierarchy.breaker.cooldown must be positive")
		}
	}

	seen := make(map[string]bool, len(c.Tiers))
	for i, tier := range c.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("tiers[%d]: name is required", i)
		}
		if seen[tier.Name] {
			return fmt.Errorf("tiers[%d]: duplicate tier name %q", i, tier.Name)
		}
		seen[tier.Name] = true

		switch tier.Type {
		case TierTypeRedis, TierTypeMemcached:
			if tier.Addr == "" {
				return fmt.Errorf("tiers[%d] (%s): addr is required for type %s", i, tier.Name, tier.Type)
			}
		case TierTypeS3:
			if tier.Bucket == "" {
				return fmt.Errorf("tiers[%d] (%s): bucket is required for type s3", i, tier.Name)
			}
		default:
			return fmt.Errorf("tiers[%d] (%s): unsupported tier type %q", i, tier.Name, tier.Type)
		}
	}

	if err := c.Monitor.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Monitor.RingSize <= 0 {
		return fmt.Errorf("monitor.ring_size must be positive, got %d", c.Monitor.RingSize)
	}
	if c.Monitor.SampleInterval <= 0 {
		return fmt.Errorf("monitor.sample_interval must be positive")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be in (0, 65535], got %d", c.Metrics.Port)
		}
		if c.Metrics.Namespace == "" {
			return fmt.Errorf("metrics.namespace is required when metrics are enabled")
		}
	}

	return nil
}

// Validate checks threshold values. Percentages must lie in (0, 100];
// the disk rate must be positive.
func (t ThresholdConfig) Validate() error {
	if t.CPUPercent <= 0 || t.CPUPercent > 100 {
		return fmt.Errorf("thresholds.cpu_percent must be in (0, 100], got %v", t.CPUPercent)
	}
	if t.MemoryPercent <= 0 || t.MemoryPercent > 100 {
		return fmt.Errorf("thresholds.memory_percent must be in (0, 100], got %v", t.MemoryPercent)
	}
	if t.DiskReadMBps <= 0 {
		return fmt.Errorf("thresholds.disk_read_mbps must be positive, got %v", t.DiskReadMBps)
	}
	return nil
}
