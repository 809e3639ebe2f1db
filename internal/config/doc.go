/*
Package config provides typed, validated configuration for the cache
hierarchy and telemetry engine.

Configuration is an explicit struct hierarchy rather than a free-form
settings map: every recognized option has a field, defaults come from
NewDefault, YAML files are loaded with LoadFromFile, environment
variables override via LoadFromEnv (CACHEPULSE_ prefix), and Validate
rejects inconsistent values before any component is constructed.

Runtime-tunable values (alert thresholds) are changed through dedicated
setter methods on the owning component, which re-run the same
validation.

Example YAML:

	local_cache:
	  capacity: 10000
	  default_ttl: 5m
	tiers:
	  - name: redis-main
	    type: redis
	    addr: localhost:6379
	    timeout: 500ms
	  - name: edge
	    type: s3
	    bucket: cache-edge
	    region: us-west-2
	hierarchy:
	  adapter_timeout: 2s
	  breaker:
	    enabled: true
	    failure_threshold: 5
	    cooldown: 30s
	monitor:
	  ring_size: 1000
	  sample_interval: 30s
	  thresholds:
	    cpu_percent: 80
	    memory_percent: 85
	    disk_read_mbps: 100
	metrics:
	  enabled: true
	  namespace: cachepulse
	  port: 9190
*/
package config
