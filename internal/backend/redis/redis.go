// Package redis adapts a Redis server as a remote cache tier.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	cperrors "github.com/cachepulse/cachepulse/pkg/errors"
	"github.com/cachepulse/cachepulse/pkg/types"
)

const backendName = "redis"

// Config configures the Redis tier.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// Prefix namespaces every key so Clear can remove only this tier's
	// entries from a shared server.
	Prefix string

	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration
}

// Adapter is a cache tier backed by Redis. Values are stored as raw
// bytes; Redis handles expiry server-side.
type Adapter struct {
	client   *goredis.Client
	prefix   string
	ttl      time.Duration
	logger   *zap.Logger
	counters types.OpCounters
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, cperrors.Classify(backendName, "ping", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cachepulse:"
	}

	logger.Info("redis tier connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
	)

	return &Adapter{
		client: client,
		prefix: prefix,
		ttl:    cfg.DefaultTTL,
		logger: logger.With(zap.String("component", "redis_tier")),
	}, nil
}

// Name identifies the tier in logs and metrics.
func (a *Adapter) Name() string { return backendName }

func (a *Adapter) key(key string) string { return a.prefix + key }

// Get retrieves a value. A missing key is a miss, not an error.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()

	value, err := a.client.Get(ctx, a.key(key)).Bytes()
	if err == goredis.Nil {
		a.counters.Miss(time.Since(start))
		return nil, false, nil
	}
	if err != nil {
		a.counters.Miss(time.Since(start))
		return nil, false, cperrors.Classify(backendName, "get", err)
	}

	a.counters.Hit(time.Since(start))
	return value, true, nil
}

// Set stores a value with the given ttl; zero falls back to the
// configured default (no expiry when that is zero too).
func (a *Adapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	if ttl == 0 {
		ttl = a.ttl
	}

	err := a.client.Set(ctx, a.key(key), value, ttl).Err()
	a.counters.Request(time.Since(start))
	if err != nil {
		return cperrors.Classify(backendName, "set", err)
	}
	return nil
}

// Delete removes a key. Absent keys are not an error.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	start := time.Now()

	err := a.client.Del(ctx, a.key(key)).Err()
	a.counters.Request(time.Since(start))
	if err != nil {
		return cperrors.Classify(backendName, "delete", err)
	}
	return nil
}

// Clear removes every key under this tier's prefix, scanning in batches
// so a shared server's other keyspaces are untouched.
func (a *Adapter) Clear(ctx context.Context) error {
	start := time.Now()
	defer func() { a.counters.Request(time.Since(start)) }()

	iter := a.client.Scan(ctx, 0, a.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := a.client.Del(ctx, batch...).Err(); err != nil {
			return cperrors.Classify(backendName, "clear", err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return cperrors.Classify(backendName, "clear", err)
	}
	return flush()
}

// Metrics returns a snapshot of this tier's counters. Memory usage is
// server-side and not reported here.
func (a *Adapter) Metrics() types.CacheMetrics {
	return a.counters.Snapshot(0)
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}
