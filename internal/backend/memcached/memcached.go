// Package memcached adapts a Memcached cluster as a remote cache tier.
package memcached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"go.uber.org/zap"

	cperrors "github.com/cachepulse/cachepulse/pkg/errors"
	"github.com/cachepulse/cachepulse/pkg/types"
)

const backendName = "memcached"

// maxKeyLen is the protocol's key limit; longer keys are hashed.
const maxKeyLen = 250

// Config configures the Memcached tier.
type Config struct {
	// Addrs lists the server addresses; keys are distributed across them
	// by the client.
	Addrs []string

	// Timeout bounds each socket operation. The memcache client has no
	// context support, so the deadline lives on the client itself.
	Timeout time.Duration

	Prefix string

	// DefaultTTL applies when Set is called with a zero ttl. Memcached
	// expiry has one-second resolution; sub-second ttls round up.
	DefaultTTL time.Duration
}

// Adapter is a cache tier backed by Memcached. Keys longer than the
// protocol limit are replaced by their SHA-256 digest. Clear flushes
// every server, prefix or not: memcached has no key iteration.
type Adapter struct {
	client   *memcache.Client
	prefix   string
	ttl      time.Duration
	logger   *zap.Logger
	counters types.OpCounters
}

// New builds the Memcached tier. The client connects lazily; a ping
// confirms at least one server answers.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := memcache.New(cfg.Addrs...)
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}

	if err := client.Ping(); err != nil {
		return nil, cperrors.Classify(backendName, "ping", err)
	}

	logger.Info("memcached tier connected", zap.Strings("addrs", cfg.Addrs))

	return &Adapter{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.DefaultTTL,
		logger: logger.With(zap.String("component", "memcached_tier")),
	}, nil
}

// Name identifies the tier in logs and metrics.
func (a *Adapter) Name() string { return backendName }

func (a *Adapter) key(key string) string {
	k := a.prefix + key
	if len(k) <= maxKeyLen && validKey(k) {
		return k
	}
	sum := sha256.Sum256([]byte(k))
	return a.prefix + hex.EncodeToString(sum[:])
}

// validKey reports whether the key fits the memcached text protocol:
// no whitespace or control characters.
func validKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

func expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	secs := int32(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}

// Get retrieves a value. A missing key is a miss, not an error. The
// client observes its own socket timeout; the context deadline cannot
// be plumbed through.
func (a *Adapter) Get(_ context.Context, key string) ([]byte, bool, error) {
	start := time.Now()

	item, err := a.client.Get(a.key(key))
	if err == memcache.ErrCacheMiss {
		a.counters.Miss(time.Since(start))
		return nil, false, nil
	}
	if err != nil {
		a.counters.Miss(time.Since(start))
		return nil, false, cperrors.Classify(backendName, "get", err)
	}

	a.counters.Hit(time.Since(start))
	return item.Value, true, nil
}

// Set stores a value; zero ttl falls back to the configured default.
func (a *Adapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	if ttl == 0 {
		ttl = a.ttl
	}

	err := a.client.Set(&memcache.Item{
		Key:        a.key(key),
		Value:      value,
		Expiration: expiration(ttl),
	})
	a.counters.Request(time.Since(start))
	if err != nil {
		return cperrors.Classify(backendName, "set", err)
	}
	return nil
}

// Delete removes a key. Absent keys are not an error.
func (a *Adapter) Delete(_ context.Context, key string) error {
	start := time.Now()

	err := a.client.Delete(a.key(key))
	a.counters.Request(time.Since(start))
	if err != nil && err != memcache.ErrCacheMiss {
		return cperrors.Classify(backendName, "delete", err)
	}
	return nil
}

// Clear flushes all servers. This drops foreign keys too when the
// cluster is shared; there is no per-prefix alternative.
func (a *Adapter) Clear(_ context.Context) error {
	start := time.Now()

	err := a.client.FlushAll()
	a.counters.Request(time.Since(start))
	if err != nil {
		return cperrors.Classify(backendName, "clear", err)
	}
	return nil
}

// Metrics returns a snapshot of this tier's counters.
func (a *Adapter) Metrics() types.CacheMetrics {
	return a.counters.Snapshot(0)
}
