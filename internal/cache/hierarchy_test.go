package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	cperrors "github.com/cachepulse/cachepulse/pkg/errors"
	"github.com/cachepulse/cachepulse/pkg/types"
)

// stubTier is an in-memory tier with configurable failure and latency,
// standing in for a remote adapter.
type stubTier struct {
	name    string
	latency time.Duration
	failAll bool

	mu       sync.Mutex
	store    map[string][]byte
	counters types.OpCounters
}

func newStubTier(name string) *stubTier {
	return &stubTier{name: name, store: make(map[string][]byte)}
}

func (s *stubTier) Name() string { return s.name }

func (s *stubTier) wait(ctx context.Context) error {
	if s.failAll {
		return errors.New(s.name + " is down")
	}
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *stubTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.wait(ctx); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.store[key]
	if !ok {
		s.counters.Miss(0)
		return nil, false, nil
	}
	s.counters.Hit(0)
	return value, true, nil
}

func (s *stubTier) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[key] = value
	return nil
}

func (s *stubTier) Delete(ctx context.Context, key string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, key)
	return nil
}

func (s *stubTier) Clear(ctx context.Context) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = make(map[string][]byte)
	return nil
}

func (s *stubTier) Metrics() types.CacheMetrics {
	return s.counters.Snapshot(0)
}

func (s *stubTier) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.store)
}

func threeTierSetup(t *testing.T) (*Hierarchy, *LocalCache, *stubTier, *stubTier) {
	t.Helper()
	local := NewLocalCache(LocalConfig{Capacity: 100})
	mid := newStubTier("redis")
	slow := newStubTier("s3")
	h, err := NewHierarchy([]types.Tier{local, mid, slow}, HierarchyOptions{}, zap.NewNop())
	if err != nil {
		t.Fatalf("hierarchy setup: %v", err)
	}
	return h, local, mid, slow
}

func TestHierarchy_RequiresTiers(t *testing.T) {
	if _, err := NewHierarchy(nil, HierarchyOptions{}, nil); err == nil {
		t.Fatal("expected error for empty tier list")
	}
}

// TestHierarchy_GetPromotes verifies a hit in a slow tier is copied into
// every faster tier before the value is returned.
func TestHierarchy_GetPromotes(t *testing.T) {
	h, local, mid, slow := threeTierSetup(t)
	ctx := context.Background()

	slow.mu.Lock()
	slow.store["k"] = []byte("v")
	slow.mu.Unlock()

	value, found := h.Get(ctx, "k")
	if !found || string(value) != "v" {
		t.Fatalf("expected hit with v, got found=%v value=%q", found, value)
	}

	if _, found, _ := local.Get(ctx, "k"); !found {
		t.Error("expected promotion into the local tier")
	}
	if _, found, _ := mid.Get(ctx, "k"); !found {
		t.Error("expected promotion into the middle tier")
	}
}

func TestHierarchy_GetLocalHitSkipsRemotes(t *testing.T) {
	h, local, mid, _ := threeTierSetup(t)
	ctx := context.Background()

	local.Set(ctx, "k", []byte("v"), 0)
	midGetsBefore := mid.Metrics().Requests

	if _, found := h.Get(ctx, "k"); !found {
		t.Fatal("expected local hit")
	}
	if mid.Metrics().Requests != midGetsBefore {
		t.Error("local hit must not touch remote tiers")
	}
}

func TestHierarchy_GetMiss(t *testing.T) {
	h, _, _, _ := threeTierSetup(t)
	if _, found := h.Get(context.Background(), "absent"); found {
		t.Error("expected miss everywhere")
	}
}

// TestHierarchy_FailingTierIsMiss verifies an erroring tier is skipped
// on reads and the scan continues into slower tiers.
func TestHierarchy_FailingTierIsMiss(t *testing.T) {
	h, local, mid, slow := threeTierSetup(t)
	ctx := context.Background()

	mid.failAll = true
	slow.mu.Lock()
	slow.store["k"] = []byte("v")
	slow.mu.Unlock()

	value, found := h.Get(ctx, "k")
	if !found || string(value) != "v" {
		t.Fatalf("expected hit past failing tier, got found=%v value=%q", found, value)
	}
	if _, found, _ := local.Get(ctx, "k"); !found {
		t.Error("expected local promotion despite failing middle tier")
	}
}

// TestHierarchy_GetTimeoutAsMiss verifies a remote tier slower than the
// adapter timeout is treated as a miss rather than blocking the read.
func TestHierarchy_GetTimeoutAsMiss(t *testing.T) {
	local := NewLocalCache(LocalConfig{Capacity: 10})
	stuck := newStubTier("redis")
	stuck.latency = 200 * time.Millisecond
	stuck.mu.Lock()
	stuck.store["k"] = []byte("v")
	stuck.mu.Unlock()

	h, err := NewHierarchy([]types.Tier{local, stuck},
		HierarchyOptions{AdapterTimeout: 20 * time.Millisecond}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, found := h.Get(context.Background(), "k"); found {
		t.Error("expected timed-out tier to count as miss")
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("get blocked past the adapter timeout: %v", elapsed)
	}
}

// TestHierarchy_SetWritesThrough verifies Set reaches every tier.
func TestHierarchy_SetWritesThrough(t *testing.T) {
	h, local, mid, slow := threeTierSetup(t)
	ctx := context.Background()

	if err := h.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	for _, tier := range []types.Tier{local, mid, slow} {
		if _, found, _ := tier.Get(ctx, "k"); !found {
			t.Errorf("tier %s missing write-through value", tier.Name())
		}
	}
}

// TestHierarchy_SetPartialFailure verifies a failing middle tier does
// not stop the other tiers from being written, and the aggregate error
// names exactly the failed tier index.
func TestHierarchy_SetPartialFailure(t *testing.T) {
	h, local, mid, slow := threeTierSetup(t)
	ctx := context.Background()

	mid.failAll = true
	err := h.Set(ctx, "k", []byte("v"), 0)

	var pf *cperrors.PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("expected PartialFailureError, got %v", err)
	}
	if len(pf.FailedTiers) != 1 || pf.FailedTiers[0] != 1 {
		t.Errorf("expected failed tiers [1], got %v", pf.FailedTiers)
	}

	if _, found, _ := local.Get(ctx, "k"); !found {
		t.Error("tier 0 must still receive the write")
	}
	if _, found, _ := slow.Get(ctx, "k"); !found {
		t.Error("tier 2 must still receive the write")
	}
}

func TestHierarchy_Delete(t *testing.T) {
	h, local, mid, slow := threeTierSetup(t)
	ctx := context.Background()

	h.Set(ctx, "k", []byte("v"), 0)
	if err := h.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	for _, tier := range []types.Tier{local, mid, slow} {
		if _, found, _ := tier.Get(ctx, "k"); found {
			t.Errorf("tier %s still has deleted key", tier.Name())
		}
	}

	// deleting an absent key succeeds on every tier
	if err := h.Delete(ctx, "never-set"); err != nil {
		t.Errorf("delete of absent key must succeed, got %v", err)
	}
}

// TestHierarchy_Clear verifies every tier ends up empty.
func TestHierarchy_Clear(t *testing.T) {
	h, local, mid, slow := threeTierSetup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0)
	}
	if err := h.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if local.Len() != 0 {
		t.Errorf("local tier not empty: %d", local.Len())
	}
	if mid.len() != 0 || slow.len() != 0 {
		t.Errorf("remote tiers not empty: %d, %d", mid.len(), slow.len())
	}
}

func TestHierarchy_Metrics(t *testing.T) {
	h, _, _, _ := threeTierSetup(t)
	ctx := context.Background()

	h.Set(ctx, "k", []byte("v"), 0)
	h.Get(ctx, "k")
	h.Get(ctx, "absent")

	m := h.Metrics()
	if len(m) != 3 {
		t.Fatalf("expected 3 tier entries, got %d", len(m))
	}
	for _, key := range []string{"tier_0", "tier_1", "tier_2"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing metrics key %s", key)
		}
	}
	if m["tier_0"].Hits != 1 {
		t.Errorf("expected 1 local hit, got %d", m["tier_0"].Hits)
	}
}

func TestHierarchy_Singleflight(t *testing.T) {
	local := NewLocalCache(LocalConfig{Capacity: 10})
	slow := newStubTier("s3")
	slow.latency = 20 * time.Millisecond
	slow.mu.Lock()
	slow.store["k"] = []byte("v")
	slow.mu.Unlock()

	h, err := NewHierarchy([]types.Tier{local, slow},
		HierarchyOptions{Singleflight: true}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, found := h.Get(context.Background(), "k")
			if !found || string(value) != "v" {
				t.Errorf("expected coalesced hit, got found=%v value=%q", found, value)
			}
		}()
	}
	wg.Wait()

	// Concurrent callers share one tier scan; the slow tier sees far
	// fewer requests than callers.
	if reqs := slow.Metrics().Requests; reqs >= 10 {
		t.Errorf("expected coalesced remote gets, got %d", reqs)
	}
}

// TestHierarchy_SingleflightSurvivesCallerCancel verifies the shared
// scan is not poisoned by the starting caller's cancelled context.
func TestHierarchy_SingleflightSurvivesCallerCancel(t *testing.T) {
	local := NewLocalCache(LocalConfig{Capacity: 10})
	slow := newStubTier("redis")
	slow.latency = 5 * time.Millisecond
	slow.mu.Lock()
	slow.store["k"] = []byte("v")
	slow.mu.Unlock()

	h, err := NewHierarchy([]types.Tier{local, slow},
		HierarchyOptions{Singleflight: true}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	value, found := h.Get(ctx, "k")
	if !found || string(value) != "v" {
		t.Errorf("expected coalesced scan to outlive caller cancellation, got found=%v value=%q", found, value)
	}
}

func TestHierarchy_Observer(t *testing.T) {
	h, _, _, slow := threeTierSetup(t)
	ctx := context.Background()

	type observation struct {
		tier    int
		backend string
		hit     bool
	}
	var mu sync.Mutex
	var seen []observation
	h.SetObserver(func(tier int, backend string, hit bool) {
		mu.Lock()
		seen = append(seen, observation{tier, backend, hit})
		mu.Unlock()
	})

	slow.mu.Lock()
	slow.store["k"] = []byte("v")
	slow.mu.Unlock()

	if _, found := h.Get(ctx, "k"); !found {
		t.Fatal("expected hit in slowest tier")
	}

	want := []observation{
		{0, "local", false},
		{1, "redis", false},
		{2, "s3", true},
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d observations, got %d: %v", len(want), len(seen), seen)
	}
	for i, obs := range seen {
		if obs != want[i] {
			t.Errorf("observation %d: expected %v, got %v", i, want[i], obs)
		}
	}

	// a local hit scans one tier only
	seen = nil
	h.Get(ctx, "k")
	if len(seen) != 1 || !seen[0].hit || seen[0].tier != 0 {
		t.Errorf("expected single local-hit observation, got %v", seen)
	}
}

// TestHierarchy_ConcurrentGets exercises the hierarchy under heavy
// concurrent reads with a local tier smaller than the key set.
func TestHierarchy_ConcurrentGets(t *testing.T) {
	local := NewLocalCache(LocalConfig{Capacity: 100})
	remote := newStubTier("redis")
	remote.latency = 5 * time.Millisecond

	h, err := NewHierarchy([]types.Tier{local, remote}, HierarchyOptions{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if err := h.Set(ctx, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), 0); err != nil {
			t.Fatalf("seed set failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%50)
			value, found := h.Get(ctx, key)
			if !found {
				t.Errorf("expected hit for %s", key)
				return
			}
			want := fmt.Sprintf("value-%d", i%50)
			if string(value) != want {
				t.Errorf("expected %q, got %q", want, value)
			}
		}(i)
	}
	wg.Wait()

	if local.Len() > 100 {
		t.Errorf("local tier exceeded capacity: %d", local.Len())
	}
}
