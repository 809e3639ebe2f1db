package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cperrors "github.com/cachepulse/cachepulse/pkg/errors"
)

func newTestAdapter(t *testing.T) (*Adapter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	adapter, err := New(context.Background(), Config{Addr: srv.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter, srv
}

func TestAdapter_SetGet(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "k", []byte("v"), 0))

	value, found, err := adapter.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)
}

func TestAdapter_GetMiss(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	value, found, err := adapter.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)

	m := adapter.Metrics()
	assert.Equal(t, uint64(1), m.Misses)
}

func TestAdapter_TTL(t *testing.T) {
	adapter, srv := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "k", []byte("v"), time.Minute))

	srv.FastForward(2 * time.Minute)

	_, found, err := adapter.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAdapter_Delete(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, adapter.Delete(ctx, "k"))

	_, found, err := adapter.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// absent key deletes cleanly
	assert.NoError(t, adapter.Delete(ctx, "never-set"))
}

func TestAdapter_ClearScopedToPrefix(t *testing.T) {
	adapter, srv := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, adapter.Set(ctx, "b", []byte("2"), 0))
	srv.Set("other-app:key", "kept")

	require.NoError(t, adapter.Clear(ctx))

	_, found, _ := adapter.Get(ctx, "a")
	assert.False(t, found)
	_, found, _ = adapter.Get(ctx, "b")
	assert.False(t, found)
	assert.True(t, srv.Exists("other-app:key"), "clear must not touch foreign keys")
}

func TestAdapter_ServerDown(t *testing.T) {
	adapter, srv := newTestAdapter(t)
	ctx := context.Background()

	srv.Close()

	_, found, err := adapter.Get(ctx, "k")
	assert.False(t, found)
	require.Error(t, err)
	var ae *cperrors.AdapterError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "redis", ae.Backend)

	err = adapter.Set(ctx, "k", []byte("v"), 0)
	require.ErrorAs(t, err, &ae)
}

func TestNew_BadAddr(t *testing.T) {
	_, err := New(context.Background(), Config{Addr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
	var ae *cperrors.AdapterError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "ping", ae.Op)
}

func TestAdapter_HitRate(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Set(ctx, "k", []byte("v"), 0))
	for i := 0; i < 3; i++ {
		adapter.Get(ctx, "k")
	}
	adapter.Get(ctx, "absent")

	m := adapter.Metrics()
	assert.Equal(t, uint64(3), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
	assert.InDelta(t, 0.75, m.HitRate, 1e-9)
}
