package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemoryCache(4, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	value, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(value))

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, _, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Delete(ctx, "a", "missing"))
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c, err := NewRedisCache(client, "products:")
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "ring")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "ring", []byte(`{"id":"ring"}`), time.Minute))
	assert.True(t, srv.Exists("products:ring"))

	value, ok, err := c.Get(ctx, "ring")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"ring"}`, string(value))

	srv.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "ring")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "ring", []byte("x"), 0))
	require.NoError(t, c.Delete(ctx, "ring"))
	assert.False(t, srv.Exists("products:ring"))
	require.NoError(t, c.Ping(ctx))
}

func TestNewRedisCacheRequiresClient(t *testing.T) {
	_, err := NewRedisCache(nil, "x")
	require.Error(t, err)
}
