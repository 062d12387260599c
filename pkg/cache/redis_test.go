package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) *RedisCache {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available")
	}
	t.Cleanup(func() { rdb.Close() })
	return NewFromClient(rdb, "test:"+uuid.NewString()+":")
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "recipient", "acct_1", time.Minute))

	var got string
	require.NoError(t, c.Get(ctx, "recipient", &got))
	assert.Equal(t, "acct_1", got)

	ok, err := c.Exists(ctx, "recipient")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "recipient"))
	assert.ErrorIs(t, c.Get(ctx, "recipient", &got), ErrMiss)
}

func TestRedisCache_ClaimIsExclusive(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	first, err := c.Claim(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	second, err := c.Claim(ctx, "evt_1", time.Minute)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)

	require.NoError(t, c.Delete(ctx, "evt_1"))
	again, err := c.Claim(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRedisCache_PrefixIsolatesKeys(t *testing.T) {
	c := testCache(t)
	other := NewFromClient(c.client, "other:"+uuid.NewString()+":")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1, time.Minute))
	var v int
	assert.ErrorIs(t, other.Get(ctx, "k", &v), ErrMiss)
}
