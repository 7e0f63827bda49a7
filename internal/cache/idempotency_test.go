package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*IdempotencyCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyCache(client, time.Hour, time.Minute), server
}

func TestClaimBlocksDuplicateUntilStored(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Claim(ctx, "key-1"))
	require.ErrorIs(t, cache.Claim(ctx, "key-1"), ErrInFlight)

	cache.Set(ctx, "key-1", Entry{Status: 200, ContentType: "application/json", Body: []byte(`{"ok":true}`)})
	entry, ok := cache.Get(ctx, "key-1")
	require.True(t, ok)
	require.Equal(t, 200, entry.Status)
	require.JSONEq(t, `{"ok":true}`, string(entry.Body))

	// storing clears the claim
	require.NoError(t, cache.Claim(ctx, "key-1"))
}

func TestReleaseAllowsRetry(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Claim(ctx, "key-2"))
	cache.Release(ctx, "key-2")
	require.NoError(t, cache.Claim(ctx, "key-2"))

	server.FastForward(2 * time.Minute)
	require.NoError(t, cache.Claim(ctx, "key-2"))

	_, ok := cache.Get(ctx, "missing")
	require.False(t, ok)
}

func TestNilCacheIsNoop(t *testing.T) {
	var cache *IdempotencyCache
	ctx := context.Background()
	require.NoError(t, cache.Claim(ctx, "k"))
	cache.Set(ctx, "k", Entry{Body: []byte("x")})
	_, ok := cache.Get(ctx, "k")
	require.False(t, ok)
}
