package app

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
	"github.com/ncecere/open_media_gateway/backend/internal/limits"
	"github.com/ncecere/open_media_gateway/backend/internal/requestctx"
)

func newLimitedContainer(t *testing.T) *Container {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	container := &Container{
		RateLimiter:     limits.NewRateLimiter(client),
		DefaultKeyLimit: limits.LimitConfig{ParallelRequests: 2},
	}
	container.loadAliasLimits([]config.ModelCatalogEntry{
		{Alias: "kling", Metadata: map[string]string{"parallel_requests": "1"}},
		{Alias: "flux"},
	})
	return container
}

func TestAcquireRateLimitsRespectsAliasParallel(t *testing.T) {
	container := newLimitedContainer(t)
	ctx := requestctx.WithContext(context.Background(), &requestctx.Context{KeyID: "abc"})

	release, err := container.AcquireRateLimits(ctx, "kling")
	require.NoError(t, err)

	_, err = container.AcquireRateLimits(ctx, "kling")
	require.ErrorIs(t, err, limits.ErrLimitExceeded)

	// a different alias only counts against the key
	releaseFlux, err := container.AcquireRateLimits(ctx, "flux")
	require.NoError(t, err)
	releaseFlux()

	release()
	release()

	again, err := container.AcquireRateLimits(ctx, "kling")
	require.NoError(t, err)
	again()
}

func TestAcquireRateLimitsRespectsKeyParallel(t *testing.T) {
	container := newLimitedContainer(t)
	ctx := requestctx.WithContext(context.Background(), &requestctx.Context{KeyID: "key-1"})

	r1, err := container.AcquireRateLimits(ctx, "flux")
	require.NoError(t, err)
	r2, err := container.AcquireRateLimits(ctx, "flux")
	require.NoError(t, err)
	_, err = container.AcquireRateLimits(ctx, "flux")
	require.ErrorIs(t, err, limits.ErrLimitExceeded)

	other := requestctx.WithContext(context.Background(), &requestctx.Context{KeyID: "key-2"})
	r3, err := container.AcquireRateLimits(other, "flux")
	require.NoError(t, err)

	r1()
	r2()
	r3()
}

func TestAuthenticate(t *testing.T) {
	container := &Container{}
	require.False(t, container.AuthEnabled())

	container.SetAPIKeys([]string{"sk-local-1", "  ", "sk-local-2"})
	require.True(t, container.AuthEnabled())

	rc, ok := container.Authenticate("sk-local-2")
	require.True(t, ok)
	require.Equal(t, "sk-local", rc.APIKeyPrefix)
	require.Len(t, rc.KeyID, 12)

	again, ok := container.Authenticate(" sk-local-2 ")
	require.True(t, ok)
	require.Equal(t, rc.KeyID, again.KeyID)

	_, ok = container.Authenticate("sk-local-3")
	require.False(t, ok)
	_, ok = container.Authenticate("")
	require.False(t, ok)
}

func TestIdempotencyClaimTTL(t *testing.T) {
	ttl := idempotencyClaimTTL(config.RunPodConfig{MaxPollAttempts: 120, PollInterval: 5 * time.Second, RequestTimeout: time.Minute})
	require.Equal(t, 11*time.Minute, ttl)
	require.Zero(t, idempotencyClaimTTL(config.RunPodConfig{}))
}
