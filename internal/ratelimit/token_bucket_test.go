package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	bucket := NewTokenBucket(newRedis(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "k", 0.001, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3, res.Limit)
	}

	res, err := bucket.Allow(ctx, "k", 0.001, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestTokenBucketRejectsBadArguments(t *testing.T) {
	bucket := NewTokenBucket(newRedis(t))
	_, err := bucket.Allow(context.Background(), "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	assert.Error(t, err)

	var nilBucket *TokenBucket
	_, err = nilBucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
}

func TestBulkIngestLimiterBuckets(t *testing.T) {
	limiter, err := NewBulkIngestLimiterWithClient(newRedis(t), config.RateLimitConfig{
		BulkIngestOrgRate:       0.001,
		BulkIngestOrgBurst:      1,
		BulkIngestEndpointRate:  0.001,
		BulkIngestEndpointBurst: 5,
	})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := limiter.AllowOrg(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.AllowOrg(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.AllowOrg(ctx, "org-2")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "buckets are per caller")

	res, err = limiter.AllowEndpoint(ctx, "/api/costs/bulk")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestDisabledLimiterAllows(t *testing.T) {
	limiter, err := NewBulkIngestLimiter(config.Config{})
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowOrg(context.Background(), "org-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
