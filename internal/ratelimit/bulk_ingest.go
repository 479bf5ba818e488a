package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/cloudunify/internal/config"
)

const (
	keyBulkIngestOrg      = "ingest:bulk:org:%s"
	keyBulkIngestEndpoint = "ingest:bulk:endpoint:%s"
)

// BulkIngestLimiter throttles bulk ingestion per caller and per endpoint.
// A nil limiter allows everything.
type BulkIngestLimiter struct {
	bucket *TokenBucket

	orgRate       float64
	orgBurst      int
	endpointRate  float64
	endpointBurst int
}

func NewBulkIngestLimiter(cfg config.Config) (*BulkIngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	return NewBulkIngestLimiterWithClient(client, limitCfg)
}

// NewBulkIngestLimiterWithClient builds an enabled limiter over an existing redis client.
func NewBulkIngestLimiterWithClient(client redis.Scripter, limitCfg config.RateLimitConfig) (*BulkIngestLimiter, error) {
	if limitCfg.BulkIngestOrgRate <= 0 || limitCfg.BulkIngestOrgBurst <= 0 {
		return nil, errors.New("bulk ingest org rate limit must be positive")
	}
	if limitCfg.BulkIngestEndpointRate <= 0 || limitCfg.BulkIngestEndpointBurst <= 0 {
		return nil, errors.New("bulk ingest endpoint rate limit must be positive")
	}
	return &BulkIngestLimiter{
		bucket:        NewTokenBucket(client),
		orgRate:       limitCfg.BulkIngestOrgRate,
		orgBurst:      limitCfg.BulkIngestOrgBurst,
		endpointRate:  limitCfg.BulkIngestEndpointRate,
		endpointBurst: limitCfg.BulkIngestEndpointBurst,
	}, nil
}

func (l *BulkIngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowOrg spends from the bucket of one caller (organization header or client address).
func (l *BulkIngestLimiter) AllowOrg(ctx context.Context, caller string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyBulkIngestOrg, strings.TrimSpace(caller)), l.orgRate, l.orgBurst)
}

// AllowEndpoint spends from the bucket shared by every caller of one route.
func (l *BulkIngestLimiter) AllowEndpoint(ctx context.Context, endpoint string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyBulkIngestEndpoint, strings.TrimSpace(endpoint)), l.endpointRate, l.endpointBurst)
}
