package server

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cloudunify/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/cloudunify/internal/observability/metrics"
	"github.com/smallbiznis/cloudunify/internal/orgcontext"
	"github.com/smallbiznis/cloudunify/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonOrgRate      = "org-rate"
	rateLimitReasonEndpointRate = "endpoint-rate"
)

var ErrRateLimited = errors.New("rate_limited")

// BulkIngestRateLimit throttles the bulk routes per caller, then per route.
// Callers are identified by the organization header, falling back to the client address.
func (s *Server) BulkIngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.bulkLimiter.Enabled() {
			c.Next()
			return
		}

		caller := rateLimitCaller(c)
		endpoint := normalizeRateLimitEndpoint(c)
		ctx := orgcontext.WithOrgID(c.Request.Context(), c.GetHeader(orgcontext.HeaderName))

		result, err := s.bulkLimiter.AllowOrg(ctx, caller)
		if err != nil {
			logger.FromContext(ctx).Warn("bulk ingest caller rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyBulkIngestRateLimit(c, endpoint, rateLimitReasonOrgRate, result, s.obsMetrics)
			return
		}

		result, err = s.bulkLimiter.AllowEndpoint(ctx, endpoint)
		if err != nil {
			logger.FromContext(ctx).Warn("bulk ingest endpoint rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyBulkIngestRateLimit(c, endpoint, rateLimitReasonEndpointRate, result, s.obsMetrics)
			return
		}

		recordRateLimitAllowed(ctx, endpoint, rateLimitMetricOrg(c), s.obsMetrics)
		c.Next()
	}
}

// rateLimitMetricOrg is the org_id metric label. Callers without the header share "unknown"
// so client addresses never become label values.
func rateLimitMetricOrg(c *gin.Context) string {
	if orgID := strings.TrimSpace(c.GetHeader(orgcontext.HeaderName)); orgID != "" {
		return orgID
	}
	return "unknown"
}

func rateLimitCaller(c *gin.Context) string {
	if orgID := strings.TrimSpace(c.GetHeader(orgcontext.HeaderName)); orgID != "" {
		return orgID
	}
	if ip := strings.TrimSpace(c.ClientIP()); ip != "" {
		return "ip:" + ip
	}
	return "unknown"
}

func denyBulkIngestRateLimit(c *gin.Context, endpoint, reason string, result *ratelimit.RateLimitResult, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	log.Warn("bulk ingest rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, rateLimitMetricOrg(c), reason, metrics)

	c.Header("Retry-After", retryAfterSeconds(result))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func retryAfterSeconds(result *ratelimit.RateLimitResult) string {
	if result == nil || result.RetryAfter <= 0 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds())))
}

func recordRateLimitAllowed(ctx context.Context, endpoint, orgLabel string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitAllowed(ctx, orgLabel, endpoint)
}

func recordRateLimitDenied(ctx context.Context, endpoint, orgLabel, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, orgLabel, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
