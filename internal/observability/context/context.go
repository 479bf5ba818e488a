package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	orgIDKey     ctxKey = "org_id"
	batchIDKey   ctxKey = "batch_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, requestIDKey)
}

func WithOrgID(ctx context.Context, orgID string) context.Context {
	return withValue(ctx, orgIDKey, orgID)
}

func OrgIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, orgIDKey)
}

// WithBatchID tags every log line of one ingestion batch.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return withValue(ctx, batchIDKey, batchID)
}

func BatchIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, batchIDKey)
}

func withValue(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
