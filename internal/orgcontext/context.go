package orgcontext

import (
	"context"
	"strings"
)

// HeaderName carries the caller's organization on bulk requests. Rows still name their own
// organization; the header only scopes rate limiting and logging.
const HeaderName = "X-Organization-Id"

// OrgContextKey is the request context key for the active organization ID.
type OrgContextKey struct{}

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ctx
	}
	return context.WithValue(ctx, OrgContextKey{}, orgID)
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(OrgContextKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
