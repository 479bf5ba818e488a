package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/cloudunify/internal/observability/context"
	"github.com/smallbiznis/cloudunify/internal/orgcontext"
)

// OrgContext copies the organization header into the request context, where it scopes
// logging and rate limiting. It never fills in organization_id on rows.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := strings.TrimSpace(c.GetHeader(orgcontext.HeaderName))
		if orgID == "" {
			c.Next()
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = obscontext.WithOrgID(ctx, orgID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
