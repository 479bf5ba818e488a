package orgcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrgIDRoundTrip(t *testing.T) {
	ctx := WithOrgID(context.Background(), " O ")
	orgID, ok := OrgIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "O", orgID)
}

func TestOrgIDMissing(t *testing.T) {
	_, ok := OrgIDFromContext(WithOrgID(context.Background(), ""))
	assert.False(t, ok)
}
