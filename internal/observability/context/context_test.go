package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationValuesRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithOrgID(ctx, "org-a")
	ctx = WithBatchID(ctx, "01HZX")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "org-a", OrgIDFromContext(ctx))
	assert.Equal(t, "01HZX", BatchIDFromContext(ctx))
}

func TestBlankValuesAreNotStored(t *testing.T) {
	ctx := WithOrgID(context.Background(), "   ")
	assert.Empty(t, OrgIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(nil))
}
