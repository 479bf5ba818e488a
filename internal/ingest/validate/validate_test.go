package validate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func validResource() *domain.Resource {
	return &domain.Resource{
		OrganizationID: "org-1",
		Provider:       domain.ProviderAWS,
		ResourceID:     "i-1",
		ResourceType:   "ec2",
		Region:         "us-east-1",
		State:          "running",
	}
}

func validCost() *domain.CostRecord {
	return &domain.CostRecord{
		OrganizationID: "org-1",
		CloudAccountID: "123456789012",
		Provider:       domain.ProviderAWS,
		ServiceName:    "EC2",
		Region:         "us-east-1",
		CostDate:       datatypes.Date(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		UsageQuantity:  decimal.NewFromInt(24),
		UsageUnit:      "Hours",
		CostAmount:     decimal.RequireFromString("3.20"),
		Currency:       "USD",
	}
}

func TestValidResourcePasses(t *testing.T) {
	assert.NoError(t, New().Struct(validResource()))
}

func TestResourceMissingRegion(t *testing.T) {
	res := validResource()
	res.Region = ""

	err := New().Struct(res)
	require.Error(t, err)
	assert.Equal(t, "region is required", err.Error())
}

func TestResourceNegativeCost(t *testing.T) {
	res := validResource()
	negative := decimal.NewFromInt(-1)
	res.CostMonthly = &negative

	err := New().Struct(res)
	require.Error(t, err)
	assert.Equal(t, "cost_monthly must be >= 0", err.Error())
}

func TestCostRules(t *testing.T) {
	v := New()
	assert.NoError(t, v.Struct(validCost()))

	cost := validCost()
	cost.CostDate = datatypes.Date{}
	cost.CostAmount = decimal.RequireFromString("-0.01")
	cost.Currency = "US"

	err := v.Struct(cost)
	require.Error(t, err)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{
		"cost_date is required",
		"cost_amount must be >= 0",
		"currency must be exactly 3 characters",
	}, verr.Messages)
	assert.Equal(t, "cost_date is required; cost_amount must be >= 0; currency must be exactly 3 characters", err.Error())
}

func TestRecommendationPriority(t *testing.T) {
	rec := &domain.Recommendation{
		ID:                 "rec-1",
		OrganizationID:     "org-1",
		RecommendationType: "General",
		Priority:           "urgent",
	}

	err := New().Struct(rec)
	require.Error(t, err)
	assert.Equal(t, `priority must be one of low, medium, high, critical (got "urgent")`, err.Error())

	rec.Priority = domain.PriorityLow
	assert.NoError(t, New().Struct(rec))
}
