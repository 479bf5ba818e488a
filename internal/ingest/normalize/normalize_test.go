package normalize

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func testBatch() BatchContext {
	return BatchContext{
		Now:            testNow,
		OrganizationID: "org-1",
		CloudAccountID: "acct-default",
		CloudAccounts:  map[string]string{"azure": "sub-azure"},
		Rules:          config.DefaultIngestRules(),
	}
}

func TestKeysFoldCaseAndWhitespace(t *testing.T) {
	row := Keys(map[string]any{
		" Resource Type ": "ec2",
		"REGION":          "us-east-1",
		"cost\tdaily":     "1.5",
		"":                "dropped",
	})

	assert.Equal(t, map[string]any{
		"resource_type": "ec2",
		"region":        "us-east-1",
		"cost_daily":    "1.5",
	}, row)
}

func TestKeysCollisionIsDeterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		row := Keys(map[string]any{
			"Region":        "eu-west-1",
			"region":        "us-east-1",
			"REGION":        "ap-south-1",
			"State":         "running",
			"STATE":         "stopped",
			"Resource Type": "",
			"resource_TYPE": "vm",
		})
		assert.Equal(t, "us-east-1", row["region"], "folded key wins")
		assert.Equal(t, "stopped", row["state"], "smallest raw key wins")
		assert.Equal(t, "vm", row["resource_type"], "present value beats blank")
	}
}

func TestDecimal(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    string
		isNil   bool
		wantErr bool
	}{
		{name: "absent", value: nil, isNil: true},
		{name: "blank", value: "  ", isNil: true},
		{name: "nan token", value: "NaN", isNil: true},
		{name: "float nan", value: math.NaN(), isNil: true},
		{name: "float", value: 12.5, want: "12.5"},
		{name: "int", value: 3, want: "3"},
		{name: "json number", value: json.Number("0.000001"), want: "0.000001"},
		{name: "string", value: " 42.10 ", want: "42.1"},
		{name: "garbage", value: "abc", wantErr: true},
		{name: "bool", value: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decimal("cost_daily", tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "cost_daily must be a number")
				return
			}
			require.NoError(t, err)
			if tt.isNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"2024-01-15T08:30:00Z", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
		{"2024-01-15T08:30:00+02:00", time.Date(2024, 1, 15, 6, 30, 0, 0, time.UTC)},
		{"2024-01-15T08:30:00", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
		{"2024-01-15 08:30:00.123", time.Date(2024, 1, 15, 8, 30, 0, 123000000, time.UTC)},
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok, err := Timestamp("launch_time", tt.value)
		require.NoError(t, err, tt.value)
		assert.True(t, ok)
		assert.True(t, tt.want.Equal(got), "%s parsed as %s", tt.value, got)
	}

	_, _, err := Timestamp("launch_time", "yesterday")
	assert.EqualError(t, err, `launch_time must be an ISO-8601 timestamp (got "yesterday")`)
}

func TestDateTruncatesToUTCDay(t *testing.T) {
	got, ok, err := Date("cost_date", "2024-02-01T23:30:00-02:00")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), got)
}

func TestTags(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  map[string]any
	}{
		{name: "absent", value: nil, want: map[string]any{}},
		{name: "mapping", value: map[string]any{"env": "prod", "cost": 3.0}, want: map[string]any{"env": "prod", "cost": "3"}},
		{name: "list", value: []any{"env:prod", "team: core"}, want: map[string]any{"env": "prod", "team": "core"}},
		{name: "delimited", value: "env:prod; team:core,critical", want: map[string]any{"env": "prod", "team": "core", "critical": "true"}},
		{name: "json string", value: `{"env":"dev"}`, want: map[string]any{"env": "dev"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Tags("tags", tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Tags("tags", 42)
	assert.Error(t, err)
}

func TestActionItems(t *testing.T) {
	got, err := ActionItems("action_items", "stop idle; resize , ,snapshot")
	require.NoError(t, err)
	assert.Equal(t, []string{"stop idle", "resize", "snapshot"}, got)

	got, err = ActionItems("action_items", []any{"a", "", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestProvider(t *testing.T) {
	aliases := config.DefaultIngestRules().ProviderAliases

	got, err := Provider("provider", "AWS", aliases)
	require.NoError(t, err)
	assert.Equal(t, "aws", got)

	got, err = Provider("provider", "Microsoft", aliases)
	require.NoError(t, err)
	assert.Equal(t, "azure", got)

	got, err = Provider("provider", "", aliases)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Provider("provider", "oracle", aliases)
	assert.EqualError(t, err, `provider must be one of aws, azure, gcp (got "oracle")`)
}

func TestProviderFromName(t *testing.T) {
	assert.Equal(t, "gcp", ProviderFromName("GCP_resources.xlsx"))
	assert.Equal(t, "", ProviderFromName("resources.csv"))
}

func TestResource(t *testing.T) {
	batch := testBatch()
	batch.ProviderHint = "azure"

	res, err := Resource(map[string]any{
		"Name":          "vm-1",
		"Resource Type": "VirtualMachine",
		"Region":        "westeurope",
		"State":         "running",
		"Tags":          "env:prod",
		"Cost Daily":    "2.5",
		"Cost Monthly":  "",
		"Launch Time":   "2023-11-01T00:00:00Z",
	}, batch)
	require.NoError(t, err)

	assert.Equal(t, "org-1", res.OrganizationID)
	assert.Equal(t, "sub-azure", res.CloudAccountID)
	assert.Equal(t, "azure", res.Provider)
	assert.Equal(t, "vm-1", res.ResourceID)
	assert.Equal(t, "VirtualMachine", res.ResourceType)
	assert.Equal(t, "prod", res.Tags["env"])
	require.NotNil(t, res.CostDaily)
	assert.Equal(t, "2.5", res.CostDaily.String())
	assert.Nil(t, res.CostMonthly)
	assert.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), res.CreatedAt)
	assert.Equal(t, testNow, res.UpdatedAt)
}

func TestResourceDefaultsCreatedAtToNow(t *testing.T) {
	res, err := Resource(map[string]any{"resource_id": "i-1", "provider": "aws"}, testBatch())
	require.NoError(t, err)
	assert.Equal(t, testNow, res.CreatedAt)
	assert.Equal(t, "acct-default", res.CloudAccountID)
	assert.Empty(t, res.Tags)
}

func TestResourceRejectsBadNumber(t *testing.T) {
	_, err := Resource(map[string]any{"resource_id": "i-1", "provider": "aws", "cost_daily": "ten"}, testBatch())
	var fieldErr *domain.FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "cost_daily", fieldErr.Field)
}

func TestCost(t *testing.T) {
	cost, err := Cost(map[string]any{
		"provider":       "gcp",
		"service":        "Compute Engine",
		"region":         "us-central1",
		"date":           "2024-05-06",
		"usage_quantity": 24,
		"usage_unit":     "Hours",
		"cost":           "12.40",
		"currency":       "usd",
	}, testBatch())
	require.NoError(t, err)

	assert.Equal(t, "acct-default", cost.CloudAccountID)
	assert.Equal(t, "Compute Engine", cost.ServiceName)
	assert.Equal(t, "2024-05-06", cost.Day())
	assert.Equal(t, "USD", cost.Currency)
	assert.Equal(t, "12.4", cost.CostAmount.String())
	assert.Equal(t, "24", cost.UsageQuantity.String())
}

func TestCostRequiresAmount(t *testing.T) {
	_, err := Cost(map[string]any{"provider": "aws", "usage_quantity": 1}, testBatch())
	assert.EqualError(t, err, "cost_amount is required")
}

func TestRecommendation(t *testing.T) {
	rec, err := Recommendation(map[string]any{
		"Recommendation ID": "rec-1",
		"Cloud Provider":    "Google",
		"Resource ID":       "vm-9",
		"Priority":          "HIGH",
		"Impact":            "Save 30%",
	}, testBatch())
	require.NoError(t, err)

	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "gcp", rec.Provider)
	assert.Equal(t, "vm-9", rec.ResourceExternalID)
	assert.Equal(t, domain.PriorityHigh, rec.Priority)
	assert.Equal(t, domain.DefaultRecommendationType, rec.RecommendationType)
	assert.Equal(t, []string{"Save 30%"}, []string(rec.ActionItems))
	assert.Nil(t, rec.Description)
	assert.Nil(t, rec.ResourceID)
}

func TestRecommendationUnknownPriorityIsMedium(t *testing.T) {
	rec, err := Recommendation(map[string]any{"id": "rec-2", "priority": "urgent"}, testBatch())
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityMedium, rec.Priority)
	assert.Empty(t, rec.ActionItems)
	assert.Empty(t, rec.Provider)
}

func TestRecordUnknownKind(t *testing.T) {
	_, err := Record(domain.Kind("invoices"), map[string]any{}, testBatch())
	assert.ErrorIs(t, err, domain.ErrInvalidKind)
}
