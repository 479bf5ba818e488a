// Package normalize turns untyped bulk items into canonical ingest records.
package normalize

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"gorm.io/datatypes"
)

// BatchContext carries the batch-wide defaults a row may omit.
type BatchContext struct {
	Now            time.Time
	ProviderHint   string
	OrganizationID string
	CloudAccountID string
	CloudAccounts  map[string]string
	Rules          config.IngestRules
}

func (b BatchContext) cloudAccount(provider string) string {
	if account := strings.TrimSpace(b.CloudAccounts[provider]); account != "" {
		return account
	}
	return strings.TrimSpace(b.CloudAccountID)
}

func (b BatchContext) now() time.Time {
	if b.Now.IsZero() {
		return time.Now().UTC()
	}
	return b.Now.UTC()
}

func (b BatchContext) defaultRecommendationType() string {
	if t := strings.TrimSpace(b.Rules.DefaultRecommendationType); t != "" {
		return t
	}
	return domain.DefaultRecommendationType
}

// provider resolves the row provider, falling back to the batch hint.
func (b BatchContext) provider(row map[string]any, aliases ...string) (string, error) {
	value, _ := first(row, aliases...)
	provider, err := Provider(aliases[0], value, b.Rules.ProviderAliases)
	if err != nil {
		return "", err
	}
	if provider != "" {
		return provider, nil
	}
	if b.ProviderHint == "" {
		return "", nil
	}
	return Provider(aliases[0], b.ProviderHint, b.Rules.ProviderAliases)
}

func (b BatchContext) organization(row map[string]any) string {
	if org := text(row, "organization_id", "org_id"); org != "" {
		return org
	}
	return strings.TrimSpace(b.OrganizationID)
}

// Resource normalizes one raw resource item. Missing required fields are left blank for the validator.
func Resource(raw map[string]any, batch BatchContext) (*domain.Resource, error) {
	row := Keys(raw)

	provider, err := batch.provider(row, "provider", "cloud_provider")
	if err != nil {
		return nil, err
	}

	tagsValue, _ := first(row, "tags")
	tags, err := Tags("tags", tagsValue)
	if err != nil {
		return nil, err
	}

	costDaily, err := optionalDecimal(row, "cost_daily")
	if err != nil {
		return nil, err
	}
	costMonthly, err := optionalDecimal(row, "cost_monthly")
	if err != nil {
		return nil, err
	}

	now := batch.now()
	createdAt := now
	for _, field := range []string{"launch_time", "created_at"} {
		value, ok := first(row, field)
		if !ok {
			continue
		}
		ts, ok, err := Timestamp(field, value)
		if err != nil {
			return nil, err
		}
		if ok {
			createdAt = ts
			break
		}
	}

	account := text(row, "cloud_account_id", "account_id")
	if account == "" {
		account = batch.cloudAccount(provider)
	}

	return &domain.Resource{
		OrganizationID: batch.organization(row),
		CloudAccountID: account,
		Provider:       provider,
		ResourceID:     text(row, "resource_id", "id", "name"),
		ResourceType:   text(row, "resource_type", "type"),
		Region:         text(row, "region", "location"),
		State:          text(row, "state", "status"),
		Tags:           datatypes.JSONMap(tags),
		CostDaily:      costDaily,
		CostMonthly:    costMonthly,
		CreatedAt:      createdAt,
		UpdatedAt:      now,
	}, nil
}

// Cost normalizes one raw cost item.
func Cost(raw map[string]any, batch BatchContext) (*domain.CostRecord, error) {
	row := Keys(raw)

	provider, err := batch.provider(row, "provider", "cloud_provider")
	if err != nil {
		return nil, err
	}

	var costDate datatypes.Date
	if value, ok := first(row, "cost_date", "date", "usage_date"); ok {
		day, ok, err := Date("cost_date", value)
		if err != nil {
			return nil, err
		}
		if ok {
			costDate = datatypes.Date(day)
		}
	}

	quantity, err := optionalDecimal(row, "usage_quantity", "quantity")
	if err != nil {
		return nil, err
	}
	if quantity == nil {
		return nil, domain.Required("usage_quantity")
	}
	amount, err := optionalDecimal(row, "cost_amount", "cost")
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return nil, domain.Required("cost_amount")
	}

	account := text(row, "cloud_account_id", "account_id")
	if account == "" {
		account = batch.cloudAccount(provider)
	}

	now := batch.now()
	return &domain.CostRecord{
		OrganizationID: batch.organization(row),
		CloudAccountID: account,
		Provider:       provider,
		ServiceName:    text(row, "service_name", "service"),
		Region:         text(row, "region", "location"),
		CostDate:       costDate,
		UsageQuantity:  *quantity,
		UsageUnit:      text(row, "usage_unit", "unit"),
		CostAmount:     *amount,
		Currency:       strings.ToUpper(text(row, "currency")),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Recommendation normalizes one raw recommendation item. The resource link is resolved later.
func Recommendation(raw map[string]any, batch BatchContext) (*domain.Recommendation, error) {
	row := Keys(raw)

	provider, err := batch.provider(row, "cloud_provider", "provider")
	if err != nil {
		return nil, err
	}

	savings, err := optionalDecimal(row, "potential_savings_monthly", "potential_savings")
	if err != nil {
		return nil, err
	}

	var actionItems []string
	if value, ok := first(row, "action_items"); ok {
		actionItems, err = ActionItems("action_items", value)
		if err != nil {
			return nil, err
		}
	} else if impact := text(row, "impact"); impact != "" {
		actionItems = []string{impact}
	} else {
		actionItems = []string{}
	}

	var description *string
	if d := text(row, "description"); d != "" {
		description = &d
	}

	recType := text(row, "recommendation_type", "type")
	if recType == "" {
		recType = batch.defaultRecommendationType()
	}

	priority, _ := first(row, "priority")
	now := batch.now()
	return &domain.Recommendation{
		ID:                      text(row, "recommendation_id", "id"),
		OrganizationID:          batch.organization(row),
		RecommendationType:      recType,
		Priority:                Priority(priority),
		PotentialSavingsMonthly: savings,
		Description:             description,
		ActionItems:             datatypes.JSONSlice[string](actionItems),
		CreatedAt:               now,
		UpdatedAt:               now,
		ResourceExternalID:      text(row, "resource_id"),
		Provider:                provider,
	}, nil
}

// Record dispatches on kind and returns the canonical record.
func Record(kind domain.Kind, raw map[string]any, batch BatchContext) (domain.Record, error) {
	var (
		record domain.Record
		err    error
	)
	switch kind {
	case domain.KindResources:
		record, err = Resource(raw, batch)
	case domain.KindCosts:
		record, err = Cost(raw, batch)
	case domain.KindRecommendations:
		record, err = Recommendation(raw, batch)
	default:
		return nil, domain.ErrInvalidKind
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func optionalDecimal(row map[string]any, aliases ...string) (*decimal.Decimal, error) {
	value, ok := first(row, aliases...)
	if !ok {
		return nil, nil
	}
	return Decimal(aliases[0], value)
}
