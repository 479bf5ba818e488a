package repository

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"github.com/smallbiznis/cloudunify/pkg/db"
)

// table describes how one kind is written: conflict target and the columns replaced on conflict.
// updated_at is not listed in updates; it is written through updatedAtClause.
type table struct {
	name    string
	columns []string
	keys    []string
	updates []string
	values  func(domain.Record) ([]any, error)
}

var tables = map[domain.Kind]table{
	domain.KindResources: {
		name: "resources",
		columns: []string{
			"id", "organization_id", "cloud_account_id", "provider", "resource_id", "resource_type",
			"region", "state", "tags", "cost_daily", "cost_monthly", "created_at", "updated_at", "revision",
		},
		keys: []string{"organization_id", "provider", "resource_id"},
		updates: []string{
			"cloud_account_id", "resource_type", "region", "state", "tags", "cost_daily", "cost_monthly",
		},
		values: resourceValues,
	},
	domain.KindCosts: {
		name: "cost_records",
		columns: []string{
			"id", "organization_id", "cloud_account_id", "provider", "service_name", "region", "cost_date",
			"usage_quantity", "usage_unit", "cost_amount", "currency", "created_at", "updated_at", "revision",
		},
		keys:    []string{"organization_id", "cloud_account_id", "provider", "service_name", "region", "cost_date"},
		updates: []string{"usage_quantity", "usage_unit", "cost_amount", "currency"},
		values:  costValues,
	},
	domain.KindRecommendations: {
		name: "recommendations",
		columns: []string{
			"id", "organization_id", "resource_id", "recommendation_type", "priority", "potential_savings_monthly",
			"description", "action_items", "created_at", "updated_at", "revision",
		},
		keys: []string{"id"},
		updates: []string{
			"organization_id", "resource_id", "recommendation_type", "priority", "potential_savings_monthly",
			"description", "action_items",
		},
		values: recommendationValues,
	},
}

func resourceValues(record domain.Record) ([]any, error) {
	r, ok := record.(*domain.Resource)
	if !ok {
		return nil, fmt.Errorf("unexpected record %T for resources", record)
	}
	tags, err := jsonArg(r.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	return []any{
		int64(r.ID), r.OrganizationID, r.CloudAccountID, r.Provider, r.ResourceID, r.ResourceType,
		r.Region, r.State, tags, decimalArg(r.CostDaily), decimalArg(r.CostMonthly), r.CreatedAt, r.UpdatedAt, 1,
	}, nil
}

func costValues(record domain.Record) ([]any, error) {
	c, ok := record.(*domain.CostRecord)
	if !ok {
		return nil, fmt.Errorf("unexpected record %T for cost_records", record)
	}
	day, err := c.CostDate.Value()
	if err != nil {
		return nil, fmt.Errorf("encode cost_date: %w", err)
	}
	return []any{
		int64(c.ID), c.OrganizationID, c.CloudAccountID, c.Provider, c.ServiceName, c.Region, day,
		c.UsageQuantity.String(), c.UsageUnit, c.CostAmount.String(), c.Currency, c.CreatedAt, c.UpdatedAt, 1,
	}, nil
}

func recommendationValues(record domain.Record) ([]any, error) {
	r, ok := record.(*domain.Recommendation)
	if !ok {
		return nil, fmt.Errorf("unexpected record %T for recommendations", record)
	}
	items := r.ActionItems
	if items == nil {
		items = []string{}
	}
	actionItems, err := jsonArg(items)
	if err != nil {
		return nil, fmt.Errorf("encode action_items: %w", err)
	}
	var description any
	if r.Description != nil {
		description = *r.Description
	}
	return []any{
		r.ID, r.OrganizationID, idArg(r.ResourceID), r.RecommendationType, r.Priority,
		decimalArg(r.PotentialSavingsMonthly), description, actionItems, r.CreatedAt, r.UpdatedAt, 1,
	}, nil
}

// jsonArg encodes JSON columns as text so every driver binds them the same way.
func jsonArg(v driver.Valuer) (any, error) {
	value, err := v.Value()
	if err != nil {
		return nil, err
	}
	if b, ok := value.([]byte); ok {
		return string(b), nil
	}
	return value, nil
}

// updatedAtClause keeps updated_at strictly increasing on conflict: an earlier-stamped batch
// that commits later bumps the stored value instead of moving it back.
func updatedAtClause(dialect, table string) string {
	switch dialect {
	case db.TypeMySQL:
		return "updated_at = GREATEST(VALUES(updated_at), updated_at + INTERVAL 1000 MICROSECOND)"
	case db.TypeSQLite:
		return fmt.Sprintf("updated_at = CASE WHEN julianday(%[1]s.updated_at) IS NULL "+
			"OR julianday(excluded.updated_at) > julianday(%[1]s.updated_at) THEN excluded.updated_at "+
			"ELSE strftime('%%Y-%%m-%%d %%H:%%M:%%f+00:00', %[1]s.updated_at, '+0.001 seconds') END", table)
	default:
		return fmt.Sprintf("updated_at = GREATEST(excluded.updated_at, %s.updated_at + interval '1 microsecond')", table)
	}
}

// sqliteTimeFormat is a layout both SQLite's date functions and the driver's reader accept.
const sqliteTimeFormat = "2006-01-02 15:04:05.999999999-07:00"

// bindArgs formats timestamps for SQLite, whose driver otherwise stores time.Time.String().
func bindArgs(dialect string, args []any) []any {
	if dialect != db.TypeSQLite {
		return args
	}
	for i, arg := range args {
		if ts, ok := arg.(time.Time); ok {
			args[i] = ts.UTC().Format(sqliteTimeFormat)
		}
	}
	return args
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func idArg(id *snowflake.ID) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}
