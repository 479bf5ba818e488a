// Package domain contains persistence models and contracts for bulk ingestion.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Kind selects the entity a batch carries.
type Kind string

const (
	KindResources       Kind = "resources"
	KindCosts           Kind = "costs"
	KindRecommendations Kind = "recommendations"
)

func (k Kind) Valid() bool {
	switch k {
	case KindResources, KindCosts, KindRecommendations:
		return true
	default:
		return false
	}
}

// EventType is the activity event published after a committed batch of this kind.
func (k Kind) EventType() string {
	return string(k) + ".bulk"
}

const (
	ProviderAWS   = "aws"
	ProviderAzure = "azure"
	ProviderGCP   = "gcp"
)

var Providers = []string{ProviderAWS, ProviderAzure, ProviderGCP}

const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const DefaultRecommendationType = "General"

// Resource is one cloud resource, unique per (organization_id, provider, resource_id).
type Resource struct {
	ID             snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OrganizationID string            `gorm:"type:varchar(64);not null;uniqueIndex:uq_resource_key,priority:1" json:"organization_id" validate:"required"`
	CloudAccountID string            `gorm:"type:varchar(128);not null;default:''" json:"cloud_account_id"`
	Provider       string            `gorm:"type:varchar(16);not null;uniqueIndex:uq_resource_key,priority:2" json:"provider" validate:"required,oneof=aws azure gcp"`
	ResourceID     string            `gorm:"type:varchar(512);not null;uniqueIndex:uq_resource_key,priority:3" json:"resource_id" validate:"required"`
	ResourceType   string            `gorm:"type:varchar(255);not null" json:"resource_type" validate:"required"`
	Region         string            `gorm:"type:varchar(64);not null" json:"region" validate:"required"`
	State          string            `gorm:"type:varchar(64);not null" json:"state" validate:"required"`
	Tags           datatypes.JSONMap `json:"tags"`
	CostDaily      *decimal.Decimal  `gorm:"type:decimal(18,6)" json:"cost_daily" validate:"omitempty,gte=0"`
	CostMonthly    *decimal.Decimal  `gorm:"type:decimal(18,6)" json:"cost_monthly" validate:"omitempty,gte=0"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
	Revision       int64             `gorm:"not null;default:1" json:"-"`
}

func (Resource) TableName() string { return "resources" }

func (r *Resource) NaturalKey() string {
	return joinKey(r.OrganizationID, r.Provider, r.ResourceID)
}

func (r *Resource) Organization() string { return r.OrganizationID }

// CostRecord is one day of spend for a service in a region.
type CostRecord struct {
	ID             snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OrganizationID string          `gorm:"type:varchar(64);not null;uniqueIndex:uq_cost_key,priority:1" json:"organization_id" validate:"required"`
	CloudAccountID string          `gorm:"type:varchar(128);not null;uniqueIndex:uq_cost_key,priority:2" json:"cloud_account_id" validate:"required"`
	Provider       string          `gorm:"type:varchar(16);not null;uniqueIndex:uq_cost_key,priority:3" json:"provider" validate:"required,oneof=aws azure gcp"`
	ServiceName    string          `gorm:"type:varchar(255);not null;uniqueIndex:uq_cost_key,priority:4" json:"service_name" validate:"required"`
	Region         string          `gorm:"type:varchar(64);not null;uniqueIndex:uq_cost_key,priority:5" json:"region" validate:"required"`
	CostDate       datatypes.Date  `gorm:"not null;uniqueIndex:uq_cost_key,priority:6" json:"cost_date" validate:"required"`
	UsageQuantity  decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"usage_quantity" validate:"gte=0"`
	UsageUnit      string          `gorm:"type:varchar(64);not null" json:"usage_unit" validate:"required"`
	CostAmount     decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"cost_amount" validate:"gte=0"`
	Currency       string          `gorm:"type:varchar(3);not null" json:"currency" validate:"required,len=3,alpha"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
	Revision       int64           `gorm:"not null;default:1" json:"-"`
}

func (CostRecord) TableName() string { return "cost_records" }

func (c *CostRecord) NaturalKey() string {
	return joinKey(c.OrganizationID, c.CloudAccountID, c.Provider, c.ServiceName, c.Region, c.Day())
}

func (c *CostRecord) Organization() string { return c.OrganizationID }

// Day formats cost_date as YYYY-MM-DD.
func (c *CostRecord) Day() string {
	t := time.Time(c.CostDate)
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

// Recommendation is keyed by its external identifier. ResourceID is a weak link to
// resources.id; ResourceExternalID and Provider only drive the lookup and are not stored.
type Recommendation struct {
	ID                      string                      `gorm:"primaryKey;type:varchar(255)" json:"id" validate:"required"`
	OrganizationID          string                      `gorm:"type:varchar(64);not null;index" json:"organization_id" validate:"required"`
	ResourceID              *snowflake.ID               `json:"resource_id"`
	RecommendationType      string                      `gorm:"type:varchar(255);not null" json:"recommendation_type" validate:"required"`
	Priority                string                      `gorm:"type:varchar(16);not null;default:medium" json:"priority" validate:"required,oneof=low medium high critical"`
	PotentialSavingsMonthly *decimal.Decimal            `gorm:"type:decimal(18,6)" json:"potential_savings_monthly" validate:"omitempty,gte=0"`
	Description             *string                     `gorm:"type:text" json:"description"`
	ActionItems             datatypes.JSONSlice[string] `json:"action_items"`
	CreatedAt               time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time                   `gorm:"not null" json:"updated_at"`
	Revision                int64                       `gorm:"not null;default:1" json:"-"`

	ResourceExternalID string `gorm:"-" json:"-"`
	Provider           string `gorm:"-" json:"-"`
}

func (Recommendation) TableName() string { return "recommendations" }

func (r *Recommendation) NaturalKey() string { return r.ID }

func (r *Recommendation) Organization() string { return r.OrganizationID }

// Record is the canonical form every kind is normalized into.
type Record interface {
	NaturalKey() string
	Organization() string
}

var (
	_ Record = (*Resource)(nil)
	_ Record = (*CostRecord)(nil)
	_ Record = (*Recommendation)(nil)
)

func joinKey(parts ...string) string {
	return strings.Join(parts, "|")
}
