package repository

import (
	"context"

	"github.com/smallbiznis/cloudunify/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a read-side store over one gorm model; writes go through the upsert executor.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Count(ctx context.Context, query *T) (int64, error)
}
