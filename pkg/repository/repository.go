package repository

import (
	"context"

	"github.com/smallbiznis/storagebill/pkg/db/option"
)

// Repository is a generic gorm-backed store for simple CRUD models. Every call
// joins the transaction carried on ctx, if any.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	UpdateByID(ctx context.Context, id any, fields map[string]any) error
}
