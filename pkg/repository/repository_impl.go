package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/storagebill/pkg/db/option"
	"github.com/smallbiznis/storagebill/pkg/db/transaction"
	"gorm.io/gorm"
)

// ErrNoRowsUpdated is returned by UpdateByID when no row carries the id.
var ErrNoRowsUpdated = errors.New("no_rows_updated")

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (r *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]T, error) {
	var result []T
	if err := r.query(ctx, query, opts).Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// FindOne returns nil without error when nothing matches.
func (r *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var result T
	err := r.query(ctx, query, opts).Take(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *store[T]) Create(ctx context.Context, resource *T) error {
	return transaction.Conn(ctx, r.db).Create(resource).Error
}

func (r *store[T]) UpdateByID(ctx context.Context, id any, fields map[string]any) error {
	res := transaction.Conn(ctx, r.db).Model(new(T)).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsUpdated
	}
	return nil
}

func (r *store[T]) query(ctx context.Context, filter *T, opts []option.QueryOption) *gorm.DB {
	db := transaction.Conn(ctx, r.db).Model(new(T))
	if filter != nil {
		db = db.Where(filter)
	}
	for _, opt := range opts {
		db = opt.Apply(db)
	}
	return db
}
