// Package transaction carries a gorm transaction on the context so nested
// service calls join the caller's transaction instead of opening a new one.
package transaction

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// FromContext returns the transaction stored on ctx, if any.
func FromContext(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return nil
	}
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return nil
}

// ContextWithTx stores tx on the context.
func ContextWithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Conn returns the context transaction when present, otherwise fallback.
func Conn(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}

// Run executes fn inside a transaction. An enclosing transaction on ctx is
// reused and left for the outer caller to commit.
func Run(ctx context.Context, db *gorm.DB, fn func(ctx context.Context, tx *gorm.DB) error) error {
	if tx := FromContext(ctx); tx != nil {
		return fn(ctx, tx)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ContextWithTx(ctx, tx), tx)
	})
}
