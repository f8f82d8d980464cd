package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	InsertBalance(ctx context.Context, db *gorm.DB, balance *PrepaidBalance) error
	FindBalanceByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*PrepaidBalance, error)
	// DeductBalance lowers the remaining amount only when it covers amount and
	// reports whether a row was changed.
	DeductBalance(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, amount decimal.Decimal, now time.Time) (bool, error)
	AddBalance(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, amount decimal.Decimal, now time.Time) error
	InsertConsumption(ctx context.Context, db *gorm.DB, consumption *PrepaidConsumption) error
	FindConsumption(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, coverageStart time.Time) (*PrepaidConsumption, error)
	ListConsumptions(ctx context.Context, db *gorm.DB, balanceID snowflake.ID) ([]PrepaidConsumption, error)
}
