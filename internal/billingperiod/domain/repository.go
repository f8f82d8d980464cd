package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPeriod(ctx context.Context, db *gorm.DB, period *BillingPeriod) error
	InsertLines(ctx context.Context, db *gorm.DB, lines []BillingLine) error
	FindPeriodByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingPeriod, error)
	FindPeriodByActiveKey(ctx context.Context, db *gorm.DB, key string) (*BillingPeriod, error)
	ListPeriods(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]BillingPeriod, error)
	ListLines(ctx context.Context, db *gorm.DB, periodID snowflake.ID) ([]BillingLine, error)
	CountLines(ctx context.Context, db *gorm.DB, periodID snowflake.ID) (int64, error)
	UpdatePeriodStatus(ctx context.Context, db *gorm.DB, period *BillingPeriod) error
	ReleaseLineSources(ctx context.Context, db *gorm.DB, periodID snowflake.ID) error
	CountOpenPeriods(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error)
	LatestStoragePeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, runDate time.Time) (*BillingPeriod, error)
	LatestCoveragePeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, runDate time.Time) (*BillingPeriod, error)
	LatestServicePeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, runDate time.Time) (*BillingPeriod, error)
	ActiveSourceRefs(ctx context.Context, db *gorm.DB, refs []string) ([]string, error)
}
