package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertRateRecord(ctx context.Context, db *gorm.DB, record *RateRecord) error
	FindRateRecordByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RateRecord, error)
	FindCurrentRateRecord(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*RateRecord, error)
	ListRateRecords(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]RateRecord, error)
	ClearCurrentRateRecord(ctx context.Context, db *gorm.DB, companyID snowflake.ID, now time.Time) error
	MarkCurrentRateRecord(ctx context.Context, db *gorm.DB, record *RateRecord, now time.Time) error

	InsertNegotiatedRate(ctx context.Context, db *gorm.DB, rate *NegotiatedRate) error
	FindNegotiatedRateByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*NegotiatedRate, error)
	FindActiveNegotiatedRate(ctx context.Context, db *gorm.DB, customerID, companyID snowflake.ID) (*NegotiatedRate, error)
	ListExpiredActiveNegotiatedRates(ctx context.Context, db *gorm.DB, asOf time.Time) ([]NegotiatedRate, error)
	UpdateNegotiatedRateStatus(ctx context.Context, db *gorm.DB, rate *NegotiatedRate, now time.Time) error
}
