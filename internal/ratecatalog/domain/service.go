package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateRateRecordRequest struct {
	CompanyID      snowflake.ID               `validate:"required"`
	Version        int                        `validate:"gte=1"`
	EffectiveDate  time.Time                  `validate:"required"`
	ExpiryDate     *time.Time                 `validate:"omitempty,gtfield=EffectiveDate"`
	RushMultiplier decimal.Decimal            `validate:"-"`
	Prices         map[string]decimal.Decimal `validate:"required,min=1,dive,keys,required,endkeys"`
}

type CreateNegotiatedRateRequest struct {
	CustomerID            snowflake.ID               `validate:"required"`
	CompanyID             snowflake.ID               `validate:"required"`
	BaseRateRecordID      snowflake.ID               `validate:"required"`
	EffectiveDate         time.Time                  `validate:"required"`
	ExpiryDate            *time.Time                 `validate:"omitempty,gtfield=EffectiveDate"`
	GlobalDiscountPercent decimal.Decimal            `validate:"-"`
	VolumeThreshold       decimal.NullDecimal        `validate:"-"`
	VolumeDiscountPercent decimal.Decimal            `validate:"-"`
	RushMultiplier        decimal.NullDecimal        `validate:"-"`
	Overrides             map[string]decimal.Decimal `validate:"dive,keys,required,endkeys"`
}

type Service interface {
	CreateRateRecord(ctx context.Context, req CreateRateRecordRequest) (*RateRecord, error)
	ActivateRateRecord(ctx context.Context, id snowflake.ID) (*RateRecord, error)
	CurrentRateRecord(ctx context.Context, companyID snowflake.ID) (*RateRecord, error)
	ListRateRecords(ctx context.Context, companyID snowflake.ID) ([]RateRecord, error)

	CreateNegotiatedRate(ctx context.Context, req CreateNegotiatedRateRequest) (*NegotiatedRate, error)
	TransitionNegotiatedRate(ctx context.Context, id snowflake.ID, target NegotiatedRateStatus) (*NegotiatedRate, error)
	ActiveNegotiatedRate(ctx context.Context, customerID, companyID snowflake.ID) (*NegotiatedRate, error)
	ExpireNegotiatedRates(ctx context.Context, asOf time.Time) (int, error)
}

var (
	ErrInvalidRateRecord       = errors.New("invalid_rate_record")
	ErrRateRecordNotFound      = errors.New("rate_record_not_found")
	ErrInvalidNegotiatedRate   = errors.New("invalid_negotiated_rate")
	ErrNegotiatedRateNotFound  = errors.New("negotiated_rate_not_found")
	ErrInvalidTransition       = errors.New("invalid_transition")
	ErrNegotiatedRateConflict  = errors.New("negotiated_rate_conflict")
	ErrBaseRateCompanyMismatch = errors.New("base_rate_company_mismatch")
)
