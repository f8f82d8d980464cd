package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateProfileRequest struct {
	CustomerID             snowflake.ID    `validate:"required"`
	CompanyID              snowflake.ID    `validate:"required"`
	StorageCycle           StorageCycle    `validate:"required,oneof=monthly quarterly semi_annual annual prepaid"`
	ServiceCycle           ServiceCycle    `validate:"required,oneof=monthly weekly immediate"`
	BillingDay             int             `validate:"gte=1,lte=31"`
	PrepaidTermMonths      *int            `validate:"required_if=StorageCycle prepaid"`
	PrepaidStartDate       *time.Time      `validate:"required_if=StorageCycle prepaid"`
	PrepaidDiscountPercent decimal.Decimal `validate:"-"`
	AutoGenerateStorage    bool
	AutoGenerateService    bool
}

type ChangeCyclesRequest struct {
	StorageCycle      StorageCycle `validate:"required,oneof=monthly quarterly semi_annual annual prepaid"`
	ServiceCycle      ServiceCycle `validate:"required,oneof=monthly weekly immediate"`
	PrepaidTermMonths *int         `validate:"required_if=StorageCycle prepaid"`
	PrepaidStartDate  *time.Time   `validate:"required_if=StorageCycle prepaid"`
}

type Service interface {
	Create(ctx context.Context, req CreateProfileRequest) (*BillingProfile, error)
	Get(ctx context.Context, customerID snowflake.ID) (*BillingProfile, error)
	ListBillable(ctx context.Context) ([]BillingProfile, error)
	ChangeCycles(ctx context.Context, customerID snowflake.ID, req ChangeCyclesRequest) (*BillingProfile, error)
	Deactivate(ctx context.Context, customerID snowflake.ID) error
	MarkRun(ctx context.Context, customerID snowflake.ID, runDate time.Time) error
}

// InFlightChecker reports whether a customer has a period still open to change.
type InFlightChecker interface {
	HasInFlight(ctx context.Context, customerID snowflake.ID) (bool, error)
}

var (
	ErrInvalidProfile   = errors.New("invalid_profile")
	ErrProfileNotFound  = errors.New("profile_not_found")
	ErrProfileExists    = errors.New("profile_exists")
	ErrPeriodInFlight   = errors.New("period_in_flight")
	ErrProfileNotActive = errors.New("profile_not_active")
)
