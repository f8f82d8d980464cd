package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// OpenTermRequest opens a prepaid term. Units is the storage quantity used to
// resolve the locked rate and defaults to one.
type OpenTermRequest struct {
	CustomerID  snowflake.ID    `validate:"required"`
	ServiceType string          `validate:"required"`
	Amount      decimal.Decimal `validate:"-"`
	Units       decimal.Decimal `validate:"-"`
}

type Service interface {
	// OpenTerm creates the customer's balance, locking the storage unit rate
	// at the profile's prepaid start date.
	OpenTerm(ctx context.Context, req OpenTermRequest) (*PrepaidBalance, error)
	// Consume draws one coverage window. It never drives the balance negative;
	// an insufficient balance returns Consumed=false.
	Consume(ctx context.Context, customerID snowflake.ID, coverage Coverage) (ConsumeResult, error)
	Replenish(ctx context.Context, customerID snowflake.ID, amount decimal.Decimal) (*PrepaidBalance, error)
	Get(ctx context.Context, customerID snowflake.ID) (*PrepaidBalance, error)
	ListConsumptions(ctx context.Context, customerID snowflake.ID) ([]PrepaidConsumption, error)
}

var (
	ErrInvalidRequest    = errors.New("invalid_request")
	ErrBalanceNotFound   = errors.New("balance_not_found")
	ErrBalanceExists     = errors.New("balance_exists")
	ErrProfileNotPrepaid = errors.New("profile_not_prepaid")
)
