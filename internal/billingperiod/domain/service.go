package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
)

// DraftRequest carries everything needed to persist a draft period. Line IDs,
// directions and totals are filled in by the service.
type DraftRequest struct {
	CustomerID     snowflake.ID `validate:"required"`
	CompanyID      snowflake.ID `validate:"required"`
	RunDate        time.Time    `validate:"required"`
	Origin         Origin       `validate:"required,oneof=batch immediate"`
	IdempotencyKey string       `validate:"required"`
	Windows        billingwindowdomain.Windows
	Lines          []BillingLine
}

type Service interface {
	CreateDraft(ctx context.Context, req DraftRequest) (*BillingPeriod, error)
	ExistsActiveKey(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, id snowflake.ID) (*BillingPeriod, error)
	List(ctx context.Context, customerID snowflake.ID) ([]BillingPeriod, error)
	ListLines(ctx context.Context, periodID snowflake.ID) ([]BillingLine, error)

	Confirm(ctx context.Context, id snowflake.ID) (*BillingPeriod, error)
	MarkInvoiced(ctx context.Context, id snowflake.ID) (*BillingPeriod, error)
	MarkPaid(ctx context.Context, id snowflake.ID) (*BillingPeriod, error)
	Cancel(ctx context.Context, id snowflake.ID, reason string) (*BillingPeriod, error)

	HasInFlight(ctx context.Context, customerID snowflake.ID) (bool, error)
	PriorWindows(ctx context.Context, customerID snowflake.ID, runDate time.Time) (billingwindowdomain.Prior, error)
	// BilledSourceRefs returns the subset of refs already held by live service lines.
	BilledSourceRefs(ctx context.Context, refs []string) (map[string]struct{}, error)
}

var (
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrPeriodNotFound      = errors.New("period_not_found")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrEmptyPeriod         = errors.New("empty_period")
	ErrSourceAlreadyBilled = errors.New("source_already_billed")
)
