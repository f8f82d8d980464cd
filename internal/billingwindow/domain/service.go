package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
)

type Service interface {
	// Generate loads the customer's prior windows and computes this run's windows.
	Generate(ctx context.Context, profile billingprofiledomain.BillingProfile, runDate time.Time) (Windows, error)
}

// PriorLoader returns the latest windows billed by non-cancelled batch
// periods generated on a date other than runDate.
type PriorLoader interface {
	PriorWindows(ctx context.Context, customerID snowflake.ID, runDate time.Time) (Prior, error)
}
