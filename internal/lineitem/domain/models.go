package domain

import (
	"context"
	"time"

	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	sourcedomain "github.com/smallbiznis/storagebill/internal/source/domain"
)

type Request struct {
	Profile billingprofiledomain.BillingProfile
	RunDate time.Time
	Windows billingwindowdomain.Windows
}

// Alert is a non-fatal condition surfaced in the batch report.
type Alert struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Assembly is the priced content of one period. Windows differ from the
// request when a prepaid coverage month fell back to monthly storage.
type Assembly struct {
	Windows       billingwindowdomain.Windows
	Lines         []billingperioddomain.BillingLine
	Alerts        []Alert
	CoverageDrawn bool
}

// Billable reports whether the assembly is worth persisting as a period.
func (a Assembly) Billable() bool {
	return len(a.Lines) > 0 || a.CoverageDrawn
}

type Service interface {
	Assemble(ctx context.Context, req Request) (Assembly, error)
	// AssembleEvent prices a single completed event for immediate billing.
	AssembleEvent(ctx context.Context, profile billingprofiledomain.BillingProfile, event sourcedomain.ServiceEvent) (billingperioddomain.BillingLine, error)
}
