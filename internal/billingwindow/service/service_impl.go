package service

import (
	"context"
	"time"

	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	"go.uber.org/fx"
)

type ServiceParam struct {
	fx.In

	Prior billingwindowdomain.PriorLoader
}

type Service struct {
	prior billingwindowdomain.PriorLoader
}

func New(p ServiceParam) billingwindowdomain.Service {
	return &Service{prior: p.Prior}
}

func (s *Service) Generate(ctx context.Context, profile billingprofiledomain.BillingProfile, runDate time.Time) (billingwindowdomain.Windows, error) {
	if err := profile.Validate(); err != nil {
		return billingwindowdomain.Windows{}, err
	}
	prior, err := s.prior.PriorWindows(ctx, profile.CustomerID, billingwindowdomain.DateOf(runDate))
	if err != nil {
		return billingwindowdomain.Windows{}, err
	}
	return ComputeWindows(profile, runDate, prior), nil
}

// ComputeWindows is the pure window calculation for one run. Kinds whose
// auto-generate flag is off are left nil.
func ComputeWindows(profile billingprofiledomain.BillingProfile, runDate time.Time, prior billingwindowdomain.Prior) billingwindowdomain.Windows {
	runDate = billingwindowdomain.DateOf(runDate)

	var out billingwindowdomain.Windows
	if profile.AutoGenerateStorage && !prior.CoversStorage(runDate) {
		if inPrepaidTerm(profile, runDate) {
			out.PrepaidCoverage = monthWindow(runDate)
		} else {
			out.Storage = forwardWindow(profile.StorageCycle, runDate, prior)
		}
	}
	if profile.AutoGenerateService {
		out.Service = arrearsWindow(profile.ServiceCycle, runDate, prior.Service)
	}
	return out
}

// ForwardWindow is the advance storage window starting on the first of
// runDate's month. Prepaid profiles outside their term bill monthly.
func ForwardWindow(cycle billingprofiledomain.StorageCycle, runDate time.Time) *billingwindowdomain.Window {
	months := cycle.Months()
	if months == 0 {
		months = 1
	}
	start := billingwindowdomain.MonthStart(runDate)
	return billingwindowdomain.NewWindow(start, start.AddDate(0, months, -1))
}

// forwardWindow reaches back over months left unbilled by missed runs. The
// gap starts after the last storage or prepaid coverage window.
func forwardWindow(cycle billingprofiledomain.StorageCycle, runDate time.Time, prior billingwindowdomain.Prior) *billingwindowdomain.Window {
	window := ForwardWindow(cycle, runDate)
	last := latestEnd(prior.Storage, prior.PrepaidCoverage)
	if last == nil {
		return window
	}
	if resume := last.AddDate(0, 0, 1); resume.Before(window.Start) {
		window.Start = resume
	}
	return window
}

func latestEnd(windows ...*billingwindowdomain.Window) *time.Time {
	var last *time.Time
	for _, w := range windows {
		if w != nil && (last == nil || w.End.After(*last)) {
			end := w.End
			last = &end
		}
	}
	return last
}

// DefaultArrearsWindow is the single service cycle immediately preceding runDate.
func DefaultArrearsWindow(cycle billingprofiledomain.ServiceCycle, runDate time.Time) *billingwindowdomain.Window {
	runDate = billingwindowdomain.DateOf(runDate)
	switch cycle {
	case billingprofiledomain.ServiceCycleMonthly:
		prev := billingwindowdomain.MonthStart(runDate).AddDate(0, -1, 0)
		return billingwindowdomain.NewWindow(prev, billingwindowdomain.MonthEnd(prev))
	case billingprofiledomain.ServiceCycleWeekly:
		back := int(runDate.Weekday())
		if back == 0 {
			back = 7
		}
		sunday := runDate.AddDate(0, 0, -back)
		return billingwindowdomain.NewWindow(sunday.AddDate(0, 0, -6), sunday)
	default:
		return nil
	}
}

func arrearsWindow(cycle billingprofiledomain.ServiceCycle, runDate time.Time, prior *billingwindowdomain.Window) *billingwindowdomain.Window {
	window := DefaultArrearsWindow(cycle, runDate)
	if window == nil || prior == nil {
		return window
	}
	if !prior.End.Before(window.End) {
		return nil
	}
	// Resume the day after the last billed day, whether that closes a gap
	// left by missed runs or trims an overlap.
	window.Start = prior.End.AddDate(0, 0, 1)
	return window
}

func monthWindow(date time.Time) *billingwindowdomain.Window {
	start := billingwindowdomain.MonthStart(date)
	return billingwindowdomain.NewWindow(start, billingwindowdomain.MonthEnd(start))
}

func inPrepaidTerm(profile billingprofiledomain.BillingProfile, runDate time.Time) bool {
	if profile.StorageCycle != billingprofiledomain.StorageCyclePrepaid || profile.PrepaidStartDate == nil {
		return false
	}
	end := profile.PrepaidTermEnd()
	return !runDate.Before(billingwindowdomain.DateOf(*profile.PrepaidStartDate)) && (end == nil || !runDate.After(*end))
}
