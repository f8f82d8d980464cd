package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	lineitemdomain "github.com/smallbiznis/storagebill/internal/lineitem/domain"
	prepaiddomain "github.com/smallbiznis/storagebill/internal/prepaid/domain"
	ratingdomain "github.com/smallbiznis/storagebill/internal/rating/domain"
	sourcedomain "github.com/smallbiznis/storagebill/internal/source/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Rating   ratingdomain.Service
	Prepaid  prepaiddomain.Service
	Periods  billingperioddomain.Service
	Events   sourcedomain.ServiceEventSource
	Accounts sourcedomain.StorageAccountSource
}

type Service struct {
	log      *zap.Logger
	rating   ratingdomain.Service
	prepaid  prepaiddomain.Service
	periods  billingperioddomain.Service
	events   sourcedomain.ServiceEventSource
	accounts sourcedomain.StorageAccountSource
}

func New(p ServiceParam) lineitemdomain.Service {
	return &Service{
		log:      p.Log.Named("lineitem.service"),
		rating:   p.Rating,
		prepaid:  p.Prepaid,
		periods:  p.Periods,
		events:   p.Events,
		accounts: p.Accounts,
	}
}

// Assemble prices every line for the request's windows. Storage is billed
// forward per active account; service events completed in the arrears window
// are billed unless a live line already holds them.
func (s *Service) Assemble(ctx context.Context, req lineitemdomain.Request) (lineitemdomain.Assembly, error) {
	profile := req.Profile
	runDate := billingwindowdomain.DateOf(req.RunDate)
	out := lineitemdomain.Assembly{Windows: req.Windows}

	if req.Windows.PrepaidCoverage != nil {
		drawn, alert, err := s.drawPrepaid(ctx, profile, runDate, *req.Windows.PrepaidCoverage)
		if err != nil {
			return lineitemdomain.Assembly{}, err
		}
		if drawn {
			out.CoverageDrawn = true
		} else {
			out.Windows.PrepaidCoverage = nil
			out.Windows.Storage = billingwindowdomain.NewWindow(
				billingwindowdomain.MonthStart(runDate),
				billingwindowdomain.MonthEnd(runDate),
			)
			out.Alerts = append(out.Alerts, alert)
		}
	}

	if out.Windows.Storage != nil {
		lines, err := s.storageLines(ctx, profile, runDate, *out.Windows.Storage)
		if err != nil {
			return lineitemdomain.Assembly{}, err
		}
		out.Lines = append(out.Lines, lines...)
	}

	if out.Windows.Service != nil {
		lines, err := s.serviceLines(ctx, profile, runDate, *out.Windows.Service)
		if err != nil {
			return lineitemdomain.Assembly{}, err
		}
		out.Lines = append(out.Lines, lines...)
	}
	return out, nil
}

func (s *Service) AssembleEvent(ctx context.Context, profile billingprofiledomain.BillingProfile, event sourcedomain.ServiceEvent) (billingperioddomain.BillingLine, error) {
	if event.CompletedOn == nil {
		return billingperioddomain.BillingLine{}, errors.Newf("service event %s has no completion date", event.ID)
	}
	day := billingwindowdomain.DateOf(*event.CompletedOn)
	return s.serviceLine(ctx, profile, day, *billingwindowdomain.NewWindow(day, day), event)
}

func (s *Service) drawPrepaid(ctx context.Context, profile billingprofiledomain.BillingProfile, runDate time.Time, coverage billingwindowdomain.Window) (bool, lineitemdomain.Alert, error) {
	units, err := s.accounts.ActiveUnits(ctx, profile.CustomerID, runDate)
	if err != nil {
		return false, lineitemdomain.Alert{}, err
	}
	total := lo.Reduce(units, func(acc decimal.Decimal, u sourcedomain.StorageUnits, _ int) decimal.Decimal {
		return acc.Add(u.Units)
	}, decimal.Zero)

	res, err := s.prepaid.Consume(ctx, profile.CustomerID, prepaiddomain.Coverage{Window: coverage, Units: total})
	if err != nil {
		return false, lineitemdomain.Alert{}, err
	}
	if res.Consumed {
		return true, lineitemdomain.Alert{}, nil
	}

	alert := billingerr.PrepaidExhausted(int64(profile.CustomerID), res.Remaining.StringFixed(2))
	s.log.Warn("prepaid balance exhausted, falling back to monthly storage",
		zap.String("customer_id", profile.CustomerID.String()),
		zap.String("remaining", res.Remaining.String()),
	)
	return false, lineitemdomain.Alert{Kind: billingerr.CauseCode(alert), Message: alert.Error()}, nil
}

func (s *Service) storageLines(ctx context.Context, profile billingprofiledomain.BillingProfile, runDate time.Time, window billingwindowdomain.Window) ([]billingperioddomain.BillingLine, error) {
	units, err := s.accounts.ActiveUnits(ctx, profile.CustomerID, runDate)
	if err != nil {
		return nil, err
	}
	months := decimal.NewFromInt(int64(window.Months()))

	lines := make([]billingperioddomain.BillingLine, 0, len(units))
	for _, account := range units {
		res, err := s.rating.Resolve(ctx, ratingdomain.ResolveRequest{
			CustomerID:  profile.CustomerID,
			CompanyID:   profile.CompanyID,
			ServiceType: account.ServiceType,
			Quantity:    account.Units,
			RunDate:     runDate,
		})
		if err != nil {
			return nil, err
		}
		quantity := account.Units.Mul(months)
		lines = append(lines, billingperioddomain.BillingLine{
			Kind:         billingperioddomain.LineKindStorage,
			SourceRef:    account.Ref(),
			ServiceType:  account.ServiceType,
			Quantity:     quantity,
			UnitPrice:    res.UnitPrice,
			Trail:        res.Trail,
			LineTotal:    s.rating.LineTotal(res.UnitPrice, quantity),
			Provenance:   res.Provenance,
			ProvenanceID: res.ProvenanceID,
			WindowStart:  window.Start,
			WindowEnd:    window.End,
		})
	}
	return lines, nil
}

func (s *Service) serviceLines(ctx context.Context, profile billingprofiledomain.BillingProfile, runDate time.Time, window billingwindowdomain.Window) ([]billingperioddomain.BillingLine, error) {
	events, err := s.events.ListCompleted(ctx, profile.CustomerID, window)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	billed, err := s.periods.BilledSourceRefs(ctx, lo.Map(events, func(e sourcedomain.ServiceEvent, _ int) string {
		return e.Ref()
	}))
	if err != nil {
		return nil, err
	}
	pending := lo.Filter(events, func(e sourcedomain.ServiceEvent, _ int) bool {
		_, ok := billed[e.Ref()]
		return !ok
	})

	lines := make([]billingperioddomain.BillingLine, 0, len(pending))
	for _, event := range pending {
		line, err := s.serviceLine(ctx, profile, runDate, window, event)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (s *Service) serviceLine(ctx context.Context, profile billingprofiledomain.BillingProfile, runDate time.Time, window billingwindowdomain.Window, event sourcedomain.ServiceEvent) (billingperioddomain.BillingLine, error) {
	res, err := s.rating.Resolve(ctx, ratingdomain.ResolveRequest{
		CustomerID:  profile.CustomerID,
		CompanyID:   profile.CompanyID,
		ServiceType: event.ServiceType,
		Quantity:    event.Quantity,
		RunDate:     runDate,
		Rush:        event.Rush,
	})
	if err != nil {
		return billingperioddomain.BillingLine{}, err
	}
	return billingperioddomain.BillingLine{
		Kind:         billingperioddomain.LineKindService,
		SourceRef:    event.Ref(),
		ServiceType:  event.ServiceType,
		Quantity:     event.Quantity,
		UnitPrice:    res.UnitPrice,
		Trail:        res.Trail,
		LineTotal:    s.rating.LineTotal(res.UnitPrice, event.Quantity),
		Provenance:   res.Provenance,
		ProvenanceID: res.ProvenanceID,
		WindowStart:  window.Start,
		WindowEnd:    window.End,
	}, nil
}
