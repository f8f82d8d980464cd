package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	lineitemdomain "github.com/smallbiznis/storagebill/internal/lineitem/domain"
	prepaiddomain "github.com/smallbiznis/storagebill/internal/prepaid/domain"
	ratingdomain "github.com/smallbiznis/storagebill/internal/rating/domain"
	sourcedomain "github.com/smallbiznis/storagebill/internal/source/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type ratingStub struct {
	prices map[string]decimal.Decimal
}

func (r ratingStub) Resolve(_ context.Context, req ratingdomain.ResolveRequest) (ratingdomain.Resolution, error) {
	price, ok := r.prices[req.ServiceType]
	if !ok {
		return ratingdomain.Resolution{}, billingerr.RateNotFound(int64(req.CustomerID), int64(req.CompanyID), req.ServiceType)
	}
	return ratingdomain.Resolution{UnitPrice: price, Provenance: ratingdomain.ProvenanceBase, ProvenanceID: 1}, nil
}

func (r ratingStub) LineTotal(unitPrice, quantity decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(quantity).Round(2)
}

type prepaidStub struct {
	prepaiddomain.Service
	consumed  bool
	remaining decimal.Decimal
	coverage  *prepaiddomain.Coverage
}

func (p *prepaidStub) Consume(_ context.Context, _ snowflake.ID, coverage prepaiddomain.Coverage) (prepaiddomain.ConsumeResult, error) {
	p.coverage = &coverage
	return prepaiddomain.ConsumeResult{Consumed: p.consumed, Remaining: p.remaining}, nil
}

type periodsStub struct {
	billingperioddomain.Service
	billed map[string]struct{}
}

func (p periodsStub) BilledSourceRefs(_ context.Context, refs []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, ref := range refs {
		if _, ok := p.billed[ref]; ok {
			out[ref] = struct{}{}
		}
	}
	return out, nil
}

type sourceStub struct {
	events   []sourcedomain.ServiceEvent
	units    []sourcedomain.StorageUnits
	eventErr error
}

func (s sourceStub) ListCompleted(_ context.Context, _ snowflake.ID, window billingwindowdomain.Window) ([]sourcedomain.ServiceEvent, error) {
	if s.eventErr != nil {
		return nil, s.eventErr
	}
	var out []sourcedomain.ServiceEvent
	for _, e := range s.events {
		if e.CompletedOn != nil && window.Contains(*e.CompletedOn) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s sourceStub) GetEvent(context.Context, snowflake.ID) (*sourcedomain.ServiceEvent, error) {
	return nil, nil
}

func (s sourceStub) ActiveUnits(context.Context, snowflake.ID, time.Time) ([]sourcedomain.StorageUnits, error) {
	return s.units, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func event(id snowflake.ID, serviceType string, qty int64, on time.Time) sourcedomain.ServiceEvent {
	return sourcedomain.ServiceEvent{
		ID:          id,
		CustomerID:  9,
		ServiceType: serviceType,
		Quantity:    decimal.NewFromInt(qty),
		Status:      sourcedomain.EventStatusCompleted,
		CompletedOn: &on,
	}
}

func newService(src sourceStub, prepaid *prepaidStub, billed map[string]struct{}) lineitemdomain.Service {
	if prepaid == nil {
		prepaid = &prepaidStub{}
	}
	return New(ServiceParam{
		Log: zap.NewNop(),
		Rating: ratingStub{prices: map[string]decimal.Decimal{
			"box_storage": decimal.RequireFromString("0.5"),
			"retrieval":   decimal.NewFromInt(12),
		}},
		Prepaid:  prepaid,
		Periods:  periodsStub{billed: billed},
		Events:   src,
		Accounts: src,
	})
}

func profile() billingprofiledomain.BillingProfile {
	return billingprofiledomain.BillingProfile{
		CustomerID:          9,
		CompanyID:           3,
		StorageCycle:        billingprofiledomain.StorageCycleQuarterly,
		ServiceCycle:        billingprofiledomain.ServiceCycleMonthly,
		BillingDay:          1,
		AutoGenerateStorage: true,
		AutoGenerateService: true,
		Active:              true,
	}
}

func TestAssembleForwardStorageAndArrearsService(t *testing.T) {
	src := sourceStub{
		units: []sourcedomain.StorageUnits{{AccountID: 1, ServiceType: "box_storage", Units: decimal.NewFromInt(100)}},
		events: []sourcedomain.ServiceEvent{
			event(20, "retrieval", 2, date(2025, 7, 3)),
			event(21, "retrieval", 1, date(2025, 7, 30)),
			event(22, "retrieval", 1, date(2025, 8, 2)),
		},
	}
	svc := newService(src, nil, map[string]struct{}{"event:21": {}})

	out, err := svc.Assemble(context.Background(), lineitemdomain.Request{
		Profile: profile(),
		RunDate: date(2025, 8, 1),
		Windows: billingwindowdomain.Windows{
			Storage: billingwindowdomain.NewWindow(date(2025, 8, 1), date(2025, 10, 31)),
			Service: billingwindowdomain.NewWindow(date(2025, 7, 1), date(2025, 7, 31)),
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Lines, 2)
	assert.True(t, out.Billable())
	assert.Empty(t, out.Alerts)

	storage := out.Lines[0]
	assert.Equal(t, billingperioddomain.LineKindStorage, storage.Kind)
	assert.Equal(t, "account:1", storage.SourceRef)
	assert.Equal(t, "300", storage.Quantity.String())
	assert.Equal(t, "150", storage.LineTotal.String())
	assert.Equal(t, date(2025, 10, 31), storage.WindowEnd)

	service := out.Lines[1]
	assert.Equal(t, billingperioddomain.LineKindService, service.Kind)
	assert.Equal(t, "event:20", service.SourceRef)
	assert.Equal(t, "24", service.LineTotal.String())
	assert.Equal(t, date(2025, 7, 1), service.WindowStart)
}

func TestAssemblePrepaidCoverageDrawn(t *testing.T) {
	src := sourceStub{units: []sourcedomain.StorageUnits{
		{AccountID: 1, ServiceType: "box_storage", Units: decimal.NewFromInt(30)},
		{AccountID: 2, ServiceType: "box_storage", Units: decimal.NewFromInt(10)},
	}}
	prepaid := &prepaidStub{consumed: true}
	svc := newService(src, prepaid, nil)

	coverage := billingwindowdomain.NewWindow(date(2025, 8, 1), date(2025, 8, 31))
	out, err := svc.Assemble(context.Background(), lineitemdomain.Request{
		Profile: profile(),
		RunDate: date(2025, 8, 1),
		Windows: billingwindowdomain.Windows{PrepaidCoverage: coverage},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Lines)
	assert.True(t, out.CoverageDrawn)
	assert.True(t, out.Billable())
	assert.Equal(t, coverage, out.Windows.PrepaidCoverage)
	require.NotNil(t, prepaid.coverage)
	assert.Equal(t, "40", prepaid.coverage.Units.String())
}

func TestAssemblePrepaidExhaustedFallsBackToMonthlyStorage(t *testing.T) {
	src := sourceStub{units: []sourcedomain.StorageUnits{{AccountID: 1, ServiceType: "box_storage", Units: decimal.NewFromInt(30)}}}
	svc := newService(src, &prepaidStub{consumed: false, remaining: decimal.NewFromInt(4)}, nil)

	out, err := svc.Assemble(context.Background(), lineitemdomain.Request{
		Profile: profile(),
		RunDate: date(2025, 8, 1),
		Windows: billingwindowdomain.Windows{
			PrepaidCoverage: billingwindowdomain.NewWindow(date(2025, 8, 1), date(2025, 8, 31)),
		},
	})
	require.NoError(t, err)
	assert.False(t, out.CoverageDrawn)
	assert.Nil(t, out.Windows.PrepaidCoverage)
	require.NotNil(t, out.Windows.Storage)
	assert.Equal(t, date(2025, 8, 31), out.Windows.Storage.End)

	require.Len(t, out.Alerts, 1)
	assert.Equal(t, billingerr.CodePrepaidExhausted, out.Alerts[0].Kind)
	assert.Contains(t, out.Alerts[0].Message, "4.00")

	require.Len(t, out.Lines, 1)
	assert.Equal(t, "30", out.Lines[0].Quantity.String())
	assert.Equal(t, "15", out.Lines[0].LineTotal.String())
}

func TestAssembleFailsOnMissingRate(t *testing.T) {
	src := sourceStub{events: []sourcedomain.ServiceEvent{event(30, "shred", 1, date(2025, 7, 9))}}
	svc := newService(src, nil, nil)

	_, err := svc.Assemble(context.Background(), lineitemdomain.Request{
		Profile: profile(),
		RunDate: date(2025, 8, 1),
		Windows: billingwindowdomain.Windows{Service: billingwindowdomain.NewWindow(date(2025, 7, 1), date(2025, 7, 31))},
	})
	require.Error(t, err)
	assert.Equal(t, billingerr.CodeRateNotFound, billingerr.CauseCode(err))
}

func TestAssemblePropagatesSourceFailure(t *testing.T) {
	src := sourceStub{eventErr: billingerr.SourceUnavailable(errors.New("connection refused"), "fulfillment")}
	svc := newService(src, nil, nil)

	_, err := svc.Assemble(context.Background(), lineitemdomain.Request{
		Profile: profile(),
		RunDate: date(2025, 8, 1),
		Windows: billingwindowdomain.Windows{Service: billingwindowdomain.NewWindow(date(2025, 7, 1), date(2025, 7, 31))},
	})
	assert.True(t, errors.Is(err, billingerr.ErrSourceEventUnavailable))
}

func TestAssembleEmptyIsNotBillable(t *testing.T) {
	svc := newService(sourceStub{}, nil, nil)
	out, err := svc.Assemble(context.Background(), lineitemdomain.Request{
		Profile: profile(),
		RunDate: date(2025, 8, 1),
		Windows: billingwindowdomain.Windows{Service: billingwindowdomain.NewWindow(date(2025, 7, 1), date(2025, 7, 31))},
	})
	require.NoError(t, err)
	assert.False(t, out.Billable())
}

func TestAssembleEventUsesCompletionDay(t *testing.T) {
	svc := newService(sourceStub{}, nil, nil)
	line, err := svc.AssembleEvent(context.Background(), profile(), event(40, "retrieval", 3, date(2025, 8, 14)))
	require.NoError(t, err)
	assert.Equal(t, "event:40", line.SourceRef)
	assert.Equal(t, "36", line.LineTotal.String())
	assert.Equal(t, date(2025, 8, 14), line.WindowStart)
	assert.Equal(t, date(2025, 8, 14), line.WindowEnd)

	_, err = svc.AssembleEvent(context.Background(), profile(), sourcedomain.ServiceEvent{ID: 41, ServiceType: "retrieval"})
	assert.Error(t, err)
}
