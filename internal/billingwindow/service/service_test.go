package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func profile(storage billingprofiledomain.StorageCycle, service billingprofiledomain.ServiceCycle) billingprofiledomain.BillingProfile {
	return billingprofiledomain.BillingProfile{
		CustomerID:          9,
		StorageCycle:        storage,
		ServiceCycle:        service,
		BillingDay:          1,
		AutoGenerateStorage: true,
		AutoGenerateService: true,
		Active:              true,
	}
}

func assertWindow(t *testing.T, w *billingwindowdomain.Window, start, end time.Time) {
	t.Helper()
	require.NotNil(t, w)
	assert.Equal(t, start, w.Start)
	assert.Equal(t, end, w.End)
}

func TestForwardWindows(t *testing.T) {
	runDate := day(2025, 8, 1)
	cases := []struct {
		cycle billingprofiledomain.StorageCycle
		end   time.Time
	}{
		{billingprofiledomain.StorageCycleMonthly, day(2025, 8, 31)},
		{billingprofiledomain.StorageCycleQuarterly, day(2025, 10, 31)},
		{billingprofiledomain.StorageCycleSemiAnnual, day(2026, 1, 31)},
		{billingprofiledomain.StorageCycleAnnual, day(2026, 7, 31)},
	}
	for _, tc := range cases {
		t.Run(string(tc.cycle), func(t *testing.T) {
			w := ComputeWindows(profile(tc.cycle, billingprofiledomain.ServiceCycleMonthly), runDate, billingwindowdomain.Prior{})
			assertWindow(t, w.Storage, day(2025, 8, 1), tc.end)
			assert.Nil(t, w.PrepaidCoverage)
		})
	}
}

func TestForwardWindowStartsOnFirstOfMonthMidMonth(t *testing.T) {
	w := ComputeWindows(profile(billingprofiledomain.StorageCycleQuarterly, billingprofiledomain.ServiceCycleMonthly), day(2025, 11, 15), billingwindowdomain.Prior{})
	assertWindow(t, w.Storage, day(2025, 11, 1), day(2026, 1, 31))
}

func TestMonthlyArrearsWindow(t *testing.T) {
	w := ComputeWindows(profile(billingprofiledomain.StorageCycleMonthly, billingprofiledomain.ServiceCycleMonthly), day(2025, 8, 1), billingwindowdomain.Prior{})
	assertWindow(t, w.Service, day(2025, 7, 1), day(2025, 7, 31))

	w = ComputeWindows(profile(billingprofiledomain.StorageCycleMonthly, billingprofiledomain.ServiceCycleMonthly), day(2025, 3, 5), billingwindowdomain.Prior{})
	assertWindow(t, w.Service, day(2025, 2, 1), day(2025, 2, 28))
}

func TestWeeklyArrearsWindow(t *testing.T) {
	// 2025-08-06 is a Wednesday; the preceding Sunday is 2025-08-03.
	w := DefaultArrearsWindow(billingprofiledomain.ServiceCycleWeekly, day(2025, 8, 6))
	assertWindow(t, w, day(2025, 7, 28), day(2025, 8, 3))

	// A Sunday run bills the week that ended the previous Sunday.
	w = DefaultArrearsWindow(billingprofiledomain.ServiceCycleWeekly, day(2025, 8, 3))
	assertWindow(t, w, day(2025, 7, 21), day(2025, 7, 27))

	// A Monday run bills the week that ended yesterday.
	w = DefaultArrearsWindow(billingprofiledomain.ServiceCycleWeekly, day(2025, 8, 4))
	assertWindow(t, w, day(2025, 7, 28), day(2025, 8, 3))
}

func TestImmediateServiceHasNoBatchWindow(t *testing.T) {
	w := ComputeWindows(profile(billingprofiledomain.StorageCycleMonthly, billingprofiledomain.ServiceCycleImmediate), day(2025, 8, 1), billingwindowdomain.Prior{})
	assert.Nil(t, w.Service)
	assert.NotNil(t, w.Storage)
}

func TestStorageSkippedWhenPriorCoversRunDate(t *testing.T) {
	prior := billingwindowdomain.Prior{Storage: billingwindowdomain.NewWindow(day(2025, 8, 1), day(2025, 10, 31))}
	p := profile(billingprofiledomain.StorageCycleQuarterly, billingprofiledomain.ServiceCycleMonthly)

	w := ComputeWindows(p, day(2025, 9, 1), prior)
	assert.Nil(t, w.Storage)
	assertWindow(t, w.Service, day(2025, 8, 1), day(2025, 8, 31))

	w = ComputeWindows(p, day(2025, 11, 1), prior)
	assertWindow(t, w.Storage, day(2025, 11, 1), day(2026, 1, 31))
}

func TestServiceWindowCatchesUpAfterMissedRuns(t *testing.T) {
	prior := billingwindowdomain.Prior{Service: billingwindowdomain.NewWindow(day(2025, 5, 1), day(2025, 5, 31))}
	w := ComputeWindows(profile(billingprofiledomain.StorageCycleMonthly, billingprofiledomain.ServiceCycleMonthly), day(2025, 8, 1), prior)
	assertWindow(t, w.Service, day(2025, 6, 1), day(2025, 7, 31))
}

func TestStorageWindowCatchesUpAfterMissedRuns(t *testing.T) {
	p := profile(billingprofiledomain.StorageCycleMonthly, billingprofiledomain.ServiceCycleMonthly)
	prior := billingwindowdomain.Prior{
		Storage: billingwindowdomain.NewWindow(day(2025, 8, 1), day(2025, 8, 31)),
		Service: billingwindowdomain.NewWindow(day(2025, 7, 1), day(2025, 7, 31)),
	}

	w := ComputeWindows(p, day(2025, 10, 1), prior)
	assertWindow(t, w.Storage, day(2025, 9, 1), day(2025, 10, 31))
	assert.Equal(t, 2, w.Storage.Months())
	assertWindow(t, w.Service, day(2025, 8, 1), day(2025, 9, 30))

	// A quarterly cycle keeps its own end and only prepends the gap.
	p.StorageCycle = billingprofiledomain.StorageCycleQuarterly
	w = ComputeWindows(p, day(2025, 10, 1), prior)
	assertWindow(t, w.Storage, day(2025, 9, 1), day(2025, 12, 31))
}

func TestStorageCatchUpStartsAfterPrepaidCoverage(t *testing.T) {
	p := profile(billingprofiledomain.StorageCycleMonthly, billingprofiledomain.ServiceCycleMonthly)
	prior := billingwindowdomain.Prior{
		Storage:         billingwindowdomain.NewWindow(day(2024, 1, 1), day(2024, 1, 31)),
		PrepaidCoverage: billingwindowdomain.NewWindow(day(2025, 7, 1), day(2025, 7, 31)),
	}

	w := ComputeWindows(p, day(2025, 9, 1), prior)
	assertWindow(t, w.Storage, day(2025, 8, 1), day(2025, 9, 30))
}

func TestServiceWindowOmittedWhenAlreadyBilled(t *testing.T) {
	prior := billingwindowdomain.Prior{Service: billingwindowdomain.NewWindow(day(2025, 7, 1), day(2025, 7, 31))}
	w := ComputeWindows(profile(billingprofiledomain.StorageCycleMonthly, billingprofiledomain.ServiceCycleMonthly), day(2025, 8, 20), prior)
	assert.Nil(t, w.Service)
}

func TestAutoGenerateFlagsMaskWindows(t *testing.T) {
	p := profile(billingprofiledomain.StorageCycleMonthly, billingprofiledomain.ServiceCycleMonthly)
	p.AutoGenerateStorage = false
	w := ComputeWindows(p, day(2025, 8, 1), billingwindowdomain.Prior{})
	assert.Nil(t, w.Storage)
	assert.NotNil(t, w.Service)

	p.AutoGenerateService = false
	assert.True(t, ComputeWindows(p, day(2025, 8, 1), billingwindowdomain.Prior{}).Empty())
}

func TestPrepaidCoverageWithinTerm(t *testing.T) {
	start := day(2025, 1, 1)
	term := 12
	p := profile(billingprofiledomain.StorageCyclePrepaid, billingprofiledomain.ServiceCycleMonthly)
	p.Prepaid = true
	p.PrepaidStartDate = &start
	p.PrepaidTermMonths = &term

	w := ComputeWindows(p, day(2025, 8, 1), billingwindowdomain.Prior{})
	assert.Nil(t, w.Storage)
	assertWindow(t, w.PrepaidCoverage, day(2025, 8, 1), day(2025, 8, 31))

	prior := billingwindowdomain.Prior{PrepaidCoverage: w.PrepaidCoverage}
	again := ComputeWindows(p, day(2025, 8, 15), prior)
	assert.Nil(t, again.PrepaidCoverage)
	assert.Nil(t, again.Storage)

	after := ComputeWindows(p, day(2026, 2, 1), billingwindowdomain.Prior{})
	assert.Nil(t, after.PrepaidCoverage)
	assertWindow(t, after.Storage, day(2026, 2, 1), day(2026, 2, 28))
}

func TestKeyDependsOnWindows(t *testing.T) {
	p := profile(billingprofiledomain.StorageCycleMonthly, billingprofiledomain.ServiceCycleMonthly)
	a := ComputeWindows(p, day(2025, 8, 1), billingwindowdomain.Prior{})
	b := ComputeWindows(p, day(2025, 8, 1), billingwindowdomain.Prior{})
	assert.Equal(t, a.Key(9, day(2025, 8, 1)), b.Key(9, day(2025, 8, 1)))

	p.AutoGenerateService = false
	c := ComputeWindows(p, day(2025, 8, 1), billingwindowdomain.Prior{})
	assert.NotEqual(t, a.Key(9, day(2025, 8, 1)), c.Key(9, day(2025, 8, 1)))
	assert.NotEqual(t, a.Key(9, day(2025, 8, 1)), a.Key(10, day(2025, 8, 1)))
}

type priorStub struct {
	prior billingwindowdomain.Prior
}

func (s priorStub) PriorWindows(context.Context, snowflake.ID, time.Time) (billingwindowdomain.Prior, error) {
	return s.prior, nil
}

func TestGenerateRejectsMalformedPrepaidProfile(t *testing.T) {
	svc := New(ServiceParam{Prior: priorStub{}})
	p := profile(billingprofiledomain.StorageCyclePrepaid, billingprofiledomain.ServiceCycleMonthly)

	_, err := svc.Generate(context.Background(), p, day(2025, 8, 1))
	assert.True(t, errors.Is(err, billingerr.ErrMalformedProfile))
}

func TestWindowMonths(t *testing.T) {
	assert.Equal(t, 1, billingwindowdomain.NewWindow(day(2025, 8, 1), day(2025, 8, 31)).Months())
	assert.Equal(t, 3, billingwindowdomain.NewWindow(day(2025, 8, 1), day(2025, 10, 31)).Months())
	assert.Equal(t, 12, billingwindowdomain.NewWindow(day(2025, 8, 1), day(2026, 7, 31)).Months())
}

func TestClampedDay(t *testing.T) {
	assert.Equal(t, day(2025, 2, 28), billingwindowdomain.ClampedDay(2025, time.February, 31))
	assert.Equal(t, day(2024, 2, 29), billingwindowdomain.ClampedDay(2024, time.February, 30))
	assert.Equal(t, day(2025, 4, 15), billingwindowdomain.ClampedDay(2025, time.April, 15))
}
