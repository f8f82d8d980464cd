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
	"github.com/smallbiznis/storagebill/internal/billingperiod/repository"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	"github.com/smallbiznis/storagebill/internal/clock"
	ratingdomain "github.com/smallbiznis/storagebill/internal/rating/domain"
	"github.com/smallbiznis/storagebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const customerID snowflake.ID = 501

func newTestService(t *testing.T) billingperioddomain.Service {
	t.Helper()
	db := testutil.NewDB(t)
	return New(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: clock.NewFakeClock(time.Date(2025, 8, 1, 0, 10, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func storageLine(total string) billingperioddomain.BillingLine {
	return billingperioddomain.BillingLine{
		Kind:         billingperioddomain.LineKindStorage,
		SourceRef:    "account-1",
		ServiceType:  "storage",
		Quantity:     decimal.NewFromInt(10),
		UnitPrice:    decimal.RequireFromString("2.5"),
		LineTotal:    decimal.RequireFromString(total),
		Provenance:   ratingdomain.ProvenanceBase,
		ProvenanceID: 1,
		WindowStart:  date(2025, 8, 1),
		WindowEnd:    date(2025, 8, 31),
	}
}

func serviceLine(eventID, total string) billingperioddomain.BillingLine {
	return billingperioddomain.BillingLine{
		Kind:         billingperioddomain.LineKindService,
		SourceRef:    eventID,
		ServiceType:  "retrieval",
		Quantity:     decimal.NewFromInt(1),
		UnitPrice:    decimal.RequireFromString(total),
		LineTotal:    decimal.RequireFromString(total),
		Provenance:   ratingdomain.ProvenanceNegotiated,
		ProvenanceID: 2,
		Trail: []ratingdomain.Adjustment{{
			Step:   ratingdomain.StepGlobal,
			Factor: decimal.NewFromInt(10),
			Before: decimal.NewFromInt(20),
			After:  decimal.NewFromInt(18),
		}},
		WindowStart: date(2025, 7, 1),
		WindowEnd:   date(2025, 7, 31),
	}
}

func draftRequest(key string, runDate time.Time, lines ...billingperioddomain.BillingLine) billingperioddomain.DraftRequest {
	return billingperioddomain.DraftRequest{
		CustomerID:     customerID,
		CompanyID:      7,
		RunDate:        runDate,
		Origin:         billingperioddomain.OriginBatch,
		IdempotencyKey: key,
		Windows: billingwindowdomain.Windows{
			Storage: billingwindowdomain.NewWindow(date(2025, 8, 1), date(2025, 8, 31)),
			Service: billingwindowdomain.NewWindow(date(2025, 7, 1), date(2025, 7, 31)),
		},
		Lines: lines,
	}
}

func TestCreateDraftPersistsLinesAndTotal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	period, err := svc.CreateDraft(ctx, draftRequest("k1", date(2025, 8, 1), storageLine("25"), serviceLine("evt-1", "18")))
	require.NoError(t, err)
	assert.Equal(t, billingperioddomain.StatusDraft, period.Status)
	assert.Equal(t, "43", period.Total.String())
	require.NotNil(t, period.ActiveKey)
	assert.Equal(t, "k1", *period.ActiveKey)

	loaded, err := svc.Get(ctx, period.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
	assert.Equal(t, billingperioddomain.LineKindStorage, loaded.Lines[0].Kind)
	assert.Equal(t, billingperioddomain.DirectionAdvance, loaded.Lines[0].Direction)
	assert.Nil(t, loaded.Lines[0].ActiveSourceRef)
	assert.Equal(t, billingperioddomain.DirectionArrears, loaded.Lines[1].Direction)
	require.NotNil(t, loaded.Lines[1].ActiveSourceRef)
	assert.Equal(t, "evt-1", *loaded.Lines[1].ActiveSourceRef)
	require.Len(t, loaded.Lines[1].Trail, 1)
	assert.Equal(t, ratingdomain.StepGlobal, loaded.Lines[1].Trail[0].Step)

	require.NotNil(t, loaded.StorageWindow())
	assert.Equal(t, date(2025, 8, 31), loaded.StorageWindow().End)
	assert.Nil(t, loaded.CoverageWindow())
}

func TestCreateDraftDuplicateKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateDraft(ctx, draftRequest("k1", date(2025, 8, 1), storageLine("25")))
	require.NoError(t, err)

	_, err = svc.CreateDraft(ctx, draftRequest("k1", date(2025, 8, 1), storageLine("25")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, billingerr.ErrDuplicateGeneration))
	assert.Equal(t, billingerr.CodeDuplicateGeneration, billingerr.CauseCode(err))

	exists, err := svc.ExistsActiveKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	periods, err := svc.List(ctx, customerID)
	require.NoError(t, err)
	assert.Len(t, periods, 1)
}

func TestServiceEventBilledOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateDraft(ctx, draftRequest("k1", date(2025, 8, 1), serviceLine("evt-1", "18")))
	require.NoError(t, err)

	_, err = svc.CreateDraft(ctx, draftRequest("k2", date(2025, 8, 2), serviceLine("evt-1", "18")))
	assert.ErrorIs(t, err, billingperioddomain.ErrSourceAlreadyBilled)

	billed, err := svc.BilledSourceRefs(ctx, []string{"evt-1", "evt-2", "evt-1"})
	require.NoError(t, err)
	assert.Len(t, billed, 1)
	assert.Contains(t, billed, "evt-1")
}

func TestLifecycleToPaid(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	period, err := svc.CreateDraft(ctx, draftRequest("k1", date(2025, 8, 1), storageLine("25")))
	require.NoError(t, err)

	_, err = svc.MarkInvoiced(ctx, period.ID)
	assert.ErrorIs(t, err, billingperioddomain.ErrInvalidTransition)

	confirmed, err := svc.Confirm(ctx, period.ID)
	require.NoError(t, err)
	assert.Equal(t, billingperioddomain.StatusConfirmed, confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)

	invoiced, err := svc.MarkInvoiced(ctx, period.ID)
	require.NoError(t, err)
	assert.Equal(t, billingperioddomain.StatusInvoiced, invoiced.Status)

	_, err = svc.Cancel(ctx, period.ID, "too late")
	assert.ErrorIs(t, err, billingperioddomain.ErrInvalidTransition)

	paid, err := svc.MarkPaid(ctx, period.ID)
	require.NoError(t, err)
	assert.Equal(t, billingperioddomain.StatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)

	_, err = svc.Confirm(ctx, period.ID)
	assert.ErrorIs(t, err, billingperioddomain.ErrInvalidTransition)
}

func TestCreateDraftRequiresLinesOrCoverage(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateDraft(context.Background(), draftRequest("k1", date(2025, 8, 1)))
	assert.ErrorIs(t, err, billingperioddomain.ErrEmptyPeriod)
}

func TestCoverageOnlyPeriodIsClosed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	req := draftRequest("k1", date(2025, 8, 1))
	req.Windows = billingwindowdomain.Windows{
		PrepaidCoverage: billingwindowdomain.NewWindow(date(2025, 8, 1), date(2025, 8, 31)),
	}
	period, err := svc.CreateDraft(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, billingperioddomain.StatusCovered, period.Status)
	assert.False(t, period.Open())
	assert.True(t, period.Total.IsZero())

	inFlight, err := svc.HasInFlight(ctx, customerID)
	require.NoError(t, err)
	assert.False(t, inFlight)

	exists, err := svc.ExistsActiveKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = svc.Confirm(ctx, period.ID)
	assert.ErrorIs(t, err, billingperioddomain.ErrInvalidTransition)
	_, err = svc.Cancel(ctx, period.ID, "")
	assert.ErrorIs(t, err, billingperioddomain.ErrInvalidTransition)

	prior, err := svc.PriorWindows(ctx, customerID, date(2025, 9, 1))
	require.NoError(t, err)
	require.NotNil(t, prior.PrepaidCoverage)
	assert.Equal(t, date(2025, 8, 31), prior.PrepaidCoverage.End)
}

func TestCancelReleasesKeyAndEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	period, err := svc.CreateDraft(ctx, draftRequest("k1", date(2025, 8, 1), serviceLine("evt-1", "18")))
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, period.ID)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, period.ID, "wrong rate")
	require.NoError(t, err)
	assert.Equal(t, billingperioddomain.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.ActiveKey)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "wrong rate", *cancelled.CancelReason)

	exists, err := svc.ExistsActiveKey(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)

	billed, err := svc.BilledSourceRefs(ctx, []string{"evt-1"})
	require.NoError(t, err)
	assert.Empty(t, billed)

	again, err := svc.CreateDraft(ctx, draftRequest("k1", date(2025, 8, 1), serviceLine("evt-1", "18")))
	require.NoError(t, err)
	assert.NotEqual(t, period.ID, again.ID)
}

func TestHasInFlight(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	inFlight, err := svc.HasInFlight(ctx, customerID)
	require.NoError(t, err)
	assert.False(t, inFlight)

	period, err := svc.CreateDraft(ctx, draftRequest("k1", date(2025, 8, 1), storageLine("25")))
	require.NoError(t, err)

	inFlight, err = svc.HasInFlight(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, inFlight)

	_, err = svc.Cancel(ctx, period.ID, "")
	require.NoError(t, err)

	inFlight, err = svc.HasInFlight(ctx, customerID)
	require.NoError(t, err)
	assert.False(t, inFlight)
}

func TestPriorWindows(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	quarter := draftRequest("q3", date(2025, 8, 1), storageLine("75"))
	quarter.Windows = billingwindowdomain.Windows{
		Storage: billingwindowdomain.NewWindow(date(2025, 8, 1), date(2025, 10, 31)),
		Service: billingwindowdomain.NewWindow(date(2025, 7, 1), date(2025, 7, 31)),
	}
	_, err := svc.CreateDraft(ctx, quarter)
	require.NoError(t, err)

	cancelled, err := svc.CreateDraft(ctx, draftRequest("sep", date(2025, 9, 1), storageLine("25")))
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, cancelled.ID, "")
	require.NoError(t, err)

	immediate := draftRequest("evt", date(2025, 8, 20), serviceLine("evt-9", "18"))
	immediate.Origin = billingperioddomain.OriginImmediate
	immediate.Windows = billingwindowdomain.Windows{
		Service: billingwindowdomain.NewWindow(date(2025, 8, 20), date(2025, 8, 20)),
	}
	_, err = svc.CreateDraft(ctx, immediate)
	require.NoError(t, err)

	prior, err := svc.PriorWindows(ctx, customerID, date(2025, 9, 1))
	require.NoError(t, err)
	require.NotNil(t, prior.Storage)
	assert.Equal(t, date(2025, 10, 31), prior.Storage.End)
	require.NotNil(t, prior.Service)
	assert.Equal(t, date(2025, 7, 31), prior.Service.End)
	assert.Nil(t, prior.PrepaidCoverage)
	assert.True(t, prior.CoversStorage(date(2025, 9, 1)))

	// A rerun on the same date ignores the period that run produced.
	sameDay, err := svc.PriorWindows(ctx, customerID, date(2025, 8, 1))
	require.NoError(t, err)
	assert.Nil(t, sameDay.Storage)
	assert.Nil(t, sameDay.Service)
}
