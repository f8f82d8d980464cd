package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	billingperiodrepository "github.com/smallbiznis/storagebill/internal/billingperiod/repository"
	billingperiodservice "github.com/smallbiznis/storagebill/internal/billingperiod/service"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	billingprofileservice "github.com/smallbiznis/storagebill/internal/billingprofile/service"
	billingwindowservice "github.com/smallbiznis/storagebill/internal/billingwindow/service"
	"github.com/smallbiznis/storagebill/internal/clock"
	"github.com/smallbiznis/storagebill/internal/config"
	lineitemservice "github.com/smallbiznis/storagebill/internal/lineitem/service"
	obsmetrics "github.com/smallbiznis/storagebill/internal/observability/metrics"
	prepaiddomain "github.com/smallbiznis/storagebill/internal/prepaid/domain"
	prepaidrepository "github.com/smallbiznis/storagebill/internal/prepaid/repository"
	prepaidservice "github.com/smallbiznis/storagebill/internal/prepaid/service"
	ratecatalogdomain "github.com/smallbiznis/storagebill/internal/ratecatalog/domain"
	ratecatalogrepository "github.com/smallbiznis/storagebill/internal/ratecatalog/repository"
	ratecatalogservice "github.com/smallbiznis/storagebill/internal/ratecatalog/service"
	ratingservice "github.com/smallbiznis/storagebill/internal/rating/service"
	"github.com/smallbiznis/storagebill/internal/scheduler/report"
	sourcedomain "github.com/smallbiznis/storagebill/internal/source/domain"
	sourcerepository "github.com/smallbiznis/storagebill/internal/source/repository"
	"github.com/smallbiznis/storagebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const companyID = snowflake.ID(100)

var runDate = date(2025, 8, 1)

type harness struct {
	db       *gorm.DB
	node     *snowflake.Node
	sched    *Scheduler
	profiles billingprofiledomain.Service
	periods  billingperioddomain.Service
	prepaid  prepaiddomain.Service
	reports  *report.Store
}

func newHarness(t *testing.T, metrics *obsmetrics.SchedulerMetrics, lease *BatchLease) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 8, 1, 0, 5, 0, 0, time.UTC))
	log := zap.NewNop()

	engineCfg := config.DefaultEngineConfig()
	engineCfg.Workers = 2
	engine := config.NewStaticEngineConfigHolder(engineCfg)

	catalog := ratecatalogservice.New(ratecatalogservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: ratecatalogrepository.Provide(node),
	})
	rating := ratingservice.New(ratingservice.ServiceParam{Log: log, Catalog: catalog, Engine: engine})
	periods := billingperiodservice.New(billingperiodservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: billingperiodrepository.Provide(), Metrics: metrics,
	})
	profiles := billingprofileservice.New(billingprofileservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, InFlight: periods,
	})
	prepaid := prepaidservice.New(prepaidservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: prepaidrepository.Provide(), Profiles: profiles, Rating: rating,
	})
	events, accounts := sourcerepository.Provide(db)
	lineItems := lineitemservice.New(lineitemservice.ServiceParam{
		Log: log, Rating: rating, Prepaid: prepaid, Periods: periods, Events: events, Accounts: accounts,
	})
	reports := report.NewStore(db, node)

	sched, err := New(Params{
		DB:        db,
		Log:       log,
		Clock:     clk,
		Engine:    engine,
		Profiles:  profiles,
		Windows:   billingwindowservice.New(billingwindowservice.ServiceParam{Prior: periods}),
		LineItems: lineItems,
		Periods:   periods,
		Events:    events,
		Reports:   reports,
		Catalog:   catalog,
		Lease:     lease,
		Metrics:   metrics,
	})
	require.NoError(t, err)

	ctx := context.Background()
	record, err := catalog.CreateRateRecord(ctx, ratecatalogdomain.CreateRateRecordRequest{
		CompanyID:     companyID,
		Version:       1,
		EffectiveDate: date(2025, 1, 1),
		Prices: map[string]decimal.Decimal{
			"box_storage": decimal.RequireFromString("0.5"),
			"retrieval":   decimal.NewFromInt(12),
		},
	})
	require.NoError(t, err)
	_, err = catalog.ActivateRateRecord(ctx, record.ID)
	require.NoError(t, err)

	return &harness{
		db:       db,
		node:     node,
		sched:    sched,
		profiles: profiles,
		periods:  periods,
		prepaid:  prepaid,
		reports:  reports,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (h *harness) monthlyCustomer(t *testing.T, customerID snowflake.ID, billingDay int) {
	t.Helper()
	_, err := h.profiles.Create(context.Background(), billingprofiledomain.CreateProfileRequest{
		CustomerID:          customerID,
		CompanyID:           companyID,
		StorageCycle:        billingprofiledomain.StorageCycleMonthly,
		ServiceCycle:        billingprofiledomain.ServiceCycleMonthly,
		BillingDay:          billingDay,
		AutoGenerateStorage: true,
		AutoGenerateService: true,
	})
	require.NoError(t, err)
}

func (h *harness) storeBoxes(t *testing.T, customerID snowflake.ID, units int64) {
	t.Helper()
	require.NoError(t, h.db.Create(&sourcedomain.StorageAccount{
		ID:          h.node.Generate(),
		CustomerID:  customerID,
		ServiceType: "box_storage",
		Units:       decimal.NewFromInt(units),
		OpenedOn:    date(2025, 1, 1),
		CreatedAt:   date(2025, 1, 1),
	}).Error)
}

func (h *harness) completeEvent(t *testing.T, customerID snowflake.ID, serviceType string, quantity int64, on time.Time) snowflake.ID {
	t.Helper()
	event := sourcedomain.ServiceEvent{
		ID:          h.node.Generate(),
		CustomerID:  customerID,
		CompanyID:   companyID,
		ServiceType: serviceType,
		Quantity:    decimal.NewFromInt(quantity),
		Status:      sourcedomain.EventStatusCompleted,
		CompletedOn: &on,
		CreatedAt:   on,
	}
	require.NoError(t, h.db.Create(&event).Error)
	return event.ID
}

func TestRunBatchGeneratesDraftForDueCustomers(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	h.monthlyCustomer(t, 1001, 1)
	h.storeBoxes(t, 1001, 10)
	h.completeEvent(t, 1001, "retrieval", 2, date(2025, 7, 15))
	h.monthlyCustomer(t, 1002, 15)

	rep, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.False(t, rep.Partial())

	require.Len(t, rep.Succeeded, 1)
	assert.Equal(t, snowflake.ID(1001), rep.Succeeded[0].CustomerID)
	assert.Equal(t, 2, rep.Succeeded[0].Lines)
	assert.Equal(t, "29.00", rep.Succeeded[0].Total)
	assert.Equal(t, []report.Skipped{{CustomerID: 1002, Reason: report.SkipNotDue}}, rep.Skipped)

	period, err := h.periods.Get(ctx, rep.Succeeded[0].PeriodID)
	require.NoError(t, err)
	assert.Equal(t, billingperioddomain.StatusDraft, period.Status)
	assert.Equal(t, billingperioddomain.OriginBatch, period.Origin)
	require.NotNil(t, period.StorageWindow())
	assert.Equal(t, date(2025, 8, 1), period.StorageWindow().Start)
	assert.Equal(t, date(2025, 8, 31), period.StorageWindow().End)
	require.NotNil(t, period.ServiceWindow())
	assert.Equal(t, date(2025, 7, 1), period.ServiceWindow().Start)
	assert.Equal(t, date(2025, 7, 31), period.ServiceWindow().End)

	profile, err := h.profiles.Get(ctx, 1001)
	require.NoError(t, err)
	require.NotNil(t, profile.LastRunDate)
	assert.True(t, profile.LastRunDate.Equal(runDate))

	stored, err := h.reports.Get(ctx, rep.RunID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Succeeded, 1)
	assert.Len(t, stored.Skipped, 1)
}

func TestRunBatchIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	h.monthlyCustomer(t, 1001, 1)
	h.storeBoxes(t, 1001, 10)
	h.completeEvent(t, 1001, "retrieval", 2, date(2025, 7, 15))

	first, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	require.Len(t, first.Succeeded, 1)

	second, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	assert.Empty(t, second.Succeeded)
	assert.Equal(t, []report.Skipped{{CustomerID: 1001, Reason: report.SkipNotDue}}, second.Skipped)

	// An overlapping run that read the profile before the first one committed.
	require.NoError(t, h.db.Exec("UPDATE billing_profiles SET last_run_date = NULL").Error)
	third, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	assert.Empty(t, third.Succeeded)
	assert.Equal(t, []report.Skipped{{CustomerID: 1001, Reason: report.SkipDuplicatePeriod}}, third.Skipped)

	periods, err := h.periods.List(ctx, 1001)
	require.NoError(t, err)
	assert.Len(t, periods, 1)
	assert.NotEqual(t, first.RunID, third.RunID)
}

func TestRunBatchIsolatesCustomerFailures(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	h.monthlyCustomer(t, 1001, 1)
	h.storeBoxes(t, 1001, 10)
	h.monthlyCustomer(t, 1003, 1)
	h.storeBoxes(t, 1003, 4)
	h.completeEvent(t, 1003, "shred", 1, date(2025, 7, 20))

	rep, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	assert.True(t, rep.Partial())

	require.Len(t, rep.Succeeded, 1)
	assert.Equal(t, snowflake.ID(1001), rep.Succeeded[0].CustomerID)
	assert.Equal(t, "5.00", rep.Succeeded[0].Total)

	require.Len(t, rep.Failed, 1)
	assert.Equal(t, snowflake.ID(1003), rep.Failed[0].CustomerID)
	assert.Equal(t, billingerr.CodeRateNotFound, rep.Failed[0].Cause)

	periods, err := h.periods.List(ctx, 1003)
	require.NoError(t, err)
	assert.Empty(t, periods)

	profile, err := h.profiles.Get(ctx, 1003)
	require.NoError(t, err)
	assert.Nil(t, profile.LastRunDate)
}

func TestRunBatchContinuesPastMalformedProfile(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	for _, id := range []snowflake.ID{1001, 1002, 1003} {
		h.monthlyCustomer(t, id, 1)
		h.storeBoxes(t, id, 10)
	}
	require.NoError(t, h.db.Exec("UPDATE billing_profiles SET storage_cycle = ? WHERE customer_id = ?", "biweekly", 1002).Error)

	rep, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	assert.True(t, rep.Partial())

	require.Len(t, rep.Succeeded, 2)
	assert.Equal(t, snowflake.ID(1001), rep.Succeeded[0].CustomerID)
	assert.Equal(t, snowflake.ID(1003), rep.Succeeded[1].CustomerID)

	require.Len(t, rep.Failed, 1)
	assert.Equal(t, snowflake.ID(1002), rep.Failed[0].CustomerID)
	assert.Equal(t, billingerr.CodeMalformedProfile, rep.Failed[0].Cause)

	periods, err := h.periods.List(ctx, 1002)
	require.NoError(t, err)
	assert.Empty(t, periods)
}

func (h *harness) prepaidCustomer(t *testing.T, customerID snowflake.ID, amount decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	term := 12
	start := date(2025, 8, 1)
	_, err := h.profiles.Create(ctx, billingprofiledomain.CreateProfileRequest{
		CustomerID:          customerID,
		CompanyID:           companyID,
		StorageCycle:        billingprofiledomain.StorageCyclePrepaid,
		ServiceCycle:        billingprofiledomain.ServiceCycleMonthly,
		BillingDay:          1,
		PrepaidTermMonths:   &term,
		PrepaidStartDate:    &start,
		AutoGenerateStorage: true,
	})
	require.NoError(t, err)
	h.storeBoxes(t, customerID, 10)
	_, err = h.prepaid.OpenTerm(ctx, prepaiddomain.OpenTermRequest{
		CustomerID:  customerID,
		ServiceType: "box_storage",
		Amount:      amount,
		Units:       decimal.NewFromInt(10),
	})
	require.NoError(t, err)
}

func TestRunBatchDrawsPrepaidCoverage(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.prepaidCustomer(t, 2001, decimal.NewFromInt(100))

	rep, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	require.Len(t, rep.Succeeded, 1)
	assert.Equal(t, 0, rep.Succeeded[0].Lines)
	assert.Empty(t, rep.Alerts)

	period, err := h.periods.Get(ctx, rep.Succeeded[0].PeriodID)
	require.NoError(t, err)
	assert.Nil(t, period.StorageWindow())
	require.NotNil(t, period.CoverageWindow())
	assert.Equal(t, date(2025, 8, 31), period.CoverageWindow().End)

	balance, err := h.prepaid.Get(ctx, 2001)
	require.NoError(t, err)
	assert.True(t, balance.Remaining.Equal(decimal.NewFromInt(95)))
}

func TestPrepaidCoverageDoesNotHoldCycleChange(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.prepaidCustomer(t, 2003, decimal.NewFromInt(100))

	rep, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	require.Len(t, rep.Succeeded, 1)

	period, err := h.periods.Get(ctx, rep.Succeeded[0].PeriodID)
	require.NoError(t, err)
	assert.Equal(t, billingperioddomain.StatusCovered, period.Status)
	assert.Empty(t, period.Lines)

	_, err = h.periods.Confirm(ctx, period.ID)
	assert.ErrorIs(t, err, billingperioddomain.ErrInvalidTransition)

	inFlight, err := h.periods.HasInFlight(ctx, 2003)
	require.NoError(t, err)
	assert.False(t, inFlight)

	profile, err := h.profiles.ChangeCycles(ctx, 2003, billingprofiledomain.ChangeCyclesRequest{
		StorageCycle: billingprofiledomain.StorageCycleQuarterly,
		ServiceCycle: billingprofiledomain.ServiceCycleMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, billingprofiledomain.StorageCycleQuarterly, profile.StorageCycle)
}

func TestRunBatchFallsBackWhenPrepaidExhausted(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.prepaidCustomer(t, 2002, decimal.NewFromInt(1))

	rep, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	require.Len(t, rep.Succeeded, 1)
	assert.Equal(t, 1, rep.Succeeded[0].Lines)
	assert.Equal(t, "5.00", rep.Succeeded[0].Total)

	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, snowflake.ID(2002), rep.Alerts[0].CustomerID)
	assert.Equal(t, billingerr.CodePrepaidExhausted, rep.Alerts[0].Kind)

	period, err := h.periods.Get(ctx, rep.Succeeded[0].PeriodID)
	require.NoError(t, err)
	assert.Nil(t, period.CoverageWindow())
	require.NotNil(t, period.StorageWindow())
	assert.Equal(t, date(2025, 8, 1), period.StorageWindow().Start)
	assert.Equal(t, date(2025, 8, 31), period.StorageWindow().End)

	balance, err := h.prepaid.Get(ctx, 2002)
	require.NoError(t, err)
	assert.True(t, balance.Remaining.Equal(decimal.NewFromInt(1)))
}

func (h *harness) immediateCustomer(t *testing.T, customerID snowflake.ID) {
	t.Helper()
	_, err := h.profiles.Create(context.Background(), billingprofiledomain.CreateProfileRequest{
		CustomerID:          customerID,
		CompanyID:           companyID,
		StorageCycle:        billingprofiledomain.StorageCycleMonthly,
		ServiceCycle:        billingprofiledomain.ServiceCycleImmediate,
		BillingDay:          1,
		AutoGenerateService: true,
	})
	require.NoError(t, err)
}

func TestBillImmediateBillsEventOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	h.immediateCustomer(t, 3001)
	eventID := h.completeEvent(t, 3001, "retrieval", 1, date(2025, 8, 4))

	rep, err := h.sched.RunBatch(ctx, runDate)
	require.NoError(t, err)
	assert.Equal(t, []report.Skipped{{CustomerID: 3001, Reason: report.SkipImmediateService}}, rep.Skipped)

	period, err := h.sched.BillImmediate(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, billingperioddomain.OriginImmediate, period.Origin)
	assert.Equal(t, billingperioddomain.StatusDraft, period.Status)
	require.NotNil(t, period.ServiceWindow())
	assert.Equal(t, date(2025, 8, 4), period.ServiceWindow().Start)
	assert.Equal(t, date(2025, 8, 4), period.ServiceWindow().End)
	require.Len(t, period.Lines, 1)
	assert.Equal(t, "12.00", period.Total.StringFixed(2))

	_, err = h.sched.BillImmediate(ctx, eventID)
	assert.True(t, errors.Is(err, billingerr.ErrDuplicateGeneration))

	_, err = h.sched.BillImmediate(ctx, h.node.Generate())
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRunBatchRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	metrics := obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "storagebill",
		Environment: "test",
	})

	h := newHarness(t, metrics, nil)
	h.monthlyCustomer(t, 1001, 1)
	h.storeBoxes(t, 1001, 10)
	h.monthlyCustomer(t, 1003, 1)
	h.completeEvent(t, 1003, "shred", 1, date(2025, 7, 20))

	_, err := h.sched.RunBatch(context.Background(), runDate)
	require.NoError(t, err)

	base := map[string]string{"service": "storagebill", "env": "test"}
	with := func(k, v string) map[string]string {
		labels := map[string]string{k: v}
		for key, value := range base {
			labels[key] = value
		}
		return labels
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "storagebill_batch_runs_total", with("result", obsmetrics.BatchResultPartial)))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "storagebill_batch_customers_total", with("outcome", obsmetrics.OutcomeSucceeded)))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "storagebill_batch_customers_total", with("outcome", obsmetrics.OutcomeFailed)))
	assert.Equal(t, float64(1), getCounterValue(t, registry, "storagebill_batch_failures_total", with("cause", billingerr.CodeRateNotFound)))

	transition := map[string]string{"service": "storagebill", "env": "test", "from": "new", "to": "draft"}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "storagebill_period_transitions_total", transition))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
