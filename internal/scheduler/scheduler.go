package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	"github.com/smallbiznis/storagebill/internal/clock"
	"github.com/smallbiznis/storagebill/internal/config"
	"github.com/smallbiznis/storagebill/internal/idempotency"
	lineitemdomain "github.com/smallbiznis/storagebill/internal/lineitem/domain"
	obsmetrics "github.com/smallbiznis/storagebill/internal/observability/metrics"
	"github.com/smallbiznis/storagebill/internal/observability/tracing"
	ratecatalogdomain "github.com/smallbiznis/storagebill/internal/ratecatalog/domain"
	"github.com/smallbiznis/storagebill/internal/scheduler/guard"
	"github.com/smallbiznis/storagebill/internal/scheduler/report"
	sourcedomain "github.com/smallbiznis/storagebill/internal/source/domain"
	"github.com/smallbiznis/storagebill/pkg/db/transaction"
	"github.com/smallbiznis/storagebill/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	jobRunBatch              = "run_batch"
	jobExpireNegotiatedRates = "expire_negotiated_rates"
)

var (
	ErrInvalidConfig   = errors.New("invalid_scheduler_config")
	ErrBatchInProgress = errors.New("batch_in_progress")
	ErrEventNotFound   = errors.New("service_event_not_found")
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Engine    *config.EngineConfigHolder
	Profiles  billingprofiledomain.Service
	Windows   billingwindowdomain.Service
	LineItems lineitemdomain.Service
	Periods   billingperioddomain.Service
	Events    sourcedomain.ServiceEventSource
	Reports   *report.Store
	Catalog   ratecatalogdomain.Service    `optional:"true"`
	Lease     *BatchLease                  `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	engine    *config.EngineConfigHolder
	profiles  billingprofiledomain.Service
	windows   billingwindowdomain.Service
	lineItems lineitemdomain.Service
	periods   billingperioddomain.Service
	events    sourcedomain.ServiceEventSource
	reports   *report.Store
	catalog   ratecatalogdomain.Service
	lease     *BatchLease
	metrics   *obsmetrics.SchedulerMetrics
	tracer    trace.Tracer
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Engine == nil || p.Profiles == nil || p.Windows == nil ||
		p.LineItems == nil || p.Periods == nil || p.Events == nil || p.Reports == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:     p.Clock,
		engine:    p.Engine,
		profiles:  p.Profiles,
		windows:   p.Windows,
		lineItems: p.LineItems,
		periods:   p.Periods,
		events:    p.Events,
		reports:   p.Reports,
		catalog:   p.Catalog,
		lease:     p.Lease,
		metrics:   p.Metrics,
		tracer:    tracing.Tracer("scheduler"),
	}, nil
}

// outcome is the result of one customer's generation attempt.
type outcome struct {
	succeeded *report.Succeeded
	skipped   *report.Skipped
	failed    *report.Failed
	alerts    []report.Alert
}

// collector gathers worker outcomes into the batch report.
type collector struct {
	mu  sync.Mutex
	rep *report.BatchReport
}

func (c *collector) add(o outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case o.succeeded != nil:
		c.rep.Succeeded = append(c.rep.Succeeded, *o.succeeded)
	case o.skipped != nil:
		c.rep.Skipped = append(c.rep.Skipped, *o.skipped)
	case o.failed != nil:
		c.rep.Failed = append(c.rep.Failed, *o.failed)
	}
	c.rep.Alerts = append(c.rep.Alerts, o.alerts...)
}

// RunDaily is the cron entry point: negotiated agreements past their expiry
// are retired first so the batch prices against what is still in force.
func (s *Scheduler) RunDaily(ctx context.Context, today time.Time) error {
	var err error
	if s.catalog != nil {
		expired, expireErr := s.catalog.ExpireNegotiatedRates(ctx, today)
		if expireErr != nil {
			s.metrics.IncJobError(jobExpireNegotiatedRates, expireErr)
			err = stderrors.Join(err, fmt.Errorf("%s: %w", jobExpireNegotiatedRates, expireErr))
		} else if expired > 0 {
			s.logger(ctx).Info("negotiated rates expired", zap.Int("count", expired))
		}
	}

	if _, batchErr := s.RunBatch(ctx, today); batchErr != nil {
		err = stderrors.Join(err, fmt.Errorf("%s: %w", jobRunBatch, batchErr))
	}
	return err
}

// RunBatch sweeps every billable profile for runDate. Customers are processed
// by a bounded worker pool, each in its own transaction; a failure is recorded
// against that customer and never aborts the batch. The returned error is
// reserved for conditions that prevented the sweep from running at all.
func (s *Scheduler) RunBatch(ctx context.Context, runDate time.Time) (report.BatchReport, error) {
	cfg := configFrom(s.engine.Get())
	runDate = billingwindowdomain.DateOf(runDate)
	startedAt := s.clock.Now().UTC()

	ctx, runID := correlation.Ensure(ctx, startedAt)
	ctx, cancel := context.WithTimeout(ctx, cfg.BatchTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "scheduler.run_batch", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("run_date", runDate.Format(billingwindowdomain.DateLayout)),
	))
	defer span.End()

	rep := report.BatchReport{
		RunID:     runID,
		RunDate:   runDate,
		StartedAt: startedAt,
		Succeeded: []report.Succeeded{},
		Skipped:   []report.Skipped{},
		Failed:    []report.Failed{},
		Alerts:    []report.Alert{},
	}

	leaseKey := fmt.Sprintf(batchLeaseKey, runDate.Format(billingwindowdomain.DateLayout))
	token, acquired, err := s.lease.TryAcquire(ctx, leaseKey, cfg.LeaseTTL)
	if err != nil {
		return rep, s.abortBatch(ctx, span, startedAt, errors.Wrap(err, "acquire batch lease"))
	}
	if !acquired {
		s.metrics.ObserveBatch(obsmetrics.BatchResultLeaseHeld, time.Since(startedAt))
		s.logger(ctx).Warn("scheduler.batch.lease_held", zap.String("run_date", runDate.Format(billingwindowdomain.DateLayout)))
		return rep, ErrBatchInProgress
	}
	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx), leaseKey, token); err != nil {
			s.logger(ctx).Warn("scheduler.batch.lease_release_failed", zap.Error(err))
		}
	}()

	profiles, err := s.profiles.ListBillable(ctx)
	if err != nil {
		return rep, s.abortBatch(ctx, span, startedAt, errors.Wrap(err, "list billable profiles"))
	}

	s.logBatchStart(ctx, &rep, len(profiles))
	col := &collector{rep: &rep}

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for _, profile := range profiles {
		g.Go(func() error {
			col.add(s.processCustomer(ctx, cfg, runDate, profile))
			return nil
		})
	}
	_ = g.Wait()

	sortReport(&rep)
	rep.FinishedAt = s.clock.Now().UTC()

	// The batch deadline may already have passed; the report is still kept.
	if err := s.reports.Save(context.WithoutCancel(ctx), rep); err != nil {
		s.metrics.IncJobError(jobRunBatch, err)
		s.logger(ctx).Error("scheduler.batch.report_save_failed", zap.Error(err))
	}

	result := obsmetrics.BatchResultCompleted
	if rep.Partial() {
		result = obsmetrics.BatchResultPartial
		span.SetStatus(codes.Error, "partial batch")
	}
	s.metrics.ObserveBatch(result, time.Since(startedAt))
	s.metrics.AddCustomerOutcome(obsmetrics.OutcomeSucceeded, len(rep.Succeeded))
	s.metrics.AddCustomerOutcome(obsmetrics.OutcomeSkipped, len(rep.Skipped))
	s.metrics.AddCustomerOutcome(obsmetrics.OutcomeFailed, len(rep.Failed))
	for _, alert := range rep.Alerts {
		s.metrics.IncAlert(alert.Kind)
	}
	span.SetAttributes(
		attribute.Int("succeeded", len(rep.Succeeded)),
		attribute.Int("skipped", len(rep.Skipped)),
		attribute.Int("failed", len(rep.Failed)),
	)
	s.logBatchFinish(ctx, &rep)
	return rep, nil
}

func (s *Scheduler) abortBatch(ctx context.Context, span trace.Span, startedAt time.Time, err error) error {
	s.metrics.ObserveBatch(obsmetrics.BatchResultError, time.Since(startedAt))
	s.metrics.IncJobError(jobRunBatch, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger(ctx).Error("scheduler.batch.aborted", zap.Error(err))
	return err
}

func (s *Scheduler) processCustomer(ctx context.Context, cfg Config, runDate time.Time, profile billingprofiledomain.BillingProfile) outcome {
	customerID := profile.CustomerID
	if !IsDue(profile.BillingDay, profile.LastRunDate, runDate) {
		return outcome{skipped: &report.Skipped{CustomerID: customerID, Reason: report.SkipNotDue}}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.CustomerTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "scheduler.customer", trace.WithAttributes(
		attribute.String("customer_id", customerID.String()),
	))
	defer span.End()

	start := time.Now()
	var out outcome
	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		out, err = s.generate(ctx, runDate, profile)
		return err
	})
	s.metrics.ObserveCustomerDuration(time.Since(start))

	if err == nil {
		return out
	}
	if errors.Is(err, billingerr.ErrDuplicateGeneration) {
		// Lost a race with an overlapping run; that run owns the period.
		return outcome{skipped: &report.Skipped{CustomerID: customerID, Reason: report.SkipDuplicatePeriod}}
	}

	cause := billingerr.CauseCode(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, cause)
	s.metrics.IncFailureCause(cause)
	s.logCustomerError(ctx, "scheduler.customer.failed", customerID, err)
	return outcome{
		failed: &report.Failed{CustomerID: customerID, Cause: cause, Message: err.Error()},
		alerts: out.alerts,
	}
}

// generate runs inside the customer's transaction. Skips still record the run
// date so the profile is not picked up again this month.
func (s *Scheduler) generate(ctx context.Context, runDate time.Time, profile billingprofiledomain.BillingProfile) (outcome, error) {
	customerID := profile.CustomerID
	skip := func(reason string, alerts []report.Alert) (outcome, error) {
		if err := s.profiles.MarkRun(ctx, customerID, runDate); err != nil {
			return outcome{alerts: alerts}, err
		}
		return outcome{skipped: &report.Skipped{CustomerID: customerID, Reason: reason}, alerts: alerts}, nil
	}

	if err := guard.EnsureProfileCanGenerate(profile); err != nil {
		return outcome{}, err
	}

	windows, err := s.windows.Generate(ctx, profile, runDate)
	if err != nil {
		return outcome{}, err
	}
	if windows.Empty() {
		if profile.ServiceCycle == billingprofiledomain.ServiceCycleImmediate && !profile.AutoGenerateStorage {
			return skip(report.SkipImmediateService, nil)
		}
		return skip(report.SkipNothingDue, nil)
	}

	key := windows.Key(customerID, runDate)
	exists, err := s.periods.ExistsActiveKey(ctx, key)
	if err != nil {
		return outcome{}, err
	}
	if exists {
		return skip(report.SkipDuplicatePeriod, nil)
	}

	assembly, err := s.lineItems.Assemble(ctx, lineitemdomain.Request{
		Profile: profile,
		RunDate: runDate,
		Windows: windows,
	})
	if err != nil {
		return outcome{}, err
	}
	alerts := make([]report.Alert, 0, len(assembly.Alerts))
	for _, alert := range assembly.Alerts {
		alerts = append(alerts, report.Alert{CustomerID: customerID, Kind: alert.Kind, Message: alert.Message})
	}
	if !assembly.Billable() {
		return skip(report.SkipNoBillableLines, alerts)
	}

	period, err := s.periods.CreateDraft(ctx, billingperioddomain.DraftRequest{
		CustomerID:     customerID,
		CompanyID:      profile.CompanyID,
		RunDate:        runDate,
		Origin:         billingperioddomain.OriginBatch,
		IdempotencyKey: key,
		Windows:        assembly.Windows,
		Lines:          assembly.Lines,
	})
	if err != nil {
		return outcome{alerts: alerts}, err
	}
	if err := s.profiles.MarkRun(ctx, customerID, runDate); err != nil {
		return outcome{alerts: alerts}, err
	}

	total := period.Total.StringFixed(2)
	s.logPeriodGenerated(ctx, customerID, period.ID, len(period.Lines), total)
	return outcome{
		succeeded: &report.Succeeded{
			CustomerID: customerID,
			PeriodID:   period.ID,
			Lines:      len(period.Lines),
			Total:      total,
		},
		alerts: alerts,
	}, nil
}

// BillImmediate bills one completed event for a customer on the immediate
// service cycle into its own draft period. Billing the same event twice
// returns billingerr.ErrDuplicateGeneration.
func (s *Scheduler) BillImmediate(ctx context.Context, eventID snowflake.ID) (*billingperioddomain.BillingPeriod, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.bill_immediate", trace.WithAttributes(
		attribute.String("event_id", eventID.String()),
	))
	defer span.End()

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	profile, err := s.profiles.Get(ctx, event.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := guard.EnsureEventCanBillImmediately(*profile, *event); err != nil {
		return nil, err
	}

	day := billingwindowdomain.DateOf(*event.CompletedOn)
	key := idempotency.GenerateKey(idempotency.ScopeImmediatePeriod, map[string]string{
		"customer":     profile.CustomerID.String(),
		"completed_on": day.Format(billingwindowdomain.DateLayout),
		"event":        event.ID.String(),
	})

	var period *billingperioddomain.BillingPeriod
	err = transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		exists, err := s.periods.ExistsActiveKey(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return billingerr.DuplicateGeneration(int64(profile.CustomerID), key)
		}

		line, err := s.lineItems.AssembleEvent(ctx, *profile, *event)
		if err != nil {
			return err
		}
		period, err = s.periods.CreateDraft(ctx, billingperioddomain.DraftRequest{
			CustomerID:     profile.CustomerID,
			CompanyID:      profile.CompanyID,
			RunDate:        day,
			Origin:         billingperioddomain.OriginImmediate,
			IdempotencyKey: key,
			Windows: billingwindowdomain.Windows{
				Service: billingwindowdomain.NewWindow(day, day),
			},
			Lines: []billingperioddomain.BillingLine{line},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, billingerr.CauseCode(err))
		return nil, err
	}

	s.logPeriodGenerated(ctx, profile.CustomerID, period.ID, len(period.Lines), period.Total.StringFixed(2))
	return period, nil
}

func sortReport(rep *report.BatchReport) {
	sort.Slice(rep.Succeeded, func(i, j int) bool { return rep.Succeeded[i].CustomerID < rep.Succeeded[j].CustomerID })
	sort.Slice(rep.Skipped, func(i, j int) bool { return rep.Skipped[i].CustomerID < rep.Skipped[j].CustomerID })
	sort.Slice(rep.Failed, func(i, j int) bool { return rep.Failed[i].CustomerID < rep.Failed[j].CustomerID })
	sort.SliceStable(rep.Alerts, func(i, j int) bool { return rep.Alerts[i].CustomerID < rep.Alerts[j].CustomerID })
}
