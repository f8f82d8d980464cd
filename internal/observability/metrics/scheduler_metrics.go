package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Config carries the constant labels stamped on every scheduler series.
type Config struct {
	ServiceName string
	Environment string
}

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonUnknown              = "unknown"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

const (
	BatchResultCompleted = "completed"
	BatchResultPartial   = "partial"
	BatchResultLeaseHeld = "lease_held"
	BatchResultError     = "error"
)

// SchedulerMetrics captures billing batch health signals.
type SchedulerMetrics struct {
	batchRuns         *prometheus.CounterVec
	batchDuration     prometheus.Observer
	customerOutcomes  *prometheus.CounterVec
	customerDuration  prometheus.Observer
	failureCauses     *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	periodTransitions *prometheus.CounterVec
	outcomeCounts     map[string]prometheus.Counter
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "storagebill"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	batchRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storagebill_batch_runs_total",
		Help:        "Billing batch runs by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "storagebill_batch_duration_seconds",
		Help:        "Wall time of a full billing batch sweep.",
		Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	})
	customerOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storagebill_batch_customers_total",
		Help:        "Customers processed by a billing batch, by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	customerDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "storagebill_customer_generation_seconds",
		Help:        "Latency of one customer's period generation transaction.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})
	failureCauses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storagebill_batch_failures_total",
		Help:        "Per-customer generation failures by cause code.",
		ConstLabels: constLabels,
	}, []string{"cause"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storagebill_batch_alerts_total",
		Help:        "Operational alerts raised during billing batches.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storagebill_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	periodTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "storagebill_period_transitions_total",
		Help:        "Billing period lifecycle transitions.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})

	registerer.MustRegister(
		batchRuns,
		batchDuration,
		customerOutcomes,
		customerDuration,
		failureCauses,
		alerts,
		jobErrors,
		periodTransitions,
	)

	outcomeCounts := map[string]prometheus.Counter{}
	for _, outcome := range []string{OutcomeSucceeded, OutcomeSkipped, OutcomeFailed} {
		outcomeCounts[outcome] = customerOutcomes.WithLabelValues(outcome)
	}

	return &SchedulerMetrics{
		batchRuns:         batchRuns,
		batchDuration:     batchDuration,
		customerOutcomes:  customerOutcomes,
		customerDuration:  customerDuration,
		failureCauses:     failureCauses,
		alerts:            alerts,
		jobErrors:         jobErrors,
		periodTransitions: periodTransitions,
		outcomeCounts:     outcomeCounts,
	}
}

// ObserveBatch records a finished batch and its wall time.
func (m *SchedulerMetrics) ObserveBatch(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchRuns.WithLabelValues(result).Inc()
	m.batchDuration.Observe(duration.Seconds())
}

// AddCustomerOutcome increments per-outcome customer counters by count.
func (m *SchedulerMetrics) AddCustomerOutcome(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if counter, ok := m.outcomeCounts[outcome]; ok {
		counter.Add(float64(count))
		return
	}
	m.customerOutcomes.WithLabelValues(outcome).Add(float64(count))
}

func (m *SchedulerMetrics) ObserveCustomerDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.customerDuration.Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncFailureCause(cause string) {
	if m == nil {
		return
	}
	m.failureCauses.WithLabelValues(cause).Inc()
}

func (m *SchedulerMetrics) IncAlert(kind string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) IncPeriodTransition(from, to string) {
	if m == nil {
		return
	}
	m.periodTransitions.WithLabelValues(from, to).Inc()
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	if err == nil {
		return SchedulerJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SchedulerJobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return SchedulerJobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return SchedulerJobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return SchedulerJobReasonUniqueViolation
	}
	return SchedulerJobReasonUnknown
}

// IsSchedulerErrorRetryable reports whether a failed customer is worth retrying on the next run.
func IsSchedulerErrorRetryable(err error) bool {
	switch ClassifySchedulerJobReason(err) {
	case SchedulerJobReasonDeadlineExceeded, SchedulerJobReasonDBLockTimeout, SchedulerJobReasonSerializationFailure:
		return true
	default:
		return false
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
