package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}),
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	if !IsSchedulerErrorRetryable(context.DeadlineExceeded) {
		t.Fatalf("expected deadline to be retryable")
	}
	if IsSchedulerErrorRetryable(gorm.ErrDuplicatedKey) {
		t.Fatalf("expected unique violation to be final")
	}
}

func TestCustomerOutcomeCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "storagebill",
		Environment: "test",
	})

	metrics.AddCustomerOutcome(OutcomeSucceeded, 3)
	metrics.AddCustomerOutcome(OutcomeFailed, 1)
	metrics.AddCustomerOutcome(OutcomeSkipped, 0)
	metrics.IncFailureCause("rate_not_found")
	metrics.ObserveBatch(BatchResultPartial, 2*time.Second)

	if got := testutil.ToFloat64(metrics.customerOutcomes.WithLabelValues(OutcomeSucceeded)); got != 3 {
		t.Fatalf("expected succeeded count 3, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.customerOutcomes.WithLabelValues(OutcomeSkipped)); got != 0 {
		t.Fatalf("expected skipped count 0, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.failureCauses.WithLabelValues("rate_not_found")); got != 1 {
		t.Fatalf("expected failure cause count 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.batchRuns.WithLabelValues(BatchResultPartial)); got != 1 {
		t.Fatalf("expected partial batch count 1, got %v", got)
	}
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.ObserveBatch(BatchResultCompleted, time.Second)
	m.AddCustomerOutcome(OutcomeSucceeded, 1)
	m.IncJobError("run_batch", errors.New("boom"))
	m.IncPeriodTransition("draft", "confirmed")
}
