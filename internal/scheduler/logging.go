package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	obslogger "github.com/smallbiznis/storagebill/internal/observability/logger"
	"github.com/smallbiznis/storagebill/internal/scheduler/report"
	"go.uber.org/zap"
)

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logBatchStart(ctx context.Context, rep *report.BatchReport, customers int) {
	s.logger(ctx).Info("scheduler.batch.start",
		zap.String("run_id", rep.RunID),
		zap.String("run_date", rep.RunDate.Format(time.DateOnly)),
		zap.Int("customers", customers),
	)
}

// logBatchFinish logs at warn level when any customer failed.
func (s *Scheduler) logBatchFinish(ctx context.Context, rep *report.BatchReport) {
	fields := []zap.Field{
		zap.String("run_id", rep.RunID),
		zap.Int64("duration_ms", rep.FinishedAt.Sub(rep.StartedAt).Milliseconds()),
		zap.Int("succeeded", len(rep.Succeeded)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("failed", len(rep.Failed)),
		zap.Int("alerts", len(rep.Alerts)),
	}
	if rep.Partial() {
		s.logger(ctx).Warn("scheduler.batch.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.batch.finish", fields...)
}

func (s *Scheduler) logCustomerError(ctx context.Context, msg string, customerID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	baseFields := []zap.Field{
		zap.String("customer_id", idString(customerID)),
		zap.String("cause", billingerr.CauseCode(err)),
		zap.String("error", err.Error()),
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}

func (s *Scheduler) logPeriodGenerated(ctx context.Context, customerID, periodID snowflake.ID, lines int, total string) {
	s.logger(ctx).Info("period.generated",
		zap.String("customer_id", idString(customerID)),
		zap.String("period_id", idString(periodID)),
		zap.Int("lines", lines),
		zap.String("total", total),
		zap.String("status", "draft"),
	)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
