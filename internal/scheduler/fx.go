package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/storagebill/internal/clock"
	"github.com/smallbiznis/storagebill/internal/config"
	"github.com/smallbiznis/storagebill/internal/scheduler/report"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the scheduler without starting it; commands that only need
// RunBatch or BillImmediate use it directly.
var Module = fx.Module("scheduler",
	fx.Provide(ProvideBatchLease),
	fx.Provide(report.NewStore),
	fx.Provide(New),
)

// CronModule registers the daily batch trigger on the app lifecycle.
var CronModule = fx.Module("scheduler.cron",
	fx.Invoke(RegisterCron),
)

func RegisterCron(lc fx.Lifecycle, log *zap.Logger, engine *config.EngineConfigHolder, clk clock.Clock, sched *Scheduler) error {
	spec := strings.TrimSpace(engine.Get().BatchCron)
	if spec == "" {
		spec = config.DefaultEngineConfig().BatchCron
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		runDate := clock.Today(clk)
		if err := sched.RunDaily(context.Background(), runDate); err != nil {
			log.Warn("scheduled batch did not run", zap.String("run_date", runDate.Format(time.DateOnly)), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			log.Info("batch cron started", zap.String("spec", spec))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-c.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}
