package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/smallbiznis/storagebill/internal/clock"
	"github.com/smallbiznis/storagebill/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var runBatchDate string

var runBatchCmd = &cobra.Command{
	Use:   "run-batch",
	Short: "Run one batch sweep and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			sched *scheduler.Scheduler
			clk   clock.Clock
		)
		app := fx.New(
			fx.NopLogger,
			infrastructure(),
			domains(),
			fx.Populate(&sched, &clk),
		)
		if err := app.Err(); err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := app.Start(ctx); err != nil {
			return err
		}
		defer app.Stop(context.Background())

		runDate := clock.Today(clk)
		if runBatchDate != "" {
			parsed, err := time.Parse("2006-01-02", runBatchDate)
			if err != nil {
				return err
			}
			runDate = parsed
		}

		rep, err := sched.RunBatch(ctx, runDate)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	runBatchCmd.Flags().StringVar(&runBatchDate, "date", "", "run date as YYYY-MM-DD (defaults to today UTC)")
}
