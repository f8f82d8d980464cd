package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storagebill/internal/billingperiod"
	"github.com/smallbiznis/storagebill/internal/billingprofile"
	"github.com/smallbiznis/storagebill/internal/billingwindow"
	"github.com/smallbiznis/storagebill/internal/clock"
	"github.com/smallbiznis/storagebill/internal/config"
	"github.com/smallbiznis/storagebill/internal/lineitem"
	"github.com/smallbiznis/storagebill/internal/migration"
	"github.com/smallbiznis/storagebill/internal/observability"
	"github.com/smallbiznis/storagebill/internal/prepaid"
	"github.com/smallbiznis/storagebill/internal/ratecatalog"
	"github.com/smallbiznis/storagebill/internal/rating"
	"github.com/smallbiznis/storagebill/internal/scheduler"
	"github.com/smallbiznis/storagebill/internal/source"
	"github.com/smallbiznis/storagebill/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "storagebill",
	Short:   "Billing engine for document storage and records services",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runBatchCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// infrastructure is shared by every command.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
	)
}

func domains() fx.Option {
	return fx.Options(
		ratecatalog.Module,
		rating.Module,
		billingperiod.Module,
		billingprofile.Module,
		billingwindow.Module,
		prepaid.Module,
		source.Module,
		lineitem.Module,
		scheduler.Module,
	)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
