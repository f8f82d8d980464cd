package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			fx.NopLogger,
			infrastructure(),
		)
		if err := app.Err(); err != nil {
			return err
		}
		if err := app.Start(context.Background()); err != nil {
			return err
		}
		return app.Stop(context.Background())
	},
}
