package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pledge/internal/sweep"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("schema is up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Settle every open commitment whose deadline has passed",
	Long: `Reads every open commitment once so passed remediation windows and
target dates are recorded and their events published.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := sweep.New(env.Store, env.Service, cfg.Sweep).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}

		if jsonOutput {
			return writeJSON(os.Stdout, report)
		}
		formatSweepReport(os.Stdout, report)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate commitment statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Stats.Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		if jsonOutput {
			return writeJSON(os.Stdout, snap)
		}
		formatStats(os.Stdout, snap)
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the action catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog actions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		category, _ := cmd.Flags().GetString("category")

		cat, err := loadCatalog(cfg.Catalog)
		if err != nil {
			return eris.Wrap(err, "catalog list")
		}

		if jsonOutput {
			return writeJSON(os.Stdout, cat.List(category))
		}
		formatCatalog(os.Stdout, cat, category)
		return nil
	},
}

func init() {
	catalogListCmd.Flags().String("category", "", "only list actions in this category")
	catalogCmd.AddCommand(catalogListCmd)

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(catalogCmd)
}
