package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pledge/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pledge",
	Short: "Commitment and relapse accountability service",
	Long:  "Tracks commitments, relapse remediation cycles, proof verification and escalation, over an HTTP API or from the command line.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	actorID    string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "", "acting user for ownership and verification checks")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}
