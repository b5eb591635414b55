package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etrendo/marketsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "marketsync",
	Short: "Marketplace listing reconciliation pipeline",
	Long:  "Loads raw marketplace captures into the bronze layer and reconciles them into a current-state silver layer: one row per listing, conflict-ranked, freshness-flagged.",
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
