package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etrendo/marketsync/internal/reconcile"
	"github.com/etrendo/marketsync/internal/source"
)

var (
	reconcileSources []string
	reconcileFull    bool
	reconcileForce   bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile bronze observations into the silver layer",
	Long:  "Decodes bronze rows since the last watermark, picks one winner per entity key, applies them with a guarded upsert, then re-flags staleness across the whole source.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		catalog, err := source.LoadCatalog(cfg.Reconcile.Catalog)
		if err != nil {
			return err
		}

		runner := reconcile.NewRunner(reconcile.Options{
			Store:      st,
			Registry:   source.NewRegistry(),
			Catalog:    catalog,
			WindowDays: cfg.Reconcile.WindowDays,
		})

		totals, err := runner.Run(ctx, reconcile.RunOpts{
			Sources: reconcileSources,
			Full:    reconcileFull,
			Force:   reconcileForce,
		})
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}

		zap.L().Info("reconcile complete",
			zap.Int("synced", totals.Synced),
			zap.Int("skipped", totals.Skipped),
			zap.Int("failed", totals.Failed))
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringSliceVar(&reconcileSources, "sources", nil, "comma-separated source names (default: all)")
	reconcileCmd.Flags().BoolVar(&reconcileFull, "full", false, "ignore the watermark and reprocess all bronze rows")
	reconcileCmd.Flags().BoolVar(&reconcileForce, "force", false, "run even when the source cadence says it is not due")
	rootCmd.AddCommand(reconcileCmd)
}
