package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etrendo/marketsync/internal/model"
	"github.com/etrendo/marketsync/internal/source"
	"github.com/etrendo/marketsync/internal/store"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show silver layer counts and reconcile history",
	Long:  "Displays per-source listing counts and the recent reconcile run log.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		registry := source.NewRegistry()
		var counts []store.SourceCounts
		for _, src := range registry.All() {
			c, err := st.CountListings(ctx, src.Name())
			if err != nil {
				return eris.Wrapf(err, "status: count %s", src.Name())
			}
			counts = append(counts, *c)
		}
		formatCounts(os.Stdout, counts)

		runs, err := st.ListRuns(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status: list runs")
		}
		if len(runs) == 0 {
			zap.L().Info("no reconcile runs found, run 'marketsync reconcile' first")
			return nil
		}

		fmt.Fprintln(os.Stdout)
		formatRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of run log entries to show")
	rootCmd.AddCommand(statusCmd)
}

func formatCounts(out io.Writer, counts []store.SourceCounts) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tLISTINGS\tACTIVE")
	_, _ = fmt.Fprintln(w, "------\t--------\t------")
	for _, c := range counts {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", c.Source, c.Total, c.Active)
	}
	_ = w.Flush()
}

func formatRuns(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tSTARTED\tDURATION\tREAD\tMERGED\tREJECTED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-------\t--------\t----\t------\t--------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		errMsg := ""
		if r.Error != "" {
			errMsg = truncate(r.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.Source,
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.RowsRead,
			r.RowsMerged,
			r.RowsRejected,
			errMsg,
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
