package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/etrendo/marketsync/internal/ingest"
)

var (
	ingestDir    string
	ingestBucket string
	ingestPrefix string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load collector snapshots into the bronze layer",
	Long:  "Reads JSONL snapshot files from a local directory or a GCS bucket and appends each line as one bronze observation. Re-ingesting a snapshot is safe: reconciliation is idempotent over duplicate captures.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if ingestDir != "" {
			cfg.Ingest.Dir = ingestDir
			cfg.Ingest.Bucket = ""
		}
		if ingestBucket != "" {
			cfg.Ingest.Bucket = ingestBucket
		}
		if ingestPrefix != "" {
			cfg.Ingest.Prefix = ingestPrefix
		}
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var reader ingest.Reader
		if cfg.Ingest.Bucket != "" {
			gcs, err := ingest.NewGCSReader(ctx, cfg.Ingest.Bucket, cfg.Ingest.Prefix)
			if err != nil {
				return err
			}
			defer gcs.Close()
			reader = gcs
		} else {
			reader = ingest.NewLocalReader(cfg.Ingest.Dir)
		}

		ing := ingest.New(ingest.Options{
			Store:     st,
			Reader:    reader,
			BatchSize: cfg.Ingest.BatchSize,
			Workers:   cfg.Ingest.Workers,
		})

		stats, err := ing.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingest complete",
			zap.Int("files", stats.Files),
			zap.Int64("rows", stats.Rows),
			zap.Int64("skipped", stats.Skipped))
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "local snapshot directory (overrides config)")
	ingestCmd.Flags().StringVar(&ingestBucket, "bucket", "", "GCS bucket holding snapshots (overrides config)")
	ingestCmd.Flags().StringVar(&ingestPrefix, "prefix", "", "object prefix within the bucket")
	rootCmd.AddCommand(ingestCmd)
}
