package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/etrendo/marketsync/internal/source"
	"github.com/etrendo/marketsync/internal/store"
)

// Runner drives reconcile passes across the registered sources.
type Runner struct {
	store      store.Store
	registry   *source.Registry
	catalog    *source.Catalog
	windowDays int
	now        func() time.Time
}

// Options configures a Runner.
type Options struct {
	Store      store.Store
	Registry   *source.Registry
	Catalog    *source.Catalog
	WindowDays int              // staleness window, default 7
	Now        func() time.Time // overridable clock for tests
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	windowDays := opts.WindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = &source.Catalog{}
	}
	return &Runner{
		store:      opts.Store,
		registry:   opts.Registry,
		catalog:    catalog,
		windowDays: windowDays,
		now:        now,
	}
}

// RunOpts selects which sources reconcile and how.
type RunOpts struct {
	Sources []string // empty means every registered source
	Full    bool     // ignore the watermark, reprocess all bronze rows
	Force   bool     // run even when the cadence says the source is not due
}

// Totals aggregates the outcome of one Run invocation across sources.
type Totals struct {
	Synced  int
	Skipped int
	Failed  int
}

// Run reconciles each selected source in registration order. A failing source
// is recorded in the run log and does not stop the remaining sources.
func (r *Runner) Run(ctx context.Context, opts RunOpts) (Totals, error) {
	log := zap.L().With(zap.String("component", "reconcile"))

	sources, err := r.registry.Select(opts.Sources)
	if err != nil {
		return Totals{}, err
	}

	var totals Totals
	for _, src := range sources {
		name := src.Name()
		if !r.catalog.Enabled(name) {
			log.Info("source disabled in catalog, skipping", zap.String("source", name))
			totals.Skipped++
			continue
		}

		lastRun, err := r.store.LastSuccessfulRun(ctx, name)
		if err != nil {
			return totals, eris.Wrapf(err, "reconcile: load last run for %s", name)
		}

		var lastStarted *time.Time
		if lastRun != nil {
			t := lastRun.StartedAt
			lastStarted = &t
		}
		if !opts.Force && !src.ShouldRun(r.now(), lastStarted) {
			log.Info("source not due, skipping",
				zap.String("source", name),
				zap.String("cadence", string(src.Cadence())))
			totals.Skipped++
			continue
		}

		var since *time.Time
		if !opts.Full && lastRun != nil {
			since = lastRun.Watermark
		}

		if err := r.runSource(ctx, src, since); err != nil {
			log.Error("source reconcile failed", zap.String("source", name), zap.Error(err))
			totals.Failed++
			continue
		}
		totals.Synced++
	}

	if totals.Failed > 0 {
		return totals, eris.Errorf("reconcile: %d of %d sources failed", totals.Failed, len(sources))
	}
	return totals, nil
}

// runSource executes one source's pass: fetch, plan, merge, flag stale. Every
// outcome lands in the run log, including failures.
func (r *Runner) runSource(ctx context.Context, src source.Source, since *time.Time) error {
	name := src.Name()
	log := zap.L().With(
		zap.String("component", "reconcile"),
		zap.String("source", name),
	)

	runID, err := r.store.StartRun(ctx, name)
	if err != nil {
		return eris.Wrapf(err, "reconcile: start run for %s", name)
	}

	result, err := r.reconcileSource(ctx, src, since)
	if err != nil {
		if failErr := r.store.FailRun(ctx, runID, err.Error()); failErr != nil {
			log.Error("failed to record run failure", zap.Error(failErr))
		}
		return err
	}

	if err := r.store.CompleteRun(ctx, runID, result); err != nil {
		return eris.Wrapf(err, "reconcile: complete run for %s", name)
	}

	log.Info("source reconciled",
		zap.Int64("rows_read", result.RowsRead),
		zap.Int64("rows_merged", result.RowsMerged),
		zap.Int64("rows_rejected", result.RowsRejected))
	return nil
}

func (r *Runner) reconcileSource(ctx context.Context, src source.Source, since *time.Time) (store.RunResult, error) {
	name := src.Name()

	rows, err := r.store.FetchObservations(ctx, name, since)
	if err != nil {
		return store.RunResult{}, eris.Wrapf(err, "reconcile: fetch observations for %s", name)
	}

	plan := BuildPlan(src, rows)

	merged, err := r.store.MergeCandidates(ctx, src.MergePolicy(), plan.Candidates)
	if err != nil {
		return store.RunResult{}, eris.Wrapf(err, "reconcile: merge candidates for %s", name)
	}

	// Staleness is a full-table property of the source, so it runs on every
	// pass even when the incremental batch was empty.
	window := r.catalog.Window(name, time.Duration(r.windowDays)*24*time.Hour)
	cutoff := r.now().Add(-window)
	flagged, err := r.store.FlagStale(ctx, name, cutoff)
	if err != nil {
		return store.RunResult{}, eris.Wrapf(err, "reconcile: flag stale for %s", name)
	}

	result := store.RunResult{
		RowsRead:     plan.RowsRead,
		RowsMerged:   merged,
		RowsRejected: plan.Rejected,
		Watermark:    plan.Watermark,
		Metadata: map[string]any{
			"policy":        string(src.MergePolicy()),
			"candidates":    len(plan.Candidates),
			"stale_flagged": flagged,
			"window_days":   int(window.Hours() / 24),
		},
	}
	if result.Watermark == nil && since != nil {
		// Empty batch: carry the previous watermark forward so the next
		// incremental run does not regress to a full scan.
		result.Watermark = since
	}
	return result, nil
}
