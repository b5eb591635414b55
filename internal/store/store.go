// Package store persists the bronze and silver layers plus the reconcile run
// log. Three implementations share one contract: Postgres for production,
// SQLite for local work, and an in-memory fixture for tests.
package store

import (
	"context"
	"time"

	"github.com/etrendo/marketsync/internal/model"
)

// ListingFilter specifies criteria for listing silver rows.
type ListingFilter struct {
	Source        string
	CategoryLabel string
	ActiveOnly    bool
	Limit         int
}

// RunResult holds the counters recorded when a reconcile run completes.
type RunResult struct {
	RowsRead     int64
	RowsMerged   int64
	RowsRejected int64
	Watermark    *time.Time
	Metadata     map[string]any
}

// SourceCounts summarizes the silver layer for one source.
type SourceCounts struct {
	Source string
	Total  int64
	Active int64
}

// Store defines the persistence contract for the reconciliation pipeline.
//
// MergeCandidates is the critical operation: it must apply each candidate as
// an atomic conditional upsert on its key, so a reader never observes a
// partially-merged entity, and a candidate that is not strictly newer than
// the stored row must be a no-op.
type Store interface {
	// Bronze
	AppendObservations(ctx context.Context, rows []model.RawRow) (int64, error)
	FetchObservations(ctx context.Context, source string, since *time.Time) ([]model.RawRow, error)

	// Silver
	MergeCandidates(ctx context.Context, policy model.MergePolicy, candidates []model.Listing) (int64, error)
	FlagStale(ctx context.Context, source string, cutoff time.Time) (int64, error)
	GetListing(ctx context.Context, key model.Key) (*model.Listing, error)
	ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error)
	CountListings(ctx context.Context, source string) (*SourceCounts, error)

	// Run log
	StartRun(ctx context.Context, source string) (int64, error)
	CompleteRun(ctx context.Context, runID int64, result RunResult) error
	FailRun(ctx context.Context, runID int64, errMsg string) error
	LastSuccessfulRun(ctx context.Context, source string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
