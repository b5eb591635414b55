package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrendo/marketsync/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "marketsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteAppendAndFetchObservations(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	n, err := s.AppendObservations(ctx, []model.RawRow{
		{Source: "amazon", CategoryLabel: "garden-hoses", ObservedAt: base.Add(time.Hour), Payload: []byte(`{"asin":"B0Y"}`)},
		{Source: "amazon", CategoryLabel: "garden-hoses", ObservedAt: base, Payload: []byte(`{"asin":"B0X"}`)},
		{Source: "otto", CategoryLabel: "garden-hoses", ObservedAt: base, Payload: []byte(`{}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rows, err := s.FetchObservations(ctx, "amazon", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.JSONEq(t, `{"asin":"B0X"}`, string(rows[0].Payload), "ordered by observed_at")
	assert.NotZero(t, rows[0].ID)

	since := base.Add(30 * time.Minute)
	rows, err = s.FetchObservations(ctx, "amazon", &since)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"asin":"B0Y"}`, string(rows[0].Payload))
}

func TestSQLiteMergeInsertUpdateAndGuard(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	day1 := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	key := model.Key{Source: "amazon", CategoryLabel: "garden-hoses", EntityKey: "B0X"}

	first := listingAt("B0X", day1)
	first.Price = floatp(24.99)
	n, err := s.MergeCandidates(ctx, model.MergeOverwrite, []model.Listing{first})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	second := listingAt("B0X", day2)
	second.Price = floatp(19.99)
	n, err = s.MergeCandidates(ctx, model.MergeOverwrite, []model.Listing{second})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetListing(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.FirstSeenAt.Equal(day1), "first_seen_at set once")
	assert.True(t, got.LastSeenAt.Equal(day2))
	assert.Equal(t, 19.99, *got.Price)

	// a replayed older candidate must not regress the row
	stale := listingAt("B0X", day1)
	stale.Price = floatp(99.99)
	n, err = s.MergeCandidates(ctx, model.MergeOverwrite, []model.Listing{stale})
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err = s.GetListing(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.Equal(day2))
	assert.Equal(t, 19.99, *got.Price)
}

func TestSQLiteMergeOverwriteReplacesWithNull(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	day1 := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	first := listingAt("B0X", day1)
	first.Rating = floatp(4.5)
	_, err := s.MergeCandidates(ctx, model.MergeOverwrite, []model.Listing{first})
	require.NoError(t, err)

	second := listingAt("B0X", day1.Add(time.Hour))
	second.Rating = nil
	_, err = s.MergeCandidates(ctx, model.MergeOverwrite, []model.Listing{second})
	require.NoError(t, err)

	got, err := s.GetListing(ctx, model.Key{Source: "amazon", CategoryLabel: "garden-hoses", EntityKey: "B0X"})
	require.NoError(t, err)
	assert.Nil(t, got.Rating, "overwrite takes the candidate's null")
}

func TestSQLiteMergeCoalescePreservesNonNull(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	day1 := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	first := listingAt("k1", day1)
	first.Price = floatp(10)
	_, err := s.MergeCandidates(ctx, model.MergeCoalesce, []model.Listing{first})
	require.NoError(t, err)

	second := listingAt("k1", day1.Add(time.Hour))
	second.Price = nil
	second.PageNumber = intp(3)
	_, err = s.MergeCandidates(ctx, model.MergeCoalesce, []model.Listing{second})
	require.NoError(t, err)

	got, err := s.GetListing(ctx, model.Key{Source: "amazon", CategoryLabel: "garden-hoses", EntityKey: "k1"})
	require.NoError(t, err)
	require.NotNil(t, got.Price)
	assert.Equal(t, float64(10), *got.Price)
	require.NotNil(t, got.PageNumber)
	assert.Equal(t, 3, *got.PageNumber)
}

func TestSQLiteFlagStaleRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	_, err := s.MergeCandidates(ctx, model.MergeOverwrite, []model.Listing{
		listingAt("fresh", now.Add(-24*time.Hour)),
		listingAt("old", now.Add(-8*24*time.Hour)),
	})
	require.NoError(t, err)

	cutoff := now.Add(-7 * 24 * time.Hour)
	flagged, err := s.FlagStale(ctx, "amazon", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), flagged)

	got, err := s.GetListing(ctx, model.Key{Source: "amazon", CategoryLabel: "garden-hoses", EntityKey: "old"})
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// re-appearing revives through the merge path
	_, err = s.MergeCandidates(ctx, model.MergeOverwrite, []model.Listing{listingAt("old", now)})
	require.NoError(t, err)
	got, err = s.GetListing(ctx, model.Key{Source: "amazon", CategoryLabel: "garden-hoses", EntityKey: "old"})
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	counts, err := s.CountListings(ctx, "amazon")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Total)
	assert.Equal(t, int64(2), counts.Active)
}

func TestSQLiteListListingsFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	day := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	a := listingAt("a", day)
	b := listingAt("b", day)
	b.CategoryLabel = "pool-pumps"
	_, err := s.MergeCandidates(ctx, model.MergeOverwrite, []model.Listing{a, b})
	require.NoError(t, err)

	all, err := s.ListListings(ctx, ListingFilter{Source: "amazon"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byCat, err := s.ListListings(ctx, ListingFilter{Source: "amazon", CategoryLabel: "pool-pumps"})
	require.NoError(t, err)
	require.Len(t, byCat, 1)
	assert.Equal(t, "b", byCat[0].EntityKey)

	_, err = s.FlagStale(ctx, "amazon", day.Add(time.Hour))
	require.NoError(t, err)
	active, err := s.ListListings(ctx, ListingFilter{Source: "amazon", ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSQLiteRunLogLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	last, err := s.LastSuccessfulRun(ctx, "otto")
	require.NoError(t, err)
	assert.Nil(t, last)

	id1, err := s.StartRun(ctx, "otto")
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, id1, "bucket listing failed"))

	id2, err := s.StartRun(ctx, "otto")
	require.NoError(t, err)
	wm := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, s.CompleteRun(ctx, id2, RunResult{
		RowsRead: 20, RowsMerged: 18, RowsRejected: 2,
		Watermark: &wm,
		Metadata:  map[string]any{"policy": "coalesce"},
	}))

	last, err = s.LastSuccessfulRun(ctx, "otto")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, id2, last.ID)
	assert.Equal(t, int64(18), last.RowsMerged)
	require.NotNil(t, last.Watermark)
	assert.True(t, last.Watermark.Equal(wm))
	assert.Equal(t, "coalesce", last.Metadata["policy"])

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunStatusFailed, runs[1].Status)
	assert.Equal(t, "bucket listing failed", runs[1].Error)
}
