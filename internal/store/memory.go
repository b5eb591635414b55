package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/etrendo/marketsync/internal/model"
)

// MemoryStore implements Store in memory. It exists so the reconciliation
// function can be exercised against a fixture with the exact merge semantics
// of the SQL backends, and doubles as the test double for the runner.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	raw      []model.RawRow
	listings map[model.Key]model.Listing
	runs     []model.Run
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{listings: make(map[model.Key]model.Listing)}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func (s *MemoryStore) AppendObservations(ctx context.Context, rows []model.RawRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.nextID++
		r.ID = s.nextID
		s.raw = append(s.raw, r)
	}
	return int64(len(rows)), nil
}

func (s *MemoryStore) FetchObservations(ctx context.Context, source string, since *time.Time) ([]model.RawRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.RawRow
	for _, r := range s.raw {
		if r.Source != source {
			continue
		}
		if since != nil && !r.ObservedAt.After(*since) {
			continue
		}
		result = append(result, r)
	}
	// bronze insertion order within equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].ObservedAt.Equal(result[j].ObservedAt) {
			return result[i].ObservedAt.Before(result[j].ObservedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) MergeCandidates(ctx context.Context, policy model.MergePolicy, candidates []model.Listing) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var merged int64
	for _, cand := range candidates {
		key := cand.Key()
		var prior *model.Listing
		if existing, ok := s.listings[key]; ok {
			prior = &existing
		}

		next := model.Merge(prior, cand, policy)
		if prior != nil && next.LastSeenAt.Equal(prior.LastSeenAt) {
			continue // stale candidate, no-op
		}
		next.UpdatedAt = now
		s.listings[key] = next
		merged++
	}
	return merged, nil
}

func (s *MemoryStore) FlagStale(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var flagged int64
	for key, l := range s.listings {
		if l.Source != source {
			continue
		}
		active := !l.LastSeenAt.Before(cutoff)
		if l.IsActive != active {
			l.IsActive = active
			l.UpdatedAt = now
			s.listings[key] = l
			flagged++
		}
	}
	return flagged, nil
}

func (s *MemoryStore) GetListing(ctx context.Context, key model.Key) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[key]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *MemoryStore) ListListings(ctx context.Context, filter ListingFilter) ([]model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.Listing
	for _, l := range s.listings {
		if filter.Source != "" && l.Source != filter.Source {
			continue
		}
		if filter.CategoryLabel != "" && l.CategoryLabel != filter.CategoryLabel {
			continue
		}
		if filter.ActiveOnly && !l.IsActive {
			continue
		}
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.CategoryLabel != b.CategoryLabel {
			return a.CategoryLabel < b.CategoryLabel
		}
		return a.EntityKey < b.EntityKey
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) CountListings(ctx context.Context, source string) (*SourceCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := SourceCounts{Source: source}
	for _, l := range s.listings {
		if l.Source != source {
			continue
		}
		c.Total++
		if l.IsActive {
			c.Active++
		}
	}
	return &c, nil
}

func (s *MemoryStore) StartRun(ctx context.Context, source string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := int64(len(s.runs) + 1)
	s.runs = append(s.runs, model.Run{
		ID:        id,
		Source:    source,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	})
	return id, nil
}

func (s *MemoryStore) CompleteRun(ctx context.Context, runID int64, result RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID != runID {
			continue
		}
		now := time.Now().UTC()
		s.runs[i].Status = model.RunStatusComplete
		s.runs[i].CompletedAt = &now
		s.runs[i].RowsRead = result.RowsRead
		s.runs[i].RowsMerged = result.RowsMerged
		s.runs[i].RowsRejected = result.RowsRejected
		s.runs[i].Watermark = result.Watermark
		s.runs[i].Metadata = result.Metadata
		return nil
	}
	return nil
}

func (s *MemoryStore) FailRun(ctx context.Context, runID int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID != runID {
			continue
		}
		now := time.Now().UTC()
		s.runs[i].Status = model.RunStatusFailed
		s.runs[i].CompletedAt = &now
		s.runs[i].Error = errMsg
		return nil
	}
	return nil
}

func (s *MemoryStore) LastSuccessfulRun(ctx context.Context, source string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Source == source && s.runs[i].Status == model.RunStatusComplete {
			r := s.runs[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var result []model.Run
	for i := len(s.runs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.runs[i])
	}
	return result, nil
}
