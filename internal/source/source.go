// Package source defines the marketplace source adapters. Each adapter knows
// how to decode its raw capture payloads, derive a stable entity key, and
// rank competing captures of the same entity.
package source

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/etrendo/marketsync/internal/model"
)

// Cadence describes how often a source's collector produces new snapshots.
type Cadence string

const (
	Daily  Cadence = "daily"
	Weekly Cadence = "weekly"
)

// Source adapts one marketplace to the reconciliation pipeline.
type Source interface {
	// Name returns the unique identifier for this source (e.g., "amazon").
	Name() string

	// Cadence returns how often the upstream collector captures this source.
	Cadence() Cadence

	// ShouldRun decides if this source is due for reconciliation given the
	// current time and the start of the last successful run (nil if never run).
	ShouldRun(now time.Time, lastRun *time.Time) bool

	// MergePolicy selects how candidate attributes apply to stored listings.
	// Overwrite for sources that populate every field per capture, coalesce
	// for sources with sparse per-field completeness.
	MergePolicy() model.MergePolicy

	// Decode converts a bronze row's payload into a typed observation,
	// coercing malformed attribute values to nil. It fails only when the
	// payload is not a JSON object at all.
	Decode(row model.RawRow) (*model.Observation, error)

	// DeriveKey maps an observation to its entity key. ok is false when the
	// observation lacks the minimum identifying field; such rows are
	// excluded from the pipeline entirely.
	DeriveKey(o *model.Observation) (key string, ok bool)

	// Complete reports whether the observation carries the source's
	// structural completeness signal. Sources without one return false.
	Complete(o *model.Observation) bool

	// Priority reports whether the observation carries the source's
	// priority discriminator (e.g., a sponsored variant). Sources without
	// one return false.
	Priority(o *model.Observation) bool
}

// Registry maps source names to their implementations.
type Registry struct {
	sources map[string]Source
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with all marketplace sources.
func NewRegistry() *Registry {
	r := &Registry{sources: make(map[string]Source)}
	r.Register(&Amazon{})
	r.Register(&Otto{})
	return r
}

// Register adds a source to the registry.
func (r *Registry) Register(s Source) {
	name := s.Name()
	r.sources[name] = s
	r.order = append(r.order, name)
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", name)
	}
	return s, nil
}

// All returns every registered source in registration order.
func (r *Registry) All() []Source {
	result := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.sources[name])
	}
	return result
}

// Select returns the named sources, or all of them when names is empty.
func (r *Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	var result []Source
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

// DueAfter implements the shared ShouldRun logic: a source is due when it has
// never run or when at least the given interval has elapsed since the last
// successful run.
func DueAfter(interval time.Duration, now time.Time, lastRun *time.Time) bool {
	if lastRun == nil {
		return true
	}
	return now.Sub(*lastRun) >= interval
}
