// Package reconcile turns append-only bronze observations into the silver
// current-state layer: it decodes raw captures, picks one winner per entity,
// and applies the winners through the store's conditional upsert.
package reconcile

import (
	"time"

	"github.com/etrendo/marketsync/internal/model"
	"github.com/etrendo/marketsync/internal/source"
)

// Plan is the reduced output of one reconcile pass over a batch of bronze
// rows: at most one candidate per entity key, plus the counters and watermark
// recorded in the run log.
type Plan struct {
	Candidates []model.Listing
	RowsRead   int64
	Rejected   int64
	Watermark  *time.Time
}

// BuildPlan decodes the rows with the source adapter, drops rows without a
// derivable entity key, and reduces the rest to one winning observation per
// key. Candidates come out in first-appearance order of their keys, so equal
// input yields byte-equal output.
func BuildPlan(src source.Source, rows []model.RawRow) Plan {
	plan := Plan{RowsRead: int64(len(rows))}

	winners := make(map[model.Key]*model.Observation)
	var order []model.Key

	for _, row := range rows {
		if plan.Watermark == nil || row.ObservedAt.After(*plan.Watermark) {
			t := row.ObservedAt
			plan.Watermark = &t
		}

		obs, err := src.Decode(row)
		if err != nil {
			plan.Rejected++
			continue
		}

		key, ok := src.DeriveKey(obs)
		if !ok {
			plan.Rejected++
			continue
		}
		obs.EntityKey = key

		ident := obs.Key()
		current, seen := winners[ident]
		if !seen {
			winners[ident] = obs
			order = append(order, ident)
			continue
		}
		if outranks(src, obs, current) {
			winners[ident] = obs
		}
	}

	plan.Candidates = make([]model.Listing, 0, len(order))
	for _, ident := range order {
		plan.Candidates = append(plan.Candidates, model.CandidateListing(winners[ident]))
	}
	return plan
}

// outranks reports whether a beats b for the same entity key. The criteria
// apply in order: structural completeness, then the priority discriminator,
// then capture recency. Ties fall back to bronze insertion order, so the
// earlier row wins and re-runs stay deterministic.
func outranks(src source.Source, a, b *model.Observation) bool {
	if ac, bc := src.Complete(a), src.Complete(b); ac != bc {
		return ac
	}
	if ap, bp := src.Priority(a), src.Priority(b); ap != bp {
		return ap
	}
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	return a.RawID < b.RawID
}
