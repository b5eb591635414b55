package source

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/etrendo/marketsync/internal/model"
	"github.com/etrendo/marketsync/internal/normalize"
)

// Amazon reconciles SerpAPI category listing captures. Listings carry a
// marketplace-issued ASIN, so entity identity is the natural key. The API
// returns every field on each capture, so merges overwrite rather than
// coalesce, and a capture that ran through full pagination records the page
// number on every row.
type Amazon struct{}

func (s *Amazon) Name() string                   { return "amazon" }
func (s *Amazon) Cadence() Cadence               { return Daily }
func (s *Amazon) MergePolicy() model.MergePolicy { return model.MergeOverwrite }

func (s *Amazon) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return DueAfter(24*time.Hour, now, lastRun)
}

func (s *Amazon) Decode(row model.RawRow) (*model.Observation, error) {
	var attrs map[string]any
	if err := json.Unmarshal(row.Payload, &attrs); err != nil {
		return nil, eris.Wrap(err, "amazon: decode payload")
	}

	o := &model.Observation{
		Source:          row.Source,
		CategoryLabel:   row.CategoryLabel,
		ObservedAt:      row.ObservedAt,
		RawID:           row.ID,
		Node:            normalize.Str(attrs["node"]),
		ASIN:            normalize.Str(attrs["asin"]),
		PageNumber:      normalize.Int(attrs["page_number"]),
		Position:        normalize.Int(attrs["position"]),
		Title:           normalize.Str(attrs["title"]),
		Link:            normalize.Str(attrs["link"]),
		Rating:          normalize.Float(attrs["rating"]),
		Reviews:         normalize.Int(attrs["reviews"]),
		BoughtLastMonth: normalize.Str(attrs["bought_last_month"]),
		PriceRaw:        normalize.Str(attrs["price_raw"]),
		Currency:        normalize.Str(attrs["currency"]),
		Price:           normalize.Float(attrs["extracted_price"]),
		Delivery:        normalize.Str(attrs["delivery"]),
		Sponsored:       normalize.Bool(attrs["is_sponsored"]),
	}

	// SerpAPI occasionally omits extracted_price; fall back to the raw string.
	if o.Price == nil && o.PriceRaw != nil {
		o.Price = normalize.Price(*o.PriceRaw)
	}

	return o, nil
}

func (s *Amazon) DeriveKey(o *model.Observation) (string, bool) {
	if o.ASIN == nil {
		return "", false
	}
	asin := strings.TrimSpace(*o.ASIN)
	if asin == "" {
		return "", false
	}
	return asin, true
}

// Complete reports a fully-paginated capture: rows scraped page by page carry
// their page number, partial captures do not.
func (s *Amazon) Complete(o *model.Observation) bool {
	return o.PageNumber != nil
}

// Priority ranks sponsored placements above organic ones at equal recency.
func (s *Amazon) Priority(o *model.Observation) bool {
	return o.Sponsored != nil && *o.Sponsored
}
