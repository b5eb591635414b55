package source

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/etrendo/marketsync/internal/model"
	"github.com/etrendo/marketsync/internal/normalize"
)

// Otto reconciles HTML product-page captures. There is no marketplace-issued
// identifier, so entity identity is a hash of the canonicalized product URL;
// captures of the same product that differ only in tracking parameters
// collapse to one entity. Field extraction from HTML is best-effort, so
// merges coalesce per field instead of overwriting.
type Otto struct{}

func (s *Otto) Name() string                   { return "otto" }
func (s *Otto) Cadence() Cadence               { return Weekly }
func (s *Otto) MergePolicy() model.MergePolicy { return model.MergeCoalesce }

func (s *Otto) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return DueAfter(7*24*time.Hour, now, lastRun)
}

func (s *Otto) Decode(row model.RawRow) (*model.Observation, error) {
	var attrs map[string]any
	if err := json.Unmarshal(row.Payload, &attrs); err != nil {
		return nil, eris.Wrap(err, "otto: decode payload")
	}

	o := &model.Observation{
		Source:        row.Source,
		CategoryLabel: row.CategoryLabel,
		ObservedAt:    row.ObservedAt,
		RawID:         row.ID,
		Title:         normalize.Str(attrs["title"]),
		Link:          normalize.Str(attrs["link"]),
		PriceRaw:      normalize.Str(attrs["price_raw"]),
	}

	if o.PriceRaw != nil {
		o.Price = normalize.Price(*o.PriceRaw)
		if o.Price != nil {
			eur := "EUR"
			o.Currency = &eur
		}
	}

	return o, nil
}

func (s *Otto) DeriveKey(o *model.Observation) (string, bool) {
	if o.Link == nil {
		return "", false
	}
	canonical := normalize.CanonicalURL(*o.Link)
	if canonical == "" {
		return "", false
	}
	return normalize.HashKey(canonical), true
}

// Complete is always false: the HTML capture has no pagination marker.
func (s *Otto) Complete(o *model.Observation) bool { return false }

// Priority is always false: the source does not model promoted variants.
func (s *Otto) Priority(o *model.Observation) bool { return false }
