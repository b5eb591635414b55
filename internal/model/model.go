// Package model defines the bronze and silver layer record types shared
// across the reconciliation pipeline.
package model

import "time"

// MergePolicy controls how candidate attribute values are applied to an
// existing listing.
type MergePolicy string

const (
	// MergeOverwrite replaces every attribute with the candidate's value,
	// nulls included. Used for sources that populate every field on each
	// capture.
	MergeOverwrite MergePolicy = "overwrite"

	// MergeCoalesce takes the candidate's value only when it is non-null,
	// otherwise keeps the stored value. Used for sources with sparse
	// per-field completeness.
	MergeCoalesce MergePolicy = "coalesce"
)

// RawRow is one bronze-layer row: identity and capture time are typed,
// everything else stays in the untyped JSON payload until a source adapter
// decodes it.
type RawRow struct {
	ID            int64     `json:"id"`
	Source        string    `json:"source"`
	CategoryLabel string    `json:"category_label"`
	ObservedAt    time.Time `json:"observed_at"`
	Payload       []byte    `json:"payload"`
}

// Observation is a decoded, coerced bronze row. Attribute fields are pointers:
// nil means the capture did not carry a usable value for that field.
type Observation struct {
	Source        string
	CategoryLabel string
	EntityKey     string // derived by the source adapter, empty until then
	ObservedAt    time.Time

	// bronze insertion order, used as the last-resort stable tie-break
	RawID int64

	Node            *string
	ASIN            *string
	PageNumber      *int
	Position        *int
	Title           *string
	Link            *string
	Rating          *float64
	Reviews         *int
	BoughtLastMonth *string
	PriceRaw        *string
	Currency        *string
	Price           *float64
	Delivery        *string
	Sponsored       *bool
}

// Listing is one silver-layer row: the current state of a logical product.
type Listing struct {
	Source        string    `json:"source"`
	CategoryLabel string    `json:"category_label"`
	EntityKey     string    `json:"entity_key"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	IsActive      bool      `json:"is_active"`
	UpdatedAt     time.Time `json:"updated_at"`

	Node            *string  `json:"node,omitempty"`
	ASIN            *string  `json:"asin,omitempty"`
	PageNumber      *int     `json:"page_number,omitempty"`
	Position        *int     `json:"position,omitempty"`
	Title           *string  `json:"title,omitempty"`
	Link            *string  `json:"link,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	Reviews         *int     `json:"reviews,omitempty"`
	BoughtLastMonth *string  `json:"bought_last_month,omitempty"`
	PriceRaw        *string  `json:"price_raw,omitempty"`
	Currency        *string  `json:"currency,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Delivery        *string  `json:"delivery,omitempty"`
	Sponsored       *bool    `json:"sponsored,omitempty"`
}

// Key identifies a listing within its source.
type Key struct {
	Source        string
	CategoryLabel string
	EntityKey     string
}

// Key returns the listing's identity triple.
func (l *Listing) Key() Key {
	return Key{Source: l.Source, CategoryLabel: l.CategoryLabel, EntityKey: l.EntityKey}
}

// Key returns the observation's identity triple.
func (o *Observation) Key() Key {
	return Key{Source: o.Source, CategoryLabel: o.CategoryLabel, EntityKey: o.EntityKey}
}

// CandidateListing converts a winning observation into the listing row the
// upsert would insert if no prior row exists: first and last seen both at the
// observation time, active.
func CandidateListing(o *Observation) Listing {
	return Listing{
		Source:          o.Source,
		CategoryLabel:   o.CategoryLabel,
		EntityKey:       o.EntityKey,
		FirstSeenAt:     o.ObservedAt,
		LastSeenAt:      o.ObservedAt,
		IsActive:        true,
		Node:            o.Node,
		ASIN:            o.ASIN,
		PageNumber:      o.PageNumber,
		Position:        o.Position,
		Title:           o.Title,
		Link:            o.Link,
		Rating:          o.Rating,
		Reviews:         o.Reviews,
		BoughtLastMonth: o.BoughtLastMonth,
		PriceRaw:        o.PriceRaw,
		Currency:        o.Currency,
		Price:           o.Price,
		Delivery:        o.Delivery,
		Sponsored:       o.Sponsored,
	}
}

// RunStatus tracks the lifecycle of one reconcile run in the run log.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one row of the reconcile run log.
type Run struct {
	ID           int64          `json:"id"`
	Source       string         `json:"source"`
	Status       RunStatus      `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	RowsRead     int64          `json:"rows_read"`
	RowsMerged   int64          `json:"rows_merged"`
	RowsRejected int64          `json:"rows_rejected"`
	Watermark    *time.Time     `json:"watermark,omitempty"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
