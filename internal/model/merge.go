package model

// Merge applies a winning candidate onto the prior state of its listing and
// returns the next state. It is the in-memory equivalent of the store's
// conditional upsert:
//
//   - no prior row: the candidate is inserted as-is, first and last seen at
//     its observation time, active.
//   - candidate not strictly newer than the stored last_seen_at: no-op. The
//     candidate is stale and must not regress any field.
//   - otherwise: attributes update per policy, last_seen_at advances,
//     is_active becomes true. first_seen_at is never modified after creation.
func Merge(prior *Listing, cand Listing, policy MergePolicy) Listing {
	if prior == nil {
		return cand
	}

	if !cand.LastSeenAt.After(prior.LastSeenAt) {
		return *prior
	}

	next := *prior
	next.LastSeenAt = cand.LastSeenAt
	next.IsActive = true

	switch policy {
	case MergeCoalesce:
		coalesceAttrs(&next, &cand)
	default:
		overwriteAttrs(&next, &cand)
	}

	return next
}

// overwriteAttrs replaces every attribute with the candidate's value, nulls
// included.
func overwriteAttrs(dst, cand *Listing) {
	dst.Node = cand.Node
	dst.ASIN = cand.ASIN
	dst.PageNumber = cand.PageNumber
	dst.Position = cand.Position
	dst.Title = cand.Title
	dst.Link = cand.Link
	dst.Rating = cand.Rating
	dst.Reviews = cand.Reviews
	dst.BoughtLastMonth = cand.BoughtLastMonth
	dst.PriceRaw = cand.PriceRaw
	dst.Currency = cand.Currency
	dst.Price = cand.Price
	dst.Delivery = cand.Delivery
	dst.Sponsored = cand.Sponsored
}

// coalesceAttrs takes the candidate's value only where it is non-null, so a
// sparse capture never clobbers a previously stored value.
func coalesceAttrs(dst, cand *Listing) {
	if cand.Node != nil {
		dst.Node = cand.Node
	}
	if cand.ASIN != nil {
		dst.ASIN = cand.ASIN
	}
	if cand.PageNumber != nil {
		dst.PageNumber = cand.PageNumber
	}
	if cand.Position != nil {
		dst.Position = cand.Position
	}
	if cand.Title != nil {
		dst.Title = cand.Title
	}
	if cand.Link != nil {
		dst.Link = cand.Link
	}
	if cand.Rating != nil {
		dst.Rating = cand.Rating
	}
	if cand.Reviews != nil {
		dst.Reviews = cand.Reviews
	}
	if cand.BoughtLastMonth != nil {
		dst.BoughtLastMonth = cand.BoughtLastMonth
	}
	if cand.PriceRaw != nil {
		dst.PriceRaw = cand.PriceRaw
	}
	if cand.Currency != nil {
		dst.Currency = cand.Currency
	}
	if cand.Price != nil {
		dst.Price = cand.Price
	}
	if cand.Delivery != nil {
		dst.Delivery = cand.Delivery
	}
	if cand.Sponsored != nil {
		dst.Sponsored = cand.Sponsored
	}
}
