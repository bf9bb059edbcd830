package model

import "time"

// Listing is one observed marketplace item. ID is the marketplace's native
// identifier when the link carries one, otherwise a hash derived from the
// canonicalized link; either way the same item yields the same ID across fetches.
type Listing struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Price       string    `json:"price"`
	Description string    `json:"description,omitempty"`
	Link        string    `json:"link"`
	ObservedAt  time.Time `json:"observed_at"`
}

// SeenEntry is the persisted first-observation snapshot of a listing.
// Written exactly once, when the listing is admitted as new; only the
// Notified flag ever changes afterwards.
type SeenEntry struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Price       string    `json:"price"`
	Description string    `json:"description,omitempty"`
	Link        string    `json:"link"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	Notified    bool      `json:"notified"`
}

// SearchParams is the saved search that scopes each check cycle.
type SearchParams struct {
	Query    string `json:"query"`
	Location string `json:"location,omitempty"`
	Category string `json:"category,omitempty"`
	PriceMin int    `json:"price_min,omitempty"`
	PriceMax int    `json:"price_max,omitempty"`
	Sort     string `json:"sort,omitempty"`
}

// Stats is the aggregate view exposed on the status surface.
type Stats struct {
	TotalSeen  int64     `json:"total_seen"`
	NewLastDay int64     `json:"new_last_day"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
