package domain

import "time"

type ListingStatus string

const (
	ListingDraft    ListingStatus = "draft"
	ListingActive   ListingStatus = "active"
	ListingExpired  ListingStatus = "expired"
	ListingSold     ListingStatus = "sold"
	ListingArchived ListingStatus = "archived"
	ListingHidden   ListingStatus = "hidden"
)

// transitions is the listing status graph. Anything not listed here is rejected.
var transitions = map[ListingStatus][]ListingStatus{
	ListingDraft:    {ListingActive, ListingArchived},
	ListingActive:   {ListingExpired, ListingSold, ListingArchived, ListingHidden},
	ListingExpired:  {ListingActive, ListingArchived},
	ListingSold:     {ListingArchived},
	ListingArchived: {},
	ListingHidden:   {ListingActive, ListingArchived},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to ListingStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (s ListingStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// AllListingStatuses returns every status in graph order.
func AllListingStatuses() []ListingStatus {
	return []ListingStatus{ListingDraft, ListingActive, ListingExpired, ListingSold, ListingArchived, ListingHidden}
}

type Category struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

type Listing struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"owner_id"`
	CategoryID      string        `json:"category_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	PriceUSD        float64       `json:"price_usd"`
	Images          []string      `json:"images"`
	Status          ListingStatus `json:"status"`
	IsSticky        bool          `json:"is_sticky"`
	IsHighlighted   bool          `json:"is_highlighted"`
	AutoBumpEnabled bool          `json:"auto_bump_enabled"`
	ViewCount       int           `json:"view_count"`
	BumpCount       int           `json:"bump_count"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	PublishedAt     *time.Time    `json:"published_at,omitempty"`
	BumpedAt        *time.Time    `json:"bumped_at,omitempty"`
	ArchivedAt      *time.Time    `json:"archived_at,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
}

// ListingInput carries the owner-editable fields of a new listing.
type ListingInput struct {
	CategoryID      string   `json:"category_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	PriceUSD        float64  `json:"price_usd"`
	Images          []string `json:"images"`
	AutoBumpEnabled bool     `json:"auto_bump_enabled"`
}
