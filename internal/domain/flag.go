package domain

import "time"

type FlagReason string

const (
	ReasonSpam       FlagReason = "spam"
	ReasonFake       FlagReason = "fake"
	ReasonScam       FlagReason = "scam"
	ReasonProhibited FlagReason = "prohibited"
	ReasonOffensive  FlagReason = "offensive"
	ReasonDuplicate  FlagReason = "duplicate"
	ReasonOther      FlagReason = "other"
)

func (r FlagReason) Valid() bool {
	switch r {
	case ReasonSpam, ReasonFake, ReasonScam, ReasonProhibited, ReasonOffensive, ReasonDuplicate, ReasonOther:
		return true
	}
	return false
}

type FlagStatus string

const (
	FlagPending   FlagStatus = "pending"
	FlagUpheld    FlagStatus = "upheld"
	FlagDismissed FlagStatus = "dismissed"
)

type Flag struct {
	ID          string     `json:"id"`
	ListingID   string     `json:"listing_id"`
	ReporterID  string     `json:"reporter_id"`
	Reason      FlagReason `json:"reason"`
	Description string     `json:"description,omitempty"`
	Status      FlagStatus `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}
