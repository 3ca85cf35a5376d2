package domain

import "time"

type EventKind string

const (
	EventUserBanned     EventKind = "UserBanned"
	EventUserUnbanned   EventKind = "UserUnbanned"
	EventAppealResolved EventKind = "AppealResolved"
	EventListingHidden  EventKind = "ListingHidden"
	EventFlagUpheld     EventKind = "FlagUpheld"
)

// Event is a domain event persisted to the outbox and delivered at least once.
type Event struct {
	ID        int64          `json:"id"`
	Kind      EventKind      `json:"kind"`
	UserID    string         `json:"user_id,omitempty"`
	ListingID string         `json:"listing_id,omitempty"`
	FlagID    string         `json:"flag_id,omitempty"`
	AppealID  string         `json:"appeal_id,omitempty"`
	ActionID  string         `json:"action_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
