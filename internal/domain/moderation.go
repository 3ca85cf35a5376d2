package domain

import "time"

type ActionType string

const (
	ActionWarning        ActionType = "warning"
	ActionBan            ActionType = "ban"
	ActionUnban          ActionType = "unban"
	ActionContentRemoval ActionType = "content_removal"
)

// ModerationAction is one row of the append-only moderation ledger.
type ModerationAction struct {
	ID              string     `json:"id"`
	Seq             int64      `json:"seq"`
	TargetUserID    string     `json:"target_user_id"`
	TargetListingID string     `json:"target_listing_id,omitempty"`
	AdminID         string     `json:"admin_id"`
	ActionType      ActionType `json:"action_type"`
	Reason          string     `json:"reason"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"` // bans only; nil = permanent
	Ref             string     `json:"ref,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// After reports whether a was appended after b in ledger order.
func (a ModerationAction) After(b ModerationAction) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Seq > b.Seq
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// ActiveAt reports whether a ban action is still within its duration at t.
func (a ModerationAction) ActiveAt(t time.Time) bool {
	if a.ActionType != ActionBan {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(t)
}

type AppealStatus string

const (
	AppealOpen     AppealStatus = "open"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

type Appeal struct {
	ID                 string       `json:"id"`
	ModerationActionID string       `json:"moderation_action_id"`
	UserID             string       `json:"user_id"`
	Text               string       `json:"text"`
	Status             AppealStatus `json:"status"`
	CreatedAt          time.Time    `json:"created_at"`
	ResolvedAt         *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy         string       `json:"resolved_by,omitempty"`
}
