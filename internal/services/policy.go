package services

import (
	"time"

	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/repos"
)

const (
	DefaultMaxActiveListings = 20
	DefaultListingTTL        = 7 * 24 * time.Hour
	DefaultBumpCooldown      = 24 * time.Hour
	AppealDeadlineDays       = 7
)

// Policy holds the tunable marketplace limits.
type Policy struct {
	MaxActiveListings int
	ListingTTL        time.Duration
	BumpCooldown      time.Duration
	AppealWindow      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxActiveListings: DefaultMaxActiveListings,
		ListingTTL:        DefaultListingTTL,
		BumpCooldown:      DefaultBumpCooldown,
		AppealWindow:      AppealDeadlineDays * 24 * time.Hour,
	}
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func timeRef(t time.Time) *time.Time { return &t }

func isOwner(actor domain.Actor, l domain.Listing) bool {
	return actor.ID != "" && actor.ID == l.OwnerID
}

// retryOnce re-runs fn a single time when the store reports a transient failure.
func retryOnce[T any](op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err != nil && repos.IsTransient(err) {
		applog.Warn(nil, "store.retry", err, map[string]any{"op": op})
		v, err = fn()
	}
	return v, err
}
