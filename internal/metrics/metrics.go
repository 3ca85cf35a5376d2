package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ListingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tradepost_listing_transitions_total",
	Help: "Listing status transitions committed",
}, []string{"from", "to"})

var ListingRaceLost = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tradepost_listing_race_lost_total",
	Help: "Listing writes rejected because the row changed since it was read",
})

var SweepResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tradepost_expiry_sweep_listings_total",
	Help: "Listings handled by the expiration sweep, by outcome",
}, []string{"result"})

var FlagsFiled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tradepost_flags_filed_total",
	Help: "Flags filed against listings",
}, []string{"reason"})

var FlagsReviewed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tradepost_flags_reviewed_total",
	Help: "Flags reviewed by admins",
}, []string{"decision"})

var ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tradepost_moderation_actions_total",
	Help: "Rows appended to the moderation ledger",
}, []string{"type"})

var AppealsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tradepost_appeals_resolved_total",
	Help: "Appeals closed by admins",
}, []string{"outcome"})

var OutboxEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tradepost_outbox_events_total",
	Help: "Outbox events handled by the cascade worker",
}, []string{"kind", "result"})

var CacheInvalidationErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tradepost_cache_invalidation_errors_total",
	Help: "Best-effort cache invalidations that failed",
})

var LapsedBans = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tradepost_lapsed_bans",
	Help: "Ban pointers whose expiry has passed, as of the last ban expiry sweep",
})
