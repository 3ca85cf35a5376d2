package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tradepost/internal/cache"
	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/metrics"
	"tradepost/internal/repos"
	"tradepost/internal/validate"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	SearchPageSize = 20
	sweepBatch     = 500
)

// BanChecker answers whether a user is currently banned.
type BanChecker interface {
	GetActiveBan(ctx context.Context, userID string) (*domain.ModerationAction, error)
}

// LifecycleService owns the listing status graph. Every write is a
// compare-and-swap on (status, version); losing the race is reported, never
// overwritten.
type LifecycleService struct {
	Listings   *repos.ListingRepo
	Categories *repos.CategoryRepo
	Outbox     *repos.OutboxRepo
	Bans       BanChecker
	Cache      cache.Store
	Policy     Policy
	Now        func() time.Time
}

func NewLifecycleService(listings *repos.ListingRepo, categories *repos.CategoryRepo, outbox *repos.OutboxRepo, bans BanChecker, c cache.Store) *LifecycleService {
	return &LifecycleService{
		Listings:   listings,
		Categories: categories,
		Outbox:     outbox,
		Bans:       bans,
		Cache:      c,
		Policy:     DefaultPolicy(),
	}
}

func (s *LifecycleService) now() time.Time { return clock(s.Now).now() }

func (s *LifecycleService) checkNotBanned(ctx context.Context, userID string) error {
	ban, err := s.Bans.GetActiveBan(ctx, userID)
	if err != nil {
		return err
	}
	if ban != nil {
		return unauthorized(ReasonBanned, "user "+userID+" is banned")
	}
	return nil
}

// Create stores a new draft listing owned by actor.
func (s *LifecycleService) Create(ctx context.Context, actor domain.Actor, in domain.ListingInput) (domain.Listing, error) {
	if actor.ID == "" || actor.System {
		return domain.Listing{}, unauthorized("", "listings need a signed-in owner")
	}
	title, ok := validate.Title(in.Title)
	if !ok {
		return domain.Listing{}, validation("title is required and at most %d characters", validate.MaxTitle)
	}
	desc, ok := validate.Description(in.Description)
	if !ok {
		return domain.Listing{}, validation("description is at most %d characters", validate.MaxDescription)
	}
	if !validate.Price(in.PriceUSD) {
		return domain.Listing{}, validation("price must be positive with at most two decimals")
	}
	images, ok := validate.Images(in.Images)
	if !ok {
		return domain.Listing{}, validation("between %d and %d http(s) image urls required", validate.MinImages, validate.MaxImages)
	}
	cat, ok := validate.ID(in.CategoryID)
	if !ok {
		return domain.Listing{}, validation("invalid category")
	}
	exists, err := s.Categories.Exists(ctx, cat)
	if err != nil {
		return domain.Listing{}, storeErr("category", cat, err)
	}
	if !exists {
		return domain.Listing{}, validation("unknown category %q", cat)
	}
	if err := s.checkNotBanned(ctx, actor.ID); err != nil {
		return domain.Listing{}, err
	}

	l := domain.Listing{
		ID:              uuid.NewString(),
		OwnerID:         actor.ID,
		CategoryID:      cat,
		Title:           title,
		Description:     desc,
		PriceUSD:        in.PriceUSD,
		Images:          images,
		Status:          domain.ListingDraft,
		AutoBumpEnabled: in.AutoBumpEnabled,
		Version:         1,
		CreatedAt:       s.now(),
	}
	if err := s.Listings.Insert(ctx, l); err != nil {
		return domain.Listing{}, storeErr("listing", l.ID, err)
	}
	applog.Info(nil, "listing.create", map[string]any{"listing_id": l.ID, "owner_id": l.OwnerID})
	return l, nil
}

func (s *LifecycleService) Get(ctx context.Context, id string) (domain.Listing, error) {
	l, err := s.Listings.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, storeErr("listing", id, err)
	}
	return l, nil
}

// Detail is the public read of a listing. Active listings are served through
// the cache; every call counts a view.
func (s *LifecycleService) Detail(ctx context.Context, id string) (domain.Listing, error) {
	key := cache.ListingKey(id)
	var l domain.Listing
	if s.readCache(ctx, key, &l) {
		s.countView(ctx, id)
		return l, nil
	}
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Status == domain.ListingActive {
		s.writeCache(ctx, key, l)
	}
	s.countView(ctx, id)
	return l, nil
}

func (s *LifecycleService) countView(ctx context.Context, id string) {
	if err := s.Listings.IncrementViews(ctx, id); err != nil {
		applog.Warn(nil, "listing.view_count", err, map[string]any{"listing_id": id})
	}
}

// Search pages through active listings, sticky ones first.
func (s *LifecycleService) Search(ctx context.Context, q, categoryID string, page int) ([]domain.Listing, error) {
	if page < 1 {
		page = 1
	}
	key := cache.SearchKey(q, categoryID, page)
	var out []domain.Listing
	if s.readCache(ctx, key, &out) {
		return out, nil
	}
	out, err := s.Listings.Search(ctx, q, categoryID, SearchPageSize, (page-1)*SearchPageSize)
	if err != nil {
		return nil, storeErr("search", q, err)
	}
	s.writeCache(ctx, key, out)
	return out, nil
}

// ListByOwner returns an owner's listings; an empty status means all of them.
func (s *LifecycleService) ListByOwner(ctx context.Context, ownerID string, status domain.ListingStatus) ([]domain.Listing, error) {
	if status != "" && !status.Valid() {
		return nil, validation("unknown status %q", status)
	}
	out, err := s.Listings.ListByOwner(ctx, ownerID, status)
	return out, storeErr("listings", ownerID, err)
}

// Publish moves a draft to active for seven days.
func (s *LifecycleService) Publish(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if !actor.System && !isOwner(actor, l) {
		return domain.Listing{}, unauthorized("", "only the owner can publish")
	}
	if l.Status != domain.ListingDraft {
		return domain.Listing{}, invalidTransition(l.Status, domain.ListingActive)
	}
	if err := s.checkNotBanned(ctx, l.OwnerID); err != nil {
		return domain.Listing{}, err
	}
	capped := !actor.IsAdmin
	if capped {
		if err := s.checkCap(ctx, l.OwnerID); err != nil {
			return domain.Listing{}, err
		}
	}

	now := s.now()
	next := l
	next.Status = domain.ListingActive
	next.PublishedAt = timeRef(now)
	next.ExpiresAt = timeRef(now.Add(s.Policy.ListingTTL))
	return s.commit(ctx, l, next, capped, nil)
}

func (s *LifecycleService) checkCap(ctx context.Context, ownerID string) error {
	n, err := s.Listings.CountByOwnerStatus(ctx, ownerID, domain.ListingActive)
	if err != nil {
		return storeErr("listings", ownerID, err)
	}
	if n >= s.Policy.MaxActiveListings {
		return conflict(ReasonLimit, "active listing limit reached")
	}
	return nil
}

// Bump renews an active or expired listing for another seven days. The
// system actor skips the owner and cooldown checks.
func (s *LifecycleService) Bump(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	return s.bump(ctx, actor, l)
}

func (s *LifecycleService) bump(ctx context.Context, actor domain.Actor, l domain.Listing) (domain.Listing, error) {
	if !actor.System && !isOwner(actor, l) {
		return domain.Listing{}, unauthorized("", "only the owner can bump")
	}
	if l.Status != domain.ListingActive && l.Status != domain.ListingExpired {
		return domain.Listing{}, invalidTransition(l.Status, domain.ListingActive)
	}
	now := s.now()
	if !actor.System {
		if l.BumpedAt != nil && now.Sub(*l.BumpedAt) < s.Policy.BumpCooldown {
			return domain.Listing{}, conflict(ReasonCooldown, "bumped less than "+s.Policy.BumpCooldown.String()+" ago")
		}
		if err := s.checkNotBanned(ctx, l.OwnerID); err != nil {
			return domain.Listing{}, err
		}
	}
	capped := l.Status == domain.ListingExpired && !actor.IsAdmin
	if capped {
		if err := s.checkCap(ctx, l.OwnerID); err != nil {
			return domain.Listing{}, err
		}
	}

	next := l
	next.Status = domain.ListingActive
	next.BumpedAt = timeRef(now)
	next.ExpiresAt = timeRef(now.Add(s.Policy.ListingTTL))
	next.BumpCount = l.BumpCount + 1
	return s.commit(ctx, l, next, capped, nil)
}

// MarkSold closes an active listing as sold.
func (s *LifecycleService) MarkSold(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error) {
	return s.ownerTransition(ctx, actor, id, domain.ListingSold)
}

// Archive retires a listing for good.
func (s *LifecycleService) Archive(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error) {
	return s.ownerTransition(ctx, actor, id, domain.ListingArchived)
}

func (s *LifecycleService) ownerTransition(ctx context.Context, actor domain.Actor, id string, to domain.ListingStatus) (domain.Listing, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if !actor.System && !isOwner(actor, l) {
		return domain.Listing{}, unauthorized("", "only the owner can change this listing")
	}
	if !domain.CanTransition(l.Status, to) {
		return domain.Listing{}, invalidTransition(l.Status, to)
	}
	next := l
	next.Status = to
	if to == domain.ListingArchived {
		next.ArchivedAt = timeRef(s.now())
	}
	return s.commit(ctx, l, next, false, nil)
}

// Hide takes an active listing out of public view. Hiding a hidden listing
// succeeds without writing anything.
func (s *LifecycleService) Hide(ctx context.Context, actor domain.Actor, id, reason string) (domain.Listing, error) {
	if !actor.IsAdmin {
		return domain.Listing{}, unauthorized("", "admin role required")
	}
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Status == domain.ListingHidden {
		return l, nil
	}
	if !domain.CanTransition(l.Status, domain.ListingHidden) {
		return domain.Listing{}, invalidTransition(l.Status, domain.ListingHidden)
	}
	next := l
	next.Status = domain.ListingHidden
	ev := &domain.Event{Kind: domain.EventListingHidden, UserID: l.OwnerID, ListingID: l.ID, CreatedAt: s.now(),
		Data: map[string]any{"reason": reason, "by": actor.ID}}
	return s.commit(ctx, l, next, false, ev)
}

// Reactivate returns a hidden listing to active. Admin only.
func (s *LifecycleService) Reactivate(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error) {
	if !actor.IsAdmin {
		return domain.Listing{}, unauthorized("", "admin role required")
	}
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Status != domain.ListingHidden {
		return domain.Listing{}, invalidTransition(l.Status, domain.ListingActive)
	}
	now := s.now()
	next := l
	next.Status = domain.ListingActive
	next.ExpiresAt = timeRef(now.Add(s.Policy.ListingTTL))
	if next.PublishedAt == nil {
		next.PublishedAt = timeRef(now)
	}
	return s.commit(ctx, l, next, false, nil)
}

// Expire moves an active listing to expired. Only the system actor expires
// listings; the sweep decides when.
func (s *LifecycleService) Expire(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	return s.expire(ctx, actor, l)
}

func (s *LifecycleService) expire(ctx context.Context, actor domain.Actor, l domain.Listing) (domain.Listing, error) {
	if !actor.System {
		return domain.Listing{}, unauthorized("", "listings expire on their own")
	}
	if !domain.CanTransition(l.Status, domain.ListingExpired) {
		return domain.Listing{}, invalidTransition(l.Status, domain.ListingExpired)
	}
	next := l
	next.Status = domain.ListingExpired
	return s.commit(ctx, l, next, false, nil)
}

// Transition drives a listing to the target status through whichever
// operation owns that edge.
func (s *LifecycleService) Transition(ctx context.Context, actor domain.Actor, id string, to domain.ListingStatus) (domain.Listing, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	switch to {
	case domain.ListingActive:
		switch l.Status {
		case domain.ListingDraft:
			return s.Publish(ctx, actor, id)
		case domain.ListingExpired:
			return s.bump(ctx, actor, l)
		case domain.ListingHidden:
			return s.Reactivate(ctx, actor, id)
		}
	case domain.ListingExpired:
		return s.expire(ctx, actor, l)
	case domain.ListingSold:
		return s.MarkSold(ctx, actor, id)
	case domain.ListingArchived:
		return s.Archive(ctx, actor, id)
	case domain.ListingHidden:
		return s.Hide(ctx, actor, id, "")
	}
	return domain.Listing{}, invalidTransition(l.Status, to)
}

// commit writes next over prev, with the outbox event if any in the same
// transaction, then fires cache invalidation.
func (s *LifecycleService) commit(ctx context.Context, prev, next domain.Listing, capped bool, ev *domain.Event) (domain.Listing, error) {
	err := repos.InTx(ctx, s.Listings.DB(), func(tx *sqlx.Tx) error {
		var err error
		if capped {
			err = s.Listings.CompareAndSwapUnderCap(ctx, tx, prev, next, s.Policy.MaxActiveListings)
		} else {
			err = s.Listings.CompareAndSwap(ctx, tx, prev, next)
		}
		if err != nil {
			return err
		}
		if ev != nil {
			return s.Outbox.Enqueue(ctx, tx, *ev)
		}
		return nil
	})
	if errors.Is(err, repos.ErrStale) {
		return domain.Listing{}, s.staleErr(ctx, prev, capped)
	}
	if err != nil {
		return domain.Listing{}, storeErr("listing", prev.ID, err)
	}
	return s.committed(ctx, prev, next), nil
}

// committed records a transition that has been written and drops the cached
// copies of the listing.
func (s *LifecycleService) committed(ctx context.Context, prev, next domain.Listing) domain.Listing {
	next.Version = prev.Version + 1

	metrics.ListingTransitions.WithLabelValues(string(prev.Status), string(next.Status)).Inc()
	applog.Info(nil, "listing.transition", map[string]any{
		"listing_id": next.ID, "from": string(prev.Status), "to": string(next.Status), "version": next.Version,
	})
	s.invalidate(ctx, next.ID)
	return next
}

// removal returns the state a listing moves to when its content is removed:
// active listings are hidden, drafts and expired listings are archived so
// they cannot be published or bumped back. ok is false when the listing is
// already out of public reach.
func (s *LifecycleService) removal(l domain.Listing, reason, by string) (next domain.Listing, ev *domain.Event, ok bool) {
	next = l
	switch l.Status {
	case domain.ListingActive:
		next.Status = domain.ListingHidden
		ev = &domain.Event{Kind: domain.EventListingHidden, UserID: l.OwnerID, ListingID: l.ID, CreatedAt: s.now(),
			Data: map[string]any{"reason": reason, "by": by}}
	case domain.ListingDraft, domain.ListingExpired:
		next.Status = domain.ListingArchived
		next.ArchivedAt = timeRef(s.now())
	default:
		return l, nil, false
	}
	return next, ev, true
}

// staleErr tells a lost race apart from the cap guard rejecting the write.
func (s *LifecycleService) staleErr(ctx context.Context, prev domain.Listing, capped bool) error {
	if capped {
		cur, err := s.Listings.Get(ctx, prev.ID)
		if err == nil && cur.Status == prev.Status && cur.Version == prev.Version {
			return conflict(ReasonLimit, "active listing limit reached")
		}
	}
	metrics.ListingRaceLost.Inc()
	applog.Warn(nil, "listing.race_lost", nil, map[string]any{"listing_id": prev.ID, "version": prev.Version})
	return conflict(ReasonRaceLost, "listing "+prev.ID+" changed concurrently")
}

func (s *LifecycleService) invalidate(ctx context.Context, id string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, cache.ListingKey(id)); err != nil {
		metrics.CacheInvalidationErrors.Inc()
		applog.Warn(nil, "cache.invalidate", err, map[string]any{"key": cache.ListingKey(id)})
	}
	if err := s.Cache.InvalidatePattern(ctx, cache.SearchPattern); err != nil {
		metrics.CacheInvalidationErrors.Inc()
		applog.Warn(nil, "cache.invalidate", err, map[string]any{"pattern": cache.SearchPattern})
	}
}

func (s *LifecycleService) readCache(ctx context.Context, key string, dst any) bool {
	if s.Cache == nil {
		return false
	}
	raw, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		applog.Warn(nil, "cache.get", err, map[string]any{"key": key})
		return false
	}
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), dst) == nil
}

func (s *LifecycleService) writeCache(ctx context.Context, key string, v any) {
	if s.Cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, key, string(b)); err != nil {
		applog.Warn(nil, "cache.set", err, map[string]any{"key": key})
	}
}

// SweepReport summarizes one expiration sweep.
type SweepReport struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Bumped  int `json:"bumped"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SweepExpired expires or auto-bumps every active listing past its expiry.
// Each listing is re-read before acting, so overlapping sweeps are harmless.
func (s *LifecycleService) SweepExpired(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	due, err := s.Listings.ListDue(ctx, s.now(), sweepBatch)
	if err != nil {
		return rep, storeErr("listings", "", err)
	}
	system := domain.SystemActor()
	for _, d := range due {
		rep.Scanned++
		l, err := s.Listings.Get(ctx, d.ID)
		if err != nil {
			rep.Failed++
			applog.Error(nil, "sweep.read", err, map[string]any{"listing_id": d.ID})
			continue
		}
		now := s.now()
		if l.Status != domain.ListingActive || l.ExpiresAt == nil || l.ExpiresAt.After(now) {
			rep.Skipped++
			metrics.SweepResults.WithLabelValues("skipped").Inc()
			continue
		}
		result := "expired"
		if l.AutoBumpEnabled {
			result = "bumped"
			_, err = s.bump(ctx, system, l)
		} else {
			_, err = s.expire(ctx, system, l)
		}
		switch {
		case err == nil && l.AutoBumpEnabled:
			rep.Bumped++
		case err == nil:
			rep.Expired++
		case errors.Is(err, ErrRaceLost):
			result = "skipped"
			rep.Skipped++
		default:
			result = "failed"
			rep.Failed++
			applog.Error(nil, "sweep.listing", err, map[string]any{"listing_id": l.ID})
		}
		metrics.SweepResults.WithLabelValues(result).Inc()
	}
	applog.Info(nil, "sweep.done", map[string]any{
		"scanned": rep.Scanned, "expired": rep.Expired, "bumped": rep.Bumped, "skipped": rep.Skipped, "failed": rep.Failed,
	})
	return rep, nil
}
