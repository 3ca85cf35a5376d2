package services

import (
	"context"
	"errors"
	"time"

	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/metrics"
	"tradepost/internal/repos"
	"tradepost/internal/validate"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// FlagService records user reports against listings and the admin review of
// each one.
type FlagService struct {
	Flags    *repos.FlagRepo
	Listings *repos.ListingRepo
	Outbox   *repos.OutboxRepo
	Now      func() time.Time
}

func NewFlagService(flags *repos.FlagRepo, listings *repos.ListingRepo, outbox *repos.OutboxRepo) *FlagService {
	return &FlagService{Flags: flags, Listings: listings, Outbox: outbox}
}

func (s *FlagService) now() time.Time { return clock(s.Now).now() }

// File reports a listing. It is never retried here: after an ambiguous store
// failure the caller gets a retryable internal error and decides.
func (s *FlagService) File(ctx context.Context, reporter domain.Actor, listingID string, reason domain.FlagReason, description string) (domain.Flag, error) {
	if reporter.ID == "" || reporter.System {
		return domain.Flag{}, unauthorized("", "flags need a signed-in reporter")
	}
	if !reason.Valid() {
		return domain.Flag{}, validation("unknown reason %q", reason)
	}
	var ok bool
	if reason == domain.ReasonOther {
		description, ok = validate.Required(description, validate.MaxFlagText)
	} else {
		description, ok = validate.Text(description, validate.MaxFlagText)
	}
	if !ok {
		return domain.Flag{}, validation("description must be at most %d characters, and is required for reason other", validate.MaxFlagText)
	}
	l, err := s.Listings.Get(ctx, listingID)
	if err != nil {
		return domain.Flag{}, storeErr("listing", listingID, err)
	}
	if l.OwnerID == reporter.ID {
		return domain.Flag{}, unauthorized(ReasonSelfFlag, "owners cannot flag their own listing")
	}

	f := domain.Flag{
		ID:          uuid.NewString(),
		ListingID:   listingID,
		ReporterID:  reporter.ID,
		Reason:      reason,
		Description: description,
		Status:      domain.FlagPending,
		CreatedAt:   s.now(),
	}
	err = s.Flags.Insert(ctx, f)
	if errors.Is(err, repos.ErrDuplicate) {
		return domain.Flag{}, conflict(ReasonDuplicateFlag, "listing already flagged by this user")
	}
	if err != nil {
		applog.Error(nil, "flag.file", err, map[string]any{"listing_id": listingID, "reporter_id": reporter.ID})
		return domain.Flag{}, &Error{Kind: KindInternal, Msg: "flag not recorded", Retryable: true, Err: err}
	}
	metrics.FlagsFiled.WithLabelValues(string(reason)).Inc()
	applog.Info(nil, "flag.file", map[string]any{"flag_id": f.ID, "listing_id": listingID, "reason": string(reason)})
	return f, nil
}

// Review closes a pending flag. An upheld flag queues the content removal
// cascade in the same transaction.
func (s *FlagService) Review(ctx context.Context, admin domain.Actor, flagID string, decision domain.FlagStatus, notes string) (domain.Flag, error) {
	if !admin.IsAdmin {
		return domain.Flag{}, unauthorized("", "admin role required")
	}
	if decision != domain.FlagUpheld && decision != domain.FlagDismissed {
		return domain.Flag{}, validation("decision must be upheld or dismissed")
	}
	notes, ok := validate.Text(notes, validate.MaxFlagText)
	if !ok {
		return domain.Flag{}, validation("notes are at most %d characters", validate.MaxFlagText)
	}
	f, err := s.Flags.Get(ctx, flagID)
	if err != nil {
		return domain.Flag{}, storeErr("flag", flagID, err)
	}
	if f.Status != domain.FlagPending {
		return domain.Flag{}, conflict(ReasonAlreadyReviewed, "flag already "+string(f.Status))
	}

	now := s.now()
	err = repos.InTx(ctx, s.Flags.DB(), func(tx *sqlx.Tx) error {
		if err := s.Flags.Review(ctx, tx, flagID, decision, admin.ID, notes, now); err != nil {
			return err
		}
		if decision != domain.FlagUpheld {
			return nil
		}
		return s.Outbox.Enqueue(ctx, tx, domain.Event{
			Kind: domain.EventFlagUpheld, FlagID: f.ID, ListingID: f.ListingID, CreatedAt: now,
			Data: map[string]any{"reason": string(f.Reason), "by": admin.ID},
		})
	})
	if errors.Is(err, repos.ErrStale) {
		return domain.Flag{}, conflict(ReasonAlreadyReviewed, "flag reviewed concurrently")
	}
	if err != nil {
		return domain.Flag{}, storeErr("flag", flagID, err)
	}

	f.Status = decision
	f.ReviewedBy = admin.ID
	f.ReviewedAt = timeRef(now)
	f.Notes = notes
	metrics.FlagsReviewed.WithLabelValues(string(decision)).Inc()
	applog.Audit(nil, "flag.review", map[string]any{"flag_id": f.ID, "decision": string(decision), "admin_id": admin.ID})
	return f, nil
}

func (s *FlagService) Get(ctx context.Context, id string) (domain.Flag, error) {
	f, err := s.Flags.Get(ctx, id)
	return f, storeErr("flag", id, err)
}

// GetPending returns pending flags, oldest first.
func (s *FlagService) GetPending(ctx context.Context) ([]domain.Flag, error) {
	out, err := s.Flags.ListByStatus(ctx, domain.FlagPending, time.Time{})
	return out, storeErr("flags", "", err)
}

// GetUrgent returns pending flags older than ageHours, oldest first.
func (s *FlagService) GetUrgent(ctx context.Context, ageHours int) ([]domain.Flag, error) {
	if ageHours < 0 {
		return nil, validation("age threshold must not be negative")
	}
	cutoff := s.now().Add(-time.Duration(ageHours) * time.Hour)
	out, err := s.Flags.ListByStatus(ctx, domain.FlagPending, cutoff)
	return out, storeErr("flags", "", err)
}

func (s *FlagService) ForListing(ctx context.Context, listingID string) ([]domain.Flag, error) {
	out, err := s.Flags.ForListing(ctx, listingID)
	return out, storeErr("flags", listingID, err)
}
