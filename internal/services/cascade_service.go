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

const cascadeBatch = 50

// CascadeService applies the consequences of bans and upheld flags to
// listings. Every step checks current state first, so redelivering an event
// is safe.
type CascadeService struct {
	Lifecycle *LifecycleService
	Ledger    *LedgerService
	Flags     *repos.FlagRepo
	Outbox    *repos.OutboxRepo
	BatchSize int
	Now       func() time.Time
}

func NewCascadeService(lifecycle *LifecycleService, ledger *LedgerService, flags *repos.FlagRepo, outbox *repos.OutboxRepo) *CascadeService {
	return &CascadeService{Lifecycle: lifecycle, Ledger: ledger, Flags: flags, Outbox: outbox, BatchSize: cascadeBatch}
}

func (s *CascadeService) now() time.Time { return clock(s.Now).now() }

// Handle routes one outbox event to its cascade. Kinds without a cascade are
// accepted as is.
func (s *CascadeService) Handle(ctx context.Context, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventUserBanned:
		_, err := s.OnBan(ctx, ev.ID, ev.UserID)
		return err
	case domain.EventFlagUpheld:
		return s.OnFlagUpheld(ctx, ev.FlagID)
	}
	return nil
}

// CascadeReport counts what one cascade run did.
type CascadeReport struct {
	Hidden  int `json:"hidden"`
	Skipped int `json:"skipped"`
}

// OnBan hides every active listing of userID, in id order. Progress is saved
// per event after each listing so a retried event picks up where it stopped.
// eventID 0 runs without a checkpoint.
func (s *CascadeService) OnBan(ctx context.Context, eventID int64, userID string) (CascadeReport, error) {
	var rep CascadeReport
	ban, err := s.Ledger.GetActiveBan(ctx, userID)
	if err != nil {
		return rep, err
	}
	if ban == nil {
		applog.Info(nil, "cascade.ban_skipped", map[string]any{"user_id": userID, "event_id": eventID})
		return rep, nil
	}

	cursor := ""
	if eventID != 0 {
		if cursor, err = s.Outbox.Checkpoint(ctx, eventID); err != nil {
			return rep, storeErr("checkpoint", userID, err)
		}
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = cascadeBatch
	}
	system := domain.SystemActor()
	for {
		page, err := s.Lifecycle.Listings.ListActiveByOwnerAfter(ctx, userID, cursor, batch)
		if err != nil {
			return rep, storeErr("listings", userID, err)
		}
		for _, l := range page {
			_, err := s.Lifecycle.Hide(ctx, system, l.ID, "owner banned")
			switch {
			case err == nil:
				rep.Hidden++
			case errors.Is(err, ErrRaceLost), errors.Is(err, ErrInvalidTransition):
				rep.Skipped++
			default:
				return rep, err
			}
			cursor = l.ID
			if eventID != 0 {
				if err := s.Outbox.SaveCheckpoint(ctx, eventID, cursor, s.now()); err != nil {
					return rep, storeErr("checkpoint", userID, err)
				}
			}
		}
		if len(page) < batch {
			break
		}
	}
	applog.Audit(nil, "cascade.ban", map[string]any{
		"user_id": userID, "event_id": eventID, "action_id": ban.ID, "hidden": rep.Hidden, "skipped": rep.Skipped,
	})
	return rep, nil
}

// OnFlagUpheld logs a content removal against the listing owner and takes the
// listing down. The removal row is keyed by the flag, so a redelivered event
// does not add a second one.
func (s *CascadeService) OnFlagUpheld(ctx context.Context, flagID string) error {
	f, err := s.Flags.Get(ctx, flagID)
	if err != nil {
		return storeErr("flag", flagID, err)
	}
	if f.Status != domain.FlagUpheld {
		return nil
	}
	l, err := s.Lifecycle.Get(ctx, f.ListingID)
	if err != nil {
		return err
	}
	admin := f.ReviewedBy
	if admin == "" {
		admin = domain.SystemActorID
	}
	// a lost race is returned too; the next delivery re-reads the listing
	if _, l, err = s.takeDown(ctx, admin, l, "flag upheld: "+string(f.Reason), "flag:"+f.ID); err != nil {
		return err
	}
	applog.Audit(nil, "cascade.flag_upheld", map[string]any{"flag_id": f.ID, "listing_id": l.ID, "status": string(l.Status)})
	return nil
}

// RemoveContent is the admin takedown: it records a content removal against
// the listing owner and takes the listing out of reach in one transaction.
func (s *CascadeService) RemoveContent(ctx context.Context, admin domain.Actor, listingID, reason string) (domain.ModerationAction, domain.Listing, error) {
	if !admin.IsAdmin {
		return domain.ModerationAction{}, domain.Listing{}, unauthorized("", "admin role required")
	}
	listingID, ok := validate.ID(listingID)
	if !ok {
		return domain.ModerationAction{}, domain.Listing{}, validation("invalid listing id")
	}
	reason, ok = validate.Required(reason, validate.MaxReason)
	if !ok {
		return domain.ModerationAction{}, domain.Listing{}, validation("reason is required and at most %d characters", validate.MaxReason)
	}
	l, err := s.Lifecycle.Get(ctx, listingID)
	if err != nil {
		return domain.ModerationAction{}, domain.Listing{}, err
	}
	return s.takeDown(ctx, admin.ID, l, reason, "")
}

// takeDown appends the content removal and moves the listing to its removal
// state together. Sold, archived and hidden listings keep their status. A
// repeated non-empty ref returns the row written the first time.
func (s *CascadeService) takeDown(ctx context.Context, adminID string, l domain.Listing, reason, ref string) (domain.ModerationAction, domain.Listing, error) {
	a := domain.ModerationAction{
		ID:              uuid.NewString(),
		TargetUserID:    l.OwnerID,
		TargetListingID: l.ID,
		AdminID:         adminID,
		ActionType:      domain.ActionContentRemoval,
		Reason:          reason,
		Ref:             ref,
		CreatedAt:       s.now(),
	}
	next, ev, move := s.Lifecycle.removal(l, reason, adminID)
	err := repos.InTx(ctx, s.Ledger.Actions.DB(), func(tx *sqlx.Tx) error {
		if err := s.Ledger.Actions.Append(ctx, tx, &a); err != nil {
			return err
		}
		if !move {
			return nil
		}
		if err := s.Lifecycle.Listings.CompareAndSwap(ctx, tx, l, next); err != nil {
			return err
		}
		if ev != nil {
			return s.Outbox.Enqueue(ctx, tx, *ev)
		}
		return nil
	})
	switch {
	case errors.Is(err, repos.ErrDuplicate) && ref != "":
		prior, err := s.Ledger.Actions.ByRef(ctx, ref)
		return prior, l, storeErr("content removal", ref, err)
	case errors.Is(err, repos.ErrStale):
		return domain.ModerationAction{}, domain.Listing{}, s.Lifecycle.staleErr(ctx, l, false)
	case err != nil:
		return domain.ModerationAction{}, domain.Listing{}, storeErr("content removal", l.ID, err)
	}

	metrics.ModerationActions.WithLabelValues(string(domain.ActionContentRemoval)).Inc()
	applog.Audit(nil, "moderation.remove_content", map[string]any{
		"action_id": a.ID, "target_user_id": l.OwnerID, "listing_id": l.ID, "ref": ref, "from": string(l.Status),
	})
	if move {
		l = s.Lifecycle.committed(ctx, l, next)
	}
	return a, l, nil
}

// OnBanExpirySweep reports bans that ran out on their own. It writes nothing:
// an expired ban already stops counting as active.
func (s *CascadeService) OnBanExpirySweep(ctx context.Context) ([]repos.LapsedBan, error) {
	lapsed, err := s.Ledger.Actions.LapsedBans(ctx, s.now())
	if err != nil {
		return nil, storeErr("ban index", "", err)
	}
	metrics.LapsedBans.Set(float64(len(lapsed)))
	for _, b := range lapsed {
		applog.Info(nil, "moderation.ban_lapsed", map[string]any{
			"user_id": b.UserID, "action_id": b.ActionID, "expired_at": b.Expired().Format(time.RFC3339),
		})
	}
	return lapsed, nil
}
