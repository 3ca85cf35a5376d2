package services

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/metrics"
	"tradepost/internal/repos"
	"tradepost/internal/validate"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LedgerService appends moderation actions and answers "is this user banned".
// The ledger rows are never changed; ban_index is a pointer kept in step with
// them inside the same transaction.
type LedgerService struct {
	Actions  *repos.ModerationRepo
	Outbox   *repos.OutboxRepo
	Listings *repos.ListingRepo
	Now      func() time.Time
}

func NewLedgerService(actions *repos.ModerationRepo, outbox *repos.OutboxRepo) *LedgerService {
	return &LedgerService{Actions: actions, Outbox: outbox, Listings: repos.NewListingRepo(actions.DB())}
}

func (s *LedgerService) now() time.Time { return clock(s.Now).now() }

func (s *LedgerService) checkInput(admin domain.Actor, target, reason string) (string, string, error) {
	if !admin.IsAdmin {
		return "", "", unauthorized("", "admin role required")
	}
	target, ok := validate.ID(target)
	if !ok {
		return "", "", validation("invalid target user id")
	}
	reason, ok = validate.Required(reason, validate.MaxReason)
	if !ok {
		return "", "", validation("reason is required and at most %d characters", validate.MaxReason)
	}
	return target, reason, nil
}

// checkListing makes sure listingID names an existing listing owned by target.
func (s *LedgerService) checkListing(ctx context.Context, listingID, target string) (string, error) {
	listingID, ok := validate.ID(listingID)
	if !ok {
		return "", validation("invalid listing id")
	}
	l, err := s.Listings.Get(ctx, listingID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("listing", listingID)
	}
	if err != nil {
		return "", storeErr("listing", listingID, err)
	}
	if l.OwnerID != target {
		return "", validation("listing %s does not belong to %s", listingID, target)
	}
	return listingID, nil
}

// Ban records a ban for target. days == 0 means permanent.
func (s *LedgerService) Ban(ctx context.Context, admin domain.Actor, target, reason string, days int) (domain.ModerationAction, error) {
	target, reason, err := s.checkInput(admin, target, reason)
	if err != nil {
		return domain.ModerationAction{}, err
	}
	if days < 0 || days > validate.MaxBanDays {
		return domain.ModerationAction{}, validation("days must be between 0 (permanent) and %d", validate.MaxBanDays)
	}
	a, err := retryOnce("ban", func() (domain.ModerationAction, error) {
		return s.ban(ctx, admin.ID, target, reason, days)
	})
	if err != nil {
		return domain.ModerationAction{}, storeErr("ban", target, err)
	}
	metrics.ModerationActions.WithLabelValues(string(domain.ActionBan)).Inc()
	fields := map[string]any{"action_id": a.ID, "target_user_id": target, "admin_id": admin.ID, "days": days}
	applog.Audit(nil, "moderation.ban", fields)
	return a, nil
}

func (s *LedgerService) ban(ctx context.Context, adminID, target, reason string, days int) (domain.ModerationAction, error) {
	now := s.now()
	a := domain.ModerationAction{
		ID:           uuid.NewString(),
		TargetUserID: target,
		AdminID:      adminID,
		ActionType:   domain.ActionBan,
		Reason:       reason,
		CreatedAt:    now,
	}
	if days > 0 {
		a.ExpiresAt = timeRef(now.Add(time.Duration(days) * 24 * time.Hour))
	}
	err := repos.InTx(ctx, s.Actions.DB(), func(tx *sqlx.Tx) error {
		if err := s.Actions.ClaimBan(ctx, tx, target, a.ID, a.ExpiresAt, now); err != nil {
			if errors.Is(err, repos.ErrStale) {
				return conflict(ReasonAlreadyBanned, "user "+target+" already has an active ban")
			}
			return err
		}
		if err := s.Actions.Append(ctx, tx, &a); err != nil {
			return err
		}
		ev := domain.Event{Kind: domain.EventUserBanned, UserID: target, ActionID: a.ID, CreatedAt: now,
			Data: map[string]any{"reason": reason, "permanent": a.ExpiresAt == nil}}
		if a.ExpiresAt != nil {
			ev.Data["expires_at"] = a.ExpiresAt.Format(time.RFC3339)
		}
		return s.Outbox.Enqueue(ctx, tx, ev)
	})
	return a, err
}

// Unban lifts the active ban on target.
func (s *LedgerService) Unban(ctx context.Context, admin domain.Actor, target, reason string) (domain.ModerationAction, error) {
	target, reason, err := s.checkInput(admin, target, reason)
	if err != nil {
		return domain.ModerationAction{}, err
	}
	a, err := retryOnce("unban", func() (domain.ModerationAction, error) {
		var a domain.ModerationAction
		err := repos.InTx(ctx, s.Actions.DB(), func(tx *sqlx.Tx) error {
			var err error
			a, err = s.unbanTx(ctx, tx, admin.ID, target, reason, s.now())
			return err
		})
		return a, err
	})
	if err != nil {
		return domain.ModerationAction{}, storeErr("unban", target, err)
	}
	metrics.ModerationActions.WithLabelValues(string(domain.ActionUnban)).Inc()
	applog.Audit(nil, "moderation.unban", map[string]any{"action_id": a.ID, "target_user_id": target, "admin_id": admin.ID})
	return a, nil
}

// unbanTx releases the ban pointer and appends the unban row inside tx.
func (s *LedgerService) unbanTx(ctx context.Context, tx *sqlx.Tx, adminID, target, reason string, now time.Time) (domain.ModerationAction, error) {
	if err := s.Actions.ReleaseBan(ctx, tx, target, now); err != nil {
		if errors.Is(err, repos.ErrStale) {
			return domain.ModerationAction{}, conflict(ReasonNotBanned, "user "+target+" has no active ban")
		}
		return domain.ModerationAction{}, err
	}
	a := domain.ModerationAction{
		ID:           uuid.NewString(),
		TargetUserID: target,
		AdminID:      adminID,
		ActionType:   domain.ActionUnban,
		Reason:       reason,
		CreatedAt:    now,
	}
	if err := s.Actions.Append(ctx, tx, &a); err != nil {
		return domain.ModerationAction{}, err
	}
	ev := domain.Event{Kind: domain.EventUserUnbanned, UserID: target, ActionID: a.ID, CreatedAt: now,
		Data: map[string]any{"reason": reason}}
	return a, s.Outbox.Enqueue(ctx, tx, ev)
}

// Warn appends a warning, optionally tied to one of the user's listings.
func (s *LedgerService) Warn(ctx context.Context, admin domain.Actor, target, reason, listingID string) (domain.ModerationAction, error) {
	target, reason, err := s.checkInput(admin, target, reason)
	if err != nil {
		return domain.ModerationAction{}, err
	}
	if listingID != "" {
		if listingID, err = s.checkListing(ctx, listingID, target); err != nil {
			return domain.ModerationAction{}, err
		}
	}
	a, err := retryOnce("warn", func() (domain.ModerationAction, error) {
		return s.appendAction(ctx, domain.ActionWarning, admin.ID, target, listingID, reason, "")
	})
	if err != nil {
		return domain.ModerationAction{}, storeErr("warning", target, err)
	}
	metrics.ModerationActions.WithLabelValues(string(domain.ActionWarning)).Inc()
	applog.Audit(nil, "moderation.warn", map[string]any{"action_id": a.ID, "target_user_id": target, "listing_id": listingID})
	return a, nil
}

// RemoveContent logs a content removal against the owner of listingID. It
// only writes the ledger row; CascadeService.RemoveContent also takes the
// listing down.
func (s *LedgerService) RemoveContent(ctx context.Context, admin domain.Actor, listingID, reason, target string) (domain.ModerationAction, error) {
	target, reason, err := s.checkInput(admin, target, reason)
	if err != nil {
		return domain.ModerationAction{}, err
	}
	if listingID, err = s.checkListing(ctx, listingID, target); err != nil {
		return domain.ModerationAction{}, err
	}
	return s.removeContentRef(ctx, admin.ID, listingID, target, reason, "")
}

// removeContentRef appends a content removal keyed by ref. A repeated ref
// returns the row written the first time.
func (s *LedgerService) removeContentRef(ctx context.Context, adminID, listingID, target, reason, ref string) (domain.ModerationAction, error) {
	a, err := s.appendAction(ctx, domain.ActionContentRemoval, adminID, target, listingID, reason, ref)
	if errors.Is(err, repos.ErrDuplicate) && ref != "" {
		a, err = s.Actions.ByRef(ctx, ref)
		return a, storeErr("content removal", ref, err)
	}
	if err != nil {
		return domain.ModerationAction{}, storeErr("content removal", listingID, err)
	}
	metrics.ModerationActions.WithLabelValues(string(domain.ActionContentRemoval)).Inc()
	applog.Audit(nil, "moderation.remove_content", map[string]any{"action_id": a.ID, "target_user_id": target, "listing_id": listingID, "ref": ref})
	return a, nil
}

func (s *LedgerService) appendAction(ctx context.Context, kind domain.ActionType, adminID, target, listingID, reason, ref string) (domain.ModerationAction, error) {
	a := domain.ModerationAction{
		ID:              uuid.NewString(),
		TargetUserID:    target,
		TargetListingID: listingID,
		AdminID:         adminID,
		ActionType:      kind,
		Reason:          reason,
		Ref:             ref,
		CreatedAt:       s.now(),
	}
	err := s.Actions.Append(ctx, s.Actions.DB(), &a)
	return a, err
}

// GetActiveBan returns the user's current ban, or nil. It is served from the
// ban pointer; ReconstructActiveBan gives the same answer from the ledger.
func (s *LedgerService) GetActiveBan(ctx context.Context, userID string) (*domain.ModerationAction, error) {
	a, err := s.Actions.CurrentBan(ctx, s.Actions.DB(), userID, s.now())
	if err != nil {
		return nil, storeErr("ban", userID, err)
	}
	return a, nil
}

// ReconstructActiveBan replays the user's ban and unban rows.
func (s *LedgerService) ReconstructActiveBan(ctx context.Context, userID string) (*domain.ModerationAction, error) {
	hist, err := s.Actions.BanHistory(ctx, s.Actions.DB(), userID)
	if err != nil {
		return nil, storeErr("ban history", userID, err)
	}
	return activeBan(hist, s.now()), nil
}

// activeBan scans hist newest first and returns the first ban that is still
// running at now with no unban after it.
func activeBan(hist []domain.ModerationAction, now time.Time) *domain.ModerationAction {
	var lastUnban *domain.ModerationAction
	for i := range hist {
		if hist[i].ActionType == domain.ActionUnban && (lastUnban == nil || hist[i].After(*lastUnban)) {
			lastUnban = &hist[i]
		}
	}
	for i := range hist {
		a := hist[i]
		if a.ActionType != domain.ActionBan || !a.ActiveAt(now) {
			continue
		}
		if lastUnban != nil && lastUnban.After(a) {
			continue
		}
		return &a
	}
	return nil
}

// RebuildBanIndex recomputes every ban pointer from the ledger and returns
// how many were out of step.
func (s *LedgerService) RebuildBanIndex(ctx context.Context) (int, error) {
	users, err := s.Actions.BannedUserIDs(ctx)
	if err != nil {
		return 0, storeErr("ban index", "", err)
	}
	repaired := 0
	for _, u := range users {
		fixed := false
		err := repos.InTx(ctx, s.Actions.DB(), func(tx *sqlx.Tx) error {
			now := s.now()
			hist, err := s.Actions.BanHistory(ctx, tx, u)
			if err != nil {
				return err
			}
			want := activeBan(hist, now)
			have, err := s.Actions.CurrentBan(ctx, tx, u, now)
			if err != nil {
				return err
			}
			if sameAction(want, have) {
				return nil
			}
			fixed = true
			return s.Actions.SetBanIndex(ctx, tx, u, want, now)
		})
		if err != nil {
			return repaired, storeErr("ban index", u, err)
		}
		if fixed {
			repaired++
			applog.Info(nil, "moderation.ban_index_repaired", map[string]any{"user_id": u})
		}
	}
	return repaired, nil
}

func sameAction(a, b *domain.ModerationAction) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

func (s *LedgerService) History(ctx context.Context, userID string) ([]domain.ModerationAction, error) {
	out, err := s.Actions.History(ctx, userID)
	return out, storeErr("history", userID, err)
}

// ViolationCount counts warnings, bans and content removals against a user.
func (s *LedgerService) ViolationCount(ctx context.Context, userID string) (int, error) {
	n, err := s.Actions.CountViolations(ctx, userID)
	return n, storeErr("violations", userID, err)
}

// Escalation is a recommended response to a user's nth violation.
type Escalation struct {
	Action       domain.ActionType `json:"action"`
	DurationDays int               `json:"duration_days,omitempty"`
	Permanent    bool              `json:"permanent,omitempty"`
}

// Severity orders escalations: warnings lowest, permanent bans highest.
func (e Escalation) Severity() int {
	switch {
	case e.Action == domain.ActionWarning:
		return 0
	case e.Permanent:
		return math.MaxInt
	default:
		return e.DurationDays
	}
}

// EscalationPath maps a violation count to a suggested action. It is never
// executed automatically.
func EscalationPath(violations int) Escalation {
	switch {
	case violations <= 1:
		return Escalation{Action: domain.ActionWarning}
	case violations <= 3:
		return Escalation{Action: domain.ActionBan, DurationDays: 1}
	case violations <= 5:
		return Escalation{Action: domain.ActionBan, DurationDays: 7}
	case violations <= 10:
		return Escalation{Action: domain.ActionBan, DurationDays: 30}
	default:
		return Escalation{Action: domain.ActionBan, Permanent: true}
	}
}

// SuggestFor returns the escalation for the user's next violation along with
// the count it was based on.
func (s *LedgerService) SuggestFor(ctx context.Context, userID string) (Escalation, int, error) {
	n, err := s.ViolationCount(ctx, userID)
	if err != nil {
		return Escalation{}, 0, err
	}
	return EscalationPath(n + 1), n, nil
}
