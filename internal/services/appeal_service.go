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

// AppealService lets banned users contest a ban within the appeal window and
// lets admins close each appeal exactly once.
type AppealService struct {
	Appeals *repos.AppealRepo
	Ledger  *LedgerService
	Window  time.Duration
	Now     func() time.Time
}

func NewAppealService(appeals *repos.AppealRepo, ledger *LedgerService) *AppealService {
	return &AppealService{Appeals: appeals, Ledger: ledger, Window: DefaultPolicy().AppealWindow}
}

func (s *AppealService) now() time.Time { return clock(s.Now).now() }

// CanAppeal reports whether action is a ban still inside the appeal window.
func (s *AppealService) CanAppeal(action domain.ModerationAction) bool {
	return action.ActionType == domain.ActionBan && s.now().Sub(action.CreatedAt) <= s.Window
}

func (s *AppealService) Submit(ctx context.Context, actor domain.Actor, actionID, text string) (domain.Appeal, error) {
	action, err := s.Ledger.Actions.Get(ctx, actionID)
	if err != nil {
		return domain.Appeal{}, storeErr("moderation action", actionID, err)
	}
	if actor.ID == "" || actor.ID != action.TargetUserID {
		return domain.Appeal{}, unauthorized("", "only the banned user can appeal")
	}
	text, ok := validate.Required(text, validate.MaxAppealText)
	if !ok {
		return domain.Appeal{}, validation("appeal text is required and at most %d characters", validate.MaxAppealText)
	}
	if !s.CanAppeal(action) {
		return domain.Appeal{}, conflict(ReasonDeadlinePassed, "action is not an appealable ban")
	}

	a := domain.Appeal{
		ID:                 uuid.NewString(),
		ModerationActionID: action.ID,
		UserID:             actor.ID,
		Text:               text,
		Status:             domain.AppealOpen,
		CreatedAt:          s.now(),
	}
	err = s.Appeals.Insert(ctx, a)
	if errors.Is(err, repos.ErrDuplicate) {
		return domain.Appeal{}, conflict(ReasonDuplicateOpenAppeal, "an appeal for this ban is already open")
	}
	if err != nil {
		return domain.Appeal{}, storeErr("appeal", a.ID, err)
	}
	applog.Info(nil, "appeal.submit", map[string]any{"appeal_id": a.ID, "action_id": action.ID, "user_id": actor.ID})
	return a, nil
}

// Resolve approves or denies an open appeal. Approval lifts the appealed ban
// in the same transaction; if that ban has already run out or been lifted,
// the appeal is still approved and nothing is appended.
func (s *AppealService) Resolve(ctx context.Context, admin domain.Actor, appealID string, approve bool) (domain.Appeal, error) {
	if !admin.IsAdmin {
		return domain.Appeal{}, unauthorized("", "admin role required")
	}
	a, err := s.Appeals.Get(ctx, appealID)
	if err != nil {
		return domain.Appeal{}, storeErr("appeal", appealID, err)
	}
	if a.Status != domain.AppealOpen {
		return domain.Appeal{}, conflict(ReasonAlreadyResolved, "appeal already "+string(a.Status))
	}

	status := domain.AppealDenied
	if approve {
		status = domain.AppealApproved
	}
	now := s.now()
	var unban *domain.ModerationAction
	err = repos.InTx(ctx, s.Appeals.DB(), func(tx *sqlx.Tx) error {
		if err := s.Appeals.Resolve(ctx, tx, a.ID, status, admin.ID, now); err != nil {
			return err
		}
		if approve {
			cur, err := s.Ledger.Actions.CurrentBan(ctx, tx, a.UserID, now)
			if err != nil {
				return err
			}
			if cur != nil && cur.ID == a.ModerationActionID {
				u, err := s.Ledger.unbanTx(ctx, tx, admin.ID, a.UserID, "appeal approved", now)
				if err != nil {
					return err
				}
				unban = &u
			}
		}
		return s.Ledger.Outbox.Enqueue(ctx, tx, domain.Event{
			Kind: domain.EventAppealResolved, UserID: a.UserID, AppealID: a.ID, ActionID: a.ModerationActionID,
			CreatedAt: now, Data: map[string]any{"outcome": string(status)},
		})
	})
	if errors.Is(err, repos.ErrStale) {
		return domain.Appeal{}, conflict(ReasonAlreadyResolved, "appeal resolved concurrently")
	}
	if err != nil {
		return domain.Appeal{}, storeErr("appeal", appealID, err)
	}

	a.Status = status
	a.ResolvedAt = timeRef(now)
	a.ResolvedBy = admin.ID
	metrics.AppealsResolved.WithLabelValues(string(status)).Inc()
	fields := map[string]any{"appeal_id": a.ID, "outcome": string(status), "admin_id": admin.ID}
	if unban != nil {
		metrics.ModerationActions.WithLabelValues(string(domain.ActionUnban)).Inc()
		fields["unban_action_id"] = unban.ID
	}
	applog.Audit(nil, "appeal.resolve", fields)
	return a, nil
}

func (s *AppealService) Get(ctx context.Context, id string) (domain.Appeal, error) {
	a, err := s.Appeals.Get(ctx, id)
	return a, storeErr("appeal", id, err)
}

// ListOpen returns open appeals, oldest first.
func (s *AppealService) ListOpen(ctx context.Context) ([]domain.Appeal, error) {
	out, err := s.Appeals.ListOpen(ctx)
	return out, storeErr("appeals", "", err)
}

func (s *AppealService) ForUser(ctx context.Context, userID string) ([]domain.Appeal, error) {
	out, err := s.Appeals.ForUser(ctx, userID)
	return out, storeErr("appeals", userID, err)
}
