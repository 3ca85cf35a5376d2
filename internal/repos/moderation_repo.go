package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradepost/internal/domain"

	"github.com/jmoiron/sqlx"
)

// ModerationRepo stores the append-only ledger and the ban_index pointer.
type ModerationRepo struct{ db *sqlx.DB }

func NewModerationRepo(db *sqlx.DB) *ModerationRepo { return &ModerationRepo{db: db} }

func (r *ModerationRepo) DB() *sqlx.DB { return r.db }

const actionCols = `seq, id, target_user_id, target_listing_id, admin_id, action_type, reason, expires_at, ref, created_at`

type actionRow struct {
	Seq             int64   `db:"seq"`
	ID              string  `db:"id"`
	TargetUserID    string  `db:"target_user_id"`
	TargetListingID *string `db:"target_listing_id"`
	AdminID         string  `db:"admin_id"`
	ActionType      string  `db:"action_type"`
	Reason          string  `db:"reason"`
	ExpiresAt       *int64  `db:"expires_at"`
	Ref             *string `db:"ref"`
	CreatedAt       int64   `db:"created_at"`
}

func (r actionRow) toDomain() domain.ModerationAction {
	return domain.ModerationAction{
		ID:              r.ID,
		Seq:             r.Seq,
		TargetUserID:    r.TargetUserID,
		TargetListingID: derefStr(r.TargetListingID),
		AdminID:         r.AdminID,
		ActionType:      domain.ActionType(r.ActionType),
		Reason:          r.Reason,
		ExpiresAt:       timePtr(r.ExpiresAt),
		Ref:             derefStr(r.Ref),
		CreatedAt:       fromNanos(r.CreatedAt),
	}
}

func toActions(rows []actionRow) []domain.ModerationAction {
	out := make([]domain.ModerationAction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// Append inserts a ledger row and fills in its Seq. A repeated non-empty Ref
// yields ErrDuplicate.
func (r *ModerationRepo) Append(ctx context.Context, q Querier, a *domain.ModerationAction) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO moderation_actions(id, target_user_id, target_listing_id, admin_id, action_type, reason, expires_at, ref, created_at)
		VALUES(?,?,?,?,?,?,?,?,?)
	`, a.ID, a.TargetUserID, strPtr(a.TargetListingID), a.AdminID, string(a.ActionType), a.Reason,
		nullNanos(a.ExpiresAt), strPtr(a.Ref), nanos(a.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.Seq = seq
	return nil
}

func (r *ModerationRepo) Get(ctx context.Context, id string) (domain.ModerationAction, error) {
	var row actionRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+actionCols+` FROM moderation_actions WHERE id = ?`, id); err != nil {
		return domain.ModerationAction{}, err
	}
	return row.toDomain(), nil
}

func (r *ModerationRepo) ByRef(ctx context.Context, ref string) (domain.ModerationAction, error) {
	var row actionRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+actionCols+` FROM moderation_actions WHERE ref = ?`, ref); err != nil {
		return domain.ModerationAction{}, err
	}
	return row.toDomain(), nil
}

// History returns every action against a user, newest first.
func (r *ModerationRepo) History(ctx context.Context, userID string) ([]domain.ModerationAction, error) {
	var rows []actionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+actionCols+`
		FROM moderation_actions
		WHERE target_user_id = ?
		ORDER BY created_at DESC, seq DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return toActions(rows), nil
}

// BanHistory returns a user's ban and unban rows, newest first.
func (r *ModerationRepo) BanHistory(ctx context.Context, q Querier, userID string) ([]domain.ModerationAction, error) {
	var rows []actionRow
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT `+actionCols+`
		FROM moderation_actions
		WHERE target_user_id = ? AND action_type IN ('ban','unban')
		ORDER BY created_at DESC, seq DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return toActions(rows), nil
}

// CountViolations counts warnings, bans and content removals against a user.
func (r *ModerationRepo) CountViolations(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM moderation_actions
		WHERE target_user_id = ? AND action_type IN ('warning','ban','content_removal')
	`, userID)
	return n, err
}

// CurrentBan resolves the ban_index pointer for a user. It returns nil when
// the pointer is empty or the referenced ban has run out at now.
func (r *ModerationRepo) CurrentBan(ctx context.Context, q Querier, userID string, now time.Time) (*domain.ModerationAction, error) {
	var row actionRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT a.seq, a.id, a.target_user_id, a.target_listing_id, a.admin_id, a.action_type, a.reason, a.expires_at, a.ref, a.created_at
		FROM ban_index b
		JOIN moderation_actions a ON a.id = b.action_id
		WHERE b.user_id = ? AND (b.expires_at IS NULL OR b.expires_at > ?)
	`, userID, nanos(now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a := row.toDomain()
	return &a, nil
}

// ClaimBan points the user's ban_index entry at a new ban, but only when no
// unexpired ban is currently recorded. Concurrent claims for the same user
// are serialized by the row; the loser gets ErrStale.
func (r *ModerationRepo) ClaimBan(ctx context.Context, q Querier, userID, actionID string, expiresAt *time.Time, now time.Time) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO ban_index(user_id, action_id, expires_at, updated_at)
		VALUES(?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE
		SET action_id = excluded.action_id, expires_at = excluded.expires_at, updated_at = excluded.updated_at
		WHERE ban_index.action_id IS NULL
		   OR (ban_index.expires_at IS NOT NULL AND ban_index.expires_at <= ?)
	`, userID, actionID, nullNanos(expiresAt), nanos(now), nanos(now))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// ReleaseBan clears an unexpired ban pointer. ErrStale means there was none.
func (r *ModerationRepo) ReleaseBan(ctx context.Context, q Querier, userID string, now time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE ban_index
		SET action_id = NULL, expires_at = NULL, updated_at = ?
		WHERE user_id = ? AND action_id IS NOT NULL AND (expires_at IS NULL OR expires_at > ?)
	`, nanos(now), userID, nanos(now))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// SetBanIndex overwrites the pointer; a nil action clears it.
func (r *ModerationRepo) SetBanIndex(ctx context.Context, q Querier, userID string, a *domain.ModerationAction, now time.Time) error {
	var actionID *string
	var expires *int64
	if a != nil {
		actionID = &a.ID
		expires = nullNanos(a.ExpiresAt)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO ban_index(user_id, action_id, expires_at, updated_at)
		VALUES(?,?,?,?)
		ON CONFLICT(user_id) DO UPDATE
		SET action_id = excluded.action_id, expires_at = excluded.expires_at, updated_at = excluded.updated_at
	`, userID, actionID, expires, nanos(now))
	return err
}

// LapsedBan is a ban_index entry whose ban ran out on its own.
type LapsedBan struct {
	UserID    string `db:"user_id"`
	ActionID  string `db:"action_id"`
	ExpiresAt int64  `db:"expires_at"`
}

func (b LapsedBan) Expired() time.Time { return fromNanos(b.ExpiresAt) }

// LapsedBans lists ban pointers that expired at or before now.
func (r *ModerationRepo) LapsedBans(ctx context.Context, now time.Time) ([]LapsedBan, error) {
	var out []LapsedBan
	err := r.db.SelectContext(ctx, &out, `
		SELECT user_id, action_id, expires_at
		FROM ban_index
		WHERE action_id IS NOT NULL AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at
	`, nanos(now))
	return out, err
}

// IndexedUserIDs lists every user that has ever had a ban pointer.
func (r *ModerationRepo) IndexedUserIDs(ctx context.Context) ([]string, error) {
	var out []string
	err := r.db.SelectContext(ctx, &out, `SELECT user_id FROM ban_index ORDER BY user_id`)
	return out, err
}

// BannedUserIDs lists every user with at least one ban row in the ledger.
func (r *ModerationRepo) BannedUserIDs(ctx context.Context) ([]string, error) {
	var out []string
	err := r.db.SelectContext(ctx, &out, `
		SELECT DISTINCT target_user_id FROM moderation_actions WHERE action_type = 'ban' ORDER BY target_user_id
	`)
	return out, err
}
