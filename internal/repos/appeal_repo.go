package repos

import (
	"context"
	"time"

	"tradepost/internal/domain"

	"github.com/jmoiron/sqlx"
)

type AppealRepo struct{ db *sqlx.DB }

func NewAppealRepo(db *sqlx.DB) *AppealRepo { return &AppealRepo{db: db} }

func (r *AppealRepo) DB() *sqlx.DB { return r.db }

const appealCols = `id, moderation_action_id, user_id, text, status, created_at, resolved_at, resolved_by`

type appealRow struct {
	ID                 string  `db:"id"`
	ModerationActionID string  `db:"moderation_action_id"`
	UserID             string  `db:"user_id"`
	Text               string  `db:"text"`
	Status             string  `db:"status"`
	CreatedAt          int64   `db:"created_at"`
	ResolvedAt         *int64  `db:"resolved_at"`
	ResolvedBy         *string `db:"resolved_by"`
}

func (r appealRow) toDomain() domain.Appeal {
	return domain.Appeal{
		ID:                 r.ID,
		ModerationActionID: r.ModerationActionID,
		UserID:             r.UserID,
		Text:               r.Text,
		Status:             domain.AppealStatus(r.Status),
		CreatedAt:          fromNanos(r.CreatedAt),
		ResolvedAt:         timePtr(r.ResolvedAt),
		ResolvedBy:         derefStr(r.ResolvedBy),
	}
}

func toAppeals(rows []appealRow) []domain.Appeal {
	out := make([]domain.Appeal, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// Insert returns ErrDuplicate if the action already has an open appeal.
func (r *AppealRepo) Insert(ctx context.Context, a domain.Appeal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO appeals(id, moderation_action_id, user_id, text, status, created_at)
		VALUES(?,?,?,?,?,?)
	`, a.ID, a.ModerationActionID, a.UserID, a.Text, string(a.Status), nanos(a.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *AppealRepo) Get(ctx context.Context, id string) (domain.Appeal, error) {
	var row appealRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+appealCols+` FROM appeals WHERE id = ?`, id); err != nil {
		return domain.Appeal{}, err
	}
	return row.toDomain(), nil
}

// ListOpen returns open appeals oldest first.
func (r *AppealRepo) ListOpen(ctx context.Context) ([]domain.Appeal, error) {
	var rows []appealRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+appealCols+` FROM appeals WHERE status = 'open' ORDER BY created_at ASC, id`); err != nil {
		return nil, err
	}
	return toAppeals(rows), nil
}

func (r *AppealRepo) ForUser(ctx context.Context, userID string) ([]domain.Appeal, error) {
	var rows []appealRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+appealCols+` FROM appeals WHERE user_id = ? ORDER BY created_at DESC, id`, userID); err != nil {
		return nil, err
	}
	return toAppeals(rows), nil
}

// Resolve closes an open appeal. ErrStale means it was already closed.
func (r *AppealRepo) Resolve(ctx context.Context, q Querier, id string, status domain.AppealStatus, by string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE appeals SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = 'open'
	`, string(status), by, nanos(at), id)
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
