package repos

import (
	"context"
	"time"

	"tradepost/internal/domain"

	"github.com/jmoiron/sqlx"
)

type FlagRepo struct{ db *sqlx.DB }

func NewFlagRepo(db *sqlx.DB) *FlagRepo { return &FlagRepo{db: db} }

func (r *FlagRepo) DB() *sqlx.DB { return r.db }

const flagCols = `id, listing_id, reporter_id, reason, description, status, notes, created_at, reviewed_by, reviewed_at`

type flagRow struct {
	ID          string  `db:"id"`
	ListingID   string  `db:"listing_id"`
	ReporterID  string  `db:"reporter_id"`
	Reason      string  `db:"reason"`
	Description string  `db:"description"`
	Status      string  `db:"status"`
	Notes       string  `db:"notes"`
	CreatedAt   int64   `db:"created_at"`
	ReviewedBy  *string `db:"reviewed_by"`
	ReviewedAt  *int64  `db:"reviewed_at"`
}

func (r flagRow) toDomain() domain.Flag {
	return domain.Flag{
		ID:          r.ID,
		ListingID:   r.ListingID,
		ReporterID:  r.ReporterID,
		Reason:      domain.FlagReason(r.Reason),
		Description: r.Description,
		Status:      domain.FlagStatus(r.Status),
		Notes:       r.Notes,
		CreatedAt:   fromNanos(r.CreatedAt),
		ReviewedBy:  derefStr(r.ReviewedBy),
		ReviewedAt:  timePtr(r.ReviewedAt),
	}
}

func toFlags(rows []flagRow) []domain.Flag {
	out := make([]domain.Flag, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// Insert returns ErrDuplicate when the (listing, reporter) pair already exists.
func (r *FlagRepo) Insert(ctx context.Context, f domain.Flag) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO flags(id, listing_id, reporter_id, reason, description, status, created_at)
		VALUES(?,?,?,?,?,?,?)
	`, f.ID, f.ListingID, f.ReporterID, string(f.Reason), f.Description, string(f.Status), nanos(f.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *FlagRepo) Get(ctx context.Context, id string) (domain.Flag, error) {
	var row flagRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+flagCols+` FROM flags WHERE id = ?`, id); err != nil {
		return domain.Flag{}, err
	}
	return row.toDomain(), nil
}

// ListByStatus returns flags with the given status created at or before
// cutoff (zero cutoff means no bound), oldest first.
func (r *FlagRepo) ListByStatus(ctx context.Context, status domain.FlagStatus, cutoff time.Time) ([]domain.Flag, error) {
	q := `SELECT ` + flagCols + ` FROM flags WHERE status = ?`
	args := []any{string(status)}
	if !cutoff.IsZero() {
		q += ` AND created_at <= ?`
		args = append(args, nanos(cutoff))
	}
	q += ` ORDER BY created_at ASC, id`
	var rows []flagRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return toFlags(rows), nil
}

func (r *FlagRepo) ForListing(ctx context.Context, listingID string) ([]domain.Flag, error) {
	var rows []flagRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+flagCols+` FROM flags WHERE listing_id = ? ORDER BY created_at ASC, id`, listingID)
	if err != nil {
		return nil, err
	}
	return toFlags(rows), nil
}

// Review moves a pending flag to its terminal status. ErrStale means it was
// no longer pending.
func (r *FlagRepo) Review(ctx context.Context, q Querier, id string, status domain.FlagStatus, by, notes string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE flags
		SET status = ?, reviewed_by = ?, reviewed_at = ?, notes = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), by, nanos(at), notes, id)
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
