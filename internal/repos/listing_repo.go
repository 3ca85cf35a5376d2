package repos

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"tradepost/internal/domain"

	"github.com/jmoiron/sqlx"
)

type ListingRepo struct{ db *sqlx.DB }

func NewListingRepo(db *sqlx.DB) *ListingRepo { return &ListingRepo{db: db} }

const listingCols = `id, owner_id, category_id, title, description, price_usd, images_json, status,
	is_sticky, is_highlighted, auto_bump, view_count, bump_count, version,
	created_at, published_at, bumped_at, archived_at, expires_at`

type listingRow struct {
	ID            string  `db:"id"`
	OwnerID       string  `db:"owner_id"`
	CategoryID    string  `db:"category_id"`
	Title         string  `db:"title"`
	Description   string  `db:"description"`
	PriceUSD      float64 `db:"price_usd"`
	ImagesJSON    string  `db:"images_json"`
	Status        string  `db:"status"`
	IsSticky      bool    `db:"is_sticky"`
	IsHighlighted bool    `db:"is_highlighted"`
	AutoBump      bool    `db:"auto_bump"`
	ViewCount     int     `db:"view_count"`
	BumpCount     int     `db:"bump_count"`
	Version       int64   `db:"version"`
	CreatedAt     int64   `db:"created_at"`
	PublishedAt   *int64  `db:"published_at"`
	BumpedAt      *int64  `db:"bumped_at"`
	ArchivedAt    *int64  `db:"archived_at"`
	ExpiresAt     *int64  `db:"expires_at"`
}

func (r listingRow) toDomain() domain.Listing {
	var images []string
	_ = json.Unmarshal([]byte(r.ImagesJSON), &images)
	return domain.Listing{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		CategoryID:      r.CategoryID,
		Title:           r.Title,
		Description:     r.Description,
		PriceUSD:        r.PriceUSD,
		Images:          images,
		Status:          domain.ListingStatus(r.Status),
		IsSticky:        r.IsSticky,
		IsHighlighted:   r.IsHighlighted,
		AutoBumpEnabled: r.AutoBump,
		ViewCount:       r.ViewCount,
		BumpCount:       r.BumpCount,
		Version:         r.Version,
		CreatedAt:       fromNanos(r.CreatedAt),
		PublishedAt:     timePtr(r.PublishedAt),
		BumpedAt:        timePtr(r.BumpedAt),
		ArchivedAt:      timePtr(r.ArchivedAt),
		ExpiresAt:       timePtr(r.ExpiresAt),
	}
}

func toListings(rows []listingRow) []domain.Listing {
	out := make([]domain.Listing, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// Insert stores a new listing. Version starts at 1.
func (r *ListingRepo) Insert(ctx context.Context, l domain.Listing) error {
	images, err := json.Marshal(l.Images)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO listings(id, owner_id, category_id, title, description, price_usd, images_json, status,
		  is_sticky, is_highlighted, auto_bump, version, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,1,?)
	`, l.ID, l.OwnerID, l.CategoryID, l.Title, l.Description, l.PriceUSD, string(images), string(l.Status),
		l.IsSticky, l.IsHighlighted, l.AutoBumpEnabled, nanos(l.CreatedAt))
	return err
}

func (r *ListingRepo) DB() *sqlx.DB { return r.db }

// Get returns sql.ErrNoRows when the listing does not exist.
func (r *ListingRepo) Get(ctx context.Context, id string) (domain.Listing, error) {
	var row listingRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+listingCols+` FROM listings WHERE id = ?`, id); err != nil {
		return domain.Listing{}, err
	}
	return row.toDomain(), nil
}

// ListByOwner returns the owner's listings, newest first. An empty status means all.
func (r *ListingRepo) ListByOwner(ctx context.Context, ownerID string, status domain.ListingStatus) ([]domain.Listing, error) {
	q := `SELECT ` + listingCols + ` FROM listings WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC, id`
	var rows []listingRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return toListings(rows), nil
}

// ListActiveByOwnerAfter pages through an owner's active listings in id order,
// starting after cursor. Used by resumable cascades.
func (r *ListingRepo) ListActiveByOwnerAfter(ctx context.Context, ownerID, cursor string, limit int) ([]domain.Listing, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []listingRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+listingCols+`
		FROM listings
		WHERE owner_id = ? AND status = 'active' AND id > ?
		ORDER BY id
		LIMIT ?
	`, ownerID, cursor, limit)
	if err != nil {
		return nil, err
	}
	return toListings(rows), nil
}

func (r *ListingRepo) CountByOwnerStatus(ctx context.Context, ownerID string, status domain.ListingStatus) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM listings WHERE owner_id = ? AND status = ?`, ownerID, string(status))
	return n, err
}

// ListDue returns active listings whose expiry is at or before now, oldest expiry first.
func (r *ListingRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []listingRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+listingCols+`
		FROM listings
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at, id
		LIMIT ?
	`, nanos(now), limit)
	if err != nil {
		return nil, err
	}
	return toListings(rows), nil
}

// Search returns active listings matching q and category; sticky listings
// first, then most recently bumped or published.
func (r *ListingRepo) Search(ctx context.Context, q, categoryID string, limit, offset int) ([]domain.Listing, error) {
	where := `status = 'active'`
	args := []any{}
	if q != "" {
		where += ` AND (LOWER(title) LIKE ? OR LOWER(description) LIKE ?)`
		like := "%" + strings.ToLower(q) + "%"
		args = append(args, like, like)
	}
	if categoryID != "" {
		where += ` AND category_id = ?`
		args = append(args, categoryID)
	}
	query := `
	  SELECT ` + listingCols + `
	  FROM listings
	  WHERE ` + where + `
	  ORDER BY is_sticky DESC, COALESCE(bumped_at, published_at) DESC, id
	  LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var rows []listingRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toListings(rows), nil
}

func (r *ListingRepo) IncrementViews(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE listings SET view_count = view_count + 1 WHERE id = ?`, id)
	return err
}

// CompareAndSwap writes next's lifecycle fields only if the stored row still
// has prev's status and version. Returns ErrStale otherwise.
func (r *ListingRepo) CompareAndSwap(ctx context.Context, q Querier, prev, next domain.Listing) error {
	return r.cas(ctx, q, prev, next, "")
}

// CompareAndSwapUnderCap is CompareAndSwap with an extra guard that the owner
// has fewer than limit active listings at write time.
func (r *ListingRepo) CompareAndSwapUnderCap(ctx context.Context, q Querier, prev, next domain.Listing, limit int) error {
	return r.cas(ctx, q, prev, next,
		` AND (SELECT COUNT(*) FROM listings x WHERE x.owner_id = listings.owner_id AND x.status = 'active') < ?`, limit)
}

func (r *ListingRepo) cas(ctx context.Context, q Querier, prev, next domain.Listing, guard string, guardArgs ...any) error {
	args := []any{
		string(next.Status), next.BumpCount,
		nullNanos(next.PublishedAt), nullNanos(next.BumpedAt), nullNanos(next.ArchivedAt), nullNanos(next.ExpiresAt),
		prev.ID, string(prev.Status), prev.Version,
	}
	args = append(args, guardArgs...)
	res, err := q.ExecContext(ctx, `
		UPDATE listings
		SET status = ?, bump_count = ?, published_at = ?, bumped_at = ?, archived_at = ?, expires_at = ?,
		    version = version + 1
		WHERE id = ? AND status = ? AND version = ?`+guard, args...)
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
