package repos

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tradepost/internal/domain"

	"github.com/jmoiron/sqlx"
)

// OutboxRepo is the durable queue between domain writes and the cascade worker.
type OutboxRepo struct{ db *sqlx.DB }

func NewOutboxRepo(db *sqlx.DB) *OutboxRepo { return &OutboxRepo{db: db} }

func (r *OutboxRepo) DB() *sqlx.DB { return r.db }

type outboxRow struct {
	ID        int64  `db:"id"`
	Kind      string `db:"kind"`
	Payload   string `db:"payload"`
	CreatedAt int64  `db:"created_at"`
	Attempts  int    `db:"attempts"`
}

// Enqueue appends ev using q, so callers can write it in the same
// transaction as the change that caused it.
func (r *OutboxRepo) Enqueue(ctx context.Context, q Querier, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO outbox(kind, payload, created_at) VALUES(?,?,?)`,
		string(ev.Kind), string(payload), nanos(ev.CreatedAt))
	return err
}

// PendingEvent is an undelivered event with its delivery attempt count.
type PendingEvent struct {
	domain.Event
	Attempts int
}

// Pending returns undelivered events below maxAttempts, in insert order.
func (r *OutboxRepo) Pending(ctx context.Context, maxAttempts, limit int) ([]PendingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, kind, payload, created_at, attempts
		FROM outbox
		WHERE processed_at IS NULL AND attempts < ?
		ORDER BY id
		LIMIT ?
	`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	out := make([]PendingEvent, 0, len(rows))
	for _, row := range rows {
		var ev domain.Event
		if err := json.Unmarshal([]byte(row.Payload), &ev); err != nil {
			return nil, err
		}
		ev.ID = row.ID
		ev.Kind = domain.EventKind(row.Kind)
		ev.CreatedAt = fromNanos(row.CreatedAt)
		out = append(out, PendingEvent{Event: ev, Attempts: row.Attempts})
	}
	return out, nil
}

func (r *OutboxRepo) MarkDone(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET processed_at = ? WHERE id = ? AND processed_at IS NULL`, nanos(at), id)
	return err
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, msg, id)
	return err
}

// Backlog counts undelivered events.
func (r *OutboxRepo) Backlog(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL`)
	return n, err
}

// Checkpoint returns the saved cursor for a cascade event, or "".
func (r *OutboxRepo) Checkpoint(ctx context.Context, eventID int64) (string, error) {
	var cursor string
	err := r.db.GetContext(ctx, &cursor, `SELECT cursor FROM cascade_checkpoints WHERE event_id = ?`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return cursor, err
}

func (r *OutboxRepo) SaveCheckpoint(ctx context.Context, eventID int64, cursor string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cascade_checkpoints(event_id, cursor, updated_at) VALUES(?,?,?)
		ON CONFLICT(event_id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at
	`, eventID, cursor, nanos(at))
	return err
}
