package repos

import (
	"context"
	"time"

	"tradepost/internal/domain"

	"github.com/jmoiron/sqlx"
)

type UserRepo struct{ DB *sqlx.DB }

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{DB: db} }

func (r *UserRepo) ByEmail(email string) (*domain.User, error) {
	var u domain.User
	err := r.DB.Get(&u, `SELECT id,email,name,password_hash FROM users WHERE LOWER(email)=LOWER(?)`, email)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) ByID(id string) (*domain.User, error) {
	var u domain.User
	err := r.DB.Get(&u, `SELECT id,email,name,password_hash FROM users WHERE id=?`, id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) BindSession(sid, userID string) error {
	_, err := r.DB.Exec(`INSERT INTO sessions(id,user_id,last_seen) 
                          VALUES(?,?,CURRENT_TIMESTAMP)
                          ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id,last_seen=CURRENT_TIMESTAMP`, sid, userID)
	return err
}

func (r *UserRepo) SessionUser(sid string) (*domain.User, error) {
	var u domain.User
	err := r.DB.Get(&u, `
      SELECT u.id,u.email,u.name,u.password_hash
      FROM sessions s 
      JOIN users u ON u.id=s.user_id
      WHERE s.id=?`, sid)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) UnbindSession(sid string) error {
	_, err := r.DB.Exec(`UPDATE sessions SET user_id=NULL,last_seen=CURRENT_TIMESTAMP WHERE id=?`, sid)
	return err
}

// IsAdmin looks the user up in the persisted set of admin principals.
func (r *UserRepo) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var n int
	if err := r.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM admins WHERE user_id = ?`, userID); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *UserRepo) GrantAdmin(ctx context.Context, userID, grantedBy string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO admins(user_id, granted_by, granted_at) VALUES(?,?,?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, grantedBy, nanos(at))
	return err
}

func (r *UserRepo) RevokeAdmin(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM admins WHERE user_id = ?`, userID)
	return err
}

func (r *UserRepo) ListAdmins(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.DB.SelectContext(ctx, &ids, `SELECT user_id FROM admins ORDER BY user_id`)
	return ids, err
}
