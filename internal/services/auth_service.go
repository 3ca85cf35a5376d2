package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/repos"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCreds = errors.New("invalid email or password")

type AuthService struct {
	Users *repos.UserRepo
	Now   func() time.Time
}

func (s *AuthService) Login(sid, email, password string) (*domain.User, error) {
	u, err := s.Users.ByEmail(email)
	if err != nil {
		return nil, ErrBadCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return nil, ErrBadCreds
	}
	if err := s.Users.BindSession(sid, u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) Logout(sid string) error {
	return s.Users.UnbindSession(sid)
}

func (s *AuthService) CurrentUser(sid string) (*domain.User, error) {
	return s.Users.SessionUser(sid)
}

// Actor resolves the session to the caller the core operations act for.
// An anonymous session yields a zero Actor and no error.
func (s *AuthService) Actor(ctx context.Context, sid string) (domain.Actor, error) {
	u, err := s.Users.SessionUser(sid)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Actor{}, nil
	}
	if err != nil {
		return domain.Actor{}, err
	}
	admin, err := s.Users.IsAdmin(ctx, u.ID)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{ID: u.ID, IsAdmin: admin}, nil
}

// GrantAdmin adds userID to the admin principals. Only admins (or the system
// actor, for bootstrap) may grant.
func (s *AuthService) GrantAdmin(ctx context.Context, by domain.Actor, userID string) error {
	if !by.IsAdmin {
		return unauthorized("", "admin role required")
	}
	if _, err := s.Users.ByID(userID); err != nil {
		return storeErr("user", userID, err)
	}
	if err := s.Users.GrantAdmin(ctx, userID, by.ID, clock(s.Now).now()); err != nil {
		return storeErr("admin", userID, err)
	}
	applog.Audit(nil, "admin.grant", map[string]any{"user_id": userID, "granted_by": by.ID})
	return nil
}

func (s *AuthService) RevokeAdmin(ctx context.Context, by domain.Actor, userID string) error {
	if !by.IsAdmin {
		return unauthorized("", "admin role required")
	}
	if err := s.Users.RevokeAdmin(ctx, userID); err != nil {
		return storeErr("admin", userID, err)
	}
	applog.Audit(nil, "admin.revoke", map[string]any{"user_id": userID, "revoked_by": by.ID})
	return nil
}
