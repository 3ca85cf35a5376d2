package services

import (
	"database/sql"
	"errors"
	"fmt"

	"tradepost/internal/domain"
)

// Kind classifies every failure a core operation can return.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInvalidTransition Kind = "invalid_transition"
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// Reasons refine a Kind.
const (
	ReasonSelfFlag            = "self_flag"
	ReasonBanned              = "banned"
	ReasonDuplicateFlag       = "duplicate_flag"
	ReasonAlreadyReviewed     = "already_reviewed"
	ReasonAlreadyBanned       = "already_banned"
	ReasonNotBanned           = "not_banned"
	ReasonCooldown            = "cooldown"
	ReasonLimit               = "limit"
	ReasonRaceLost            = "race_lost"
	ReasonDeadlinePassed      = "deadline_passed"
	ReasonDuplicateOpenAppeal = "duplicate_open_appeal"
	ReasonAlreadyResolved     = "already_resolved"
)

type Error struct {
	Kind      Kind
	Reason    string
	Msg       string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Reason != "" {
		s += "(" + e.Reason + ")"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, and by reason when the sentinel has one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInternal          = &Error{Kind: KindInternal}

	ErrSelfFlag            = &Error{Kind: KindUnauthorized, Reason: ReasonSelfFlag}
	ErrBanned              = &Error{Kind: KindUnauthorized, Reason: ReasonBanned}
	ErrDuplicateFlag       = &Error{Kind: KindConflict, Reason: ReasonDuplicateFlag}
	ErrAlreadyReviewed     = &Error{Kind: KindConflict, Reason: ReasonAlreadyReviewed}
	ErrAlreadyBanned       = &Error{Kind: KindConflict, Reason: ReasonAlreadyBanned}
	ErrNotBanned           = &Error{Kind: KindConflict, Reason: ReasonNotBanned}
	ErrCooldown            = &Error{Kind: KindConflict, Reason: ReasonCooldown}
	ErrLimit               = &Error{Kind: KindConflict, Reason: ReasonLimit}
	ErrRaceLost            = &Error{Kind: KindConflict, Reason: ReasonRaceLost}
	ErrDeadlinePassed      = &Error{Kind: KindConflict, Reason: ReasonDeadlinePassed}
	ErrDuplicateOpenAppeal = &Error{Kind: KindConflict, Reason: ReasonDuplicateOpenAppeal}
	ErrAlreadyResolved     = &Error{Kind: KindConflict, Reason: ReasonAlreadyResolved}
)

// KindOf returns the kind of err, treating unknown errors as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func unauthorized(reason, msg string) error {
	return &Error{Kind: KindUnauthorized, Reason: reason, Msg: msg}
}

func conflict(reason, msg string) error {
	return &Error{Kind: KindConflict, Reason: reason, Msg: msg}
}

func notFound(what, id string) error {
	return &Error{Kind: KindNotFound, Msg: what + " " + id + " not found"}
}

func invalidTransition(from, to domain.ListingStatus) error {
	return &Error{Kind: KindInvalidTransition, Msg: fmt.Sprintf("%s -> %s is not allowed", from, to)}
}

// storeErr maps a repository error. Typed errors pass through unchanged.
func storeErr(what, id string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(what, id)
	}
	return &Error{Kind: KindInternal, Msg: what + " store failure", Err: err}
}
