package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	assert := assert.New(t)

	err := fmt.Errorf("publish: %w", conflict(ReasonCooldown, "too soon"))
	assert.ErrorIs(err, ErrConflict)
	assert.ErrorIs(err, ErrCooldown)
	assert.NotErrorIs(err, ErrLimit)
	assert.Equal(KindConflict, KindOf(err))

	assert.Equal(KindInternal, KindOf(errors.New("boom")))
	assert.ErrorIs(storeErr("listing", "x", sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(storeErr("listing", "x", ErrRaceLost), ErrRaceLost)
	assert.Nil(storeErr("listing", "x", nil))

	wrapped := storeErr("flag", "x", context.Canceled)
	assert.ErrorIs(wrapped, ErrInternal)
	assert.ErrorIs(wrapped, context.Canceled)
}

func TestRetryOnce(t *testing.T) {
	calls := 0
	v, err := retryOnce("test", func() (int, error) {
		calls++
		if calls == 1 {
			return 0, fmt.Errorf("exec: %w", context.DeadlineExceeded)
		}
		return 7, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)

	calls = 0
	_, err = retryOnce("test", func() (int, error) {
		calls++
		return 0, ErrAlreadyBanned
	})
	assert.ErrorIs(t, err, ErrAlreadyBanned)
	assert.Equal(t, 1, calls)

	calls = 0
	_, err = retryOnce("test", func() (int, error) {
		calls++
		return 0, context.DeadlineExceeded
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls, "retried exactly once")
}
