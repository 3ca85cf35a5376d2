package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/internal/domain"
)

// Owner publishes, gets flagged and banned, appeals, and is let back in.
func TestModerationRoundTrip(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	published := f.now

	l := f.active(t, alice)
	assert.Equal(domain.ListingActive, l.Status)
	assert.True(l.ExpiresAt.Equal(published.Add(7 * 24 * time.Hour)))

	f.advance(time.Hour)
	fl, err := f.flags.File(ctx, bob, l.ID, domain.ReasonFake, "")
	require.NoError(t, err)
	f.advance(time.Hour)
	_, err = f.flags.Review(ctx, admin, fl.ID, domain.FlagUpheld, "fake serial")
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(domain.ListingHidden, f.status(t, l.ID))
	hist, err := f.ledger.History(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(domain.ActionContentRemoval, hist[0].ActionType)

	f.advance(time.Hour)
	ban, err := f.ledger.Ban(ctx, admin, alice.ID, "selling fakes", 7)
	require.NoError(t, err)
	f.drain(t)
	active, err := f.ledger.GetActiveBan(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(ban.ID, active.ID)

	f.advance(2 * 24 * time.Hour)
	appeal, err := f.appeals.Submit(ctx, alice, ban.ID, "I did not know it was fake")
	require.NoError(t, err)
	f.advance(time.Hour)
	_, err = f.appeals.Resolve(ctx, admin, appeal.ID, true)
	require.NoError(t, err)
	f.drain(t)

	hist, err = f.ledger.History(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(domain.ActionUnban, hist[0].ActionType)
	active, err = f.ledger.GetActiveBan(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(active)

	// the removed listing stays hidden and does not use up a slot
	f.lifecycle.Policy.MaxActiveListings = 1
	fresh := f.active(t, alice)
	assert.Equal(domain.ListingActive, fresh.Status)
	assert.Equal(domain.ListingHidden, f.status(t, l.ID))
}
