package services_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/internal/domain"
	"tradepost/internal/services"
)

func TestBanHidesEveryActiveListing(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.cascade.BatchSize = 2

	var live []domain.Listing
	for i := 0; i < 3; i++ {
		live = append(live, f.active(t, alice))
	}
	draft := f.create(t, alice, false)
	sold := f.inStatus(t, domain.ListingSold)
	other := f.active(t, bob)

	_, err := f.ledger.Ban(ctx, admin, alice.ID, "scam ring", 7)
	require.NoError(t, err)
	evs := f.drain(t)

	for _, l := range live {
		assert.Equal(domain.ListingHidden, f.status(t, l.ID))
	}
	assert.Equal(domain.ListingDraft, f.status(t, draft.ID))
	assert.Equal(domain.ListingSold, f.status(t, sold.ID))
	assert.Equal(domain.ListingActive, f.status(t, other.ID))

	active, err := f.lifecycle.ListByOwner(ctx, alice.ID, domain.ListingActive)
	require.NoError(t, err)
	assert.Empty(active)

	hidden := 0
	for _, k := range kinds(evs) {
		if k == domain.EventListingHidden {
			hidden++
		}
	}
	assert.Equal(3, hidden)
}

func TestOnBanResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, f.active(t, alice).ID)
	}
	sort.Strings(ids)
	_, err := f.ledger.Ban(ctx, admin, alice.ID, "scam", 7)
	require.NoError(t, err)

	pending, err := f.outbox.Pending(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	evID := pending[0].ID

	// a previous delivery got through the first listing before failing
	require.NoError(t, f.outbox.SaveCheckpoint(ctx, evID, ids[0], f.now))

	rep, err := f.cascade.OnBan(ctx, evID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Hidden)
	assert.Equal(t, domain.ListingActive, f.status(t, ids[0]))
	assert.Equal(t, domain.ListingHidden, f.status(t, ids[1]))
	assert.Equal(t, domain.ListingHidden, f.status(t, ids[2]))

	cursor, err := f.outbox.Checkpoint(ctx, evID)
	require.NoError(t, err)
	assert.Equal(t, ids[2], cursor)
}

func TestOnBanIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.active(t, alice)
	f.active(t, alice)

	_, err := f.ledger.Ban(ctx, admin, alice.ID, "scam", 7)
	require.NoError(t, err)

	rep, err := f.cascade.OnBan(ctx, 0, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Hidden)

	rep, err = f.cascade.OnBan(ctx, 0, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, rep.Hidden)
}

func TestOnBanSkipsWhenUnbannedFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.active(t, alice)

	_, err := f.ledger.Ban(ctx, admin, alice.ID, "oops", 7)
	require.NoError(t, err)
	_, err = f.ledger.Unban(ctx, admin, alice.ID, "wrong user")
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, domain.ListingActive, f.status(t, l.ID))
}

func TestFlagUpheldRemovesContent(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	l := f.active(t, alice)

	fl, err := f.flags.File(ctx, bob, l.ID, domain.ReasonFake, "")
	require.NoError(t, err)
	_, err = f.flags.Review(ctx, admin, fl.ID, domain.FlagUpheld, "counterfeit")
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(domain.ListingHidden, f.status(t, l.ID))
	hist, err := f.ledger.History(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(domain.ActionContentRemoval, hist[0].ActionType)
	assert.Equal(l.ID, hist[0].TargetListingID)
	assert.Equal(admin.ID, hist[0].AdminID)
	assert.Equal("flag:"+fl.ID, hist[0].Ref)

	// redelivery adds nothing
	require.NoError(t, f.cascade.OnFlagUpheld(ctx, fl.ID))
	hist, err = f.ledger.History(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(hist, 1)
}

func TestFlagUpheldOnExpiredListingArchivesIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.inStatus(t, domain.ListingExpired)

	fl, err := f.flags.File(ctx, bob, l.ID, domain.ReasonScam, "")
	require.NoError(t, err)
	_, err = f.flags.Review(ctx, admin, fl.ID, domain.FlagUpheld, "")
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, domain.ListingArchived, f.status(t, l.ID))
	_, err = f.lifecycle.Bump(ctx, alice, l.ID)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
}

func TestFlagUpheldLeavesSoldListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.inStatus(t, domain.ListingSold)

	fl, err := f.flags.File(ctx, bob, l.ID, domain.ReasonScam, "")
	require.NoError(t, err)
	_, err = f.flags.Review(ctx, admin, fl.ID, domain.FlagUpheld, "")
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, domain.ListingSold, f.status(t, l.ID))
	n, err := f.ledger.ViolationCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBanExpirySweepWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Ban(ctx, admin, "u-dave", "cool off", 1)
	require.NoError(t, err)
	_, err = f.ledger.Ban(ctx, admin, "u-erin", "long", 30)
	require.NoError(t, err)

	lapsed, err := f.cascade.OnBanExpirySweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, lapsed)

	f.advance(2 * 24 * time.Hour)
	lapsed, err = f.cascade.OnBanExpirySweep(ctx)
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, "u-dave", lapsed[0].UserID)

	hist, err := f.ledger.History(ctx, "u-dave")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestRemoveContentTakesListingDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[domain.ListingStatus]domain.ListingStatus{
		domain.ListingActive:  domain.ListingHidden,
		domain.ListingDraft:   domain.ListingArchived,
		domain.ListingExpired: domain.ListingArchived,
		domain.ListingSold:    domain.ListingSold,
	}
	for from, want := range cases {
		l := f.inStatus(t, from)
		a, got, err := f.cascade.RemoveContent(ctx, admin, l.ID, "counterfeit")
		require.NoError(t, err, from)
		assert.Equal(t, domain.ActionContentRemoval, a.ActionType, from)
		assert.Equal(t, l.OwnerID, a.TargetUserID, from)
		assert.Equal(t, l.ID, a.TargetListingID, from)
		assert.Equal(t, want, got.Status, from)
		assert.Equal(t, want, f.status(t, l.ID), from)
	}

	n, err := f.ledger.ViolationCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, len(cases), n)
}

func TestRemovedDraftCannotBePublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.create(t, alice, false)

	_, _, err := f.cascade.RemoveContent(ctx, admin, draft.ID, "prohibited item")
	require.NoError(t, err)

	_, err = f.lifecycle.Publish(ctx, alice, draft.ID)
	assert.ErrorIs(t, err, services.ErrInvalidTransition)
	assert.Equal(t, domain.ListingArchived, f.status(t, draft.ID))
}

func TestRemoveContentRules(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	l := f.active(t, alice)

	_, _, err := f.cascade.RemoveContent(ctx, bob, l.ID, "fake")
	assert.ErrorIs(err, services.ErrUnauthorized)
	_, _, err = f.cascade.RemoveContent(ctx, admin, l.ID, "  ")
	assert.ErrorIs(err, services.ErrValidation)
	_, _, err = f.cascade.RemoveContent(ctx, admin, "missing", "fake")
	assert.ErrorIs(err, services.ErrNotFound)

	assert.Equal(domain.ListingActive, f.status(t, l.ID))
	hist, err := f.ledger.History(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(hist)
}
