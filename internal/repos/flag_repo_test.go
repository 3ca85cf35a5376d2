package repos

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/internal/domain"
)

func TestFlagOnePerReporter(t *testing.T) {
	assert := assert.New(t)
	db := openTestDB(t)
	insertListing(t, NewListingRepo(db), "l-1", "u-alice", "Sneakers", domain.ListingDraft)
	r := NewFlagRepo(db)
	ctx := context.Background()

	mk := func(id, reporter string, at time.Time) domain.Flag {
		return domain.Flag{ID: id, ListingID: "l-1", ReporterID: reporter, Reason: domain.ReasonFake, Status: domain.FlagPending, CreatedAt: at}
	}
	require.NoError(t, r.Insert(ctx, mk("f-1", "u-bob", epoch)))
	assert.ErrorIs(r.Insert(ctx, mk("f-2", "u-bob", epoch.Add(time.Minute))), ErrDuplicate)
	require.NoError(t, r.Insert(ctx, mk("f-3", "u-carol", epoch.Add(2*time.Hour))))

	old, err := r.ListByStatus(ctx, domain.FlagPending, epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal("f-1", old[0].ID)

	all, err := r.ListByStatus(ctx, domain.FlagPending, time.Time{})
	require.NoError(t, err)
	assert.Len(all, 2)
}

func TestFlagReviewOnlyOnce(t *testing.T) {
	db := openTestDB(t)
	insertListing(t, NewListingRepo(db), "l-1", "u-alice", "Sneakers", domain.ListingDraft)
	r := NewFlagRepo(db)
	ctx := context.Background()
	require.NoError(t, r.Insert(ctx, domain.Flag{ID: "f-1", ListingID: "l-1", ReporterID: "u-bob", Reason: domain.ReasonFake, Status: domain.FlagPending, CreatedAt: epoch}))

	require.NoError(t, r.Review(ctx, db, "f-1", domain.FlagUpheld, "u-admin", "fake logo", epoch.Add(time.Hour)))
	assert.ErrorIs(t, r.Review(ctx, db, "f-1", domain.FlagDismissed, "u-admin", "", epoch.Add(2*time.Hour)), ErrStale)

	got, err := r.Get(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, domain.FlagUpheld, got.Status)
	assert.Equal(t, "u-admin", got.ReviewedBy)
	assert.Equal(t, "fake logo", got.Notes)
	require.NotNil(t, got.ReviewedAt)

	forListing, err := r.ForListing(ctx, "l-1")
	require.NoError(t, err)
	assert.Len(t, forListing, 1)
}

func TestOneOpenAppealPerAction(t *testing.T) {
	assert := assert.New(t)
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, NewModerationRepo(db).Append(ctx, db, banAction("a-1", "u-alice", epoch, 7)))
	r := NewAppealRepo(db)

	mk := func(id string) domain.Appeal {
		return domain.Appeal{ID: id, ModerationActionID: "a-1", UserID: "u-alice", Text: "sorry", Status: domain.AppealOpen, CreatedAt: epoch}
	}
	require.NoError(t, r.Insert(ctx, mk("ap-1")))
	assert.ErrorIs(r.Insert(ctx, mk("ap-2")), ErrDuplicate)

	require.NoError(t, r.Resolve(ctx, db, "ap-1", domain.AppealDenied, "u-admin", epoch.Add(time.Hour)))
	assert.ErrorIs(r.Resolve(ctx, db, "ap-1", domain.AppealApproved, "u-admin", epoch.Add(time.Hour)), ErrStale)

	// once the first is closed another may be opened
	require.NoError(t, r.Insert(ctx, mk("ap-3")))
	open, err := r.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal("ap-3", open[0].ID)

	mine, err := r.ForUser(ctx, "u-alice")
	require.NoError(t, err)
	assert.Len(mine, 2)
}

func TestSessionsAndAdmins(t *testing.T) {
	assert := assert.New(t)
	r := NewUserRepo(openTestDB(t))
	ctx := context.Background()

	u, err := r.ByEmail("ALICE@tradepost.test")
	require.NoError(t, err)
	assert.Equal("u-alice", u.ID)

	require.NoError(t, r.BindSession("sid-1", u.ID))
	got, err := r.SessionUser("sid-1")
	require.NoError(t, err)
	assert.Equal("u-alice", got.ID)

	require.NoError(t, r.UnbindSession("sid-1"))
	_, err = r.SessionUser("sid-1")
	assert.ErrorIs(err, sql.ErrNoRows)

	ok, err := r.IsAdmin(ctx, "u-admin")
	require.NoError(t, err)
	assert.True(ok, "seeded")

	require.NoError(t, r.GrantAdmin(ctx, "u-bob", "u-admin", epoch))
	require.NoError(t, r.GrantAdmin(ctx, "u-bob", "u-admin", epoch), "granting twice is a no-op")
	admins, err := r.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Equal([]string{"u-admin", "u-bob"}, admins)

	require.NoError(t, r.RevokeAdmin(ctx, "u-bob"))
	ok, err = r.IsAdmin(ctx, "u-bob")
	require.NoError(t, err)
	assert.False(ok)
}
