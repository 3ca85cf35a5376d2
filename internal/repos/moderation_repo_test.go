package repos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/internal/domain"
)

func banAction(id, user string, at time.Time, days int) *domain.ModerationAction {
	a := &domain.ModerationAction{
		ID: id, TargetUserID: user, AdminID: "u-admin",
		ActionType: domain.ActionBan, Reason: "spam", CreatedAt: at,
	}
	if days > 0 {
		exp := at.Add(time.Duration(days) * 24 * time.Hour)
		a.ExpiresAt = &exp
	}
	return a
}

func TestAppendAssignsSeqAndRejectsRepeatedRef(t *testing.T) {
	assert := assert.New(t)
	r := NewModerationRepo(openTestDB(t))
	ctx := context.Background()

	first := &domain.ModerationAction{
		ID: "a-1", TargetUserID: "u-alice", TargetListingID: "l-1", AdminID: "u-admin",
		ActionType: domain.ActionContentRemoval, Reason: "counterfeit", Ref: "flag:f-1", CreatedAt: epoch,
	}
	require.NoError(t, r.Append(ctx, r.DB(), first))
	assert.NotZero(first.Seq)

	again := *first
	again.ID = "a-2"
	assert.ErrorIs(r.Append(ctx, r.DB(), &again), ErrDuplicate)

	// rows without a ref never collide
	w1 := &domain.ModerationAction{ID: "a-3", TargetUserID: "u-alice", AdminID: "u-admin", ActionType: domain.ActionWarning, Reason: "tone", CreatedAt: epoch}
	w2 := &domain.ModerationAction{ID: "a-4", TargetUserID: "u-alice", AdminID: "u-admin", ActionType: domain.ActionWarning, Reason: "tone", CreatedAt: epoch}
	require.NoError(t, r.Append(ctx, r.DB(), w1))
	require.NoError(t, r.Append(ctx, r.DB(), w2))
	assert.Greater(w2.Seq, w1.Seq)

	got, err := r.ByRef(ctx, "flag:f-1")
	require.NoError(t, err)
	assert.Equal("a-1", got.ID)
	assert.Equal("l-1", got.TargetListingID)

	hist, err := r.History(ctx, "u-alice")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal("a-4", hist[0].ID, "newest first, ties broken by append order")

	n, err := r.CountViolations(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(3, n)
}

func TestLedgerIsAppendOnly(t *testing.T) {
	db := openTestDB(t)
	r := NewModerationRepo(db)
	ctx := context.Background()
	require.NoError(t, r.Append(ctx, db, banAction("a-1", "u-alice", epoch, 7)))

	_, err := db.Exec(`UPDATE moderation_actions SET reason = 'edited' WHERE id = 'a-1'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = db.Exec(`DELETE FROM moderation_actions WHERE id = 'a-1'`)
	assert.ErrorContains(t, err, "append-only")

	got, err := r.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "spam", got.Reason)
}

func TestClaimAndReleaseBan(t *testing.T) {
	assert := assert.New(t)
	db := openTestDB(t)
	r := NewModerationRepo(db)
	ctx := context.Background()

	ban := banAction("a-1", "u-alice", epoch, 7)
	require.NoError(t, r.Append(ctx, db, ban))
	require.NoError(t, r.ClaimBan(ctx, db, "u-alice", ban.ID, ban.ExpiresAt, epoch))

	cur, err := r.CurrentBan(ctx, db, "u-alice", epoch.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal("a-1", cur.ID)

	// a second ban cannot take the pointer while the first is live
	rival := banAction("a-2", "u-alice", epoch, 0)
	require.NoError(t, r.Append(ctx, db, rival))
	assert.ErrorIs(r.ClaimBan(ctx, db, "u-alice", rival.ID, nil, epoch.Add(time.Hour)), ErrStale)

	require.NoError(t, r.ReleaseBan(ctx, db, "u-alice", epoch.Add(2*time.Hour)))
	assert.ErrorIs(r.ReleaseBan(ctx, db, "u-alice", epoch.Add(2*time.Hour)), ErrStale)

	cur, err = r.CurrentBan(ctx, db, "u-alice", epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(cur)
}

func TestClaimBanAfterExpiry(t *testing.T) {
	db := openTestDB(t)
	r := NewModerationRepo(db)
	ctx := context.Background()

	short := banAction("a-1", "u-bob", epoch, 1)
	require.NoError(t, r.Append(ctx, db, short))
	require.NoError(t, r.ClaimBan(ctx, db, "u-bob", short.ID, short.ExpiresAt, epoch))

	later := epoch.Add(3 * 24 * time.Hour)
	assert.ErrorIs(t, r.ReleaseBan(ctx, db, "u-bob", later), ErrStale, "nothing live to release")

	lapsed, err := r.LapsedBans(ctx, later)
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, "a-1", lapsed[0].ActionID)
	assert.True(t, lapsed[0].Expired().Equal(*short.ExpiresAt))

	next := banAction("a-2", "u-bob", later, 7)
	require.NoError(t, r.Append(ctx, db, next))
	require.NoError(t, r.ClaimBan(ctx, db, "u-bob", next.ID, next.ExpiresAt, later))

	cur, err := r.CurrentBan(ctx, db, "u-bob", later)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "a-2", cur.ID)

	lapsed, err = r.LapsedBans(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, lapsed)
}

func TestSetBanIndexOverwrites(t *testing.T) {
	db := openTestDB(t)
	r := NewModerationRepo(db)
	ctx := context.Background()

	ban := banAction("a-1", "u-carol", epoch, 0)
	require.NoError(t, r.Append(ctx, db, ban))
	require.NoError(t, r.SetBanIndex(ctx, db, "u-carol", ban, epoch))

	cur, err := r.CurrentBan(ctx, db, "u-carol", epoch.Add(365*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, cur, "permanent bans never lapse")

	require.NoError(t, r.SetBanIndex(ctx, db, "u-carol", nil, epoch))
	cur, err = r.CurrentBan(ctx, db, "u-carol", epoch)
	require.NoError(t, err)
	assert.Nil(t, cur)

	ids, err := r.IndexedUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-carol"}, ids)
}
