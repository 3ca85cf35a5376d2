package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"tradepost/internal/cache"
	"tradepost/internal/domain"
	"tradepost/internal/repos"
	"tradepost/internal/services"
)

var (
	alice = domain.Actor{ID: "u-alice"}
	bob   = domain.Actor{ID: "u-bob"}
	carol = domain.Actor{ID: "u-carol"}
	admin = domain.Actor{ID: "u-admin", IsAdmin: true}
)

type fixture struct {
	db        *sqlx.DB
	now       time.Time
	cache     *cache.MemStore
	outbox    *repos.OutboxRepo
	lifecycle *services.LifecycleService
	flags     *services.FlagService
	ledger    *services.LedgerService
	appeals   *services.AppealService
	cascade   *services.CascadeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.cache = cache.NewMemStore(128, time.Minute)
	f.outbox = repos.NewOutboxRepo(db)
	listings := repos.NewListingRepo(db)
	flagRepo := repos.NewFlagRepo(db)

	f.ledger = services.NewLedgerService(repos.NewModerationRepo(db), f.outbox)
	f.ledger.Now = clock
	f.lifecycle = services.NewLifecycleService(listings, repos.NewCategoryRepo(db), f.outbox, f.ledger, f.cache)
	f.lifecycle.Now = clock
	f.flags = services.NewFlagService(flagRepo, listings, f.outbox)
	f.flags.Now = clock
	f.appeals = services.NewAppealService(repos.NewAppealRepo(db), f.ledger)
	f.appeals.Now = clock
	f.cascade = services.NewCascadeService(f.lifecycle, f.ledger, flagRepo, f.outbox)
	f.cascade.Now = clock
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) create(t *testing.T, owner domain.Actor, autoBump bool) domain.Listing {
	t.Helper()
	l, err := f.lifecycle.Create(context.Background(), owner, domain.ListingInput{
		CategoryID:      "electronics",
		Title:           "Game Boy Color",
		Description:     "Works, light scratches on the back",
		PriceUSD:        49.99,
		Images:          []string{"https://img.tradepost.test/gbc-front.jpg"},
		AutoBumpEnabled: autoBump,
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) active(t *testing.T, owner domain.Actor) domain.Listing {
	t.Helper()
	l := f.create(t, owner, false)
	l, err := f.lifecycle.Publish(context.Background(), owner, l.ID)
	require.NoError(t, err)
	return l
}

// inStatus builds a listing owned by alice that reached status along legal edges.
func (f *fixture) inStatus(t *testing.T, status domain.ListingStatus) domain.Listing {
	t.Helper()
	ctx := context.Background()
	var (
		l   domain.Listing
		err error
	)
	switch status {
	case domain.ListingDraft:
		return f.create(t, alice, false)
	case domain.ListingActive:
		return f.active(t, alice)
	case domain.ListingExpired:
		l, err = f.lifecycle.Expire(ctx, domain.SystemActor(), f.active(t, alice).ID)
	case domain.ListingSold:
		l, err = f.lifecycle.MarkSold(ctx, alice, f.active(t, alice).ID)
	case domain.ListingArchived:
		l, err = f.lifecycle.Archive(ctx, alice, f.create(t, alice, false).ID)
	case domain.ListingHidden:
		l, err = f.lifecycle.Hide(ctx, admin, f.active(t, alice).ID, "test")
	default:
		t.Fatalf("unknown status %q", status)
	}
	require.NoError(t, err)
	require.Equal(t, status, l.Status)
	return l
}

func (f *fixture) status(t *testing.T, id string) domain.ListingStatus {
	t.Helper()
	l, err := f.lifecycle.Get(context.Background(), id)
	require.NoError(t, err)
	return l.Status
}

// drain hands every pending outbox event to the cascade, as the worker does.
func (f *fixture) drain(t *testing.T) []domain.Event {
	t.Helper()
	ctx := context.Background()
	var seen []domain.Event
	for {
		pending, err := f.outbox.Pending(ctx, 5, 100)
		require.NoError(t, err)
		if len(pending) == 0 {
			return seen
		}
		for _, ev := range pending {
			require.NoError(t, f.cascade.Handle(ctx, ev.Event))
			require.NoError(t, f.outbox.MarkDone(ctx, ev.ID, f.now))
			seen = append(seen, ev.Event)
		}
	}
}

func kinds(evs []domain.Event) []domain.EventKind {
	out := make([]domain.EventKind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}
