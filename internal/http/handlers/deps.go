package handlers

import (
	"tradepost/internal/cache"
	"tradepost/internal/config"
	"tradepost/internal/repos"
	"tradepost/internal/services"
	"tradepost/internal/worker"

	"github.com/jmoiron/sqlx"
)

type Deps struct {
	Auth      *services.AuthService
	Lifecycle *services.LifecycleService
	Flags     *services.FlagService
	Ledger    *services.LedgerService
	Appeals   *services.AppealService
	Cascade   *services.CascadeService
	Outbox    *repos.OutboxRepo
	Sweeper   *worker.Sweeper

	AuthHandler       *AuthHandler
	CategoryHandler   *CategoryHandler
	ListingHandler    *ListingHandler
	FlagHandler       *FlagHandler
	ModerationHandler *ModerationHandler
	AppealHandler     *AppealHandler
	AdminHandler      *AdminHandler
}

// PolicyFrom builds the marketplace limits from config, keeping defaults
// for anything unset.
func PolicyFrom(cfg config.Config) services.Policy {
	p := services.DefaultPolicy()
	if cfg.MaxActiveListings > 0 {
		p.MaxActiveListings = cfg.MaxActiveListings
	}
	if cfg.ListingTTL > 0 {
		p.ListingTTL = cfg.ListingTTL
	}
	if cfg.BumpCooldown > 0 {
		p.BumpCooldown = cfg.BumpCooldown
	}
	if cfg.AppealWindow > 0 {
		p.AppealWindow = cfg.AppealWindow
	}
	return p
}

// NewDeps wires repositories, services and handlers over db. A nil store
// falls back to an in-process cache.
func NewDeps(db *sqlx.DB, cfg config.Config, store cache.Store) *Deps {
	if store == nil {
		size, ttl := cfg.CacheSize, cfg.CacheTTL
		if size <= 0 {
			size = 1000
		}
		store = cache.NewMemStore(size, ttl)
	}
	policy := PolicyFrom(cfg)

	userRepo := repos.NewUserRepo(db)
	catRepo := repos.NewCategoryRepo(db)
	listingRepo := repos.NewListingRepo(db)
	flagRepo := repos.NewFlagRepo(db)
	outbox := repos.NewOutboxRepo(db)

	auth := &services.AuthService{Users: userRepo}
	ledger := services.NewLedgerService(repos.NewModerationRepo(db), outbox)
	lifecycle := services.NewLifecycleService(listingRepo, catRepo, outbox, ledger, store)
	lifecycle.Policy = policy
	flags := services.NewFlagService(flagRepo, listingRepo, outbox)
	appeals := services.NewAppealService(repos.NewAppealRepo(db), ledger)
	appeals.Window = policy.AppealWindow
	cascade := services.NewCascadeService(lifecycle, ledger, flagRepo, outbox)
	sweeper := &worker.Sweeper{Lifecycle: lifecycle, Cascade: cascade}

	return &Deps{
		Auth:      auth,
		Lifecycle: lifecycle,
		Flags:     flags,
		Ledger:    ledger,
		Appeals:   appeals,
		Cascade:   cascade,
		Outbox:    outbox,
		Sweeper:   sweeper,

		AuthHandler:       &AuthHandler{Auth: auth},
		CategoryHandler:   &CategoryHandler{Categories: catRepo},
		ListingHandler:    &ListingHandler{Lifecycle: lifecycle},
		FlagHandler:       &FlagHandler{Flags: flags},
		ModerationHandler: &ModerationHandler{Ledger: ledger, Lifecycle: lifecycle, Appeals: appeals, Cascade: cascade},
		AppealHandler:     &AppealHandler{Appeals: appeals},
		AdminHandler: &AdminHandler{
			Auth: auth, Flags: flags, Appeals: appeals, Ledger: ledger, Outbox: outbox, Sweeper: sweeper,
		},
	}
}
