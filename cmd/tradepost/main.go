package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"tradepost/internal/cache"
	"tradepost/internal/config"
	"tradepost/internal/domain"
	"tradepost/internal/http/handlers"
	applog "tradepost/internal/log"
	"tradepost/internal/notify"
	"tradepost/internal/repos"
	"tradepost/internal/worker"
)

func main() {
	app := &cli.App{
		Name:  "tradepost",
		Usage: "classifieds marketplace: listing lifecycle and moderation",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "sqlite DSN (overrides DB_DSN)"},
			&cli.StringFlag{Name: "redis", Usage: "redis URL for cache and notifications (overrides REDIS_URL)"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, the outbox worker and the sweeps",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Usage: "listen port (overrides PORT)"},
					&cli.BoolFlag{Name: "no-workers", Usage: "serve HTTP only; run worker and sweep elsewhere"},
				},
			},
			{
				Name:   "sweep",
				Usage:  "expire or auto-bump overdue listings once and report lapsed bans",
				Action: sweep,
			},
			{
				Name:   "worker",
				Usage:  "drain the outbox into cascades and notifications",
				Action: drain,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "loop", Usage: "keep polling instead of a single pass"},
				},
			},
			{
				Name:      "grant-admin",
				Usage:     "add a user to the admin principals",
				ArgsUsage: "<user-id>",
				Action:    grantAdmin,
			},
			{
				Name:   "rebuild-ban-index",
				Usage:  "recompute every active-ban pointer from the moderation ledger",
				Action: rebuildBanIndex,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type env struct {
	cfg  config.Config
	db   *sqlx.DB
	deps *handlers.Deps
	sink notify.Sink
}

// setup loads config, opens the store and wires the services.
func setup(cctx *cli.Context) (*env, error) {
	cfg := config.Load()
	if v := cctx.String("db"); v != "" {
		cfg.DBDSN = v
	}
	if v := cctx.String("redis"); v != "" {
		cfg.RedisURL = v
	}

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	var store cache.Store = cache.NewMemStore(cfg.CacheSize, cfg.CacheTTL)
	sinks := notify.Multi{notify.LogSink{}}
	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Printf("[warn] redis cache unavailable, using in-process cache: %v", err)
		} else {
			store = rs
		}
		stream, err := notify.NewRedisStreamSink(cfg.RedisURL, cfg.NotifyStream)
		if err != nil {
			log.Printf("[warn] redis notifications unavailable: %v", err)
		} else {
			sinks = append(sinks, stream)
		}
	}

	return &env{cfg: cfg, db: db, deps: handlers.NewDeps(db, cfg, store), sink: sinks}, nil
}

func serve(cctx *cli.Context) error {
	e, err := setup(cctx)
	if err != nil {
		return err
	}
	defer e.db.Close()
	port := e.cfg.Port
	if v := cctx.String("port"); v != "" {
		port = v
	}

	engine := html.New(e.cfg.TemplateDir, ".html")
	engine.Reload(true)

	app := fiber.New(fiber.Config{
		Views:        engine,
		ErrorHandler: handlers.ErrorHandler,
	})
	// Global body size guard
	app.Server().MaxRequestBodySize = 1 << 20 // 1 MiB

	// ---------- Middlewares ----------
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())
	app.Use(handlers.Authenticate(e.deps.Auth))
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			p := c.Path()
			return p == "/healthz" || p == "/metrics" || strings.HasPrefix(p, "/static/")
		},
	}))

	e.deps.Mount(app)
	app.Use(handlers.NotFound)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cctx.Bool("no-workers") && e.cfg.RunWorkers {
		w := worker.New(e.deps.Outbox, e.deps.Cascade, e.sink)
		go func() { _ = w.Run(ctx, e.cfg.WorkerInterval) }()
		go func() { _ = e.deps.Sweeper.Run(ctx, e.cfg.SweepInterval) }()
		log.Printf("[workers] outbox every %s, sweep every %s", e.cfg.WorkerInterval, e.cfg.SweepInterval)
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdown); err != nil {
			applog.Error(nil, "server.shutdown", err, nil)
		}
	}()

	return app.Listen(":" + port)
}

func sweep(cctx *cli.Context) error {
	e, err := setup(cctx)
	if err != nil {
		return err
	}
	defer e.db.Close()
	res, err := e.deps.Sweeper.RunOnce(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("listings: scanned=%d expired=%d bumped=%d skipped=%d failed=%d\n",
		res.Listings.Scanned, res.Listings.Expired, res.Listings.Bumped, res.Listings.Skipped, res.Listings.Failed)
	for _, b := range res.Lapsed {
		fmt.Printf("lapsed ban: user=%s action=%s expired=%s\n", b.UserID, b.ActionID, b.Expired().Format(time.RFC3339))
	}
	return nil
}

func drain(cctx *cli.Context) error {
	e, err := setup(cctx)
	if err != nil {
		return err
	}
	defer e.db.Close()
	w := worker.New(e.deps.Outbox, e.deps.Cascade, e.sink)
	if cctx.Bool("loop") {
		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return w.Run(ctx, e.cfg.WorkerInterval)
	}
	res, err := w.RunOnce(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("outbox: done=%d failed=%d\n", res.Done, res.Failed)
	return nil
}

func grantAdmin(cctx *cli.Context) error {
	userID := cctx.Args().First()
	if userID == "" {
		return cli.Exit("usage: tradepost grant-admin <user-id>", 2)
	}
	e, err := setup(cctx)
	if err != nil {
		return err
	}
	defer e.db.Close()
	if err := e.deps.Auth.GrantAdmin(cctx.Context, domain.SystemActor(), userID); err != nil {
		return err
	}
	fmt.Printf("%s is now an admin\n", userID)
	return nil
}

func rebuildBanIndex(cctx *cli.Context) error {
	e, err := setup(cctx)
	if err != nil {
		return err
	}
	defer e.db.Close()
	n, err := e.deps.Ledger.RebuildBanIndex(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("ban index: %d pointer(s) repaired\n", n)
	return nil
}
