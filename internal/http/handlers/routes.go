package handlers

import (
	"time"

	applog "tradepost/internal/log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mount registers every route on app. Authenticate must already be in the
// middleware chain.
func (d *Deps) Mount(app *fiber.App) {
	// Form pages carry a CSRF token; the JSON API relies on the Lax session cookie.
	pageCSRF := csrf.New(csrf.Config{
		KeyLookup:      "form:csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		CookieSecure:   false, // set true behind HTTPS
		ContextKey:     "csrf",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Security(c, "csrf.fail", map[string]any{"form": c.FormValue("csrf")})
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Security check failed. Please refresh and try again."})
		},
	})
	exposeToken := func(c *fiber.Ctx) error {
		if tok, ok := c.Locals("csrf").(string); ok {
			c.Locals("CSRFToken", tok)
		}
		return c.Next()
	}

	app.Get("/", func(c *fiber.Ctx) error { return c.Redirect("/api/v1/listings") })
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Auth routes (login throttled)
	app.Get("/login", pageCSRF, exposeToken, d.AuthHandler.LoginForm)
	app.Post("/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: 10 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).Render("login", fiber.Map{"Err": "Too many attempts. Please try again later."})
		},
	}), pageCSRF, d.AuthHandler.Login)
	app.Post("/logout", pageCSRF, d.AuthHandler.Logout)

	// Admin moderation queue
	page := app.Group("/admin", RequireAdmin(), pageCSRF, exposeToken)
	page.Get("/queue", d.AdminHandler.Queue)
	page.Post("/queue/flags/:id", d.AdminHandler.ReviewFlag)
	page.Post("/queue/appeals/:id", d.AdminHandler.ResolveAppeal)

	api := app.Group("/api/v1")
	user := RequireUser()
	searchLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|search"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.search.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon"})
		},
	})

	api.Get("/categories", d.CategoryHandler.List)
	api.Get("/listings", searchLimiter, d.ListingHandler.Search)
	api.Get("/listings/:id", d.ListingHandler.Detail)
	api.Post("/listings", user, d.ListingHandler.Create)
	api.Post("/listings/:id/publish", user, d.ListingHandler.Publish)
	api.Post("/listings/:id/bump", user, d.ListingHandler.Bump)
	api.Post("/listings/:id/sold", user, d.ListingHandler.MarkSold)
	api.Post("/listings/:id/archive", user, d.ListingHandler.Archive)
	api.Post("/listings/:id/status", user, d.ListingHandler.Transition)
	api.Post("/listings/:id/flags", user, d.FlagHandler.File)
	api.Post("/appeals", user, d.AppealHandler.Submit)

	me := api.Group("/me", user)
	me.Get("/listings", d.ListingHandler.Mine)
	me.Get("/appeals", d.AppealHandler.Mine)
	me.Get("/standing", d.ModerationHandler.Standing)

	admin := api.Group("/admin", RequireAdmin())
	admin.Get("/flags", d.FlagHandler.Queue)
	admin.Post("/flags/:id/review", d.FlagHandler.Review)
	admin.Get("/listings/:id/flags", d.FlagHandler.ForListing)
	admin.Post("/listings/:id/hide", d.ModerationHandler.Hide)
	admin.Post("/listings/:id/reactivate", d.ModerationHandler.Reactivate)
	admin.Post("/listings/:id/remove", d.ModerationHandler.RemoveContent)
	admin.Post("/users/:id/ban", d.ModerationHandler.Ban)
	admin.Post("/users/:id/unban", d.ModerationHandler.Unban)
	admin.Post("/users/:id/warn", d.ModerationHandler.Warn)
	admin.Get("/users/:id/moderation", d.ModerationHandler.UserRecord)
	admin.Get("/appeals", d.AppealHandler.Open)
	admin.Post("/appeals/:id/resolve", d.AppealHandler.Resolve)
	admin.Post("/admins", d.AdminHandler.GrantAdmin)
	admin.Delete("/admins/:id", d.AdminHandler.RevokeAdmin)
	admin.Post("/maintenance/sweep", d.AdminHandler.Sweep)
	admin.Post("/maintenance/ban-index", d.AdminHandler.RebuildBanIndex)
	admin.Get("/outbox", d.AdminHandler.Backlog)
}

// NotFound is the catch-all registered after Mount.
func NotFound(c *fiber.Ctx) error {
	if isAPI(c) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	return c.Status(fiber.StatusNotFound).Render("notfound", fiber.Map{"Message": "Page not found"})
}
