package handlers

import (
	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/services"

	"github.com/gofiber/fiber/v2"
)

const actorKey = "actor"

// Authenticate resolves the session cookie to an Actor for every request.
// Anonymous callers get the zero Actor.
func Authenticate(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var actor domain.Actor
		if sid := c.Cookies("sid"); sid != "" {
			a, err := auth.Actor(c.UserContext(), sid)
			if err != nil {
				applog.Error(c, "auth.session.lookup", err, nil)
			} else {
				actor = a
			}
		}
		c.Locals(actorKey, actor)
		if actor.ID != "" {
			c.Locals(applog.ActorLocal, actor.ID)
		}
		return c.Next()
	}
}

func actorOf(c *fiber.Ctx) domain.Actor {
	a, _ := c.Locals(actorKey).(domain.Actor)
	return a
}

// RequireUser rejects anonymous callers: 401 on the API, a redirect to the
// login form on pages.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if actorOf(c).ID == "" {
			return unauthenticated(c)
		}
		return c.Next()
	}
}

// RequireAdmin lets through callers listed in the admins table.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		a := actorOf(c)
		if a.ID == "" {
			return unauthenticated(c)
		}
		if !a.IsAdmin {
			applog.Security(c, "access.denied.admin", map[string]any{"user_id": a.ID})
			if isAPI(c) {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": string(services.KindUnauthorized), "message": "admin role required"})
			}
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Access denied"})
		}
		return c.Next()
	}
}

func unauthenticated(c *fiber.Ctx) error {
	if isAPI(c) {
		applog.Security(c, "access.denied.anonymous", nil)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
	}
	return c.Redirect("/login")
}
