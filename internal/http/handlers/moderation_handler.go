package handlers

import (
	applog "tradepost/internal/log"
	"tradepost/internal/services"
	"tradepost/internal/validate"

	"github.com/gofiber/fiber/v2"
)

// ModerationHandler exposes the moderation ledger to admins, and a user's
// own standing to that user.
type ModerationHandler struct {
	Ledger    *services.LedgerService
	Lifecycle *services.LifecycleService
	Appeals   *services.AppealService
	Cascade   *services.CascadeService
}

type actionBody struct {
	Reason    string `json:"reason" form:"reason"`
	Days      int    `json:"days" form:"days"`
	ListingID string `json:"listing_id" form:"listing_id"`
}

func (h *ModerationHandler) target(c *fiber.Ctx, body *actionBody) (string, bool) {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return "", false
	}
	if err := c.BodyParser(body); err != nil {
		return "", false
	}
	return id, true
}

// POST /api/v1/admin/users/:id/ban {"reason": "...", "days": 7}
// days <= 0 bans permanently.
func (h *ModerationHandler) Ban(c *fiber.Ctx) error {
	var body actionBody
	id, ok := h.target(c, &body)
	if !ok {
		return badRequest(c, "moderation.ban", "invalid user id or body")
	}
	a, err := h.Ledger.Ban(c.UserContext(), actorOf(c), id, body.Reason, body.Days)
	if err != nil {
		return fail(c, "moderation.ban", err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

// POST /api/v1/admin/users/:id/unban {"reason": "..."}
func (h *ModerationHandler) Unban(c *fiber.Ctx) error {
	var body actionBody
	id, ok := h.target(c, &body)
	if !ok {
		return badRequest(c, "moderation.unban", "invalid user id or body")
	}
	a, err := h.Ledger.Unban(c.UserContext(), actorOf(c), id, body.Reason)
	if err != nil {
		return fail(c, "moderation.unban", err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

// POST /api/v1/admin/users/:id/warn {"reason": "...", "listing_id": "..."}
func (h *ModerationHandler) Warn(c *fiber.Ctx) error {
	var body actionBody
	id, ok := h.target(c, &body)
	if !ok {
		return badRequest(c, "moderation.warn", "invalid user id or body")
	}
	a, err := h.Ledger.Warn(c.UserContext(), actorOf(c), id, body.Reason, body.ListingID)
	if err != nil {
		return fail(c, "moderation.warn", err)
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

// POST /api/v1/admin/listings/:id/remove {"reason": "..."}
// Records a content removal against the owner and takes the listing down:
// active listings are hidden, drafts and expired listings archived.
func (h *ModerationHandler) RemoveContent(c *fiber.Ctx) error {
	var body actionBody
	id, ok := h.target(c, &body)
	if !ok {
		return badRequest(c, "moderation.remove", "invalid listing id or body")
	}
	a, l, err := h.Cascade.RemoveContent(c.UserContext(), actorOf(c), id, body.Reason)
	if err != nil {
		return fail(c, "moderation.remove", err)
	}
	applog.Audit(c, "moderation.remove", map[string]any{"listing_id": id, "action_id": a.ID, "status": string(l.Status)})
	return c.Status(fiber.StatusCreated).JSON(a)
}

// POST /api/v1/admin/listings/:id/hide {"reason": "..."}
func (h *ModerationHandler) Hide(c *fiber.Ctx) error {
	var body actionBody
	id, ok := h.target(c, &body)
	if !ok {
		return badRequest(c, "listing.hide", "invalid listing id or body")
	}
	l, err := h.Lifecycle.Hide(c.UserContext(), actorOf(c), id, body.Reason)
	if err != nil {
		return fail(c, "listing.hide", err)
	}
	applog.Audit(c, "listing.hide", map[string]any{"listing_id": id, "reason": body.Reason})
	return c.JSON(l)
}

// POST /api/v1/admin/listings/:id/reactivate
func (h *ModerationHandler) Reactivate(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "listing.reactivate", "invalid listing id")
	}
	l, err := h.Lifecycle.Reactivate(c.UserContext(), actorOf(c), id)
	if err != nil {
		return fail(c, "listing.reactivate", err)
	}
	applog.Audit(c, "listing.reactivate", map[string]any{"listing_id": id})
	return c.JSON(l)
}

// GET /api/v1/admin/users/:id/moderation
func (h *ModerationHandler) UserRecord(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "moderation.record", "invalid user id")
	}
	ctx := c.UserContext()
	hist, err := h.Ledger.History(ctx, id)
	if err != nil {
		return fail(c, "moderation.record", err)
	}
	ban, err := h.Ledger.GetActiveBan(ctx, id)
	if err != nil {
		return fail(c, "moderation.record", err)
	}
	next, n, err := h.Ledger.SuggestFor(ctx, id)
	if err != nil {
		return fail(c, "moderation.record", err)
	}
	return c.JSON(fiber.Map{
		"user_id":    id,
		"history":    nonNil(hist),
		"active_ban": ban,
		"violations": n,
		"suggestion": next,
	})
}

// GET /api/v1/me/standing
func (h *ModerationHandler) Standing(c *fiber.Ctx) error {
	ctx := c.UserContext()
	me := actorOf(c)
	ban, err := h.Ledger.GetActiveBan(ctx, me.ID)
	if err != nil {
		return fail(c, "moderation.standing", err)
	}
	hist, err := h.Ledger.History(ctx, me.ID)
	if err != nil {
		return fail(c, "moderation.standing", err)
	}
	out := fiber.Map{"user_id": me.ID, "active_ban": ban, "history": nonNil(hist)}
	if ban != nil {
		out["can_appeal"] = h.Appeals.CanAppeal(*ban)
	}
	return c.JSON(out)
}
