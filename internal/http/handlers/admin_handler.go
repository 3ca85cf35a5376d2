package handlers

import (
	"strconv"

	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/repos"
	"tradepost/internal/services"
	"tradepost/internal/validate"
	"tradepost/internal/worker"

	"github.com/gofiber/fiber/v2"
)

// UrgentFlagHours is the age after which a pending flag is shown as urgent.
const UrgentFlagHours = 24

type AdminHandler struct {
	Auth    *services.AuthService
	Flags   *services.FlagService
	Appeals *services.AppealService
	Ledger  *services.LedgerService
	Outbox  *repos.OutboxRepo
	Sweeper *worker.Sweeper
}

// GET /admin/queue
func (h *AdminHandler) Queue(c *fiber.Ctx) error {
	ctx := c.UserContext()
	pending, err := h.Flags.GetPending(ctx)
	if err != nil {
		return h.pageFail(c, "admin.queue", err)
	}
	urgent, err := h.Flags.GetUrgent(ctx, UrgentFlagHours)
	if err != nil {
		return h.pageFail(c, "admin.queue", err)
	}
	appeals, err := h.Appeals.ListOpen(ctx)
	if err != nil {
		return h.pageFail(c, "admin.queue", err)
	}
	backlog, err := h.Outbox.Backlog(ctx)
	if err != nil {
		applog.Warn(c, "admin.queue.backlog", err, nil)
	}
	urgentIDs := make(map[string]bool, len(urgent))
	for _, f := range urgent {
		urgentIDs[f.ID] = true
	}
	return render(c, "admin_queue", fiber.Map{
		"Flags":   pending,
		"Urgent":  urgentIDs,
		"Appeals": appeals,
		"Backlog": backlog,
	})
}

// POST /admin/queue/flags/:id
func (h *AdminHandler) ReviewFlag(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).SendString("invalid flag id")
	}
	f, err := h.Flags.Review(c.UserContext(), actorOf(c), id, domain.FlagStatus(c.FormValue("decision")), c.FormValue("notes"))
	if err != nil {
		return h.pageFail(c, "admin.flag.review", err)
	}
	applog.Audit(c, "admin.flag.review", map[string]any{"flag_id": f.ID, "decision": string(f.Status)})
	return c.Redirect("/admin/queue")
}

// POST /admin/queue/appeals/:id
func (h *AdminHandler) ResolveAppeal(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).SendString("invalid appeal id")
	}
	approve, err := strconv.ParseBool(c.FormValue("approve"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("approve must be true or false")
	}
	if _, err := h.Appeals.Resolve(c.UserContext(), actorOf(c), id, approve); err != nil {
		return h.pageFail(c, "admin.appeal.resolve", err)
	}
	return c.Redirect("/admin/queue")
}

func (h *AdminHandler) pageFail(c *fiber.Ctx, action string, err error) error {
	status := statusOf(err)
	c.Status(status)
	msg := "Could not complete the request"
	if status >= 500 {
		applog.Error(c, action+".fail", err, nil)
	} else {
		applog.Warn(c, action+".fail", err, nil)
		msg = err.Error()
	}
	return render(c, "notfound", fiber.Map{"Message": msg})
}

// POST /api/v1/admin/admins {"user_id": "..."}
func (h *AdminHandler) GrantAdmin(c *fiber.Ctx) error {
	var body struct {
		UserID string `json:"user_id" form:"user_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "admin.grant", "malformed body")
	}
	id, ok := validate.ID(body.UserID)
	if !ok {
		return badRequest(c, "admin.grant", "invalid user id")
	}
	if err := h.Auth.GrantAdmin(c.UserContext(), actorOf(c), id); err != nil {
		return fail(c, "admin.grant", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user_id": id, "admin": true})
}

// DELETE /api/v1/admin/admins/:id
func (h *AdminHandler) RevokeAdmin(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "admin.revoke", "invalid user id")
	}
	if id == actorOf(c).ID {
		return badRequest(c, "admin.revoke", "cannot revoke your own admin role")
	}
	if err := h.Auth.RevokeAdmin(c.UserContext(), actorOf(c), id); err != nil {
		return fail(c, "admin.revoke", err)
	}
	return c.JSON(fiber.Map{"user_id": id, "admin": false})
}

// POST /api/v1/admin/maintenance/sweep runs the expiry sweeps now.
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	res, err := h.Sweeper.RunOnce(c.UserContext())
	if err != nil {
		return fail(c, "admin.sweep", err)
	}
	applog.Audit(c, "admin.sweep", map[string]any{"expired": res.Listings.Expired, "bumped": res.Listings.Bumped, "lapsed_bans": len(res.Lapsed)})
	lapsed := make([]fiber.Map, 0, len(res.Lapsed))
	for _, b := range res.Lapsed {
		lapsed = append(lapsed, fiber.Map{"user_id": b.UserID, "action_id": b.ActionID, "expired_at": b.Expired()})
	}
	return c.JSON(fiber.Map{"listings": res.Listings, "lapsed_bans": lapsed})
}

// POST /api/v1/admin/maintenance/ban-index
func (h *AdminHandler) RebuildBanIndex(c *fiber.Ctx) error {
	n, err := h.Ledger.RebuildBanIndex(c.UserContext())
	if err != nil {
		return fail(c, "admin.ban_index", err)
	}
	applog.Audit(c, "admin.ban_index", map[string]any{"repaired": n})
	return c.JSON(fiber.Map{"repaired": n})
}

// GET /api/v1/admin/outbox
func (h *AdminHandler) Backlog(c *fiber.Ctx) error {
	n, err := h.Outbox.Backlog(c.UserContext())
	if err != nil {
		applog.Error(c, "admin.outbox.fail", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": string(services.KindInternal)})
	}
	return c.JSON(fiber.Map{"backlog": n})
}
