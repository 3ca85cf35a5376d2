package handlers

import (
	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/services"
	"tradepost/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type FlagHandler struct {
	Flags *services.FlagService
}

// POST /api/v1/listings/:id/flags
func (h *FlagHandler) File(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "flag.file", "invalid listing id")
	}
	var body struct {
		Reason      domain.FlagReason `json:"reason" form:"reason"`
		Description string            `json:"description" form:"description"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "flag.file", "malformed body")
	}
	f, err := h.Flags.File(c.UserContext(), actorOf(c), id, body.Reason, body.Description)
	if err != nil {
		return fail(c, "flag.file", err)
	}
	applog.Audit(c, "flag.file", map[string]any{"flag_id": f.ID, "listing_id": id, "reason": string(f.Reason)})
	return c.Status(fiber.StatusCreated).JSON(f)
}

// GET /api/v1/admin/flags?urgent_hours=
// Without urgent_hours the whole pending queue is returned, oldest first.
func (h *FlagHandler) Queue(c *fiber.Ctx) error {
	var (
		out []domain.Flag
		err error
	)
	if hours := c.QueryInt("urgent_hours", 0); hours > 0 {
		out, err = h.Flags.GetUrgent(c.UserContext(), hours)
	} else {
		out, err = h.Flags.GetPending(c.UserContext())
	}
	if err != nil {
		return fail(c, "flag.queue", err)
	}
	return c.JSON(fiber.Map{"flags": nonNil(out)})
}

// GET /api/v1/admin/listings/:id/flags
func (h *FlagHandler) ForListing(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "flag.listing", "invalid listing id")
	}
	out, err := h.Flags.ForListing(c.UserContext(), id)
	if err != nil {
		return fail(c, "flag.listing", err)
	}
	return c.JSON(fiber.Map{"flags": nonNil(out)})
}

// POST /api/v1/admin/flags/:id/review {"decision": "upheld"|"dismissed", "notes": "..."}
func (h *FlagHandler) Review(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "flag.review", "invalid flag id")
	}
	var body struct {
		Decision domain.FlagStatus `json:"decision" form:"decision"`
		Notes    string            `json:"notes" form:"notes"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "flag.review", "malformed body")
	}
	f, err := h.Flags.Review(c.UserContext(), actorOf(c), id, body.Decision, body.Notes)
	if err != nil {
		return fail(c, "flag.review", err)
	}
	applog.Audit(c, "flag.review", map[string]any{"flag_id": f.ID, "decision": string(f.Status)})
	return c.JSON(f)
}
