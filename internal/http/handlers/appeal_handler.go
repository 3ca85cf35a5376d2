package handlers

import (
	applog "tradepost/internal/log"
	"tradepost/internal/services"
	"tradepost/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type AppealHandler struct {
	Appeals *services.AppealService
}

// POST /api/v1/appeals {"action_id": "...", "text": "..."}
func (h *AppealHandler) Submit(c *fiber.Ctx) error {
	var body struct {
		ActionID string `json:"action_id" form:"action_id"`
		Text     string `json:"text" form:"text"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "appeal.submit", "malformed body")
	}
	a, err := h.Appeals.Submit(c.UserContext(), actorOf(c), body.ActionID, body.Text)
	if err != nil {
		return fail(c, "appeal.submit", err)
	}
	applog.Audit(c, "appeal.submit", map[string]any{"appeal_id": a.ID, "action_id": a.ModerationActionID})
	return c.Status(fiber.StatusCreated).JSON(a)
}

// GET /api/v1/me/appeals
func (h *AppealHandler) Mine(c *fiber.Ctx) error {
	out, err := h.Appeals.ForUser(c.UserContext(), actorOf(c).ID)
	if err != nil {
		return fail(c, "appeal.mine", err)
	}
	return c.JSON(fiber.Map{"appeals": nonNil(out)})
}

// GET /api/v1/admin/appeals
func (h *AppealHandler) Open(c *fiber.Ctx) error {
	out, err := h.Appeals.ListOpen(c.UserContext())
	if err != nil {
		return fail(c, "appeal.open", err)
	}
	return c.JSON(fiber.Map{"appeals": nonNil(out)})
}

// POST /api/v1/admin/appeals/:id/resolve {"approve": true}
func (h *AppealHandler) Resolve(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "appeal.resolve", "invalid appeal id")
	}
	var body struct {
		Approve bool `json:"approve" form:"approve"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "appeal.resolve", "malformed body")
	}
	a, err := h.Appeals.Resolve(c.UserContext(), actorOf(c), id, body.Approve)
	if err != nil {
		return fail(c, "appeal.resolve", err)
	}
	return c.JSON(a)
}
