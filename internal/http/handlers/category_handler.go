package handlers

import (
	"tradepost/internal/repos"

	"github.com/gofiber/fiber/v2"
)

type CategoryHandler struct {
	Categories *repos.CategoryRepo
}

// GET /api/v1/categories
func (h *CategoryHandler) List(c *fiber.Ctx) error {
	cats, err := h.Categories.List(c.UserContext())
	if err != nil {
		return fail(c, "category.list", err)
	}
	return c.JSON(fiber.Map{"categories": nonNil(cats)})
}
