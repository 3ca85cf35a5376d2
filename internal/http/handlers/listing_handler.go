package handlers

import (
	"context"

	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/services"
	"tradepost/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type ListingHandler struct {
	Lifecycle *services.LifecycleService
}

// GET /api/v1/listings?q=&category=&page=
func (h *ListingHandler) Search(c *fiber.Ctx) error {
	q := c.Query("q")
	if q != "" {
		var ok bool
		if q, ok = validate.Q(q); !ok {
			applog.Security(c, "listing.search.bad_query", map[string]any{"q": c.Query("q")})
			return badRequest(c, "listing.search", "invalid search query")
		}
	}
	cat := c.Query("category")
	if cat != "" {
		if _, ok := validate.ID(cat); !ok {
			return badRequest(c, "listing.search", "invalid category")
		}
	}
	page := c.QueryInt("page", 1)
	if page < 1 || page > 500 {
		return badRequest(c, "listing.search", "page out of range")
	}

	out, err := h.Lifecycle.Search(c.UserContext(), q, cat, page)
	if err != nil {
		return fail(c, "listing.search", err)
	}
	return c.JSON(fiber.Map{"page": page, "listings": nonNil(out)})
}

// GET /api/v1/listings/:id
// Only active listings are public; owners and admins see every status.
func (h *ListingHandler) Detail(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "listing.detail", "invalid listing id")
	}
	l, err := h.Lifecycle.Detail(c.UserContext(), id)
	if err != nil {
		return fail(c, "listing.detail", err)
	}
	a := actorOf(c)
	if l.Status != domain.ListingActive && a.ID != l.OwnerID && !a.IsAdmin {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": string(services.KindNotFound)})
	}
	return c.JSON(l)
}

// POST /api/v1/listings
func (h *ListingHandler) Create(c *fiber.Ctx) error {
	var in domain.ListingInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "listing.create", "malformed body")
	}
	l, err := h.Lifecycle.Create(c.UserContext(), actorOf(c), in)
	if err != nil {
		return fail(c, "listing.create", err)
	}
	applog.Audit(c, "listing.create", map[string]any{"listing_id": l.ID, "category": l.CategoryID})
	return c.Status(fiber.StatusCreated).JSON(l)
}

// GET /api/v1/me/listings?status=
func (h *ListingHandler) Mine(c *fiber.Ctx) error {
	status := domain.ListingStatus(c.Query("status"))
	out, err := h.Lifecycle.ListByOwner(c.UserContext(), actorOf(c).ID, status)
	if err != nil {
		return fail(c, "listing.mine", err)
	}
	return c.JSON(fiber.Map{"listings": nonNil(out)})
}

type listingOp func(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error)

func (h *ListingHandler) apply(c *fiber.Ctx, action string, op listingOp) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, action, "invalid listing id")
	}
	l, err := op(c.UserContext(), actorOf(c), id)
	if err != nil {
		return fail(c, action, err)
	}
	applog.Audit(c, action, map[string]any{"listing_id": l.ID, "status": string(l.Status)})
	return c.JSON(l)
}

// POST /api/v1/listings/:id/publish
func (h *ListingHandler) Publish(c *fiber.Ctx) error {
	return h.apply(c, "listing.publish", h.Lifecycle.Publish)
}

// POST /api/v1/listings/:id/bump
func (h *ListingHandler) Bump(c *fiber.Ctx) error {
	return h.apply(c, "listing.bump", h.Lifecycle.Bump)
}

// POST /api/v1/listings/:id/sold
func (h *ListingHandler) MarkSold(c *fiber.Ctx) error {
	return h.apply(c, "listing.sold", h.Lifecycle.MarkSold)
}

// POST /api/v1/listings/:id/archive
func (h *ListingHandler) Archive(c *fiber.Ctx) error {
	return h.apply(c, "listing.archive", h.Lifecycle.Archive)
}

// POST /api/v1/listings/:id/status {"status": "..."}
func (h *ListingHandler) Transition(c *fiber.Ctx) error {
	var body struct {
		Status domain.ListingStatus `json:"status" form:"status"`
	}
	if err := c.BodyParser(&body); err != nil || !body.Status.Valid() {
		return badRequest(c, "listing.transition", "unknown status")
	}
	return h.apply(c, "listing.transition", func(ctx context.Context, actor domain.Actor, id string) (domain.Listing, error) {
		return h.Lifecycle.Transition(ctx, actor, id, body.Status)
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
