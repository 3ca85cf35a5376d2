package handlers

import (
	"errors"
	"strings"

	applog "tradepost/internal/log"
	"tradepost/internal/services"

	"github.com/gofiber/fiber/v2"
)

// statusOf maps a core error to its HTTP status.
func statusOf(err error) int {
	switch services.KindOf(err) {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindInvalidTransition, services.KindConflict:
		return fiber.StatusConflict
	case services.KindUnauthorized:
		return fiber.StatusForbidden
	case services.KindNotFound:
		return fiber.StatusNotFound
	}
	var e *services.Error
	if errors.As(err, &e) && e.Retryable {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// fail logs err under action and writes the JSON error body.
func fail(c *fiber.Ctx, action string, err error) error {
	status := statusOf(err)
	c.Status(status)

	kind := services.KindOf(err)
	body := fiber.Map{"error": string(kind)}
	var e *services.Error
	if errors.As(err, &e) {
		if e.Reason != "" {
			body["reason"] = e.Reason
		}
		if e.Msg != "" {
			body["message"] = e.Msg
		}
		if e.Retryable {
			body["retryable"] = true
		}
	}
	fields := map[string]any{"kind": string(kind)}
	if r, ok := body["reason"]; ok {
		fields["reason"] = r
	}

	switch {
	case status >= 500:
		// never leak store details
		body["message"] = "something went wrong, please retry"
		applog.Error(c, action+".fail", err, fields)
	case status == fiber.StatusForbidden:
		applog.Security(c, action+".denied", fields)
	default:
		applog.Warn(c, action+".fail", err, fields)
	}
	return c.JSON(body)
}

func badRequest(c *fiber.Ctx, action, msg string) error {
	applog.Warn(c, action+".fail", nil, map[string]any{"kind": "validation", "message": msg})
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": string(services.KindValidation), "message": msg})
}

func isAPI(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Path(), "/api/")
}

// ErrorHandler renders errors that escaped the handlers. Internal details
// never reach the client.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	c.Status(code)
	msg := "Something went wrong. Please try again."
	if code < 500 {
		applog.Warn(c, "server.error", err, nil)
		msg = "The request could not be handled."
	} else {
		applog.Error(c, "server.error", err, nil)
	}
	if isAPI(c) {
		return c.JSON(fiber.Map{"error": msg})
	}
	if rerr := c.Render("notfound", fiber.Map{"Message": msg}); rerr != nil {
		return c.SendString(msg)
	}
	return nil
}
