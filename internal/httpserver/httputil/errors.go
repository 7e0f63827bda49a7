package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// WriteError standardizes JSON error responses for the public API.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	return WriteErrorCode(c, status, msg, "")
}

// WriteErrorCode is WriteError with a machine readable code.
func WriteErrorCode(c *fiber.Ctx, status int, msg, code string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	body := fiber.Map{"message": msg, "type": errorType(status)}
	if code != "" {
		body["code"] = code
	}
	return c.Status(status).JSON(fiber.Map{
		"error": body,
	})
}

func errorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 500:
		return "server_error"
	}
	return "invalid_request_error"
}
