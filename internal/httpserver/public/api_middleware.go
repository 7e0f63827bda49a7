package public

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_media_gateway/backend/internal/app"
	"github.com/ncecere/open_media_gateway/backend/internal/httpserver/httputil"
	"github.com/ncecere/open_media_gateway/backend/internal/requestctx"
)

const authBearerPrefix = "bearer "

// apiKeyAuth validates the Authorization bearer token and injects request metadata.
// Without configured keys every caller is admitted anonymously.
func apiKeyAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID, _ := c.Locals("requestid").(string)

		if !container.AuthEnabled() {
			return next(c, &requestctx.Context{Anonymous: true, RequestID: requestID})
		}

		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if raw == "" {
			return httputil.WriteErrorCode(c, fiber.StatusUnauthorized, "authorization header required", "missing_api_key")
		}
		if !strings.HasPrefix(strings.ToLower(raw), authBearerPrefix) {
			return httputil.WriteErrorCode(c, fiber.StatusUnauthorized, "bearer token required", "invalid_api_key")
		}

		rc, ok := container.Authenticate(raw[len(authBearerPrefix):])
		if !ok {
			return httputil.WriteErrorCode(c, fiber.StatusUnauthorized, "invalid api key", "invalid_api_key")
		}
		rc.RequestID = requestID
		return next(c, rc)
	}
}

func next(c *fiber.Ctx, rc *requestctx.Context) error {
	c.Locals(requestctx.FiberLocalsKey(), rc)
	c.SetUserContext(requestctx.WithContext(userContext(c), rc))
	return c.Next()
}

func userContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
