package public

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_media_gateway/backend/internal/cache"
	"github.com/ncecere/open_media_gateway/backend/internal/httpserver/httputil"
	"github.com/ncecere/open_media_gateway/backend/internal/requestctx"
)

const idempotencyHeader = "Idempotency-Key"

// idempotentRequest tracks one claimed Idempotency-Key. The zero value is a
// request without a key.
type idempotentRequest struct {
	cache  *cache.IdempotencyCache
	key    string
	stored bool
}

// beginIdempotent replays a stored response or claims the key. handled is true
// when a response was already written.
func (h *openAIHandler) beginIdempotent(c *fiber.Ctx) (req *idempotentRequest, handled bool, err error) {
	req = &idempotentRequest{cache: h.container.Idempotency}
	raw := strings.TrimSpace(c.Get(idempotencyHeader))
	if raw == "" || req.cache == nil {
		return req, false, nil
	}
	ctx := c.UserContext()
	owner := "anonymous"
	if rc, ok := requestctx.FromContext(ctx); ok && rc != nil && rc.KeyID != "" {
		owner = rc.KeyID
	}
	key := owner + ":" + c.Path() + ":" + raw

	if entry, ok := req.cache.Get(ctx, key); ok {
		for k, v := range entry.Headers {
			c.Set(k, v)
		}
		c.Set("Idempotent-Replayed", "true")
		c.Set(fiber.HeaderContentType, entry.ContentType)
		return req, true, c.Status(entry.Status).Send(entry.Body)
	}

	if err := req.cache.Claim(ctx, key); err != nil {
		if errors.Is(err, cache.ErrInFlight) {
			return req, true, httputil.WriteErrorCode(c, fiber.StatusConflict, "a request with this Idempotency-Key is still running", "idempotency_in_flight")
		}
		slog.Warn("idempotency claim failed", slog.String("error", err.Error()))
		return req, false, nil
	}
	req.key = key
	return req, false, nil
}

func (r *idempotentRequest) store(ctx context.Context, entry cache.Entry) {
	if r == nil || r.key == "" {
		return
	}
	r.cache.Set(context.WithoutCancel(ctx), r.key, entry)
	r.stored = true
}

// finish drops the claim when no response was stored so the caller can retry.
func (r *idempotentRequest) finish(ctx context.Context) {
	if r == nil || r.key == "" || r.stored {
		return
	}
	r.cache.Release(context.WithoutCancel(ctx), r.key)
}
