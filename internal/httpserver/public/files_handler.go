package public

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_media_gateway/backend/internal/app"
	"github.com/ncecere/open_media_gateway/backend/internal/httpserver/httputil"
	"github.com/ncecere/open_media_gateway/backend/internal/storage/blob"
)

type filesHandler struct {
	container *app.Container
}

// download streams a persisted media output.
func (h *filesHandler) download(c *fiber.Ctx) error {
	if h.container.Media == nil {
		return httputil.WriteError(c, fiber.StatusNotFound, "file storage is not configured")
	}
	id := c.Params("id")
	reader, file, err := h.container.Media.Open(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return httputil.WriteErrorCode(c, fiber.StatusNotFound, "file not found", "file_not_found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to open file")
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+file.ID+`"`)
	if !file.ExpiresAt.IsZero() {
		c.Set("X-File-Expires-At", strconv.FormatInt(file.ExpiresAt.Unix(), 10))
	}
	size := -1
	if file.Bytes > 0 {
		size = int(file.Bytes)
	}
	// fasthttp closes the reader once the body is written
	return c.SendStream(reader, size)
}
