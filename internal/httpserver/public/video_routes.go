package public

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_media_gateway/backend/internal/httpserver/httputil"
	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

type videoGenerationRequest struct {
	Model           string         `json:"model"`
	Prompt          string         `json:"prompt"`
	N               int            `json:"n,omitempty"`
	Size            string         `json:"size,omitempty"`
	AspectRatio     string         `json:"aspect_ratio,omitempty"`
	Resolution      string         `json:"resolution,omitempty"`
	Duration        *float64       `json:"duration,omitempty"`
	FPS             *int           `json:"fps,omitempty"`
	Seed            *int64         `json:"seed,omitempty"`
	Image           string         `json:"image,omitempty"`
	Images          []string       `json:"images,omitempty"`
	ResponseFormat  string         `json:"response_format,omitempty"`
	ProviderOptions map[string]any `json:"provider_options,omitempty"`
}

type videoData struct {
	URL         string `json:"url,omitempty"`
	B64JSON     string `json:"b64_json,omitempty"`
	FileID      string `json:"file_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type videoResponse struct {
	Object   string           `json:"object"`
	Created  int64            `json:"created"`
	Model    string           `json:"model"`
	Data     []videoData      `json:"data"`
	Warnings []models.Warning `json:"warnings,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

func (h *openAIHandler) videoGenerations(c *fiber.Ctx) error {
	var req videoGenerationRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Model = strings.TrimSpace(req.Model)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Model == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "model is required")
	}
	rawRefs := req.Images
	if ref := strings.TrimSpace(req.Image); ref != "" {
		rawRefs = append([]string{ref}, rawRefs...)
	}
	if req.Prompt == "" && len(rawRefs) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "prompt or image is required")
	}
	if req.N < 0 || req.N > maxImageCount {
		return httputil.WriteError(c, fiber.StatusBadRequest, "n must be between 1 and 10")
	}
	if req.Duration != nil && *req.Duration <= 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "duration must be positive")
	}
	format, err := parseResponseFormat(req.ResponseFormat)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}
	refs, err := parseReferences(rawRefs)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}

	idem, handled, err := h.beginIdempotent(c)
	if handled {
		return err
	}
	defer idem.finish(c.UserContext())

	resp, err := h.executor.GenerateVideo(c.UserContext(), req.Model, models.VideoRequest{
		Prompt:          req.Prompt,
		N:               req.N,
		Size:            strings.TrimSpace(req.Size),
		AspectRatio:     strings.TrimSpace(req.AspectRatio),
		Resolution:      strings.TrimSpace(req.Resolution),
		DurationSeconds: req.Duration,
		FPS:             req.FPS,
		Seed:            req.Seed,
		Images:          refs,
		ResponseFormat:  format,
		ExtraOptions:    req.ProviderOptions,
	})
	if err != nil {
		return writeExecutorError(c, err)
	}
	return writeJSON(c, idem, convertVideoResponse(resp, req.Model))
}

func convertVideoResponse(resp *models.VideoResponse, alias string) videoResponse {
	data := make([]videoData, 0, len(resp.Data))
	for _, item := range resp.Data {
		out := videoData{URL: item.URL, FileID: item.FileID, ContentType: item.ContentType}
		if len(item.Data) > 0 {
			out.B64JSON = base64.StdEncoding.EncodeToString(item.Data)
		}
		data = append(data, out)
	}
	created := resp.Created.Unix()
	if created < 0 {
		created = 0
	}
	return videoResponse{
		Object:   "video.generation",
		Created:  created,
		Model:    alias,
		Data:     data,
		Warnings: resp.Warnings,
		Metadata: resp.Metadata,
	}
}
