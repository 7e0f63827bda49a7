package public

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_media_gateway/backend/internal/cache"
	"github.com/ncecere/open_media_gateway/backend/internal/httpserver/httputil"
	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

func (h *openAIHandler) audioTranscriptions(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "multipart form required")
	}
	modelID := strings.TrimSpace(c.FormValue("model"))
	if modelID == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "model is required")
	}

	input := models.AudioInput{URL: strings.TrimSpace(c.FormValue("url"))}
	if fileHeaders := form.File["file"]; len(fileHeaders) > 0 {
		fh := fileHeaders[0]
		if limit := h.maxUploadBytes(); limit > 0 && fh.Size > limit {
			return httputil.WriteError(c, fiber.StatusRequestEntityTooLarge, "audio file exceeds the upload limit")
		}
		src, err := fh.Open()
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "failed to open file")
		}
		defer src.Close()
		input = models.AudioInput{
			Reader:      src,
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Bytes:       fh.Size,
		}
	}
	if input.Reader == nil && input.URL == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "file or url is required")
	}

	var temperature *float32
	if val := strings.TrimSpace(c.FormValue("temperature")); val != "" {
		parsed, err := strconv.ParseFloat(val, 32)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "temperature must be a number")
		}
		tmp := float32(parsed)
		temperature = &tmp
	}
	format := strings.ToLower(strings.TrimSpace(c.FormValue("response_format")))
	switch format {
	case "", "json", "text", "verbose_json":
	default:
		return httputil.WriteError(c, fiber.StatusBadRequest, "response_format must be one of json, text, verbose_json")
	}
	extra, err := parseProviderOptions(c.FormValue("provider_options"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}

	idem, handled, err := h.beginIdempotent(c)
	if handled {
		return err
	}
	defer idem.finish(c.UserContext())

	resp, err := h.executor.Transcribe(c.UserContext(), modelID, models.AudioTranscriptionRequest{
		Input:        input,
		Prompt:       c.FormValue("prompt"),
		Temperature:  temperature,
		Language:     strings.TrimSpace(c.FormValue("language")),
		ExtraOptions: extra,
	})
	if err != nil {
		return writeExecutorError(c, err)
	}

	switch format {
	case "text":
		idem.store(c.UserContext(), cache.Entry{Status: fiber.StatusOK, ContentType: fiber.MIMETextPlainCharsetUTF8, Body: []byte(resp.Text)})
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(resp.Text)
	case "verbose_json":
		return writeJSON(c, idem, fiber.Map{
			"task":     "transcribe",
			"text":     resp.Text,
			"language": resp.Language,
			"duration": resp.Duration,
			"segments": resp.Segments,
			"warnings": resp.Warnings,
			"metadata": resp.Metadata,
		})
	}
	return writeJSON(c, idem, fiber.Map{"text": resp.Text})
}

func (h *openAIHandler) maxUploadBytes() int64 {
	if h.container.Config == nil {
		return 0
	}
	return int64(h.container.Config.Audio.MaxUploadMB) << 20
}

type audioSpeechRequest struct {
	Model           string         `json:"model"`
	Input           string         `json:"input"`
	Voice           string         `json:"voice"`
	Format          string         `json:"format"`
	ResponseFormat  string         `json:"response_format"`
	Speed           *float64       `json:"speed"`
	Stream          bool           `json:"stream"`
	ProviderOptions map[string]any `json:"provider_options"`
}

func (h *openAIHandler) audioSpeech(c *fiber.Ctx) error {
	var payload audioSpeechRequest
	if err := c.BodyParser(&payload); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	model := strings.TrimSpace(payload.Model)
	if model == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "model is required")
	}
	input := strings.TrimSpace(payload.Input)
	if input == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "input is required")
	}
	if payload.Stream {
		return httputil.WriteError(c, fiber.StatusNotImplemented, "stream=true is not supported for speech")
	}
	if payload.Speed != nil && (*payload.Speed < 0.25 || *payload.Speed > 4) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "speed must be between 0.25 and 4")
	}
	format := strings.TrimSpace(payload.Format)
	if format == "" {
		format = strings.TrimSpace(payload.ResponseFormat)
	}
	format = resolveSpeechFormat(format)

	idem, handled, err := h.beginIdempotent(c)
	if handled {
		return err
	}
	defer idem.finish(c.UserContext())

	resp, err := h.executor.Synthesize(c.UserContext(), model, models.AudioSpeechRequest{
		Input:        input,
		Voice:        strings.TrimSpace(payload.Voice),
		Format:       format,
		Speed:        payload.Speed,
		ExtraOptions: payload.ProviderOptions,
	})
	if err != nil {
		return writeExecutorError(c, err)
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = audioContentType(format)
	}
	headers := speechHeaders(resp)
	idem.store(c.UserContext(), cache.Entry{
		Status:      fiber.StatusOK,
		ContentType: contentType,
		Headers:     headers,
		Body:        resp.Audio,
	})
	for k, v := range headers {
		c.Set(k, v)
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentLength, strconv.Itoa(len(resp.Audio)))
	return c.Send(resp.Audio)
}

// speechHeaders surfaces job details next to the raw audio body.
func speechHeaders(resp *models.AudioSpeechResponse) map[string]string {
	headers := make(map[string]string)
	if id, ok := resp.Metadata["job_id"].(string); ok && id != "" {
		headers["X-Job-Id"] = id
	}
	if cost, ok := resp.Metadata["cost"].(string); ok && cost != "" {
		headers["X-Job-Cost"] = cost
	}
	if len(resp.Warnings) > 0 {
		features := make([]string, 0, len(resp.Warnings))
		for _, w := range resp.Warnings {
			features = append(features, w.Feature)
		}
		headers["X-Warnings"] = strings.Join(features, ", ")
	}
	return headers
}

func resolveSpeechFormat(requested string) string {
	format := strings.ToLower(strings.TrimSpace(requested))
	if format == "" {
		format = "mp3"
	}
	return format
}

func audioContentType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "mp3":
		return "audio/mpeg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "opus":
		return "audio/opus"
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/L16"
	default:
		return "audio/mpeg"
	}
}
