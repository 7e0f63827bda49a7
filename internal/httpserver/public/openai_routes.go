package public

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_media_gateway/backend/internal/app"
	"github.com/ncecere/open_media_gateway/backend/internal/cache"
	"github.com/ncecere/open_media_gateway/backend/internal/executor"
	"github.com/ncecere/open_media_gateway/backend/internal/httpserver/httputil"
	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

const maxImageCount = 10

type openAIHandler struct {
	container *app.Container
	executor  *executor.Executor
}

type openAIModel struct {
	ID         string   `json:"id"`
	Object     string   `json:"object"`
	OwnedBy    string   `json:"owned_by"`
	Created    int64    `json:"created"`
	Family     string   `json:"family,omitempty"`
	Modalities []string `json:"modalities"`
}

type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

func (h *openAIHandler) listModels(c *fiber.Ctx) error {
	aliases := h.container.Engine.ListAliases()
	out := make([]openAIModel, 0, len(aliases))
	now := time.Now().Unix()

	for alias, routes := range aliases {
		if len(routes) == 0 {
			continue
		}
		seen := make(map[string]bool)
		var modalities []string
		for _, route := range routes {
			for _, m := range route.ToModel().Modalities {
				if !seen[m] {
					seen[m] = true
					modalities = append(modalities, m)
				}
			}
		}
		out = append(out, openAIModel{
			ID:         alias,
			Object:     "model",
			OwnedBy:    routes[0].Provider,
			Created:    now,
			Family:     routes[0].Family,
			Modalities: modalities,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return c.JSON(openAIModelList{
		Object: "list",
		Data:   out,
	})
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type openAIChatRequest struct {
	Model           string              `json:"model"`
	Messages        []openAIChatMessage `json:"messages"`
	Temperature     *float32            `json:"temperature,omitempty"`
	TopP            *float32            `json:"top_p,omitempty"`
	MaxTokens       *int32              `json:"max_tokens,omitempty"`
	Seed            *int64              `json:"seed,omitempty"`
	Stream          bool                `json:"stream,omitempty"`
	StopRaw         json.RawMessage     `json:"stop,omitempty"`
	ProviderOptions map[string]any      `json:"provider_options,omitempty"`
}

type openAIChatChoice struct {
	Index        int               `json:"index"`
	Message      openAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

type openAIChatResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
	Usage   openAIUsage        `json:"usage"`
}

func (h *openAIHandler) chatCompletions(c *fiber.Ctx) error {
	var req openAIChatRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "model is required")
	}
	if len(req.Messages) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "messages are required")
	}
	stop, err := parseStop(req.StopRaw)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid stop field")
	}

	messages := make([]models.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := strings.ToLower(m.Role)
		if role == "" {
			role = "user"
		}
		messages = append(messages, models.ChatMessage{
			Role:    role,
			Content: m.Content,
			Name:    m.Name,
		})
	}

	alias := req.Model
	modelReq := models.ChatRequest{
		Messages:     messages,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		MaxTokens:    req.MaxTokens,
		Seed:         req.Seed,
		Stop:         stop,
		ExtraOptions: req.ProviderOptions,
	}

	if req.Stream {
		modelReq.Stream = true
		return h.streamChat(c, alias, modelReq)
	}

	idem, handled, err := h.beginIdempotent(c)
	if handled {
		return err
	}
	defer idem.finish(c.UserContext())

	resp, err := h.executor.Chat(c.UserContext(), alias, modelReq)
	if err != nil {
		return writeExecutorError(c, err)
	}
	return writeJSON(c, idem, convertChatResponse(resp, alias))
}

func (h *openAIHandler) streamChat(c *fiber.Ctx, alias string, req models.ChatRequest) error {
	ctx := c.UserContext()
	chunks, closeStream, release, err := h.executor.ChatStream(ctx, alias, req)
	if err != nil {
		return writeExecutorError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer release()
		defer func() {
			if closeStream != nil {
				_ = closeStream()
			}
		}()

		for chunk := range chunks {
			if chunk.UsageOnly() {
				continue
			}
			data, err := json.Marshal(convertStreamChunk(chunk, alias))
			if err != nil {
				slog.Error("encode stream chunk", slog.String("alias", alias), slog.String("error", err.Error()))
				return
			}
			if _, err := w.WriteString("data: "); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.WriteString("\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}

		if _, err := w.WriteString("data: [DONE]\n\n"); err != nil {
			return
		}
		_ = w.Flush()
	})
	return nil
}

type openAIImageRequest struct {
	Model           string         `json:"model"`
	Prompt          string         `json:"prompt"`
	Size            string         `json:"size,omitempty"`
	AspectRatio     string         `json:"aspect_ratio,omitempty"`
	ResponseFormat  string         `json:"response_format,omitempty"`
	N               int            `json:"n,omitempty"`
	Seed            *int64         `json:"seed,omitempty"`
	User            string         `json:"user,omitempty"`
	Image           string         `json:"image,omitempty"`
	Images          []string       `json:"images,omitempty"`
	ProviderOptions map[string]any `json:"provider_options,omitempty"`
}

type openAIImageData struct {
	B64JSON     string `json:"b64_json,omitempty"`
	URL         string `json:"url,omitempty"`
	FileID      string `json:"file_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type openAIImageResponse struct {
	Created  int64             `json:"created"`
	Model    string            `json:"model"`
	Data     []openAIImageData `json:"data"`
	Warnings []models.Warning  `json:"warnings,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

func (h *openAIHandler) imageGenerations(c *fiber.Ctx) error {
	var req openAIImageRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Model = strings.TrimSpace(req.Model)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Model == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "model is required")
	}
	if req.Prompt == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "prompt is required")
	}
	n := req.N
	if n <= 0 {
		n = 1
	}
	if n > maxImageCount {
		return httputil.WriteError(c, fiber.StatusBadRequest, "n must be between 1 and 10")
	}
	format, err := parseResponseFormat(req.ResponseFormat)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}

	rawRefs := req.Images
	if ref := strings.TrimSpace(req.Image); ref != "" {
		rawRefs = append([]string{ref}, rawRefs...)
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

	resp, err := h.executor.GenerateImage(c.UserContext(), req.Model, models.ImageRequest{
		Prompt:         req.Prompt,
		Size:           strings.TrimSpace(req.Size),
		AspectRatio:    strings.TrimSpace(req.AspectRatio),
		ResponseFormat: format,
		N:              n,
		Seed:           req.Seed,
		User:           req.User,
		References:     refs,
		ExtraOptions:   req.ProviderOptions,
	})
	if err != nil {
		return writeExecutorError(c, err)
	}
	return writeJSON(c, idem, convertImageResponse(resp, req.Model))
}

func (h *openAIHandler) imageEdits(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "multipart form required")
	}
	model := strings.TrimSpace(c.FormValue("model"))
	prompt := strings.TrimSpace(c.FormValue("prompt"))
	if model == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "model is required")
	}
	if prompt == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "prompt is required")
	}
	imageHeaders := form.File["image"]
	if len(imageHeaders) == 0 {
		imageHeaders = form.File["image[]"]
	}
	if len(imageHeaders) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "at least one image is required")
	}
	if len(imageHeaders) > 16 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "a maximum of 16 images are supported")
	}
	images := make([]models.ImageInput, 0, len(imageHeaders))
	for _, fh := range imageHeaders {
		input, err := loadImageInput(fh)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "failed to read image upload")
		}
		images = append(images, input)
	}
	var maskInput *models.ImageInput
	if masks := form.File["mask"]; len(masks) > 0 {
		mask, err := loadImageInput(masks[0])
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "failed to read mask upload")
		}
		maskInput = &mask
	}
	n, err := parseImageCount(c.FormValue("n"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}
	format, err := parseResponseFormat(c.FormValue("response_format"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}
	seed, err := parseOptionalInt64(c.FormValue("seed"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "seed must be an integer")
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

	resp, err := h.executor.EditImage(c.UserContext(), model, models.ImageEditRequest{
		Prompt:         prompt,
		Images:         images,
		Mask:           maskInput,
		Size:           strings.TrimSpace(c.FormValue("size")),
		AspectRatio:    strings.TrimSpace(c.FormValue("aspect_ratio")),
		ResponseFormat: format,
		N:              n,
		Seed:           seed,
		User:           strings.TrimSpace(c.FormValue("user")),
		ExtraOptions:   extra,
	})
	if err != nil {
		return writeExecutorError(c, err)
	}
	return writeJSON(c, idem, convertImageResponse(resp, model))
}

// writeJSON sends payload and stores it for Idempotency-Key replays.
func writeJSON(c *fiber.Ctx, idem *idempotentRequest, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "failed to encode response")
	}
	idem.store(c.UserContext(), cache.Entry{
		Status:      fiber.StatusOK,
		ContentType: fiber.MIMEApplicationJSON,
		Body:        body,
	})
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(body)
}

func writeExecutorError(c *fiber.Ctx, err error) error {
	if status, msg, ok := executor.AsAPIError(err); ok {
		return httputil.WriteErrorCode(c, status, msg, executor.ErrorCode(err))
	}
	return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
}

func parseStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return []string{str}, nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}
	return nil, errors.New("invalid stop value")
}

func parseImageCount(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 1, nil
	}
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.New("n must be between 1 and 10")
	}
	if val < 1 || val > maxImageCount {
		return 0, errors.New("n must be between 1 and 10")
	}
	return val, nil
}

func parseResponseFormat(raw string) (string, error) {
	format := strings.ToLower(strings.TrimSpace(raw))
	switch format {
	case "", "url", "b64_json", "file":
		return format, nil
	}
	return "", errors.New("response_format must be one of url, b64_json, file")
}

func parseOptionalInt64(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// parseProviderOptions decodes the JSON option bag sent as a form field.
func parseProviderOptions(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errors.New("provider_options must be a JSON object")
	}
	return out, nil
}

// parseReferences accepts http(s) URLs, data URLs or bare base64.
func parseReferences(raw []string) ([]models.ImageInput, error) {
	out := make([]models.ImageInput, 0, len(raw))
	for _, ref := range raw {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		lower := strings.ToLower(ref)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			out = append(out, models.ImageInput{URL: ref})
			continue
		}
		contentType := ""
		payload := ref
		if strings.HasPrefix(lower, "data:") {
			header, data, ok := strings.Cut(ref[len("data:"):], ",")
			if !ok || !strings.Contains(header, ";base64") {
				return nil, errors.New("reference images must be base64 data URLs")
			}
			contentType, _, _ = strings.Cut(header, ";")
			payload = data
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, errors.New("reference image is not valid base64")
		}
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		out = append(out, models.ImageInput{Data: data, ContentType: contentType})
	}
	return out, nil
}

func loadImageInput(fh *multipart.FileHeader) (models.ImageInput, error) {
	file, err := fh.Open()
	if err != nil {
		return models.ImageInput{}, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return models.ImageInput{}, err
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return models.ImageInput{
		Data:        data,
		Filename:    fh.Filename,
		ContentType: contentType,
	}, nil
}

func convertChatResponse(resp models.ChatResponse, alias string) openAIChatResponse {
	choices := make([]openAIChatChoice, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		choices = append(choices, openAIChatChoice{
			Index: choice.Index,
			Message: openAIChatMessage{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: choice.FinishReason,
		})
	}

	return openAIChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created.Unix(),
		Model:   alias,
		Choices: choices,
		Usage: openAIUsage{
			PromptTokens:     resp.Usage.Prompt,
			CompletionTokens: resp.Usage.Completion,
			TotalTokens:      resp.Usage.Total,
		},
	}
}

type openAIStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type openAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason string            `json:"finish_reason,omitempty"`
}

type openAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
}

func convertStreamChunk(chunk models.ChatChunk, alias string) openAIStreamChunk {
	choices := make([]openAIStreamChoice, 0, len(chunk.Choices))
	for _, choice := range chunk.Choices {
		choices = append(choices, openAIStreamChoice{
			Index: choice.Index,
			Delta: openAIStreamDelta{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: choice.FinishReason,
		})
	}
	return openAIStreamChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Created: chunk.Created.Unix(),
		Model:   alias,
		Choices: choices,
	}
}

func convertImageResponse(resp *models.ImageResponse, alias string) openAIImageResponse {
	data := make([]openAIImageData, 0, len(resp.Data))
	for _, item := range resp.Data {
		data = append(data, openAIImageData{
			B64JSON:     item.B64JSON,
			URL:         item.URL,
			FileID:      item.FileID,
			ContentType: item.ContentType,
		})
	}

	created := resp.Created.Unix()
	if created < 0 {
		created = 0
	}

	return openAIImageResponse{
		Created:  created,
		Model:    alias,
		Data:     data,
		Warnings: resp.Warnings,
		Metadata: resp.Metadata,
	}
}
