package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_media_gateway/backend/internal/adapters/runpod"
	"github.com/ncecere/open_media_gateway/backend/internal/app"
	"github.com/ncecere/open_media_gateway/backend/internal/catalog"
	"github.com/ncecere/open_media_gateway/backend/internal/limits"
	"github.com/ncecere/open_media_gateway/backend/internal/models"
	"github.com/ncecere/open_media_gateway/backend/internal/notify"
	"github.com/ncecere/open_media_gateway/backend/internal/observability"
	"github.com/ncecere/open_media_gateway/backend/internal/providers"
	"github.com/ncecere/open_media_gateway/backend/internal/router"
	"github.com/ncecere/open_media_gateway/backend/internal/storage/blob"
)

// StatusClientClosedRequest is reported when the caller went away mid-job.
const StatusClientClosedRequest = 499

const notifyTimeout = 30 * time.Second

// Executor runs requests against the routed providers with rate limiting,
// failover and cost accounting.
type Executor struct {
	container *app.Container
}

func New(container *app.Container) *Executor {
	return &Executor{container: container}
}

// apiError wraps an error with an HTTP status code so callers can map it
// directly to OpenAI-compatible responses.
type apiError struct {
	status int
	msg    string
	code   string
}

func (e apiError) Error() string { return e.msg }

// NewAPIError creates an error tied to an HTTP status code.
func NewAPIError(status int, msg string) error {
	return apiError{status: status, msg: msg}
}

// AsAPIError extracts the HTTP status information when available.
func AsAPIError(err error) (int, string, bool) {
	var apiErr apiError
	if errors.As(err, &apiErr) {
		return apiErr.status, apiErr.msg, true
	}
	return 0, "", false
}

// ErrorCode returns the machine readable error code carried by err.
func ErrorCode(err error) string {
	var apiErr apiError
	if errors.As(err, &apiErr) {
		return apiErr.code
	}
	return ""
}

// outcome is what a successful attempt reports back to the run loop.
type outcome struct {
	metadata map[string]any
	warnings int
}

type attempt func(ctx context.Context, route providers.Route) (outcome, error)

// GenerateImage runs a text-to-image job.
func (e *Executor) GenerateImage(ctx context.Context, alias string, req models.ImageRequest) (*models.ImageResponse, error) {
	var resp *models.ImageResponse
	err := e.run(ctx, alias, providers.ModalityImage, func(ctx context.Context, route providers.Route) (outcome, error) {
		attemptReq := req
		attemptReq.Model = route.Model
		res, err := route.Image.GenerateImage(ctx, attemptReq)
		if err != nil {
			return outcome{}, err
		}
		resp = res
		return outcome{metadata: res.Metadata, warnings: len(res.Warnings)}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.persistImages(ctx, resp, req.ResponseFormat, alias); err != nil {
		return nil, err
	}
	return resp, nil
}

// EditImage runs an image-to-image job.
func (e *Executor) EditImage(ctx context.Context, alias string, req models.ImageEditRequest) (*models.ImageResponse, error) {
	var resp *models.ImageResponse
	err := e.run(ctx, alias, providers.ModalityImage, func(ctx context.Context, route providers.Route) (outcome, error) {
		attemptReq := req
		attemptReq.Model = route.Model
		res, err := route.Image.EditImage(ctx, attemptReq)
		if err != nil {
			return outcome{}, err
		}
		resp = res
		return outcome{metadata: res.Metadata, warnings: len(res.Warnings)}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.persistImages(ctx, resp, req.ResponseFormat, alias); err != nil {
		return nil, err
	}
	return resp, nil
}

// GenerateVideo runs a text-to-video or image-to-video job.
func (e *Executor) GenerateVideo(ctx context.Context, alias string, req models.VideoRequest) (*models.VideoResponse, error) {
	var resp *models.VideoResponse
	err := e.run(ctx, alias, providers.ModalityVideo, func(ctx context.Context, route providers.Route) (outcome, error) {
		attemptReq := req
		attemptReq.Model = route.Model
		res, err := route.Video.GenerateVideo(ctx, attemptReq)
		if err != nil {
			return outcome{}, err
		}
		resp = res
		return outcome{metadata: res.Metadata, warnings: len(res.Warnings)}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.persistVideos(ctx, resp, req.ResponseFormat, alias); err != nil {
		return nil, err
	}
	return resp, nil
}

// Synthesize runs a text-to-speech job.
func (e *Executor) Synthesize(ctx context.Context, alias string, req models.AudioSpeechRequest) (*models.AudioSpeechResponse, error) {
	var resp *models.AudioSpeechResponse
	err := e.run(ctx, alias, providers.ModalitySpeech, func(ctx context.Context, route providers.Route) (outcome, error) {
		attemptReq := req
		attemptReq.Model = route.Model
		res, err := route.TextToSpeech.Synthesize(ctx, attemptReq)
		if err != nil {
			return outcome{}, err
		}
		resp = res
		return outcome{metadata: res.Metadata, warnings: len(res.Warnings)}, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Transcribe runs a speech-to-text job. The audio is buffered once so every
// failover attempt reads the same bytes.
func (e *Executor) Transcribe(ctx context.Context, alias string, req models.AudioTranscriptionRequest) (*models.AudioTranscriptionResponse, error) {
	buffered, err := bufferAudio(req.Input)
	if err != nil {
		return nil, NewAPIError(fiber.StatusBadRequest, err.Error())
	}
	var resp *models.AudioTranscriptionResponse
	err = e.run(ctx, alias, providers.ModalityTranscription, func(ctx context.Context, route providers.Route) (outcome, error) {
		attemptReq := req
		attemptReq.Model = route.Model
		attemptReq.Input = buffered.input()
		res, err := route.AudioTranscribe.Transcribe(ctx, attemptReq)
		if err != nil {
			return outcome{}, err
		}
		resp = res
		return outcome{metadata: res.Metadata, warnings: len(res.Warnings)}, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Chat executes a chat completion against the routed providers.
func (e *Executor) Chat(ctx context.Context, alias string, req models.ChatRequest) (models.ChatResponse, error) {
	var resp models.ChatResponse
	err := e.run(ctx, alias, providers.ModalityChat, func(ctx context.Context, route providers.Route) (outcome, error) {
		attemptReq := req
		attemptReq.Model = route.Model
		res, err := route.Chat.Chat(ctx, attemptReq)
		if err != nil {
			return outcome{}, err
		}
		resp = res
		return outcome{}, nil
	})
	return resp, err
}

// ChatStream opens a streaming completion on the first route that accepts it.
// The returned release must be called once the stream is drained.
func (e *Executor) ChatStream(ctx context.Context, alias string, req models.ChatRequest) (<-chan models.ChatChunk, func() error, func(), error) {
	routes, err := e.routes(alias, providers.ModalityChat)
	if err != nil {
		return nil, nil, nil, err
	}
	release, err := e.acquire(ctx, alias)
	if err != nil {
		return nil, nil, nil, err
	}

	var lastErr error
	for _, route := range routes {
		if route.ChatStream == nil {
			continue
		}
		attemptReq := req
		attemptReq.Model = route.Model
		stream, wait, err := route.ChatStream.ChatStream(ctx, attemptReq)
		e.container.Engine.ReportResult(alias, route, err)
		if err == nil {
			return stream, wait, release, nil
		}
		e.logger().Warn("chat stream attempt failed",
			slog.String("alias", alias),
			slog.String("provider", route.Provider),
			slog.String("error", err.Error()),
		)
		lastErr = err
		if !router.Failover(err) {
			break
		}
	}
	release()
	if lastErr == nil {
		return nil, nil, nil, NewAPIError(fiber.StatusBadRequest, fmt.Sprintf("model %q does not support streaming", alias))
	}
	return nil, nil, nil, translateError(lastErr)
}

func (e *Executor) routes(alias, modality string) ([]providers.Route, error) {
	routes := e.container.Engine.SelectRoutesFor(alias, modality)
	if len(routes) > 0 {
		return routes, nil
	}
	switch {
	case !e.container.Engine.Known(alias):
		return nil, apiError{status: fiber.StatusNotFound, msg: fmt.Sprintf("model %q not found", alias), code: "model_not_found"}
	case !e.container.Engine.Serves(alias, modality):
		return nil, apiError{status: fiber.StatusBadRequest, msg: fmt.Sprintf("model %q does not support %s", alias, modality), code: "unsupported_modality"}
	}
	return nil, NewAPIError(fiber.StatusServiceUnavailable, "no backend available for model")
}

func (e *Executor) acquire(ctx context.Context, alias string) (func(), error) {
	release, err := e.container.AcquireRateLimits(ctx, alias)
	if err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			return nil, apiError{status: fiber.StatusTooManyRequests, msg: "rate limit exceeded", code: "rate_limit_exceeded"}
		}
		return nil, err
	}
	return release, nil
}

// run tries each healthy route in turn until one succeeds or an error that
// no other route could fix is returned.
func (e *Executor) run(ctx context.Context, alias, modality string, fn attempt) error {
	routes, err := e.routes(alias, modality)
	if err != nil {
		return err
	}
	release, err := e.acquire(ctx, alias)
	if err != nil {
		return err
	}
	defer release()

	var lastErr error
	var lastEvent notify.Event
	for _, route := range routes {
		start := time.Now()
		out, err := fn(ctx, route)
		latency := time.Since(start)
		e.container.Engine.ReportResult(alias, route, err)

		execution := executionTime(out.metadata)
		price := catalog.NewPrice(route.PricePerSecond, route.Currency)
		cost := price.Cost(execution)

		jobOutcome := observability.JobOutcome{
			Model:     alias,
			Provider:  route.Provider,
			Family:    route.Family,
			Modality:  modality,
			Latency:   latency,
			Execution: execution,
			Warnings:  out.warnings,
		}
		if price.Currency == "USD" {
			jobOutcome.CostUSD = cost.InexactFloat64()
		}
		if err != nil {
			jobOutcome.Result = resultLabel(err)
		}
		e.container.Observability.RecordJob(jobOutcome)

		event := notify.Event{
			Alias:       alias,
			Provider:    route.Provider,
			Family:      route.Family,
			Modality:    modality,
			JobID:       jobID(out.metadata),
			Result:      "ok",
			ExecutionMS: execution.Milliseconds(),
			Warnings:    out.warnings,
		}
		if !cost.IsZero() {
			event.Cost = cost.String()
			event.Currency = price.Currency
		}

		if err == nil {
			if out.metadata != nil {
				out.metadata["provider"] = route.Provider
				if !price.PerSecond.IsZero() {
					out.metadata["cost"] = cost.String()
					out.metadata["cost_micros"] = catalog.ToMicros(cost)
					out.metadata["currency"] = price.Currency
				}
			}
			e.publish(event)
			return nil
		}
		event.Result = jobOutcome.Result
		event.Error = err.Error()
		lastEvent = event

		e.logger().Warn("provider attempt failed",
			slog.String("alias", alias),
			slog.String("provider", route.Provider),
			slog.String("modality", modality),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()),
		)
		lastErr = err
		if !router.Failover(err) {
			break
		}
	}
	if lastErr == nil {
		return translateError(errors.New("no backend available"))
	}
	e.publish(lastEvent)
	return translateError(lastErr)
}

// publish hands the job event to the notifier off the request path.
func (e *Executor) publish(event notify.Event) {
	sink := e.container.Notifier
	if sink == nil {
		return
	}
	event = notify.Stamp(event)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		_ = sink.Notify(ctx, event)
	}()
}

func (e *Executor) logger() *slog.Logger {
	if e.container.Logger != nil {
		return e.container.Logger
	}
	return slog.Default()
}

// translateError maps job client failures onto HTTP statuses.
func translateError(err error) error {
	if _, _, ok := AsAPIError(err); ok {
		return err
	}
	var rpErr *runpod.Error
	if errors.As(err, &rpErr) {
		status := fiber.StatusBadGateway
		switch rpErr.Kind {
		case runpod.KindInvalidArgument:
			status = fiber.StatusBadRequest
		case runpod.KindSubmission:
			if rpErr.StatusCode == fiber.StatusTooManyRequests {
				status = fiber.StatusTooManyRequests
			}
		case runpod.KindTimeout:
			status = fiber.StatusGatewayTimeout
		case runpod.KindCancelled:
			status = StatusClientClosedRequest
		}
		return apiError{status: status, msg: rpErr.Error(), code: string(rpErr.Kind)}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apiError{status: fiber.StatusGatewayTimeout, msg: err.Error(), code: string(runpod.KindTimeout)}
	case errors.Is(err, context.Canceled):
		return apiError{status: StatusClientClosedRequest, msg: err.Error(), code: string(runpod.KindCancelled)}
	}
	return apiError{status: fiber.StatusBadGateway, msg: err.Error(), code: "upstream_error"}
}

func resultLabel(err error) string {
	if kind := runpod.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) {
		return string(runpod.KindCancelled)
	}
	return "error"
}

func executionTime(metadata map[string]any) time.Duration {
	if metadata == nil {
		return 0
	}
	switch v := metadata["execution_time_ms"].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	}
	return 0
}

func jobID(metadata map[string]any) string {
	id, _ := metadata["job_id"].(string)
	return id
}

func mediaFor(metadata map[string]any, contentType, alias, modality string) blob.Media {
	family, _ := metadata["family"].(string)
	return blob.Media{
		ContentType: contentType,
		JobID:       jobID(metadata),
		Model:       alias,
		Family:      family,
		Modality:    modality,
	}
}

// FileURL is the download path for a stored media file.
func FileURL(fileID string) string {
	return "/v1/files/" + fileID + "/content"
}

// persistImages stores inline outputs when the caller asked for files, or
// when a URL was requested but the worker only returned bytes.
func (e *Executor) persistImages(ctx context.Context, res *models.ImageResponse, format, alias string) error {
	media := e.container.Media
	if media == nil {
		return nil
	}
	toFile := format == "file"
	for i := range res.Data {
		item := &res.Data[i]
		if item.B64JSON == "" {
			continue
		}
		if !toFile && (format == "b64_json" || item.URL != "") {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return NewAPIError(fiber.StatusBadGateway, fmt.Sprintf("decode image output: %v", err))
		}
		file, err := media.Save(ctx, raw, mediaFor(res.Metadata, item.ContentType, alias, providers.ModalityImage))
		if err != nil {
			return NewAPIError(fiber.StatusInternalServerError, err.Error())
		}
		item.FileID = file.ID
		item.URL = FileURL(file.ID)
		item.B64JSON = ""
	}
	return nil
}

func (e *Executor) persistVideos(ctx context.Context, res *models.VideoResponse, format, alias string) error {
	media := e.container.Media
	if media == nil || format == "b64_json" {
		return nil
	}
	for i := range res.Data {
		item := &res.Data[i]
		if len(item.Data) == 0 {
			continue
		}
		if format != "file" && item.URL != "" {
			item.Data = nil
			continue
		}
		file, err := media.Save(ctx, item.Data, mediaFor(res.Metadata, item.ContentType, alias, providers.ModalityVideo))
		if err != nil {
			return NewAPIError(fiber.StatusInternalServerError, err.Error())
		}
		item.FileID = file.ID
		item.URL = FileURL(file.ID)
		item.Data = nil
	}
	return nil
}
