package runpod

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

// AdapterOptions configure a RunPod media adapter bound to one endpoint.
type AdapterOptions struct {
	APIKey          string
	Endpoint        string
	VariantEndpoint string
	// Family pins the payload schema; empty resolves it from the model id.
	Family string
	// Model is the upstream model id used for family dispatch when a request
	// does not name one.
	Model            string
	PollPolicy       PollPolicy
	DefaultOptions   map[string]any
	HTTPClient       *http.Client
	Logger           *slog.Logger
	MaxDownloadBytes int64
}

// Adapter is the per-modality entry point for RunPod serverless media models.
type Adapter struct {
	client   *Client
	target   Target
	family   Family
	model    string
	policy   PollPolicy
	defaults map[string]any
	logger   *slog.Logger
}

// New builds an adapter for a single RunPod endpoint.
func New(opts AdapterOptions) (*Adapter, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("runpod: endpoint required")
	}
	var family Family
	if name := strings.TrimSpace(opts.Family); name != "" {
		parsed, ok := ParseFamily(name)
		if !ok {
			return nil, fmt.Errorf("runpod: unknown model family %q", name)
		}
		family = parsed
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client: NewClient(ClientOptions{
			APIKey:           opts.APIKey,
			HTTPClient:       opts.HTTPClient,
			Logger:           logger,
			MaxDownloadBytes: opts.MaxDownloadBytes,
		}),
		target:   Target{Endpoint: endpoint, VariantEndpoint: strings.TrimSpace(opts.VariantEndpoint)},
		family:   family,
		model:    strings.TrimSpace(opts.Model),
		policy:   opts.PollPolicy,
		defaults: opts.DefaultOptions,
		logger:   logger,
	}, nil
}

// Client exposes the underlying job client.
func (a *Adapter) Client() *Client {
	return a.client
}

// Endpoint returns the configured submission endpoint.
func (a *Adapter) Endpoint() string {
	return a.target.Endpoint
}

// FamilyFor returns the family a request of the given modality would use.
func (a *Adapter) FamilyFor(modality Modality, modelID string) Family {
	if a.family != "" && a.family.Modality() == modality {
		return a.family
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = a.model
	}
	return ResolveFamily(modality, modelID)
}

// Generate runs one job for req and extracts its media reference. Count > 1
// degrades to a single job with a warning.
func (a *Adapter) Generate(ctx context.Context, req GenerationRequest) (MediaResult, error) {
	if strings.TrimSpace(req.ModelID) == "" {
		req.ModelID = a.model
	}
	family := a.FamilyFor(req.Modality, req.ModelID)

	var warnings []models.Warning
	if req.Count > 1 {
		warnings = append(warnings, models.Warning{
			Type:    models.WarningUnsupportedSetting,
			Feature: "n > 1",
			Details: fmt.Sprintf("RunPod jobs produce a single output; generated 1 instead of %d", req.Count),
		})
	}
	req.ExtraOptions = mergeOptions(a.defaults, req.ExtraOptions)

	payload, err := BuildPayload(family, req, a.target, a.policy)
	if err != nil {
		return MediaResult{}, err
	}
	warnings = append(warnings, payload.Warnings...)

	a.logger.Debug("runpod: submitting job",
		slog.String("model", req.ModelID),
		slog.String("family", string(family)),
		slog.String("modality", string(req.Modality)),
		slog.String("endpoint", payload.Endpoint),
	)
	job, err := a.client.Wait(ctx, payload.Endpoint, payload.Input, payload.Policy, req.Headers)
	if err != nil {
		return MediaResult{}, rephrase(req.Modality, err)
	}

	result := MediaResult{
		Warnings:  warnings,
		Metadata:  jobMetadata(job, payload),
		Timestamp: time.Now().UTC(),
		ModelID:   req.ModelID,
		Family:    family,
		Job:       job,
	}
	if req.Modality == ModalityTranscription {
		return result, nil
	}
	out, err := ExtractResult(job.Output, payload.ResultKeys)
	if err != nil {
		if rpErr, ok := err.(*Error); ok {
			rpErr.JobID = job.ID
		}
		return MediaResult{}, err
	}
	result.Outputs = []Result{out}
	return result, nil
}

// GenerateImage serves text-to-image and reference-guided image requests.
func (a *Adapter) GenerateImage(ctx context.Context, req models.ImageRequest) (*models.ImageResponse, error) {
	refs := make([]MediaReference, 0, len(req.References))
	for _, in := range req.References {
		refs = append(refs, referenceFromImage(in))
	}
	res, err := a.Generate(ctx, GenerationRequest{
		ModelID:        req.Model,
		Modality:       ModalityImage,
		Prompt:         req.Prompt,
		Count:          req.N,
		Size:           req.Size,
		AspectRatio:    req.AspectRatio,
		Seed:           req.Seed,
		ReferenceMedia: refs,
		ExtraOptions:   req.ExtraOptions,
		Headers:        req.Headers,
	})
	if err != nil {
		return nil, err
	}
	return a.imageResponse(ctx, res, req.ResponseFormat)
}

// EditImage runs an image-to-image job with the supplied images as references.
// Masks are not supported by RunPod workers and are ignored with a warning.
func (a *Adapter) EditImage(ctx context.Context, req models.ImageEditRequest) (*models.ImageResponse, error) {
	if len(req.Images) == 0 {
		return nil, invalidArgumentf("at least one image is required for edits")
	}
	refs := make([]MediaReference, 0, len(req.Images))
	for _, in := range req.Images {
		refs = append(refs, referenceFromImage(in))
	}
	res, err := a.Generate(ctx, GenerationRequest{
		ModelID:        req.Model,
		Modality:       ModalityImage,
		Prompt:         req.Prompt,
		Count:          req.N,
		Size:           req.Size,
		AspectRatio:    req.AspectRatio,
		Seed:           req.Seed,
		ReferenceMedia: refs,
		ExtraOptions:   req.ExtraOptions,
		Headers:        req.Headers,
	})
	if err != nil {
		return nil, err
	}
	if req.Mask != nil {
		res.Warnings = append([]models.Warning{{
			Type:    models.WarningUnsupportedSetting,
			Feature: "mask",
			Details: "inpainting masks are not supported; the mask was ignored",
		}}, res.Warnings...)
	}
	return a.imageResponse(ctx, res, req.ResponseFormat)
}

func (a *Adapter) imageResponse(ctx context.Context, res MediaResult, format string) (*models.ImageResponse, error) {
	data := make([]models.ImageData, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		item := models.ImageData{ContentType: out.MediaType}
		switch {
		case out.Locator == LocatorURL && !wantsInline(format):
			item.URL = out.URL
		default:
			raw, contentType, err := a.client.fetch(ctx, out)
			if err != nil {
				return nil, err
			}
			item.B64JSON = base64.StdEncoding.EncodeToString(raw)
			item.ContentType = contentType
		}
		data = append(data, item)
	}
	return &models.ImageResponse{
		Created:  res.Timestamp,
		Model:    res.ModelID,
		Data:     data,
		Warnings: res.Warnings,
		Metadata: res.Metadata,
	}, nil
}

// GenerateVideo serves text-to-video and image-to-video requests.
func (a *Adapter) GenerateVideo(ctx context.Context, req models.VideoRequest) (*models.VideoResponse, error) {
	refs := make([]MediaReference, 0, len(req.Images))
	for _, in := range req.Images {
		refs = append(refs, referenceFromImage(in))
	}
	res, err := a.Generate(ctx, GenerationRequest{
		ModelID:         req.Model,
		Modality:        ModalityVideo,
		Prompt:          req.Prompt,
		Count:           req.N,
		Size:            req.Size,
		AspectRatio:     req.AspectRatio,
		Resolution:      req.Resolution,
		DurationSeconds: req.DurationSeconds,
		FPS:             req.FPS,
		Seed:            req.Seed,
		ReferenceMedia:  refs,
		ExtraOptions:    req.ExtraOptions,
		Headers:         req.Headers,
	})
	if err != nil {
		return nil, err
	}
	data := make([]models.VideoData, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		item := models.VideoData{URL: out.URL, ContentType: out.MediaType}
		if out.Locator == LocatorInline || wantsInline(req.ResponseFormat) {
			raw, contentType, err := a.client.fetch(ctx, out)
			if err != nil {
				return nil, err
			}
			item.Data = raw
			item.ContentType = contentType
		}
		data = append(data, item)
	}
	return &models.VideoResponse{
		Created:  res.Timestamp,
		Model:    res.ModelID,
		Data:     data,
		Warnings: res.Warnings,
		Metadata: res.Metadata,
	}, nil
}

// Synthesize runs a text-to-speech job and downloads the audio.
func (a *Adapter) Synthesize(ctx context.Context, req models.AudioSpeechRequest) (*models.AudioSpeechResponse, error) {
	res, err := a.Generate(ctx, GenerationRequest{
		ModelID:      req.Model,
		Modality:     ModalitySpeech,
		Prompt:       req.Input,
		Voice:        req.Voice,
		Speed:        req.Speed,
		Format:       req.Format,
		ExtraOptions: req.ExtraOptions,
		Headers:      req.Headers,
	})
	if err != nil {
		return nil, err
	}
	audio, contentType, err := a.client.fetch(ctx, res.Outputs[0])
	if err != nil {
		return nil, err
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = speechContentType(req.Format)
	}
	return &models.AudioSpeechResponse{
		Audio:       audio,
		ContentType: contentType,
		Warnings:    res.Warnings,
		Metadata:    res.Metadata,
	}, nil
}

// Transcribe runs a speech-to-text job. Audio is sent by URL when the caller
// supplied one, otherwise inline as base64.
func (a *Adapter) Transcribe(ctx context.Context, req models.AudioTranscriptionRequest) (*models.AudioTranscriptionResponse, error) {
	audio := &MediaReference{URL: strings.TrimSpace(req.Input.URL), MediaType: req.Input.ContentType}
	if audio.URL == "" {
		if req.Input.Reader == nil {
			return nil, invalidArgumentf("audio input is required")
		}
		data, err := io.ReadAll(req.Input.Reader)
		if err != nil {
			return nil, fmt.Errorf("runpod: read audio input: %w", err)
		}
		audio.Data = data
	}
	extra := req.ExtraOptions
	if req.Temperature != nil {
		extra = mergeOptions(map[string]any{"temperature": *req.Temperature}, extra)
	}
	res, err := a.Generate(ctx, GenerationRequest{
		ModelID:      req.Model,
		Modality:     ModalityTranscription,
		Prompt:       req.Prompt,
		Audio:        audio,
		Language:     req.Language,
		ExtraOptions: extra,
		Headers:      req.Headers,
	})
	if err != nil {
		return nil, err
	}
	transcript, err := ExtractTranscript(res.Job.Output)
	if err != nil {
		return nil, err
	}
	return &models.AudioTranscriptionResponse{
		Text:     transcript.Text,
		Language: transcript.Language,
		Duration: transcript.Duration,
		Segments: transcript.Segments,
		Warnings: res.Warnings,
		Metadata: res.Metadata,
	}, nil
}

// HealthCheck queries the endpoint's /health summary.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.client.Health(ctx, a.target.Endpoint)
}

// rephrase keeps the error kind but prefixes the modality so callers see
// "Image generation failed: GPU out of memory".
func rephrase(modality Modality, err error) error {
	var rpErr *Error
	if !errors.As(err, &rpErr) {
		return err
	}
	if rpErr.Kind != KindJobFailed && rpErr.Kind != KindTimeout {
		return err
	}
	return &Error{
		Kind:    rpErr.Kind,
		Message: fmt.Sprintf("%s generation failed: %s", modality.Label(), rpErr.Message),
		JobID:   rpErr.JobID,
		Raw:     rpErr.Raw,
		Err:     err,
	}
}

func jobMetadata(job Job, payload Payload) map[string]any {
	return map[string]any{
		"job_id":            job.ID,
		"status":            string(job.Status),
		"delay_time_ms":     job.DelayTime.Milliseconds(),
		"execution_time_ms": job.ExecutionTime.Milliseconds(),
		"endpoint":          payload.Endpoint,
		"family":            string(payload.Family),
	}
}

// mergeOptions layers override on top of base without mutating either.
func mergeOptions(base, override map[string]any) map[string]any {
	if len(base) == 0 {
		return override
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func wantsInline(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "b64_json", "base64", "bytes", "file":
		return true
	}
	return false
}

func speechContentType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "wav":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	case "opus", "ogg":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "pcm":
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}
