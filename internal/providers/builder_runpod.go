package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	native "github.com/ncecere/open_media_gateway/backend/internal/adapters/openai"
	"github.com/ncecere/open_media_gateway/backend/internal/adapters/runpod"
	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "runpod",
		Description: "RunPod serverless media endpoints (async job API)",
		Modalities:  mediaModalities,
		Builder:     buildRunPodRoute,
	})
	RegisterDefinition(Definition{
		Name:        "runpod-openai",
		Description: "RunPod worker exposing the OpenAI chat protocol under /openai/v1",
		Modalities:  []string{ModalityChat},
		Streaming:   true,
		Builder:     buildRunPodOpenAIRoute,
	})
}

func runPodAPIKey(cfg *config.Config, entry config.ModelCatalogEntry) string {
	var override string
	if entry.RunPod != nil {
		override = entry.RunPod.APIKey
	}
	return firstNonEmpty(entry.APIKey, override, cfg.Providers.RunPodKey)
}

func runPodHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.RunPod.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func buildRunPodRoute(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error) {
	apiKey := runPodAPIKey(cfg, entry)
	if apiKey == "" {
		return Route{}, fmt.Errorf("runpod provider requires api key (providers.runpod_key or catalog entry api_key)")
	}
	endpoint := entry.RunPodEndpoint(cfg.RunPod.BaseURL)
	if endpoint == "" {
		return Route{}, fmt.Errorf("runpod provider requires endpoint or endpoint_id")
	}

	policy := runpod.PollPolicy{
		MaxAttempts: cfg.RunPod.MaxPollAttempts,
		Interval:    cfg.RunPod.PollInterval,
	}
	if o := entry.RunPod; o != nil {
		if o.MaxPollAttempts > 0 {
			policy.MaxAttempts = o.MaxPollAttempts
		}
		if o.PollInterval > 0 {
			policy.Interval = o.PollInterval
		}
	}

	adapter, err := runpod.New(runpod.AdapterOptions{
		APIKey:           apiKey,
		Endpoint:         endpoint,
		VariantEndpoint:  entry.VariantEndpoint,
		Family:           entry.Family,
		Model:            entry.ProviderModel,
		PollPolicy:       policy,
		DefaultOptions:   entry.Options,
		HTTPClient:       runPodHTTPClient(cfg),
		Logger:           slog.Default().With("alias", entry.Alias, "provider", "runpod"),
		MaxDownloadBytes: int64(cfg.RunPod.MaxDownloadMB) << 20,
	})
	if err != nil {
		return Route{}, err
	}

	modalities := entry.Modalities
	if len(modalities) == 0 {
		modalities = mediaModalities
	}

	md := cloneMetadata(entry.Metadata)
	md["endpoint"] = endpoint
	if entry.EndpointID != "" {
		md["endpoint_id"] = entry.EndpointID
	}

	route := Route{
		Alias:          entry.Alias,
		Provider:       entry.Provider,
		Model:          entry.ProviderModel,
		Endpoint:       endpoint,
		Modalities:     modalities,
		Weight:         entry.Weight,
		PricePerSecond: entry.PricePerSecond,
		Currency:       entry.Currency,
		Metadata:       md,
		Health:         adapter.HealthCheck,
	}
	if supportsModality(modalities, ModalityImage) {
		route.Image = adapter
	}
	if supportsModality(modalities, ModalityVideo) {
		route.Video = adapter
	}
	if supportsModality(modalities, ModalitySpeech) {
		route.TextToSpeech = adapter
	}
	if supportsModality(modalities, ModalityTranscription) {
		route.AudioTranscribe = adapter
	}
	for _, m := range mediaModalities {
		if route.Supports(m) {
			route.Family = string(adapter.FamilyFor(runpod.Modality(m), entry.ProviderModel))
			md["family"] = route.Family
			break
		}
	}
	if route.Family == "" {
		return Route{}, fmt.Errorf("runpod provider has no media modality in %v", entry.Modalities)
	}
	return route, nil
}

func buildRunPodOpenAIRoute(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error) {
	apiKey := runPodAPIKey(cfg, entry)
	if apiKey == "" {
		return Route{}, fmt.Errorf("runpod-openai provider requires api key")
	}
	endpoint := entry.RunPodEndpoint(cfg.RunPod.BaseURL)
	if endpoint == "" {
		return Route{}, fmt.Errorf("runpod-openai provider requires endpoint or endpoint_id")
	}
	baseURL := strings.TrimRight(endpoint, "/")
	if !strings.HasSuffix(baseURL, "/openai/v1") {
		baseURL += "/openai/v1"
	}

	adapter, err := native.New(native.Options{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Provider:   entry.Provider,
		HTTPClient: runPodHTTPClient(cfg),
	})
	if err != nil {
		return Route{}, err
	}

	md := cloneMetadata(entry.Metadata)
	md["base_url"] = baseURL
	if entry.EndpointID != "" {
		md["endpoint_id"] = entry.EndpointID
	}

	return Route{
		Alias:          entry.Alias,
		Provider:       entry.Provider,
		Model:          entry.ProviderModel,
		Endpoint:       endpoint,
		Modalities:     []string{ModalityChat},
		Weight:         entry.Weight,
		PricePerSecond: entry.PricePerSecond,
		Currency:       entry.Currency,
		Metadata:       md,
		Chat:           adapter,
		ChatStream:     adapter,
		Models:         adapter,
		Health:         adapter.HealthCheck,
	}, nil
}
