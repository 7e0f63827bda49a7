package providers

import (
	"context"
	"fmt"
	"strings"

	native "github.com/ncecere/open_media_gateway/backend/internal/adapters/openai"
	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "openai",
		Description: "OpenAI native API (chat delegate)",
		Modalities:  []string{ModalityChat},
		Streaming:   true,
		Builder:     buildOpenAIRoute,
	})
	RegisterDefinition(Definition{
		Name:        "openai-compatible",
		Description: "OpenAI API-compatible endpoint (custom base URL)",
		Modalities:  []string{ModalityChat},
		Streaming:   true,
		Builder:     buildOpenAICompatibleRoute,
	})
}

func buildOpenAIRoute(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error) {
	override := entry.ProviderOverrides.OpenAI
	apiKey := strings.TrimSpace(entry.APIKey)
	if apiKey == "" {
		switch {
		case override != nil && strings.TrimSpace(override.APIKey) != "":
			apiKey = strings.TrimSpace(override.APIKey)
		default:
			apiKey = strings.TrimSpace(cfg.Providers.OpenAIKey)
		}
	}
	if apiKey == "" {
		return Route{}, fmt.Errorf("openai provider requires api key (providers.openai_key or catalog entry api_key)")
	}

	md := cloneMetadata(entry.Metadata)
	if override != nil {
		if strings.TrimSpace(override.Organization) != "" {
			md["openai_organization"] = strings.TrimSpace(override.Organization)
		}
		if strings.TrimSpace(override.BaseURL) != "" {
			entry.Endpoint = strings.TrimSpace(override.BaseURL)
		}
	}
	opts := native.Options{
		APIKey:       apiKey,
		BaseURL:      strings.TrimSpace(entry.Endpoint),
		Organization: strings.TrimSpace(md["openai_organization"]),
		Provider:     entry.Provider,
	}
	adapter, err := native.New(opts)
	if err != nil {
		return Route{}, err
	}

	if opts.BaseURL != "" {
		md["base_url"] = opts.BaseURL
	}

	route := Route{
		Alias:      entry.Alias,
		Provider:   entry.Provider,
		Model:      entry.ProviderModel,
		Weight:     entry.Weight,
		Modalities: []string{ModalityChat},
		Metadata:   md,
		Chat:       adapter,
		ChatStream: adapter,
		Models:     adapter,
		Health:     adapter.HealthCheck,
	}
	return route, nil
}

func buildOpenAICompatibleRoute(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error) {
	md := cloneMetadata(entry.Metadata)
	override := entry.ProviderOverrides.OpenAICompatible
	baseURL := strings.TrimSpace(entry.Endpoint)
	if override != nil && strings.TrimSpace(override.BaseURL) != "" {
		baseURL = strings.TrimSpace(override.BaseURL)
	}
	if baseURL == "" {
		baseURL = strings.TrimSpace(md["base_url"])
	}
	if baseURL == "" {
		return Route{}, fmt.Errorf("openai-compatible provider requires base_url (entry.endpoint or metadata.base_url)")
	}
	apiKey := strings.TrimSpace(entry.APIKey)
	if apiKey == "" {
		switch {
		case override != nil && strings.TrimSpace(override.APIKey) != "":
			apiKey = strings.TrimSpace(override.APIKey)
		case md["api_key"] != "":
			apiKey = strings.TrimSpace(md["api_key"])
		default:
			apiKey = strings.TrimSpace(cfg.Providers.OpenAIKey)
		}
	}
	if apiKey == "" {
		return Route{}, fmt.Errorf("openai-compatible provider requires api key")
	}
	opts := native.Options{
		APIKey:       apiKey,
		BaseURL:      baseURL,
		Organization: strings.TrimSpace(md["openai_organization"]),
		Provider:     entry.Provider,
	}
	adapter, err := native.New(opts)
	if err != nil {
		return Route{}, err
	}
	md["base_url"] = baseURL

	route := Route{
		Alias:      entry.Alias,
		Provider:   entry.Provider,
		Model:      entry.ProviderModel,
		Weight:     entry.Weight,
		Modalities: []string{ModalityChat},
		Metadata:   md,
		Chat:       adapter,
		ChatStream: adapter,
		Health:     adapter.HealthCheck,
	}
	return route, nil
}
