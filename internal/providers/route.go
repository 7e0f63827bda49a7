package providers

import (
	"context"

	"github.com/ncecere/open_media_gateway/backend/internal/models"
)

// Route represents a single provider deployment that can serve a public alias.
type Route struct {
	Alias      string
	Provider   string
	Model      string
	Family     string
	Endpoint   string
	Modalities []string
	Weight     int
	// PricePerSecond bills upstream execution time; zero disables cost reporting.
	PricePerSecond float64
	Currency       string
	Metadata       map[string]string

	Chat            ChatCompletions
	ChatStream      ChatStreaming
	Image           ImageGenerator
	Video           VideoGenerator
	AudioTranscribe AudioTranscriber
	TextToSpeech    TextToSpeech
	Models          ModelLister
	Health          func(ctx context.Context) error
}

// Supports reports whether the route has an adapter for the modality.
func (r Route) Supports(modality string) bool {
	switch modality {
	case ModalityChat:
		return r.Chat != nil
	case ModalityImage:
		return r.Image != nil
	case ModalityVideo:
		return r.Video != nil
	case ModalitySpeech:
		return r.TextToSpeech != nil
	case ModalityTranscription:
		return r.AudioTranscribe != nil
	}
	return false
}

// ResolveDeployment extracts the upstream endpoint identifier from route metadata.
func (r Route) ResolveDeployment() string {
	if r.Metadata != nil {
		if dep := r.Metadata["endpoint_id"]; dep != "" {
			return dep
		}
	}
	if r.Endpoint != "" {
		return r.Endpoint
	}
	return r.Model
}

// ToModel converts route metadata back to a models.Model struct for APIs.
func (r Route) ToModel() models.Model {
	modalities := make([]string, 0, len(allModalities))
	for _, m := range allModalities {
		if r.Supports(m) {
			modalities = append(modalities, m)
		}
	}
	return models.Model{
		Alias:         r.Alias,
		Provider:      r.Provider,
		ProviderModel: r.Model,
		Family:        r.Family,
		Modalities:    modalities,
	}
}
