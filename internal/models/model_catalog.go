package models

type Model struct {
	Alias         string   `json:"alias"`
	Provider      string   `json:"provider"`
	ProviderModel string   `json:"provider_model"`
	Family        string   `json:"family,omitempty"`
	Modalities    []string `json:"modalities"`
}
