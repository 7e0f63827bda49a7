package config

import "time"

// ProviderOverrides captures provider specific configuration for a model catalog entry.
type ProviderOverrides struct {
	RunPod           *RunPodProviderConfig           `mapstructure:"runpod" json:"runpod,omitempty"`
	OpenAI           *OpenAIProviderConfig           `mapstructure:"openai" json:"openai,omitempty"`
	OpenAICompatible *OpenAICompatibleProviderConfig `mapstructure:"openai_compatible" json:"openai_compatible,omitempty"`
}

// RunPodProviderConfig overrides the job client defaults for one catalog entry.
type RunPodProviderConfig struct {
	APIKey          string        `mapstructure:"api_key" json:"api_key"`
	EndpointID      string        `mapstructure:"endpoint_id" json:"endpoint_id"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts" json:"max_poll_attempts"`
	PollInterval    time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
}

type OpenAIProviderConfig struct {
	APIKey       string `mapstructure:"api_key" json:"api_key"`
	Organization string `mapstructure:"openai_organization" json:"openai_organization"`
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
}

type OpenAICompatibleProviderConfig struct {
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
	APIKey       string `mapstructure:"api_key" json:"api_key"`
	Organization string `mapstructure:"openai_organization" json:"openai_organization"`
}
