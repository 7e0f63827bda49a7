package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  api_keys: ["sk-local-1", " ", "sk-local-2"]
providers:
  runpod_key: rp-secret
runpod:
  max_poll_attempts: 30
files:
  storage: local
  local:
    directory: /tmp/media
model_catalog:
  - alias: qwen-image
    provider: runpod
    provider_model: qwen/qwen-image
    endpoint_id: qwen-image-t2i
    modalities: [image]
    price_per_second: 0.00031
    options:
      num_inference_steps: 30
  - alias: kling
    provider: RunPod
    provider_model: kling-v2.1-i2v-pro
    endpoint: https://api.runpod.ai/v2/kling-v2-1/runsync
    family: kling
    modalities: [video]
    runpod:
      max_poll_attempts: 240
      poll_interval: 10s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "router.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndCatalog(t *testing.T) {
	t.Setenv("ROUTER_RUNPOD_POLL_INTERVAL", "2s")

	cfg, err := Load(Options{ConfigFile: writeConfig(t, sampleConfig), EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.ListenAddr)
	require.Equal(t, []string{"sk-local-1", "sk-local-2"}, cfg.Server.APIKeys)
	require.Equal(t, "rp-secret", cfg.Providers.RunPodKey)
	require.Equal(t, 30, cfg.RunPod.MaxPollAttempts)
	require.Equal(t, 2*time.Second, cfg.RunPod.PollInterval)
	require.Equal(t, "https://api.runpod.ai/v2", cfg.RunPod.BaseURL)
	require.Equal(t, 24*time.Hour, cfg.Cache.IdempotencyTTL)
	require.Equal(t, time.Hour, cfg.Files.SweepInterval)
	require.Equal(t, time.Second, cfg.Redis.CommandTimeout)
	require.Equal(t, 1, cfg.Redis.MaxRetries)

	require.Len(t, cfg.ModelCatalog, 2)
	qwen := cfg.ModelCatalog[0]
	require.Equal(t, 100, qwen.Weight)
	require.Equal(t, "USD", qwen.Currency)
	require.Equal(t, "https://api.runpod.ai/v2/qwen-image-t2i", qwen.RunPodEndpoint(cfg.RunPod.BaseURL))
	require.EqualValues(t, 30, qwen.Options["num_inference_steps"])

	kling := cfg.ModelCatalog[1]
	require.Equal(t, "runpod", kling.Provider)
	require.Equal(t, "kling", kling.Family)
	require.NotNil(t, kling.RunPod)
	require.Equal(t, 240, kling.RunPod.MaxPollAttempts)
	require.Equal(t, 10*time.Second, kling.RunPod.PollInterval)
	require.Equal(t, "https://api.runpod.ai/v2/kling-v2-1/runsync", kling.RunPodEndpoint(cfg.RunPod.BaseURL))
}

func TestValidateRejectsRunPodEntryWithoutEndpoint(t *testing.T) {
	cfg := &Config{
		RunPod: RunPodConfig{MaxPollAttempts: 10, PollInterval: time.Second},
		Files:  FilesConfig{MaxSizeMB: 10},
		ModelCatalog: []ModelCatalogEntry{
			{Alias: "flux", Provider: "runpod", ProviderModel: "flux-1-dev"},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "endpoint")
}

func TestValidateFilesStorage(t *testing.T) {
	cfg := &Config{
		RunPod: RunPodConfig{MaxPollAttempts: 10, PollInterval: time.Second},
		Files:  FilesConfig{MaxSizeMB: 10, Storage: "s3"},
	}
	require.Error(t, cfg.Validate())

	cfg.Files.S3.Bucket = "media"
	require.NoError(t, cfg.Validate())

	cfg.Files.Storage = "ftp"
	require.Error(t, cfg.Validate())
}

func TestNotificationsConfig(t *testing.T) {
	cfg, err := Load(Options{ConfigFile: writeConfig(t, sampleConfig), EnvFile: filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)
	require.False(t, cfg.Notifications.Log)
	require.Equal(t, 5*time.Second, cfg.Notifications.Timeout)
	require.Equal(t, 3, cfg.Notifications.MaxRetries)
	require.Empty(t, cfg.Notifications.Webhooks)

	cfg.Notifications.Webhooks = []string{" https://hooks.example.com/jobs ", ""}
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"https://hooks.example.com/jobs"}, cfg.Notifications.Webhooks)

	cfg.Notifications.MaxRetries = -1
	require.Error(t, cfg.Validate())
}
