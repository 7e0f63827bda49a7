package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ncecere/open_media_gateway/backend/internal/catalog"
)

// Config captures the runtime configuration for the media gateway.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Providers     ProviderConfig      `mapstructure:"providers"`
	RunPod        RunPodConfig        `mapstructure:"runpod"`
	Files         FilesConfig         `mapstructure:"files"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Health        HealthConfig        `mapstructure:"health"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	ModelCatalog  []ModelCatalogEntry `mapstructure:"model_catalog"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	SyncTimeout           time.Duration `mapstructure:"sync_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
	// APIKeys are the bearer tokens accepted on /v1. Empty disables auth.
	APIKeys []string `mapstructure:"api_keys"`
}

type RedisConfig struct {
	URL            string        `mapstructure:"url"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// Enabled reports whether a Redis URL was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type RateLimitConfig struct {
	DefaultRequestsPerMinute int `mapstructure:"default_requests_per_minute"`
	DefaultParallelRequests  int `mapstructure:"default_parallel_requests"`
}

type ProviderConfig struct {
	RunPodKey string `mapstructure:"runpod_key"`
	OpenAIKey string `mapstructure:"openai_key"`
}

// RunPodConfig holds the job client defaults shared by every RunPod route.
type RunPodConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxDownloadMB   int           `mapstructure:"max_download_mb"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

type FilesConfig struct {
	Storage       string           `mapstructure:"storage"`
	MaxSizeMB     int              `mapstructure:"max_size_mb"`
	DefaultTTL    time.Duration    `mapstructure:"default_ttl"`
	SweepInterval time.Duration    `mapstructure:"sweep_interval"`
	EncryptionKey string           `mapstructure:"encryption_key"`
	S3            FilesS3Config    `mapstructure:"s3"`
	Local         FilesLocalConfig `mapstructure:"local"`
}

type FilesS3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	// Static keys for S3-compatible stores; empty uses the default AWS chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

type FilesLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

type AudioConfig struct {
	MaxUploadMB int `mapstructure:"max_upload_mb"`
}

type CacheConfig struct {
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type ModelCatalogEntry struct {
	Alias         string   `mapstructure:"alias"`
	Provider      string   `mapstructure:"provider"`
	ProviderModel string   `mapstructure:"provider_model"`
	Modalities    []string `mapstructure:"modalities"`
	Enabled       *bool    `mapstructure:"enabled"`
	// Endpoint is the full RunPod endpoint URL (optionally ending in /run or
	// /runsync). EndpointID is joined to runpod.base_url when Endpoint is empty.
	Endpoint        string            `mapstructure:"endpoint"`
	EndpointID      string            `mapstructure:"endpoint_id"`
	VariantEndpoint string            `mapstructure:"variant_endpoint"`
	Family          string            `mapstructure:"family"`
	Options         map[string]any    `mapstructure:"options"`
	APIKey          string            `mapstructure:"api_key"`
	Weight          int               `mapstructure:"weight"`
	Metadata        map[string]string `mapstructure:"metadata"`
	ProviderOverrides `mapstructure:",squash"`
	PricePerSecond    float64 `mapstructure:"price_per_second"`
	Currency          string  `mapstructure:"currency"`
}

func (e ModelCatalogEntry) IsEnabled() bool {
	if e.Enabled == nil {
		return true
	}
	return *e.Enabled
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	RollingWindow int           `mapstructure:"rolling_window"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
}

// NotificationsConfig controls job completion events.
type NotificationsConfig struct {
	Log        bool          `mapstructure:"log"`
	Webhooks   []string      `mapstructure:"webhooks"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("ROUTER_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		v.SetConfigName("router")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		timeStringToDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.RateLimits.DefaultRequestsPerMinute < 0 {
		return fmt.Errorf("rate_limits.default_requests_per_minute must be >= 0")
	}
	if c.RateLimits.DefaultParallelRequests < 0 {
		return fmt.Errorf("rate_limits.default_parallel_requests must be >= 0")
	}
	c.Server.APIKeys = normalizeStringSlice(c.Server.APIKeys)
	c.Notifications.Webhooks = normalizeStringSlice(c.Notifications.Webhooks)
	if c.Notifications.MaxRetries < 0 {
		return fmt.Errorf("notifications.max_retries must be >= 0")
	}

	if err := c.RunPod.validate(); err != nil {
		return err
	}
	if err := c.Files.validate(); err != nil {
		return err
	}
	if err := c.Audio.validate(); err != nil {
		return err
	}
	if c.Cache.IdempotencyTTL <= 0 {
		c.Cache.IdempotencyTTL = 24 * time.Hour
	}

	for i := range c.ModelCatalog {
		if err := c.validateEntry(i); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateEntry(i int) error {
	entry := &c.ModelCatalog[i]
	entry.Alias = strings.TrimSpace(entry.Alias)
	entry.Provider = catalog.NormalizeProviderSlug(entry.Provider)
	if entry.Alias == "" {
		return fmt.Errorf("model_catalog[%d].alias must be provided", i)
	}
	if entry.Provider == "" {
		return fmt.Errorf("model_catalog[%d].provider must be provided", i)
	}
	if strings.TrimSpace(entry.ProviderModel) == "" {
		return fmt.Errorf("model_catalog[%d].provider_model must be provided", i)
	}
	if entry.Weight == 0 {
		entry.Weight = 100
	}
	if entry.Weight < 0 {
		return fmt.Errorf("model_catalog[%d].weight must be >= 0", i)
	}
	if entry.PricePerSecond < 0 {
		return fmt.Errorf("model_catalog[%d].price_per_second must be >= 0", i)
	}
	if entry.Currency == "" {
		entry.Currency = "USD"
	}
	entry.Modalities = normalizeStringSlice(entry.Modalities)
	if strings.HasPrefix(entry.Provider, "runpod") {
		if entry.RunPodEndpoint(c.RunPod.BaseURL) == "" {
			return fmt.Errorf("model_catalog[%d] (%s) requires endpoint or endpoint_id", i, entry.Alias)
		}
	}
	return nil
}

// RunPodEndpoint resolves the entry's endpoint URL against the RunPod base URL.
func (e ModelCatalogEntry) RunPodEndpoint(baseURL string) string {
	if ep := strings.TrimSpace(e.Endpoint); ep != "" {
		return ep
	}
	id := strings.TrimSpace(e.EndpointID)
	if e.RunPod != nil && strings.TrimSpace(e.RunPod.EndpointID) != "" {
		id = strings.TrimSpace(e.RunPod.EndpointID)
	}
	if id == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/" + id
}

func (r *RunPodConfig) validate() error {
	r.BaseURL = strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if r.BaseURL == "" {
		r.BaseURL = "https://api.runpod.ai/v2"
	}
	if r.MaxPollAttempts <= 0 {
		return fmt.Errorf("runpod.max_poll_attempts must be > 0")
	}
	if r.PollInterval <= 0 {
		return fmt.Errorf("runpod.poll_interval must be > 0")
	}
	if r.MaxDownloadMB <= 0 {
		r.MaxDownloadMB = 200
	}
	if r.RequestTimeout <= 0 {
		r.RequestTimeout = 60 * time.Second
	}
	return nil
}

func (f *FilesConfig) validate() error {
	if f.MaxSizeMB <= 0 {
		return fmt.Errorf("files.max_size_mb must be > 0")
	}
	if f.DefaultTTL <= 0 {
		f.DefaultTTL = 168 * time.Hour
	}
	storage := strings.ToLower(strings.TrimSpace(f.Storage))
	if storage == "" {
		storage = "local"
	}
	switch storage {
	case "local", "s3":
	default:
		return fmt.Errorf("files.storage must be local or s3")
	}
	if storage == "s3" && strings.TrimSpace(f.S3.Bucket) == "" {
		return fmt.Errorf("files.s3.bucket must be provided when files.storage is s3")
	}
	f.Storage = storage
	return nil
}

func (a *AudioConfig) validate() error {
	if a.MaxUploadMB <= 0 {
		a.MaxUploadMB = 50
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 50)
	v.SetDefault("server.sync_timeout", "600s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("rate_limits.default_requests_per_minute", 600)
	v.SetDefault("rate_limits.default_parallel_requests", 20)

	v.SetDefault("runpod.base_url", "https://api.runpod.ai/v2")
	v.SetDefault("runpod.max_poll_attempts", 120)
	v.SetDefault("runpod.poll_interval", "5s")
	v.SetDefault("runpod.max_download_mb", 200)
	v.SetDefault("runpod.request_timeout", "60s")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("health.check_interval", "60s")
	v.SetDefault("health.rolling_window", 5)
	v.SetDefault("health.cooldown", "5m")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.command_timeout", "1s")
	v.SetDefault("redis.max_retries", 1)

	v.SetDefault("files.storage", "local")
	v.SetDefault("files.max_size_mb", 200)
	v.SetDefault("files.default_ttl", "168h")
	v.SetDefault("files.sweep_interval", "1h")
	v.SetDefault("files.local.directory", "./data/files")

	v.SetDefault("audio.max_upload_mb", 50)

	v.SetDefault("cache.idempotency_ttl", "24h")

	v.SetDefault("notifications.log", false)
	v.SetDefault("notifications.timeout", "5s")
	v.SetDefault("notifications.max_retries", 3)
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Second, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
