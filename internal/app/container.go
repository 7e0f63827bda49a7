package app

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_media_gateway/backend/internal/cache"
	"github.com/ncecere/open_media_gateway/backend/internal/config"
	"github.com/ncecere/open_media_gateway/backend/internal/health"
	"github.com/ncecere/open_media_gateway/backend/internal/limits"
	"github.com/ncecere/open_media_gateway/backend/internal/notify"
	"github.com/ncecere/open_media_gateway/backend/internal/observability"
	"github.com/ncecere/open_media_gateway/backend/internal/providers"
	"github.com/ncecere/open_media_gateway/backend/internal/requestctx"
	"github.com/ncecere/open_media_gateway/backend/internal/router"
	"github.com/ncecere/open_media_gateway/backend/internal/storage/blob"
)

// Container aggregates runtime dependencies for handlers and the executor.
type Container struct {
	Config          *config.Config
	Redis           *redis.Client
	Factory         *providers.Factory
	Engine          *router.Engine
	RateLimiter     *limits.RateLimiter
	DefaultKeyLimit limits.LimitConfig
	Idempotency     *cache.IdempotencyCache
	HealthMon       *health.Monitor
	Observability   *observability.Provider
	Media           *blob.MediaStore
	Notifier        notify.Sink
	Logger          *slog.Logger

	limitMu     sync.RWMutex
	aliasLimits map[string]limits.LimitConfig
	apiKeys     map[string][]byte
}

// NewContainer builds a dependency container. redisClient may be nil, which
// disables rate limiting and idempotent replay.
func NewContainer(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	factory := providers.NewFactory(cfg)
	engine := router.NewEngine()
	if err := engine.Reload(ctx, factory); err != nil {
		return nil, fmt.Errorf("init router engine: %w", err)
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	media, err := blob.New(ctx, cfg.Files)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	go media.RunJanitor(ctx, cfg.Files.SweepInterval, slog.Default().With("component", "media"))

	monitor := health.NewMonitor(engine, cfg.Health)
	monitor.Start(ctx, engine.ListAliases)

	claimTTL := idempotencyClaimTTL(cfg.RunPod)

	container := &Container{
		Config:      cfg,
		Redis:       redisClient,
		Factory:     factory,
		Engine:      engine,
		RateLimiter: limits.NewRateLimiter(redisClient),
		DefaultKeyLimit: limits.LimitConfig{
			RequestsPerMinute: cfg.RateLimits.DefaultRequestsPerMinute,
			ParallelRequests:  cfg.RateLimits.DefaultParallelRequests,
		},
		Idempotency:   cache.NewIdempotencyCache(redisClient, cfg.Cache.IdempotencyTTL, claimTTL),
		HealthMon:     monitor,
		Observability: obsProvider,
		Media:         media,
		Notifier:      notify.New(cfg.Notifications, slog.Default()),
		Logger:        slog.Default(),
	}
	container.SetAPIKeys(cfg.Server.APIKeys)
	container.loadAliasLimits(cfg.ModelCatalog)
	return container, nil
}

// ReloadRouter rebuilds provider routes from the current catalog.
func (c *Container) ReloadRouter(ctx context.Context) error {
	factory := providers.NewFactory(c.Config)
	if err := c.Engine.Reload(ctx, factory); err != nil {
		return err
	}
	c.Factory = factory
	c.loadAliasLimits(c.Config.ModelCatalog)
	return nil
}

// idempotencyClaimTTL covers the longest job the poll policy allows.
func idempotencyClaimTTL(cfg config.RunPodConfig) time.Duration {
	budget := time.Duration(cfg.MaxPollAttempts)*cfg.PollInterval + cfg.RequestTimeout
	if budget <= 0 {
		return 0
	}
	return budget
}

// SetAPIKeys replaces the accepted bearer tokens. An empty list disables auth.
func (c *Container) SetAPIKeys(keys []string) {
	set := make(map[string][]byte, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		sum := sha256.Sum256([]byte(key))
		set[keyID(sum)] = sum[:]
	}
	c.limitMu.Lock()
	c.apiKeys = set
	c.limitMu.Unlock()
}

// AuthEnabled reports whether callers must present an API key.
func (c *Container) AuthEnabled() bool {
	c.limitMu.RLock()
	defer c.limitMu.RUnlock()
	return len(c.apiKeys) > 0
}

// Authenticate resolves a bearer token into a request context.
func (c *Container) Authenticate(token string) (*requestctx.Context, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	sum := sha256.Sum256([]byte(token))
	id := keyID(sum)

	c.limitMu.RLock()
	want, ok := c.apiKeys[id]
	c.limitMu.RUnlock()
	if !ok || subtle.ConstantTimeCompare(want, sum[:]) != 1 {
		return nil, false
	}
	prefix := token
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &requestctx.Context{KeyID: id, APIKeyPrefix: prefix}, true
}

func keyID(sum [sha256.Size]byte) string {
	return hex.EncodeToString(sum[:6])
}

func (c *Container) loadAliasLimits(entries []config.ModelCatalogEntry) {
	out := make(map[string]limits.LimitConfig)
	for _, entry := range entries {
		cfg := limits.ParseLimits(entry.Metadata, limits.LimitConfig{})
		if cfg.RequestsPerMinute > 0 || cfg.ParallelRequests > 0 {
			out[entry.Alias] = cfg
		}
	}
	c.limitMu.Lock()
	c.aliasLimits = out
	c.limitMu.Unlock()
}

// AliasLimit returns the per-alias limit configured in catalog metadata.
func (c *Container) AliasLimit(alias string) limits.LimitConfig {
	c.limitMu.RLock()
	defer c.limitMu.RUnlock()
	return c.aliasLimits[alias]
}

// AcquireRateLimits takes the caller's key slot and the alias slot. The
// returned release is safe to call more than once.
func (c *Container) AcquireRateLimits(ctx context.Context, alias string) (func(), error) {
	keyStorage := "key:anonymous"
	if rc, ok := requestctx.FromContext(ctx); ok && rc != nil && rc.KeyID != "" {
		keyStorage = "key:" + rc.KeyID
	}
	aliasStorage := "alias:" + alias
	keyCfg := c.DefaultKeyLimit
	aliasCfg := c.AliasLimit(alias)

	keyAcquired := false
	if keyCfg.RequestsPerMinute > 0 || keyCfg.ParallelRequests > 0 {
		if err := c.RateLimiter.Allow(ctx, keyStorage, keyCfg); err != nil {
			return nil, err
		}
		keyAcquired = true
	}

	aliasAcquired := false
	if aliasCfg.RequestsPerMinute > 0 || aliasCfg.ParallelRequests > 0 {
		if err := c.RateLimiter.Allow(ctx, aliasStorage, aliasCfg); err != nil {
			if keyAcquired {
				c.RateLimiter.Release(context.WithoutCancel(ctx), keyStorage, keyCfg)
			}
			return nil, err
		}
		aliasAcquired = true
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// the request context may already be cancelled
			releaseCtx := context.WithoutCancel(ctx)
			if aliasAcquired {
				c.RateLimiter.Release(releaseCtx, aliasStorage, aliasCfg)
			}
			if keyAcquired {
				c.RateLimiter.Release(releaseCtx, keyStorage, keyCfg)
			}
		})
	}
	return release, nil
}
