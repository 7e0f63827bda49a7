package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

// New builds the client backing rate limits and idempotency keys. It returns
// nil without error when no URL is configured.
func New(cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	opts, err := parseURL(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, err
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.CommandTimeout > 0 {
		opts.ReadTimeout = cfg.CommandTimeout
		opts.WriteTimeout = cfg.CommandTimeout
	}
	if cfg.MaxRetries != 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	client := redis.NewClient(opts)
	client.AddHook(handshakeFilter{})
	return client, nil
}

// parseURL accepts redis:// and rediss:// URLs, plus bare socket paths.
func parseURL(raw string) (*redis.Options, error) {
	if strings.HasPrefix(raw, "/") {
		return &redis.Options{Network: "unix", Addr: raw}, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("redis.url: %w", err)
	}
	return opts, nil
}

// Ping verifies connectivity within timeout. A nil client is not an error.
func Ping(ctx context.Context, client *redis.Client, timeout time.Duration) error {
	if client == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// handshakeFilter drops the CLIENT MAINT_NOTIFICATIONS call newer clients
// send on connect, which servers without that subcommand reject.
type handshakeFilter struct{}

func (handshakeFilter) DialHook(next redis.DialHook) redis.DialHook { return next }

func (handshakeFilter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if isMaintHandshake(cmd) {
			return nil
		}
		return next(ctx, cmd)
	}
}

func (handshakeFilter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		kept := make([]redis.Cmder, 0, len(cmds))
		for _, cmd := range cmds {
			if !isMaintHandshake(cmd) {
				kept = append(kept, cmd)
			}
		}
		return next(ctx, kept)
	}
}

func isMaintHandshake(cmd redis.Cmder) bool {
	args := cmd.Args()
	if len(args) < 2 || !strings.EqualFold(cmd.Name(), "client") {
		return false
	}
	sub, ok := args[1].(string)
	return ok && strings.EqualFold(sub, "maint_notifications")
}
