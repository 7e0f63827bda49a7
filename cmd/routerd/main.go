package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ncecere/open_media_gateway/backend/internal/app"
	"github.com/ncecere/open_media_gateway/backend/internal/config"
	"github.com/ncecere/open_media_gateway/backend/internal/httpserver"
	"github.com/ncecere/open_media_gateway/backend/internal/redisclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	redisClient, err := redisclient.New(cfg.Redis)
	if err != nil {
		log.Fatalf("configure redis: %v", err)
	}
	if err := redisclient.Ping(ctx, redisClient, 3*time.Second); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		slog.Warn("redis not configured; rate limits and idempotency keys are disabled")
	}

	container, err := app.NewContainer(ctx, cfg, redisClient)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}
	if container.Observability != nil {
		defer container.Observability.Shutdown(context.WithoutCancel(ctx))
	}

	slog.Info("media gateway starting",
		slog.String("listen_addr", cfg.Server.ListenAddr),
		slog.Int("models", len(container.Engine.ListAliases())),
		slog.Bool("auth", container.AuthEnabled()),
		slog.String("files", cfg.Files.Storage),
	)

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	if err := server.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server stopped: %v", err)
	}
}
