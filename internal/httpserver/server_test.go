package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_media_gateway/backend/internal/app"
	"github.com/ncecere/open_media_gateway/backend/internal/config"
	"github.com/ncecere/open_media_gateway/backend/internal/health"
	"github.com/ncecere/open_media_gateway/backend/internal/providers"
	"github.com/ncecere/open_media_gateway/backend/internal/router"
)

type healthBody struct {
	Status    string                    `json:"status"`
	Checks    map[string]map[string]any `json:"checks"`
	Endpoints []health.RouteStatus      `json:"endpoints"`
}

func newTestServer(t *testing.T, check func(context.Context) error) (*Server, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		Server:       config.ServerConfig{BodyLimitMB: 1},
		ModelCatalog: []config.ModelCatalogEntry{{Alias: "wan", Provider: "stub-health", ProviderModel: "wan-2.2", Endpoint: "https://api.runpod.ai/v2/wan"}},
	}
	factory := providers.NewFactory(cfg)
	factory.Register("stub-health", func(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (providers.Route, error) {
		return providers.Route{Alias: entry.Alias, Provider: entry.Provider, Endpoint: entry.Endpoint, Health: check}, nil
	})
	engine := router.NewEngine()
	require.NoError(t, engine.Reload(context.Background(), factory))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	monitor := health.NewMonitor(engine, cfg.Health)
	monitor.Start(ctx, engine.ListAliases)
	monitor.CheckNow(context.Background())

	srv, err := New(&app.Container{Config: cfg, Redis: client, Engine: engine, HealthMon: monitor})
	require.NoError(t, err)
	return srv, mr
}

func getHealth(t *testing.T, srv *Server) healthBody {
	t.Helper()
	// The handler bounds the Redis ping itself; wait for it rather than
	// fiber's default one second test timeout.
	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()
	var body healthBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthzReportsOK(t *testing.T) {
	srv, _ := newTestServer(t, func(context.Context) error { return nil })

	body := getHealth(t, srv)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "ok", body.Checks["redis"]["status"])
	require.Len(t, body.Endpoints, 1)
	require.True(t, body.Endpoints[0].Healthy)
	require.Equal(t, "wan", body.Endpoints[0].Alias)
}

func TestHealthzDegradesOnUnhealthyEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, func(context.Context) error { return errors.New("status 503") })

	body := getHealth(t, srv)
	require.Equal(t, "degraded", body.Status)
	require.False(t, body.Endpoints[0].Healthy)
	require.Equal(t, "status 503", body.Endpoints[0].Error)
}

func TestHealthzDegradesWhenRedisDown(t *testing.T) {
	srv, mr := newTestServer(t, func(context.Context) error { return nil })
	mr.Close()

	body := getHealth(t, srv)
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "error", body.Checks["redis"]["status"])
}

func TestPublicRoutesMounted(t *testing.T) {
	srv, _ := newTestServer(t, func(context.Context) error { return nil })

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
