package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_media_gateway/backend/internal/adapters/runpod"
	"github.com/ncecere/open_media_gateway/backend/internal/models"
	"github.com/ncecere/open_media_gateway/backend/internal/providers"
)

type stubVideo struct{}

func (stubVideo) GenerateVideo(context.Context, models.VideoRequest) (*models.VideoResponse, error) {
	return &models.VideoResponse{}, nil
}

func TestEngineSelectRoutesSkipsOpenCircuits(t *testing.T) {
	engine := NewEngine()
	alias := "qwen-image"
	healthy := providers.Route{Alias: alias, Provider: "runpod", Endpoint: "https://api.runpod.ai/v2/a", Weight: 1}
	unhealthy := providers.Route{Alias: alias, Provider: "runpod", Endpoint: "https://api.runpod.ai/v2/b", Weight: 1}

	engine.routes[alias] = []providers.Route{healthy, unhealthy}
	engine.state[routeKey(alias, healthy)] = &routeState{}
	engine.state[routeKey(alias, unhealthy)] = &routeState{openUntil: time.Now().Add(time.Minute)}

	selected := engine.SelectRoutes(alias)
	require.Len(t, selected, 1)
	require.Equal(t, healthy.Endpoint, selected[0].Endpoint)
}

func TestEngineSelectRoutesForModality(t *testing.T) {
	engine := NewEngine()
	alias := "wan"
	video := providers.Route{Alias: alias, Provider: "runpod", Endpoint: "v", Video: stubVideo{}}
	chatOnly := providers.Route{Alias: alias, Provider: "runpod-openai", Endpoint: "c"}
	engine.routes[alias] = []providers.Route{chatOnly, video}

	selected := engine.SelectRoutesFor(alias, providers.ModalityVideo)
	require.Len(t, selected, 1)
	require.Equal(t, "v", selected[0].Endpoint)
	require.Empty(t, engine.SelectRoutesFor(alias, providers.ModalitySpeech))
	require.True(t, engine.Known(alias))
	require.False(t, engine.Known("missing"))
	require.True(t, engine.Serves(alias, providers.ModalityVideo))
	require.False(t, engine.Serves(alias, providers.ModalitySpeech))
}

func TestEngineCircuitBreakerTransitions(t *testing.T) {
	engine := NewEngine()
	alias := "flux"
	route := providers.Route{Alias: alias, Provider: "runpod", Endpoint: "e1"}

	for i := 0; i < failureThreshold; i++ {
		engine.ReportFailure(alias, route)
	}
	st := engine.state[routeKey(alias, route)]
	require.NotNil(t, st)
	require.Equal(t, failureThreshold, st.consecutiveFailures)
	require.True(t, st.openUntil.After(time.Now()))

	engine.ReportSuccess(alias, route)
	require.Zero(t, st.consecutiveFailures)
	require.True(t, st.openUntil.IsZero())
}

func TestEngineReportResultIgnoresCallerErrors(t *testing.T) {
	engine := NewEngine()
	alias := "kling"
	route := providers.Route{Alias: alias, Provider: "runpod", Endpoint: "k"}

	invalid := &runpod.Error{Kind: runpod.KindInvalidArgument, Message: "unsupported duration"}
	cancelled := fmt.Errorf("wrapped: %w", &runpod.Error{Kind: runpod.KindCancelled, Message: "cancelled"})
	for i := 0; i < failureThreshold+1; i++ {
		engine.ReportResult(alias, route, invalid)
		engine.ReportResult(alias, route, cancelled)
		engine.ReportResult(alias, route, context.Canceled)
	}
	require.Nil(t, engine.state[routeKey(alias, route)])

	timeout := &runpod.Error{Kind: runpod.KindTimeout, Message: "timed out"}
	for i := 0; i < failureThreshold; i++ {
		engine.ReportResult(alias, route, timeout)
	}
	require.Empty(t, engine.SelectRoutes(alias))
}

func TestFailover(t *testing.T) {
	require.True(t, Failover(&runpod.Error{Kind: runpod.KindSubmission}))
	require.True(t, Failover(&runpod.Error{Kind: runpod.KindJobFailed, JobID: "job-1"}))
	require.True(t, Failover(&runpod.Error{Kind: runpod.KindDownload, JobID: "job-1"}))
	require.False(t, Failover(&runpod.Error{Kind: runpod.KindTimeout, JobID: "job-1"}))
	require.False(t, Failover(&runpod.Error{Kind: runpod.KindSubmission, JobID: "job-1", StatusCode: 502}))
	require.True(t, Failover(errors.New("dial tcp: connection refused")))
	require.False(t, Failover(&runpod.Error{Kind: runpod.KindInvalidArgument}))
	require.False(t, Failover(&runpod.Error{Kind: runpod.KindCancelled}))
	require.False(t, Failover(context.Canceled))
}
