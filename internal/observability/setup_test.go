package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_media_gateway/backend/internal/config"
)

func TestSetupDisabledReturnsNil(t *testing.T) {
	provider, err := Setup(context.Background(), config.ObservabilityConfig{})
	require.NoError(t, err)
	require.Nil(t, provider)

	// nil providers are safe to record against
	provider.RecordJob(JobOutcome{Model: "m"})
	provider.RecordHTTPRequest(context.Background(), "GET", "/", 200, time.Millisecond)
	require.Nil(t, provider.PrometheusHandler())
}

func TestRecordJobExposesMetrics(t *testing.T) {
	provider, err := Setup(context.Background(), config.ObservabilityConfig{EnableMetrics: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	provider.RecordJob(JobOutcome{
		Model:     "qwen-image",
		Provider:  "runpod",
		Family:    "qwen-image",
		Modality:  "image",
		Latency:   12 * time.Second,
		Execution: 10 * time.Second,
		CostUSD:   0.0031,
		Warnings:  1,
	})
	provider.RecordJob(JobOutcome{Model: "kling", Provider: "runpod", Family: "kling", Modality: "video", Result: "timeout", Latency: time.Minute})

	rec := httptest.NewRecorder()
	provider.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	require.Contains(t, text, `open_media_gateway_jobs_total{family="qwen-image",modality="image",model="qwen-image",provider="runpod",result="ok"} 1`)
	require.Contains(t, text, `result="timeout"`)
	require.Contains(t, text, `open_media_gateway_gpu_execution_seconds_total{family="qwen-image",model="qwen-image",provider="runpod"} 10`)
	require.Contains(t, text, "open_media_gateway_job_warnings_total")
}
