package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPriceCost(t *testing.T) {
	price := NewPrice(0.00031, "")
	require.Equal(t, "USD", price.Currency)

	cost := price.Cost(10342 * time.Millisecond)
	require.Equal(t, "0.00320602", cost.String())
	require.EqualValues(t, 3206, ToMicros(cost))

	require.True(t, price.Cost(0).IsZero())
	require.True(t, NewPrice(0, "USD").Cost(time.Minute).IsZero())
}

func TestNormalizeProviderSlug(t *testing.T) {
	require.Equal(t, "runpod-openai", NormalizeProviderSlug(" RunPod_OpenAI "))
	require.Equal(t, "runpod", NormalizeProviderSlug("runpod-serverless"))
	require.Equal(t, "runpod", NormalizeProviderSlug("RUNPOD_SERVERLESS"))
	require.Equal(t, "openai-compatible", NormalizeProviderSlug("openai_compatible"))
	require.Equal(t, "", NormalizeProviderSlug("  "))
}
