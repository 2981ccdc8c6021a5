package layers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsulting/orchestra/internal/envelope"
)

func TestEnvironmentBuilderDefaults(t *testing.T) {
	b := NewEnvironmentBuilder("development", "local-preferred", nil)

	layer, err := b.Build(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, "development", layer.Environment)
	assert.Equal(t, "local-preferred", layer.RoutingMode)
	assert.Equal(t, "dev", layer.DeploymentVersion)
	assert.Equal(t, 60, layer.RateLimits["requests_per_minute"])
	assert.Zero(t, layer.SystemLoad)
}

func TestEnvironmentBuilderEnvVars(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("MODEL_ROUTING_MODE", "cloud-preferred")
	t.Setenv("DEPLOYMENT_VERSION", "v2.3.1")

	b := NewEnvironmentBuilder("development", "local-preferred", nil)
	layer, err := b.Build(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, "staging", layer.Environment)
	assert.Equal(t, "cloud-preferred", layer.RoutingMode)
	assert.Equal(t, "v2.3.1", layer.DeploymentVersion)
}

func TestEnvironmentBuilderFeatureFlags(t *testing.T) {
	t.Setenv("FEATURE_MULTI_TENANCY", "true")
	t.Setenv("FEATURE_DARK_MODE", "off")

	b := NewEnvironmentBuilder("development", "local-preferred", nil)
	layer, err := b.Build(context.Background(), Request{})
	require.NoError(t, err)

	assert.True(t, layer.FeatureFlags["multi_tenancy"])
	assert.False(t, layer.FeatureFlags["dark_mode"])
}

func TestEnvironmentBuilderProbe(t *testing.T) {
	b := NewEnvironmentBuilder("production", "local-preferred", &mockProbe{load: 0.72, sessions: 14})

	layer, err := b.Build(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, 0.72, layer.SystemLoad)
	assert.Equal(t, 14, layer.ActiveSessions)
}

func TestEnvironmentDegradedIsConservative(t *testing.T) {
	layer := NewEnvironmentBuilder("development", "local-preferred", nil).Degraded()

	assert.Equal(t, "production", layer.Environment)
	assert.Equal(t, 1.0, layer.SystemLoad)
}

func TestRequestLimiter(t *testing.T) {
	layer := NewEnvironmentBuilder("development", "local-preferred", nil).Degraded()
	limiter := RequestLimiter(layer)

	// 30 rpm degrades to 0.5 requests per second.
	assert.Equal(t, 30, RequestsPerMinute(layer))
	assert.InDelta(t, 0.5, float64(limiter.Limit()), 0.001)
	assert.True(t, limiter.Allow())

	// An empty snapshot falls back to the stock budget.
	assert.Equal(t, 60, RequestsPerMinute(envelope.EnvironmentLayer{}))
}

func TestEnvironmentRespectsCancelledContext(t *testing.T) {
	b := NewEnvironmentBuilder("development", "local-preferred", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
