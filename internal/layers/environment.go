package layers

import (
	"context"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// EnvironmentBuilder constructs the environment layer from process
// environment variables and a load probe.
type EnvironmentBuilder struct {
	defaultEnv  string
	defaultMode string
	probe       LoadProbe
}

// NewEnvironmentBuilder returns an environment layer builder. probe may be
// nil; load then reads as zero.
func NewEnvironmentBuilder(defaultEnv, defaultMode string, probe LoadProbe) *EnvironmentBuilder {
	return &EnvironmentBuilder{
		defaultEnv:  defaultEnv,
		defaultMode: defaultMode,
		probe:       probe,
	}
}

// Build reads deployment state once. The layer is a snapshot: later env var
// changes do not affect an already built envelope.
func (b *EnvironmentBuilder) Build(ctx context.Context, req Request) (envelope.EnvironmentLayer, error) {
	if err := ctx.Err(); err != nil {
		return envelope.EnvironmentLayer{}, err
	}

	layer := envelope.EnvironmentLayer{
		Environment:       readEnv("ENVIRONMENT", b.defaultEnv),
		RoutingMode:       readEnv("MODEL_ROUTING_MODE", b.defaultMode),
		DeploymentVersion: readEnv("DEPLOYMENT_VERSION", "dev"),
		FeatureFlags:      readFeatureFlags(),
		RateLimits: map[string]int{
			"requests_per_minute": 60,
			"builds_per_minute":   30,
			"tokens_per_hour":     500000,
		},
	}

	if b.probe != nil {
		layer.SystemLoad, layer.ActiveSessions = b.probe.Load()
	}

	logging.BuilderDebug("environment layer: env=%s mode=%s load=%.2f",
		layer.Environment, layer.RoutingMode, layer.SystemLoad)
	return layer, nil
}

// Degraded returns a conservative fallback: production settings, full load.
// Unknown deployment state is treated as the most restrictive state.
func (b *EnvironmentBuilder) Degraded() envelope.EnvironmentLayer {
	return envelope.EnvironmentLayer{
		Environment: "production",
		RoutingMode: "local-preferred",
		SystemLoad:  1.0,
		RateLimits: map[string]int{
			"requests_per_minute": 30,
		},
	}
}

// RequestsPerMinute reads the layer's per-minute request budget, defaulting
// to 60 when the snapshot carries none.
func RequestsPerMinute(layer envelope.EnvironmentLayer) int {
	perMinute := layer.RateLimits["requests_per_minute"]
	if perMinute <= 0 {
		perMinute = 60
	}
	return perMinute
}

// RequestLimiter returns a token-bucket limiter sized from the layer's
// per-minute request budget.
func RequestLimiter(layer envelope.EnvironmentLayer) *rate.Limiter {
	perMinute := RequestsPerMinute(layer)
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute/6+1)
}

func readEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// readFeatureFlags collects FEATURE_* environment variables into a flag map,
// e.g. FEATURE_MULTI_TENANCY=true becomes multi_tenancy: true.
func readFeatureFlags() map[string]bool {
	flags := map[string]bool{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "FEATURE_") {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, "FEATURE_"))
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on", "enabled":
			flags[name] = true
		default:
			flags[name] = false
		}
	}
	return flags
}
