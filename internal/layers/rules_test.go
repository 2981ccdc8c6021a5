package layers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsulting/orchestra/internal/envelope"
)

func TestRulesBuilderDefaults(t *testing.T) {
	b := NewRulesBuilder(nil)

	layer, err := b.Build(context.Background(), Claims{Subject: "alice"})
	require.NoError(t, err)

	noExec, ok := layer.HardRuleByID(RuleNoLiveExec)
	require.True(t, ok)
	assert.Equal(t, envelope.HardForbidAction, noExec.Kind)
	assert.Contains(t, noExec.Actions, "execute_live_code")

	allowlist, ok := layer.HardRuleByID(RuleProviderAllowlist)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"anthropic", "openai", "ollama"}, allowlist.Providers)

	cap, ok := layer.HardRuleByID(RuleResponseTokenCap)
	require.True(t, ok)
	assert.Equal(t, 4000, cap.MaxTokens)

	assert.NotEmpty(t, layer.SoftWalls)
	assert.False(t, layer.TenantPoliciesApplied)
}

func TestRulesBuilderTenantOverlay(t *testing.T) {
	policies := &mockPolicies{
		hard: []envelope.HardRule{
			// Replaces the default allowlist.
			{ID: RuleProviderAllowlist, Kind: envelope.HardProviderAllowlist, Providers: []string{"anthropic"}},
			// New tenant-specific rule.
			{ID: "hard.acme_no_deletes", Kind: envelope.HardForbidAction, Actions: []string{"delete_records"}},
		},
		soft: []envelope.SoftRule{
			{ID: "soft.tone", Key: "tone", Value: "formal", Weight: 0.8},
		},
	}
	b := NewRulesBuilder(policies)

	layer, err := b.Build(context.Background(), Claims{Subject: "alice", TenantID: "acme"})
	require.NoError(t, err)

	assert.True(t, layer.TenantPoliciesApplied)

	allowlist, ok := layer.HardRuleByID(RuleProviderAllowlist)
	require.True(t, ok)
	assert.Equal(t, []string{"anthropic"}, allowlist.Providers)

	_, ok = layer.HardRuleByID("hard.acme_no_deletes")
	assert.True(t, ok)

	// Default hard walls the tenant did not touch survive.
	_, ok = layer.HardRuleByID(RuleNoLiveExec)
	assert.True(t, ok)
}

func TestRulesBuilderPolicyFailureDegradesToDefaults(t *testing.T) {
	b := NewRulesBuilder(&mockPolicies{err: errUnavailable})

	layer, err := b.Build(context.Background(), Claims{Subject: "alice", TenantID: "acme"})
	require.NoError(t, err)

	// Failure must not weaken the rule set.
	assert.Len(t, layer.HardWalls, len(defaultHardWalls()))
	assert.False(t, layer.TenantPoliciesApplied)
}

func TestRulesBuilderNoTenantSkipsPolicies(t *testing.T) {
	b := NewRulesBuilder(&mockPolicies{
		hard: []envelope.HardRule{{ID: "hard.should_not_apply"}},
	})

	layer, err := b.Build(context.Background(), Claims{Subject: "alice"})
	require.NoError(t, err)

	_, ok := layer.HardRuleByID("hard.should_not_apply")
	assert.False(t, ok)
}

func TestRulesDegradedKeepsHardWalls(t *testing.T) {
	layer := NewRulesBuilder(nil).Degraded()

	assert.Len(t, layer.HardWalls, len(defaultHardWalls()))
	_, ok := layer.HardRuleByID(RuleNoSecurityBypass)
	assert.True(t, ok)
}
