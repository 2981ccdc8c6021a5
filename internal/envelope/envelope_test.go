package envelope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainLayerEmpty(t *testing.T) {
	assert.True(t, DomainLayer{}.Empty())
	assert.False(t, DomainLayer{RepoPath: "/srv/app"}.Empty())
	assert.False(t, DomainLayer{Components: map[string]string{"api": "x"}}.Empty())
}

func TestHardRuleByID(t *testing.T) {
	layer := RulesLayer{
		HardWalls: []HardRule{
			{ID: "hard.a", Kind: HardForbidAction},
			{ID: "hard.b", Kind: HardResponseTokenCap, MaxTokens: 4000},
		},
	}

	rule, ok := layer.HardRuleByID("hard.b")
	require.True(t, ok)
	assert.Equal(t, 4000, rule.MaxTokens)

	_, ok = layer.HardRuleByID("hard.missing")
	assert.False(t, ok)
}

func TestInputLayersOrder(t *testing.T) {
	assert.Equal(t, []string{LayerRules, LayerIntent, LayerUser, LayerDomain, LayerEnvironment}, InputLayers())
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Layer: LayerDomain, Timeout: 10 * time.Second}
	assert.Contains(t, err.Error(), "domain")
	assert.Contains(t, err.Error(), "10s")
}

func TestComplianceErrorCarriesRuleIdentity(t *testing.T) {
	err := &ComplianceError{RuleID: "hard.no_live_exec", Severity: "blocking", Action: "execute_live_code"}
	assert.Contains(t, err.Error(), "hard.no_live_exec")
	assert.Contains(t, err.Error(), "blocking")
	assert.Contains(t, err.Error(), "execute_live_code")
}

func TestBuildErrorUnwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &BuildError{Causes: map[string]error{
		LayerUser:   cause,
		LayerIntent: errors.New("classifier down"),
	}}

	assert.Contains(t, err.Error(), "2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
