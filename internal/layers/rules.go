package layers

import (
	"context"

	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// Default hard-wall rule IDs.
const (
	RuleNoLiveExec        = "hard.no_live_exec"
	RuleProdApproval      = "hard.prod_change_approval"
	RuleSensitiveData     = "hard.sensitive_data_auth"
	RuleNoSecurityBypass  = "hard.no_security_bypass"
	RuleProviderAllowlist = "hard.provider_allowlist"
	RuleResponseTokenCap  = "hard.response_token_cap"
	RuleComplianceLevel   = "hard.compliance_level"
)

// defaultHardWalls returns the baseline mandatory rules every tenant gets.
func defaultHardWalls() []envelope.HardRule {
	return []envelope.HardRule{
		{
			ID:          RuleNoLiveExec,
			Kind:        envelope.HardForbidAction,
			Description: "never execute code against live systems",
			Actions:     []string{"execute_live_code"},
		},
		{
			ID:          RuleProdApproval,
			Kind:        envelope.HardRequireApproval,
			Description: "production configuration changes require human approval",
			Actions:     []string{"change_prod_config", "deploy_to_production", "delete_production_data", "modify_security_settings"},
		},
		{
			ID:          RuleSensitiveData,
			Kind:        envelope.HardForbidAction,
			Description: "sensitive data access requires explicit authorization",
			Actions:     []string{"access_sensitive_data_without_authorization"},
		},
		{
			ID:          RuleNoSecurityBypass,
			Kind:        envelope.HardForbidAction,
			Description: "security controls are never bypassed",
			Actions:     []string{"bypass_security_controls"},
		},
		{
			ID:          RuleProviderAllowlist,
			Kind:        envelope.HardProviderAllowlist,
			Description: "model calls only go to vetted providers",
			Providers:   []string{"anthropic", "openai", "ollama"},
		},
		{
			ID:          RuleResponseTokenCap,
			Kind:        envelope.HardResponseTokenCap,
			Description: "responses never exceed the per-response token cap",
			MaxTokens:   4000,
		},
		{
			ID:          RuleComplianceLevel,
			Kind:        envelope.HardComplianceLevel,
			Description: "client work requires compliance-approved models",
			Level:       "standard",
		},
	}
}

// defaultSoftWalls returns baseline advisory style rules.
func defaultSoftWalls() []envelope.SoftRule {
	return []envelope.SoftRule{
		{ID: "soft.brand_voice", Key: "brand_voice", Value: "pragmatic, consulting-grade, no hype", Weight: 0.4},
		{ID: "soft.tone", Key: "tone", Value: "professional but approachable", Weight: 0.5},
		{ID: "soft.code_style", Key: "code_style", Value: "idiomatic for the target language, commented where non-obvious", Weight: 0.6},
		{ID: "soft.next_steps", Key: "response_format", Value: "end substantive answers with concrete next steps", Weight: 0.7},
	}
}

// RulesBuilder constructs the rules layer: defaults plus per-tenant policy
// overlays.
type RulesBuilder struct {
	policies PolicyStore
}

// NewRulesBuilder returns a rules layer builder. policies may be nil for
// single-tenant deployments.
func NewRulesBuilder(policies PolicyStore) *RulesBuilder {
	return &RulesBuilder{policies: policies}
}

// Build assembles hard and soft walls. Tenant policies are merged over
// defaults: a tenant hard rule with a matching ID replaces the default, new
// IDs append. A failing policy store degrades to defaults, never to an empty
// rule set.
func (b *RulesBuilder) Build(ctx context.Context, claims Claims) (envelope.RulesLayer, error) {
	layer := envelope.RulesLayer{
		HardWalls: defaultHardWalls(),
		SoftWalls: defaultSoftWalls(),
	}

	if b.policies == nil || claims.TenantID == "" {
		return layer, nil
	}

	hard, soft, err := b.policies.TenantPolicies(ctx, claims.TenantID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return envelope.RulesLayer{}, ctxErr
		}
		logging.BuilderWarn("tenant policy lookup failed for %s, using defaults: %v", claims.TenantID, err)
		return layer, nil
	}

	layer.HardWalls = mergeHard(layer.HardWalls, hard)
	layer.SoftWalls = mergeSoft(layer.SoftWalls, soft)
	layer.TenantPoliciesApplied = true

	logging.BuilderDebug("tenant %s policies applied (%d hard, %d soft)",
		claims.TenantID, len(layer.HardWalls), len(layer.SoftWalls))
	return layer, nil
}

// Degraded returns the default rule set. Rules degrade to MORE restriction,
// never less: the fallback still carries every baseline hard wall.
func (b *RulesBuilder) Degraded() envelope.RulesLayer {
	return envelope.RulesLayer{
		HardWalls: defaultHardWalls(),
		SoftWalls: defaultSoftWalls(),
	}
}

func mergeHard(base, overlay []envelope.HardRule) []envelope.HardRule {
	out := make([]envelope.HardRule, len(base))
	copy(out, base)
	for _, rule := range overlay {
		replaced := false
		for i := range out {
			if out[i].ID == rule.ID {
				out[i] = rule
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, rule)
		}
	}
	return out
}

func mergeSoft(base, overlay []envelope.SoftRule) []envelope.SoftRule {
	out := make([]envelope.SoftRule, len(base))
	copy(out, base)
	for _, rule := range overlay {
		replaced := false
		for i := range out {
			if out[i].ID == rule.ID {
				out[i] = rule
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, rule)
		}
	}
	return out
}
