package route

import (
	"fmt"
	"sort"

	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// Params are the generation parameters the router derives from context.
type Params struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Choice is one scored candidate.
type Choice struct {
	Model   Model    `json:"-"`
	ModelID string   `json:"model_id"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Decision is the router's output for one envelope.
type Decision struct {
	Selected     Choice   `json:"selected"`
	Alternatives []Choice `json:"alternatives,omitempty"`
	Params       Params   `json:"params"`
	// Factors summarizes the context signals that drove the decision.
	Factors map[string]string `json:"factors"`
	DryRun  bool              `json:"dry_run,omitempty"`
}

// Router scores registry models against context envelopes.
type Router struct {
	registry *Registry
	dryRun   bool
}

// New returns a router over the given registry.
func New(registry *Registry, dryRun bool) *Router {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Router{registry: registry, dryRun: dryRun}
}

// Plan picks a model for the envelope. Hard walls filter first, so a
// non-compliant model is structurally unreachable; scoring only ranks the
// survivors. An empty survivor set is a compliance error, never a silent
// fallback to a forbidden model.
func (r *Router) Plan(env *envelope.Envelope) (Decision, error) {
	candidates, filterReasons := r.filter(env)
	if len(candidates) == 0 {
		logging.ComplyWarn("no model passes hard-wall filters for envelope %s", env.ContextID)
		return Decision{}, &envelope.ComplianceError{
			RuleID:   blockingRuleID(env.Rules),
			Severity: "blocking",
			Action:   "route_model",
		}
	}

	scored := make([]Choice, 0, len(candidates))
	for _, m := range candidates {
		scored = append(scored, r.score(m, env))
	}
	// Highest score wins; ties break on model ID so routing is stable.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ModelID < scored[j].ModelID
	})

	decision := Decision{
		Selected:     scored[0],
		Alternatives: scored[1:],
		Params:       adjustParams(env),
		Factors:      routingFactors(env, filterReasons),
		DryRun:       r.dryRun,
	}

	logging.Routing("selected %s for envelope %s (score %.2f, %d alternatives)",
		decision.Selected.ModelID, env.ContextID, decision.Selected.Score, len(decision.Alternatives))
	return decision, nil
}

// hardRuleOfKind returns the first hard wall of the given kind.
func hardRuleOfKind(rules envelope.RulesLayer, kind envelope.HardRuleKind) (envelope.HardRule, bool) {
	for _, hw := range rules.HardWalls {
		if hw.Kind == kind {
			return hw, true
		}
	}
	return envelope.HardRule{}, false
}

// filter applies the hard walls. Models failing any wall are dropped before
// scoring ever sees them.
func (r *Router) filter(env *envelope.Envelope) ([]Model, []string) {
	var reasons []string

	allowed := map[string]bool{}
	if rule, ok := hardRuleOfKind(env.Rules, envelope.HardProviderAllowlist); ok {
		for _, p := range rule.Providers {
			allowed[p] = true
		}
		reasons = append(reasons, fmt.Sprintf("provider allowlist active (%d providers)", len(allowed)))
	}

	needCompliance := false
	if rule, ok := hardRuleOfKind(env.Rules, envelope.HardComplianceLevel); ok && rule.Level != "" {
		needCompliance = true
		reasons = append(reasons, "compliance-approved models only")
	}

	needProduction := env.Environment.Environment == "production"
	if needProduction {
		reasons = append(reasons, "production-ready models only")
	}

	var out []Model
	for _, m := range r.registry.Models() {
		if len(allowed) > 0 && !allowed[m.Provider] {
			continue
		}
		if needCompliance && !m.Meta.ComplianceApproved {
			continue
		}
		if needProduction && !m.Meta.ProductionReady {
			continue
		}
		out = append(out, m)
	}
	return out, reasons
}

// score ranks one surviving model against the envelope's soft signals.
func (r *Router) score(m Model, env *envelope.Envelope) Choice {
	c := Choice{Model: m, ModelID: m.ID(), Score: 1.0}
	add := func(delta float64, reason string) {
		c.Score += delta
		c.Reasons = append(c.Reasons, reason)
	}

	switch env.Environment.RoutingMode {
	case "local-preferred":
		if m.Provider == "ollama" {
			add(2.0, "local provider preferred by routing mode")
		}
	case "cloud-preferred":
		if m.Provider != "ollama" {
			add(2.0, "cloud provider preferred by routing mode")
		}
	case "cost-optimized":
		add(float64(3-m.Meta.CostTier), fmt.Sprintf("cost tier %d under cost-optimized mode", m.Meta.CostTier))
	}

	switch env.Intent.Primary {
	case envelope.IntentArchitectureDesign, envelope.IntentSecurityAnalysis:
		add(float64(m.Meta.Capability), fmt.Sprintf("capability %d suits %s", m.Meta.Capability, env.Intent.Primary))
	case envelope.IntentDocumentation, envelope.IntentPlanning:
		if m.Meta.Lightweight {
			add(1.0, "lightweight model suffices for "+env.Intent.Primary)
		}
	}

	if env.Environment.SystemLoad >= 0.8 && m.Meta.Lightweight {
		add(1.5, fmt.Sprintf("lightweight model under system load %.2f", env.Environment.SystemLoad))
	}

	if env.User.Expertise == envelope.ExpertiseExpert && m.Meta.Capability >= 3 {
		add(0.5, "frontier capability for expert user")
	}

	return c
}

// adjustParams derives generation parameters from context. The response
// token cap hard wall always bounds max tokens.
func adjustParams(env *envelope.Envelope) Params {
	p := Params{Temperature: 0.5, MaxTokens: 2000}

	switch env.User.Expertise {
	case envelope.ExpertiseBeginner:
		// Lower temperature keeps explanations predictable.
		p.Temperature = 0.3
	case envelope.ExpertiseExpert:
		p.Temperature = 0.7
	}

	switch env.Intent.Primary {
	case envelope.IntentArchitectureDesign, envelope.IntentRepoAnalysis:
		p.MaxTokens = 4000
	case envelope.IntentImplementation:
		p.MaxTokens = 3000
	case envelope.IntentTroubleshooting, envelope.IntentSecurityAnalysis:
		p.MaxTokens = 2500
	case envelope.IntentPlanning, envelope.IntentDocumentation:
		p.MaxTokens = 2000
	default:
		p.MaxTokens = 1500
	}

	if rule, ok := hardRuleOfKind(env.Rules, envelope.HardResponseTokenCap); ok && rule.MaxTokens > 0 {
		if p.MaxTokens > rule.MaxTokens {
			p.MaxTokens = rule.MaxTokens
		}
	}
	return p
}

// routingFactors summarizes the signals for the decision record.
func routingFactors(env *envelope.Envelope, filterReasons []string) map[string]string {
	f := map[string]string{
		"intent":       env.Intent.Primary,
		"expertise":    string(env.User.Expertise),
		"environment":  env.Environment.Environment,
		"routing_mode": env.Environment.RoutingMode,
		"system_load":  fmt.Sprintf("%.2f", env.Environment.SystemLoad),
	}
	for i, reason := range filterReasons {
		f[fmt.Sprintf("filter_%d", i)] = reason
	}
	return f
}

// blockingRuleID names the hard wall most likely responsible for an empty
// candidate set.
func blockingRuleID(rules envelope.RulesLayer) string {
	if rule, ok := hardRuleOfKind(rules, envelope.HardProviderAllowlist); ok {
		return rule.ID
	}
	if rule, ok := hardRuleOfKind(rules, envelope.HardComplianceLevel); ok {
		return rule.ID
	}
	return "hard.routing_filters"
}
