// Package envelope defines the six-layer context envelope that the assembler
// produces and every downstream consumer (router, compliance gate, agents)
// reads. An envelope is immutable once built; a new request always produces a
// new envelope, and cache hits return a prior one unchanged.
package envelope

import (
	"time"
)

// Expertise is the coarse user skill classification used for routing and
// tone selection.
type Expertise string

const (
	ExpertiseBeginner     Expertise = "beginner"
	ExpertiseIntermediate Expertise = "intermediate"
	ExpertiseExpert       Expertise = "expert"
)

// Intent categories. Unrecognized input maps to IntentUnknown rather than
// failing the build.
const (
	IntentArchitectureDesign = "architecture_design"
	IntentRepoAnalysis       = "repo_analysis"
	IntentImplementation     = "implementation"
	IntentTroubleshooting    = "troubleshooting"
	IntentSecurityAnalysis   = "security_analysis"
	IntentPerformance        = "performance_optimization"
	IntentDocumentation      = "documentation"
	IntentPlanning           = "planning"
	IntentUnknown            = "unknown"
)

// UserLayer captures who is talking: identity, tenancy, roles, expertise,
// preferences and a short history summary.
type UserLayer struct {
	UserID         string            `json:"user_id"`
	TenantID       string            `json:"tenant_id"`
	Roles          []string          `json:"roles"`
	Expertise      Expertise         `json:"expertise"`
	Preferences    map[string]string `json:"preferences"`
	HistorySummary string            `json:"history_summary"`
	SessionCount   int               `json:"session_count"`
	LastSeen       time.Time         `json:"last_seen"`
}

// IntentLayer captures what job the user is hiring the system to do.
type IntentLayer struct {
	Primary         string            `json:"primary"`
	TaskType        string            `json:"task_type"`
	SuccessCriteria string            `json:"success_criteria"`
	Constraints     map[string]string `json:"constraints"`
	// Confidence is always in [0,1].
	Confidence     float64 `json:"confidence"`
	EscalationPath string  `json:"escalation_path"`
}

// DomainLayer captures workspace entities and documents. A zero-value
// DomainLayer is valid: absent domain data is a sparse layer, never an error.
type DomainLayer struct {
	RepoPath            string              `json:"repo_path"`
	RepoSummary         string              `json:"repo_summary"`
	Components          map[string]string   `json:"components"`
	RelatedDocs         map[string]string   `json:"related_docs"`
	ProjectMetadata     map[string]string   `json:"project_metadata"`
	EntityRelationships map[string][]string `json:"entity_relationships"`
}

// Empty reports whether the layer carries no domain data at all.
func (d DomainLayer) Empty() bool {
	return d.RepoPath == "" && d.RepoSummary == "" &&
		len(d.Components) == 0 && len(d.RelatedDocs) == 0 &&
		len(d.ProjectMetadata) == 0 && len(d.EntityRelationships) == 0
}

// HardRuleKind discriminates the mandatory rule variants. Hard rules are
// structurally separate from soft rules so that a mandatory constraint can
// never be expressed as an advisory one.
type HardRuleKind string

const (
	HardForbidAction      HardRuleKind = "forbid_action"
	HardRequireApproval   HardRuleKind = "require_approval"
	HardProviderAllowlist HardRuleKind = "provider_allowlist"
	HardResponseTokenCap  HardRuleKind = "response_token_cap"
	HardComplianceLevel   HardRuleKind = "compliance_level"
)

// HardRule is a mandatory, boolean-enforced constraint. Violation blocks the
// action. Hard rules survive every budget prune.
type HardRule struct {
	ID          string       `json:"id"`
	Kind        HardRuleKind `json:"kind"`
	Description string       `json:"description"`

	// Kind-specific payloads. Only the field matching Kind is meaningful.
	Actions   []string `json:"actions,omitempty"`
	Providers []string `json:"providers,omitempty"`
	MaxTokens int      `json:"max_tokens,omitempty"`
	Level     string   `json:"level,omitempty"`
}

// SoftRule is an advisory style/tone constraint. Violation is scored, never
// blocking. Soft rules are the first content dropped under budget pressure.
type SoftRule struct {
	ID     string  `json:"id"`
	Key    string  `json:"key"`
	Value  string  `json:"value"`
	Weight float64 `json:"weight"`
}

// RulesLayer holds the two-wall rule system. The two sets are disjoint by
// construction.
type RulesLayer struct {
	HardWalls []HardRule `json:"hard_walls"`
	SoftWalls []SoftRule `json:"soft_walls"`

	// TenantPoliciesApplied records whether tenant policy overrides were
	// merged in at build time.
	TenantPoliciesApplied bool `json:"tenant_policies_applied"`
}

// HardRuleByID returns the hard rule with the given ID, if present.
func (r RulesLayer) HardRuleByID(id string) (HardRule, bool) {
	for _, hw := range r.HardWalls {
		if hw.ID == id {
			return hw, true
		}
	}
	return HardRule{}, false
}

// EnvironmentLayer captures deployment state at build time. It is read once
// per build and never mutated by agents.
type EnvironmentLayer struct {
	Environment       string          `json:"environment"`
	RoutingMode       string          `json:"routing_mode"`
	SystemLoad        float64         `json:"system_load"`
	FeatureFlags      map[string]bool `json:"feature_flags"`
	RateLimits        map[string]int  `json:"rate_limits"`
	ActiveSessions    int             `json:"active_sessions"`
	DeploymentVersion string          `json:"deployment_version"`
}

// ExpositionLayer is the derived fusion of the other five layers: a
// human/LLM-readable narrative plus a machine-readable structured map, with
// per-layer token accounting. It is never independently edited.
type ExpositionLayer struct {
	Narrative  string            `json:"narrative"`
	Structured map[string]string `json:"structured"`

	// LayerTokens records the as-built token count per layer after pruning.
	LayerTokens map[string]int `json:"layer_tokens"`
}

// Envelope is the complete context package for one request.
type Envelope struct {
	ContextID string    `json:"context_id"`
	CreatedAt time.Time `json:"created_at"`

	User        UserLayer        `json:"user"`
	Intent      IntentLayer      `json:"intent"`
	Domain      DomainLayer      `json:"domain"`
	Rules       RulesLayer       `json:"rules"`
	Environment EnvironmentLayer `json:"environment"`
	Exposition  ExpositionLayer  `json:"exposition"`

	// TokenCount is the total post-prune token estimate.
	TokenCount int `json:"token_count"`

	// BuildTime is how long assembly took, including all builder fan-out.
	BuildTime time.Duration `json:"build_time"`

	// Degraded lists the layers that fell back to their degraded default
	// because their builder failed or timed out.
	Degraded []string `json:"degraded,omitempty"`
}

// Override carries caller-supplied partial overrides. Overrides merge over
// builder output at the per-field level. Hard-wall overrides are ignored
// unless Privileged is set; privileged applications are audited separately.
type Override struct {
	UserPreferences map[string]string `json:"user_preferences,omitempty"`
	Intent          map[string]string `json:"intent,omitempty"`
	Domain          map[string]string `json:"domain,omitempty"`

	SoftWalls []SoftRule `json:"soft_walls,omitempty"`
	HardWalls []HardRule `json:"hard_walls,omitempty"`

	// Privileged must be set for HardWalls to take effect.
	Privileged bool `json:"privileged,omitempty"`

	// Actor identifies who requested the override, for the audit trail.
	Actor string `json:"actor,omitempty"`
}

// Layer names used in budget tables, telemetry and error reporting.
const (
	LayerUser        = "user"
	LayerIntent      = "intent"
	LayerDomain      = "domain"
	LayerRules       = "rules"
	LayerEnvironment = "environment"
	LayerExposition  = "exposition"
)

// InputLayers lists the five input layers in narrative priority order
// (Rules > Intent > User > Domain > Environment).
func InputLayers() []string {
	return []string{LayerRules, LayerIntent, LayerUser, LayerDomain, LayerEnvironment}
}
