// Package route picks a model for a built context envelope. Routing is
// fail-closed: a model that cannot be proven compliant with the envelope's
// hard walls is never chosen, and every choice carries human-readable
// reasons for the audit trail.
package route

// ModelMeta describes routing-relevant model properties.
type ModelMeta struct {
	// ComplianceApproved models may handle client work.
	ComplianceApproved bool
	// ProductionReady models may serve production traffic.
	ProductionReady bool
	// Lightweight models are preferred under load.
	Lightweight bool
	// CostTier: 1 cheap, 2 mid, 3 premium.
	CostTier int
	// Capability: 1 basic, 2 solid, 3 frontier.
	Capability int
}

// Model is one routable target.
type Model struct {
	Provider string
	Name     string
	Meta     ModelMeta
}

// ID returns the provider-qualified model identifier.
func (m Model) ID() string {
	return m.Provider + "/" + m.Name
}

// Registry holds the routable model set.
type Registry struct {
	models []Model
}

// NewRegistry returns a registry over the given models.
func NewRegistry(models []Model) *Registry {
	return &Registry{models: models}
}

// DefaultRegistry returns the stock model set.
func DefaultRegistry() *Registry {
	return NewRegistry([]Model{
		{Provider: "anthropic", Name: "claude-sonnet", Meta: ModelMeta{
			ComplianceApproved: true, ProductionReady: true, CostTier: 2, Capability: 3,
		}},
		{Provider: "anthropic", Name: "claude-haiku", Meta: ModelMeta{
			ComplianceApproved: true, ProductionReady: true, Lightweight: true, CostTier: 1, Capability: 2,
		}},
		{Provider: "openai", Name: "gpt-4o", Meta: ModelMeta{
			ComplianceApproved: true, ProductionReady: true, CostTier: 3, Capability: 3,
		}},
		{Provider: "openai", Name: "gpt-4o-mini", Meta: ModelMeta{
			ComplianceApproved: true, ProductionReady: true, Lightweight: true, CostTier: 1, Capability: 2,
		}},
		{Provider: "ollama", Name: "llama3.1-70b", Meta: ModelMeta{
			ProductionReady: true, CostTier: 1, Capability: 2,
		}},
		{Provider: "ollama", Name: "llama3.1-8b", Meta: ModelMeta{
			Lightweight: true, CostTier: 1, Capability: 1,
		}},
		{Provider: "mistral", Name: "mistral-large", Meta: ModelMeta{
			ProductionReady: true, CostTier: 2, Capability: 2,
		}},
	})
}

// Models returns the registered models.
func (r *Registry) Models() []Model {
	return r.models
}
