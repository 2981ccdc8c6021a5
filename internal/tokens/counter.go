// Package tokens provides deterministic token estimation and budget
// enforcement for context envelopes. Counts are heuristic (chars/4) but
// stable: the same envelope always counts the same, so prune decisions are
// reproducible.
package tokens

import (
	"sort"
	"unicode/utf8"

	"github.com/stackconsulting/orchestra/internal/envelope"
)

// charsPerToken is the estimation divisor. Roughly 4 characters per token
// for English prose, which matches common LLM tokenizers closely enough for
// budgeting.
const charsPerToken = 4.0

// Counter estimates token counts for strings and envelope layers.
type Counter struct{}

// NewCounter returns a token counter.
func NewCounter() *Counter {
	return &Counter{}
}

// CountString estimates tokens in a string. Empty strings count as zero.
func (c *Counter) CountString(s string) int {
	if s == "" {
		return 0
	}
	n := int(float64(utf8.RuneCountInString(s)) / charsPerToken)
	if n < 1 {
		n = 1
	}
	return n
}

// CountMap estimates tokens for a string map, counting both keys and values.
func (c *Counter) CountMap(m map[string]string) int {
	total := 0
	for k, v := range m {
		total += c.CountString(k) + c.CountString(v)
	}
	return total
}

// CountSlice estimates tokens for a string slice.
func (c *Counter) CountSlice(ss []string) int {
	total := 0
	for _, s := range ss {
		total += c.CountString(s)
	}
	return total
}

// CountUser estimates tokens carried by the user layer.
func (c *Counter) CountUser(u envelope.UserLayer) int {
	return c.CountString(u.UserID) +
		c.CountString(u.TenantID) +
		c.CountSlice(u.Roles) +
		c.CountString(string(u.Expertise)) +
		c.CountMap(u.Preferences) +
		c.CountString(u.HistorySummary)
}

// CountIntent estimates tokens carried by the intent layer.
func (c *Counter) CountIntent(i envelope.IntentLayer) int {
	return c.CountString(i.Primary) +
		c.CountString(i.TaskType) +
		c.CountString(i.SuccessCriteria) +
		c.CountMap(i.Constraints) +
		c.CountString(i.EscalationPath)
}

// CountDomain estimates tokens carried by the domain layer.
func (c *Counter) CountDomain(d envelope.DomainLayer) int {
	total := c.CountString(d.RepoPath) +
		c.CountString(d.RepoSummary) +
		c.CountMap(d.Components) +
		c.CountMap(d.RelatedDocs) +
		c.CountMap(d.ProjectMetadata)
	for entity, rels := range d.EntityRelationships {
		total += c.CountString(entity) + c.CountSlice(rels)
	}
	return total
}

// CountRules estimates tokens carried by the rules layer.
func (c *Counter) CountRules(r envelope.RulesLayer) int {
	total := 0
	for _, hw := range r.HardWalls {
		total += c.CountString(hw.ID) +
			c.CountString(string(hw.Kind)) +
			c.CountString(hw.Description) +
			c.CountSlice(hw.Actions) +
			c.CountSlice(hw.Providers) +
			c.CountString(hw.Level)
	}
	for _, sw := range r.SoftWalls {
		total += c.CountString(sw.ID) + c.CountString(sw.Key) + c.CountString(sw.Value)
	}
	return total
}

// CountEnvironment estimates tokens carried by the environment layer.
func (c *Counter) CountEnvironment(e envelope.EnvironmentLayer) int {
	total := c.CountString(e.Environment) +
		c.CountString(e.RoutingMode) +
		c.CountString(e.DeploymentVersion)
	for k := range e.FeatureFlags {
		total += c.CountString(k) + 1
	}
	for k := range e.RateLimits {
		total += c.CountString(k) + 1
	}
	return total
}

// CountExposition estimates tokens carried by the exposition layer.
func (c *Counter) CountExposition(x envelope.ExpositionLayer) int {
	return c.CountString(x.Narrative) + c.CountMap(x.Structured)
}

// LayerCounts returns per-layer counts for an envelope, keyed by layer name.
func (c *Counter) LayerCounts(env *envelope.Envelope) map[string]int {
	return map[string]int{
		envelope.LayerUser:        c.CountUser(env.User),
		envelope.LayerIntent:      c.CountIntent(env.Intent),
		envelope.LayerDomain:      c.CountDomain(env.Domain),
		envelope.LayerRules:       c.CountRules(env.Rules),
		envelope.LayerEnvironment: c.CountEnvironment(env.Environment),
		envelope.LayerExposition:  c.CountExposition(env.Exposition),
	}
}

// CountEnvelope returns the total token estimate across all six layers.
func (c *Counter) CountEnvelope(env *envelope.Envelope) int {
	total := 0
	for _, n := range c.LayerCounts(env) {
		total += n
	}
	return total
}

// sortedKeys returns map keys in ascending order. Prune decisions iterate
// maps through this so they are deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
