package tokens

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/stackconsulting/orchestra/internal/config"
	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// truncationMarker is appended to narrative text cut mid-prune so consumers
// can tell trimmed content from complete content.
const truncationMarker = "...[truncated]"

// PruneStep records one applied prune action.
type PruneStep struct {
	Layer   string `json:"layer"`
	Action  string `json:"action"`
	Detail  string `json:"detail"`
	Removed int    `json:"removed_tokens"`
}

// PruneReport describes what the budgeter did to fit an envelope under its
// ceilings.
type PruneReport struct {
	InitialTokens int         `json:"initial_tokens"`
	FinalTokens   int         `json:"final_tokens"`
	Ceiling       int         `json:"ceiling"`
	Steps         []PruneStep `json:"steps,omitempty"`
}

// Pruned reports whether any content was removed.
func (r PruneReport) Pruned() bool {
	return len(r.Steps) > 0
}

// Budgeter enforces token ceilings on envelopes. Pruning is deterministic:
// the same over-budget envelope always loses the same content in the same
// order. Lower-value content goes first (soft walls before history, history
// before domain docs, narrative last) and hard walls are never pruned.
type Budgeter struct {
	counter *Counter
	cfg     config.BudgetConfig
}

// NewBudgeter returns a budgeter for the given budget configuration.
func NewBudgeter(cfg config.BudgetConfig, counter *Counter) *Budgeter {
	if counter == nil {
		counter = NewCounter()
	}
	return &Budgeter{counter: counter, cfg: cfg}
}

// pruneFunc applies one prune action until measure() is at or under ceiling
// or the action runs out of content to remove.
type pruneFunc func(env *envelope.Envelope, measure func() int, ceiling int) []PruneStep

// Fit prunes the envelope in place until every configured per-layer ceiling
// and the effective global ceiling are satisfied. Hard walls and identity
// fields always survive, so a ceiling below their floor stays unmet rather
// than losing them.
func (b *Budgeter) Fit(env *envelope.Envelope) PruneReport {
	ceiling := b.cfg.EffectiveCeiling()
	report := PruneReport{
		InitialTokens: b.counter.CountEnvelope(env),
		Ceiling:       ceiling,
	}

	report.Steps = append(report.Steps, b.fitLayers(env)...)

	if total := b.counter.CountEnvelope(env); total > ceiling {
		logging.Budget("envelope over ceiling (%d > %d), pruning", total, ceiling)
		measure := func() int { return b.counter.CountEnvelope(env) }
		for _, step := range b.ladder() {
			report.Steps = append(report.Steps, step(env, measure, ceiling)...)
			if measure() <= ceiling {
				break
			}
		}
	}

	report.FinalTokens = b.counter.CountEnvelope(env)
	for _, s := range report.Steps {
		logging.BudgetDebug("pruned %s/%s: %s (-%d tokens)", s.Layer, s.Action, s.Detail, s.Removed)
	}
	return report
}

// ladder is the global prune order, cheapest content first.
func (b *Budgeter) ladder() []pruneFunc {
	return []pruneFunc{
		b.dropSoftWalls,
		b.trimHistory,
		b.dropRelatedDocs,
		b.dropComponents,
		b.truncateNarrative,
	}
}

// fitLayers enforces the per-layer ceiling table before the global pass.
// Each layer is pruned against its own ceiling using only the actions that
// shrink that layer; layers without prunable content (intent, environment)
// carry whatever they carry, like hard walls do.
func (b *Budgeter) fitLayers(env *envelope.Envelope) []PruneStep {
	perLayer := map[string][]pruneFunc{
		envelope.LayerRules:      {b.dropSoftWalls},
		envelope.LayerUser:       {b.trimHistory},
		envelope.LayerDomain:     {b.dropRelatedDocs, b.dropComponents},
		envelope.LayerExposition: {b.truncateNarrative},
	}

	var steps []PruneStep
	for _, layer := range []string{envelope.LayerRules, envelope.LayerUser, envelope.LayerDomain, envelope.LayerExposition} {
		limit, ok := b.cfg.PerLayer[layer]
		if !ok || limit <= 0 {
			continue
		}
		measure := b.layerMeasure(env, layer)
		if measure() <= limit {
			continue
		}
		logging.Budget("%s layer over ceiling (%d > %d), pruning", layer, measure(), limit)
		for _, step := range perLayer[layer] {
			steps = append(steps, step(env, measure, limit)...)
			if measure() <= limit {
				break
			}
		}
	}
	return steps
}

// layerMeasure returns a closure counting one layer of the live envelope.
func (b *Budgeter) layerMeasure(env *envelope.Envelope, layer string) func() int {
	switch layer {
	case envelope.LayerUser:
		return func() int { return b.counter.CountUser(env.User) }
	case envelope.LayerDomain:
		return func() int { return b.counter.CountDomain(env.Domain) }
	case envelope.LayerRules:
		return func() int { return b.counter.CountRules(env.Rules) }
	case envelope.LayerExposition:
		return func() int { return b.counter.CountExposition(env.Exposition) }
	default:
		return func() int { return 0 }
	}
}

// dropSoftWalls removes soft rules in ascending weight order, lowest-value
// advice first. Ties break on rule ID so the order is total.
func (b *Budgeter) dropSoftWalls(env *envelope.Envelope, measure func() int, ceiling int) []PruneStep {
	walls := env.Rules.SoftWalls
	sort.SliceStable(walls, func(i, j int) bool {
		if walls[i].Weight != walls[j].Weight {
			return walls[i].Weight < walls[j].Weight
		}
		return walls[i].ID < walls[j].ID
	})

	var steps []PruneStep
	for len(walls) > 0 && measure() > ceiling {
		dropped := walls[0]
		walls = walls[1:]
		env.Rules.SoftWalls = walls
		steps = append(steps, PruneStep{
			Layer:   envelope.LayerRules,
			Action:  "drop_soft_wall",
			Detail:  dropped.ID,
			Removed: b.counter.CountString(dropped.ID) + b.counter.CountString(dropped.Key) + b.counter.CountString(dropped.Value),
		})
	}
	return steps
}

// trimHistory shrinks the history summary in fixed stages: half, quarter,
// then empty.
func (b *Budgeter) trimHistory(env *envelope.Envelope, measure func() int, ceiling int) []PruneStep {
	var steps []PruneStep

	for _, fraction := range []float64{0.5, 0.25, 0} {
		if measure() <= ceiling {
			break
		}
		summary := env.User.HistorySummary
		if summary == "" {
			break
		}
		before := b.counter.CountString(summary)

		if fraction == 0 {
			env.User.HistorySummary = ""
		} else {
			keep := int(float64(len(summary)) * fraction)
			env.User.HistorySummary = truncateAtWord(summary, keep) + truncationMarker
		}
		after := b.counter.CountString(env.User.HistorySummary)
		if after >= before {
			// Marker overhead can exceed the savings on tiny summaries.
			env.User.HistorySummary = ""
			after = 0
		}
		steps = append(steps, PruneStep{
			Layer:   envelope.LayerUser,
			Action:  "trim_history",
			Detail:  fmt.Sprintf("to %.0f%%", fraction*100),
			Removed: before - after,
		})
	}
	return steps
}

// dropRelatedDocs removes related documents one at a time, in reverse sorted
// key order, so the alphabetically earliest docs survive longest.
func (b *Budgeter) dropRelatedDocs(env *envelope.Envelope, measure func() int, ceiling int) []PruneStep {
	return b.dropMapEntries(env.Domain.RelatedDocs, "drop_related_doc", measure, ceiling)
}

// dropComponents removes component summaries the same way, after docs.
func (b *Budgeter) dropComponents(env *envelope.Envelope, measure func() int, ceiling int) []PruneStep {
	return b.dropMapEntries(env.Domain.Components, "drop_component", measure, ceiling)
}

func (b *Budgeter) dropMapEntries(m map[string]string, action string, measure func() int, ceiling int) []PruneStep {
	var steps []PruneStep
	keys := sortedKeys(m)
	for i := len(keys) - 1; i >= 0 && measure() > ceiling; i-- {
		k := keys[i]
		removed := b.counter.CountString(k) + b.counter.CountString(m[k])
		delete(m, k)
		steps = append(steps, PruneStep{
			Layer:   envelope.LayerDomain,
			Action:  action,
			Detail:  k,
			Removed: removed,
		})
	}
	return steps
}

// truncateNarrative is the last resort: cut the fused narrative down to
// whatever room remains.
func (b *Budgeter) truncateNarrative(env *envelope.Envelope, measure func() int, ceiling int) []PruneStep {
	total := measure()
	if total <= ceiling || env.Exposition.Narrative == "" {
		return nil
	}

	before := b.counter.CountString(env.Exposition.Narrative)
	excess := total - ceiling
	keepTokens := before - excess
	if keepTokens < 0 {
		keepTokens = 0
	}
	keepChars := int(float64(keepTokens) * charsPerToken)

	if keepChars <= len(truncationMarker) {
		env.Exposition.Narrative = truncationMarker
	} else {
		env.Exposition.Narrative = truncateAtWord(env.Exposition.Narrative, keepChars-len(truncationMarker)) + truncationMarker
	}
	after := b.counter.CountString(env.Exposition.Narrative)

	return []PruneStep{{
		Layer:   envelope.LayerExposition,
		Action:  "truncate_narrative",
		Detail:  fmt.Sprintf("kept %d of %d tokens", after, before),
		Removed: before - after,
	}}
}

// truncateAtWord cuts s to at most n bytes, backing up to a rune boundary
// and then to the last word boundary when one exists nearby.
func truncateAtWord(s string, n int) string {
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	cut := s[:n]
	if idx := strings.LastIndexByte(cut, ' '); idx > n/2 {
		cut = cut[:idx]
	}
	return cut
}
