package layers

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// intentPattern scores one regex hit toward an intent category.
type intentPattern struct {
	re     *regexp.Regexp
	weight float64
}

// intentPatterns maps each category to its evidence patterns. Patterns are
// compiled once at package init; build calls only match.
var intentPatterns = map[string][]intentPattern{
	envelope.IntentArchitectureDesign: {
		{regexp.MustCompile(`(?i)\b(architect(ure)?|design\s+(a|the|an)?\s*system|high.level\s+design)\b`), 0.5},
		{regexp.MustCompile(`(?i)\b(microservices?|monolith|scalab(le|ility)|system\s+design)\b`), 0.3},
		{regexp.MustCompile(`(?i)\b(trade.?offs?|component\s+diagram|service\s+boundar)\b`), 0.2},
	},
	envelope.IntentRepoAnalysis: {
		{regexp.MustCompile(`(?i)\b(analy[sz]e|review|audit|understand)\b.*\b(repo(sitory)?|codebase|code\s*base|project)\b`), 0.5},
		{regexp.MustCompile(`(?i)\b(what\s+does\s+this\s+(code|repo|project)\s+do|explain\s+the\s+structure)\b`), 0.4},
		{regexp.MustCompile(`(?i)\b(dependencies|code\s+quality|tech(nical)?\s+debt)\b`), 0.2},
	},
	envelope.IntentImplementation: {
		{regexp.MustCompile(`(?i)\b(implement|build|create|write|add|develop)\b.*\b(feature|function|endpoint|api|component|module|service)\b`), 0.5},
		{regexp.MustCompile(`(?i)\b(code\s+(for|that|to)|write\s+(a|the|some)\s+\w+)\b`), 0.3},
		{regexp.MustCompile(`(?i)\b(integrat(e|ion)|refactor)\b`), 0.2},
	},
	envelope.IntentTroubleshooting: {
		{regexp.MustCompile(`(?i)\b(debug|fix|broken|fail(s|ing|ure)?|error|crash(es|ing)?|not\s+working)\b`), 0.5},
		{regexp.MustCompile(`(?i)\b(stack\s*trace|exception|panic|segfault|what.s\s+wrong)\b`), 0.4},
		{regexp.MustCompile(`(?i)\b(why\s+(is|does|isn.t|doesn.t)|unexpected)\b`), 0.2},
	},
	envelope.IntentSecurityAnalysis: {
		{regexp.MustCompile(`(?i)\b(security|vulnerab(le|ility|ilities)|exploit|pentest)\b`), 0.5},
		{regexp.MustCompile(`(?i)\b(injection|xss|csrf|auth(entication|orization)\s+(flaw|issue|bypass))\b`), 0.4},
		{regexp.MustCompile(`(?i)\b(cve|owasp|threat\s+model|attack\s+surface)\b`), 0.3},
	},
	envelope.IntentPerformance: {
		{regexp.MustCompile(`(?i)\b(performance|optimi[sz](e|ation)|slow|laten(cy|t)|bottleneck)\b`), 0.5},
		{regexp.MustCompile(`(?i)\b(profil(e|ing)|memory\s+(leak|usage)|cpu|throughput)\b`), 0.4},
		{regexp.MustCompile(`(?i)\b(cach(e|ing)|speed\s+up|faster)\b`), 0.2},
	},
	envelope.IntentDocumentation: {
		{regexp.MustCompile(`(?i)\b(document(ation)?|write\s+(the\s+)?docs|readme|api\s+reference)\b`), 0.5},
		{regexp.MustCompile(`(?i)\b(explain|describe|summar(y|i[sz]e))\b.*\b(for\s+(the\s+)?(team|users|docs))\b`), 0.3},
		{regexp.MustCompile(`(?i)\b(changelog|runbook|onboarding\s+guide)\b`), 0.3},
	},
	envelope.IntentPlanning: {
		{regexp.MustCompile(`(?i)\b(plan(ning)?|roadmap|milestones?|estimate|break\s+down)\b`), 0.5},
		{regexp.MustCompile(`(?i)\b(sprint|backlog|priorit(y|i[sz]e)|scope)\b`), 0.3},
		{regexp.MustCompile(`(?i)\b(next\s+steps|phases?|timeline)\b`), 0.2},
	},
}

// successCriteria maps each category to its completion definition.
var successCriteria = map[string]string{
	envelope.IntentArchitectureDesign: "a design with named components, their responsibilities, and the trade-offs considered",
	envelope.IntentRepoAnalysis:       "an accurate summary of structure, key components, and notable risks",
	envelope.IntentImplementation:     "working code that matches the stated requirements, with tests",
	envelope.IntentTroubleshooting:    "root cause identified and a validated fix proposed",
	envelope.IntentSecurityAnalysis:   "vulnerabilities enumerated with severity and concrete remediations",
	envelope.IntentPerformance:        "bottleneck identified with measured before/after evidence",
	envelope.IntentDocumentation:      "clear documentation the target audience can follow",
	envelope.IntentPlanning:           "an ordered task breakdown with estimates and dependencies",
	envelope.IntentUnknown:            "the user's question answered to their satisfaction",
}

// intentConstraints maps each category to its default execution constraints.
var intentConstraints = map[string]map[string]string{
	envelope.IntentArchitectureDesign: {"output_format": "structured_design", "include_tradeoffs": "true"},
	envelope.IntentRepoAnalysis:       {"read_only": "true", "cite_files": "true"},
	envelope.IntentImplementation:     {"include_tests": "true", "follow_existing_style": "true"},
	envelope.IntentTroubleshooting:    {"reproduce_first": "true", "minimal_change": "true"},
	envelope.IntentSecurityAnalysis:   {"read_only": "true", "no_exploit_code": "true"},
	envelope.IntentPerformance:        {"measure_first": "true", "no_premature_optimization": "true"},
	envelope.IntentDocumentation:      {"audience_aware": "true"},
	envelope.IntentPlanning:           {"time_boxed": "true"},
}

// escalationPaths maps each category to who gets pulled in when the system
// cannot complete the task.
var escalationPaths = map[string]string{
	envelope.IntentArchitectureDesign: "principal_architect",
	envelope.IntentRepoAnalysis:       "tech_lead",
	envelope.IntentImplementation:     "senior_engineer",
	envelope.IntentTroubleshooting:    "on_call_engineer",
	envelope.IntentSecurityAnalysis:   "security_team",
	envelope.IntentPerformance:        "performance_team",
	envelope.IntentDocumentation:      "tech_writer",
	envelope.IntentPlanning:           "engineering_manager",
	envelope.IntentUnknown:            "support",
}

// IntentBuilder classifies what the user is asking for.
type IntentBuilder struct{}

// NewIntentBuilder returns an intent layer builder.
func NewIntentBuilder() *IntentBuilder {
	return &IntentBuilder{}
}

// Build classifies the request message against the pattern table. An
// explicit task type hint short-circuits classification at high confidence.
// Unclassifiable input yields the unknown intent at middling confidence,
// never an error.
func (b *IntentBuilder) Build(ctx context.Context, req Request) (envelope.IntentLayer, error) {
	if err := ctx.Err(); err != nil {
		return envelope.IntentLayer{}, err
	}

	var primary string
	var confidence float64

	if hinted := normalizeTaskType(req.TaskType); hinted != "" {
		primary = hinted
		confidence = 0.9
	} else {
		primary, confidence = classify(req.Message)
	}

	layer := envelope.IntentLayer{
		Primary:         primary,
		TaskType:        req.TaskType,
		SuccessCriteria: successCriteria[primary],
		Constraints:     copyConstraints(intentConstraints[primary]),
		Confidence:      clamp01(confidence),
		EscalationPath:  escalationPaths[primary],
	}

	logging.BuilderDebug("intent classified as %s (confidence=%.2f)", layer.Primary, layer.Confidence)
	return layer, nil
}

// Degraded returns the fallback intent layer.
func (b *IntentBuilder) Degraded() envelope.IntentLayer {
	return envelope.IntentLayer{
		Primary:         envelope.IntentUnknown,
		SuccessCriteria: successCriteria[envelope.IntentUnknown],
		Confidence:      0.3,
		EscalationPath:  escalationPaths[envelope.IntentUnknown],
	}
}

// classify scores the message against every category's patterns and returns
// the best match. Ties break alphabetically so classification is stable.
func classify(message string) (string, float64) {
	best := envelope.IntentUnknown
	bestScore := 0.0

	categories := make([]string, 0, len(intentPatterns))
	for cat := range intentPatterns {
		categories = append(categories, cat)
	}
	// Deterministic iteration.
	sort.Strings(categories)

	for _, cat := range categories {
		score := 0.0
		for _, p := range intentPatterns[cat] {
			if p.re.MatchString(message) {
				score += p.weight
			}
		}
		if score > bestScore {
			best, bestScore = cat, score
		}
	}

	if bestScore == 0 {
		return envelope.IntentUnknown, 0.5
	}
	// A single strong pattern gives 0.5; stacked evidence approaches 1.0.
	return best, 0.4 + bestScore*0.6
}

// normalizeTaskType maps a caller hint onto a known category, or empty when
// the hint is unrecognized.
func normalizeTaskType(hint string) string {
	h := strings.ToLower(strings.TrimSpace(hint))
	switch h {
	case "architecture", "design":
		return envelope.IntentArchitectureDesign
	case "analysis", "repo_analysis", "review":
		return envelope.IntentRepoAnalysis
	case "implementation", "coding", "build":
		return envelope.IntentImplementation
	case "troubleshooting", "debug", "bugfix":
		return envelope.IntentTroubleshooting
	case "security", "security_analysis":
		return envelope.IntentSecurityAnalysis
	case "performance", "optimization":
		return envelope.IntentPerformance
	case "documentation", "docs":
		return envelope.IntentDocumentation
	case "planning", "roadmap":
		return envelope.IntentPlanning
	}
	return ""
}

// RefineWithHistory adjusts a classified intent using the session history
// summary. Follow-up phrasing boosts confidence in continuity; an explicit
// topic shift tempers it.
func (b *IntentBuilder) RefineWithHistory(layer envelope.IntentLayer, message, historySummary string) envelope.IntentLayer {
	if historySummary == "" {
		return layer
	}
	msg := strings.ToLower(message)

	followUp := []string{"also", "and then", "what about", "additionally", "same as before", "continue"}
	shift := []string{"actually", "instead", "forget that", "new question", "different topic", "switching"}

	for _, marker := range shift {
		if strings.Contains(msg, marker) {
			layer.Confidence = clamp01(layer.Confidence * 0.8)
			return layer
		}
	}
	for _, marker := range followUp {
		if strings.Contains(msg, marker) {
			layer.Confidence = clamp01(layer.Confidence + 0.1)
			return layer
		}
	}
	return layer
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func copyConstraints(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

