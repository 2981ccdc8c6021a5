// Package comply enforces the two-wall rule system at execution time. Hard
// walls gate actions before they run and block on violation; soft walls
// score responses after generation and never block anything.
package comply

import (
	"context"
	"fmt"
	"strings"

	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// ViolationSink records hard-wall violations for the audit trail. The
// persistence store implements it; nil means log-only.
type ViolationSink interface {
	RecordViolation(ctx context.Context, contextID, ruleID, action, severity string) error
}

// Decision is the outcome of a pre-execution check.
type Decision struct {
	Allowed bool `json:"allowed"`
	// NeedsApproval means the action may proceed only after a human signs
	// off. Allowed is false until that happens.
	NeedsApproval bool   `json:"needs_approval,omitempty"`
	RuleID        string `json:"rule_id,omitempty"`
	Severity      string `json:"severity,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// SoftReport is the outcome of a post-generation soft-wall evaluation.
type SoftReport struct {
	// Score in [0,1]: the weighted fraction of soft walls the response
	// satisfies.
	Score float64 `json:"score"`
	// Unmet lists the soft walls the response did not satisfy.
	Unmet []string `json:"unmet,omitempty"`
	// Transformed is the response after advisory adjustments. Soft walls
	// may reshape a response; they never suppress one.
	Transformed string `json:"-"`
}

// Gate checks actions and responses against an envelope's rules layer.
type Gate struct {
	violations ViolationSink
}

// NewGate returns a compliance gate.
func NewGate(violations ViolationSink) *Gate {
	return &Gate{violations: violations}
}

// PreCheck gates one action against the hard walls. A forbid match denies,
// an approval match holds for sign-off, no match allows. The decision always
// names the rule that fired.
func (g *Gate) PreCheck(ctx context.Context, env *envelope.Envelope, action string) Decision {
	for _, hw := range env.Rules.HardWalls {
		switch hw.Kind {
		case envelope.HardForbidAction:
			if matchesAction(hw.Actions, action) {
				g.recordViolation(ctx, env.ContextID, hw.ID, action, "blocking")
				return Decision{
					Allowed:  false,
					RuleID:   hw.ID,
					Severity: "blocking",
					Reason:   hw.Description,
				}
			}
		case envelope.HardRequireApproval:
			if matchesAction(hw.Actions, action) {
				logging.Comply("action %q held for approval by rule %s", action, hw.ID)
				return Decision{
					Allowed:       false,
					NeedsApproval: true,
					RuleID:        hw.ID,
					Severity:      "approval",
					Reason:        hw.Description,
				}
			}
		}
	}
	return Decision{Allowed: true}
}

// Err converts a denying decision into the error callers propagate. Allowed
// decisions return nil.
func (d Decision) Err(action string) error {
	if d.Allowed {
		return nil
	}
	return &envelope.ComplianceError{
		RuleID:   d.RuleID,
		Severity: d.Severity,
		Action:   action,
	}
}

// PostCheck scores a generated response against the soft walls and applies
// advisory transforms. It never fails and never blocks the response.
func (g *Gate) PostCheck(env *envelope.Envelope, response string) SoftReport {
	report := SoftReport{Transformed: response}

	var totalWeight, metWeight float64
	for _, sw := range env.Rules.SoftWalls {
		totalWeight += sw.Weight
		if satisfies(response, sw) {
			metWeight += sw.Weight
			continue
		}
		report.Unmet = append(report.Unmet, sw.ID)
		report.Transformed = transform(report.Transformed, sw)
	}

	if totalWeight == 0 {
		report.Score = 1.0
	} else {
		report.Score = metWeight / totalWeight
	}

	if len(report.Unmet) > 0 {
		logging.Comply("response scored %.2f against soft walls (%d unmet)", report.Score, len(report.Unmet))
	}
	return report
}

// matchesAction checks an action against a rule's action list.
// Comparison is case-insensitive on the exact action name.
func matchesAction(ruleActions []string, action string) bool {
	for _, a := range ruleActions {
		if strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}

// satisfies checks one soft wall against the response text. Only the format
// walls are mechanically checkable; tone and voice walls pass by default and
// are left to upstream prompt shaping.
func satisfies(response string, sw envelope.SoftRule) bool {
	switch sw.Key {
	case "response_format":
		if strings.Contains(sw.Value, "next steps") {
			return strings.Contains(strings.ToLower(response), "next steps")
		}
		return true
	case "max_length":
		return len(response) <= maxLength(sw.Value)
	default:
		return true
	}
}

// transform applies the advisory fix for an unmet wall where one exists.
func transform(response string, sw envelope.SoftRule) string {
	switch sw.Key {
	case "response_format":
		if strings.Contains(sw.Value, "next steps") && len(strings.TrimSpace(response)) > 0 {
			return response + "\n\nNext steps:\n- Review the above and confirm direction."
		}
	case "max_length":
		limit := maxLength(sw.Value)
		if len(response) > limit {
			return response[:limit] + "\n[response trimmed]"
		}
	}
	return response
}

func maxLength(v string) int {
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return 1 << 20
	}
	return n
}

func (g *Gate) recordViolation(ctx context.Context, contextID, ruleID, action, severity string) {
	logging.ComplyWarn("action %q denied by rule %s", action, ruleID)
	if g.violations == nil {
		return
	}
	if err := g.violations.RecordViolation(ctx, contextID, ruleID, action, severity); err != nil {
		logging.ComplyWarn("violation sink rejected record: %v", err)
	}
}
