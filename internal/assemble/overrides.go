package assemble

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// applyOverride merges caller-supplied overrides over the built layers at
// field granularity. Soft material merges freely; hard walls only merge for
// privileged callers, and every privileged application lands in the audit
// trail.
func (a *Assembler) applyOverride(ctx context.Context, env *envelope.Envelope, ov *envelope.Override) {
	for k, v := range ov.UserPreferences {
		if env.User.Preferences == nil {
			env.User.Preferences = map[string]string{}
		}
		env.User.Preferences[k] = v
	}

	applyIntentOverride(&env.Intent, ov.Intent)
	applyDomainOverride(&env.Domain, ov.Domain)

	for _, sw := range ov.SoftWalls {
		replaced := false
		for i := range env.Rules.SoftWalls {
			if env.Rules.SoftWalls[i].ID == sw.ID {
				env.Rules.SoftWalls[i] = sw
				replaced = true
				break
			}
		}
		if !replaced {
			env.Rules.SoftWalls = append(env.Rules.SoftWalls, sw)
		}
	}

	if len(ov.HardWalls) == 0 {
		return
	}
	if !ov.Privileged {
		logging.AssembleWarn("unprivileged hard-wall override from %q ignored (%d rules)",
			ov.Actor, len(ov.HardWalls))
		return
	}
	for _, hw := range ov.HardWalls {
		replaced := false
		for i := range env.Rules.HardWalls {
			if env.Rules.HardWalls[i].ID == hw.ID {
				env.Rules.HardWalls[i] = hw
				replaced = true
				break
			}
		}
		if !replaced {
			env.Rules.HardWalls = append(env.Rules.HardWalls, hw)
		}
		a.auditOverride(ctx, env.ContextID, ov.Actor, fmt.Sprintf("hard wall %s (%s)", hw.ID, hw.Kind))
	}
}

func applyIntentOverride(intent *envelope.IntentLayer, fields map[string]string) {
	for k, v := range fields {
		switch k {
		case "primary":
			intent.Primary = v
		case "task_type":
			intent.TaskType = v
		case "success_criteria":
			intent.SuccessCriteria = v
		case "escalation_path":
			intent.EscalationPath = v
		case "confidence":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				if f < 0 {
					f = 0
				}
				if f > 1 {
					f = 1
				}
				intent.Confidence = f
			}
		default:
			if intent.Constraints == nil {
				intent.Constraints = map[string]string{}
			}
			intent.Constraints[k] = v
		}
	}
}

func applyDomainOverride(domain *envelope.DomainLayer, fields map[string]string) {
	for k, v := range fields {
		switch k {
		case "repo_summary":
			domain.RepoSummary = v
		case "repo_path":
			domain.RepoPath = v
		default:
			if domain.ProjectMetadata == nil {
				domain.ProjectMetadata = map[string]string{}
			}
			domain.ProjectMetadata[k] = v
		}
	}
}

func (a *Assembler) auditOverride(ctx context.Context, contextID, actor, detail string) {
	logging.Audit("privileged override by %q on %s: %s", actor, contextID, detail)
	if a.audit == nil {
		return
	}
	if err := a.audit.RecordOverride(ctx, contextID, actor, detail); err != nil {
		logging.AssembleWarn("audit sink rejected override record: %v", err)
	}
}
