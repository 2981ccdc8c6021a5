package assemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackconsulting/orchestra/internal/envelope"
)

// fuseExposition derives the sixth layer from the other five: a narrative
// paragraph sequence in configured priority order plus a flat structured
// map. The exposition is always derived, never independently authored.
func (a *Assembler) fuseExposition(env *envelope.Envelope) {
	order := a.cfg.Exposition.Order
	if len(order) == 0 {
		order = envelope.InputLayers()
	}

	sections := make([]string, 0, len(order))
	for _, layer := range order {
		if section := narrateLayer(env, layer); section != "" {
			sections = append(sections, section)
		}
	}

	env.Exposition = envelope.ExpositionLayer{
		Narrative:  strings.Join(sections, "\n\n"),
		Structured: structuredView(env),
	}
}

func narrateLayer(env *envelope.Envelope, layer string) string {
	switch layer {
	case envelope.LayerRules:
		return narrateRules(env.Rules)
	case envelope.LayerIntent:
		return narrateIntent(env.Intent)
	case envelope.LayerUser:
		return narrateUser(env.User)
	case envelope.LayerDomain:
		return narrateDomain(env.Domain)
	case envelope.LayerEnvironment:
		return narrateEnvironment(env.Environment)
	}
	return ""
}

func narrateRules(r envelope.RulesLayer) string {
	var b strings.Builder
	b.WriteString("Operating constraints (mandatory):")
	for _, hw := range r.HardWalls {
		fmt.Fprintf(&b, "\n- %s", hw.Description)
	}
	if len(r.SoftWalls) > 0 {
		b.WriteString("\nStyle guidance (advisory):")
		for _, sw := range r.SoftWalls {
			fmt.Fprintf(&b, "\n- %s: %s", sw.Key, sw.Value)
		}
	}
	return b.String()
}

func narrateIntent(i envelope.IntentLayer) string {
	if i.Primary == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The user's task is %s (confidence %.0f%%).", humanize(i.Primary), i.Confidence*100)
	if i.SuccessCriteria != "" {
		fmt.Fprintf(&b, " Success means %s.", i.SuccessCriteria)
	}
	if i.EscalationPath != "" {
		fmt.Fprintf(&b, " Escalate to %s if blocked.", humanize(i.EscalationPath))
	}
	return b.String()
}

func narrateUser(u envelope.UserLayer) string {
	if u.UserID == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The user (%s) is %s level", u.UserID, u.Expertise)
	if len(u.Roles) > 0 {
		fmt.Fprintf(&b, ", roles: %s", strings.Join(u.Roles, ", "))
	}
	b.WriteString(".")
	if v := u.Preferences["verbosity"]; v != "" {
		fmt.Fprintf(&b, " Preferred verbosity: %s.", v)
	}
	if f := u.Preferences["focus"]; f != "" {
		fmt.Fprintf(&b, " Focus on %s.", humanize(f))
	}
	if u.HistorySummary != "" {
		fmt.Fprintf(&b, " Prior sessions: %s", u.HistorySummary)
	}
	return b.String()
}

func narrateDomain(d envelope.DomainLayer) string {
	if d.Empty() {
		return ""
	}
	var b strings.Builder
	if d.RepoSummary != "" {
		fmt.Fprintf(&b, "Workspace: %s.", d.RepoSummary)
	} else {
		fmt.Fprintf(&b, "Workspace at %s.", d.RepoPath)
	}
	if len(d.Components) > 0 {
		names := make([]string, 0, len(d.Components))
		for name := range d.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, " Detected components: %s.", strings.Join(names, ", "))
	}
	if len(d.RelatedDocs) > 0 {
		docs := make([]string, 0, len(d.RelatedDocs))
		for name := range d.RelatedDocs {
			docs = append(docs, name)
		}
		sort.Strings(docs)
		fmt.Fprintf(&b, " Relevant docs: %s.", strings.Join(docs, ", "))
	}
	return b.String()
}

func narrateEnvironment(e envelope.EnvironmentLayer) string {
	if e.Environment == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Running in %s (routing mode %s, version %s).",
		e.Environment, e.RoutingMode, e.DeploymentVersion)
	if e.SystemLoad >= 0.8 {
		b.WriteString(" System is under heavy load; prefer lightweight operations.")
	}
	return b.String()
}

// structuredView flattens the key facts of every layer into a string map
// for machine consumers that do not want to parse the narrative.
func structuredView(env *envelope.Envelope) map[string]string {
	s := map[string]string{
		"user.id":           env.User.UserID,
		"user.expertise":    string(env.User.Expertise),
		"intent.primary":    env.Intent.Primary,
		"intent.confidence": fmt.Sprintf("%.2f", env.Intent.Confidence),
		"environment.name":  env.Environment.Environment,
		"environment.mode":  env.Environment.RoutingMode,
		"rules.hard_count":  fmt.Sprintf("%d", len(env.Rules.HardWalls)),
		"rules.soft_count":  fmt.Sprintf("%d", len(env.Rules.SoftWalls)),
		"domain.repo_path":  env.Domain.RepoPath,
		"domain.components": fmt.Sprintf("%d", len(env.Domain.Components)),
		"degraded.layers":   strings.Join(env.Degraded, ","),
	}
	if env.User.TenantID != "" {
		s["user.tenant"] = env.User.TenantID
	}
	for k, v := range s {
		if v == "" {
			delete(s, k)
		}
	}
	return s
}

// humanize turns a snake_case identifier into readable words.
func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
