package layers

import (
	"context"
	"strings"
	"time"

	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// UserBuilder constructs the user layer from auth claims and session
// history.
type UserBuilder struct {
	history     HistoryService
	multiTenant bool
}

// NewUserBuilder returns a user layer builder. history may be nil when no
// conversation store is wired.
func NewUserBuilder(history HistoryService, multiTenant bool) *UserBuilder {
	return &UserBuilder{history: history, multiTenant: multiTenant}
}

// Build derives expertise and preferences from the caller's roles, then
// enriches with a history summary. A failing history service degrades to an
// empty summary; a missing tenant in multi-tenant mode is a hard error.
func (b *UserBuilder) Build(ctx context.Context, claims Claims) (envelope.UserLayer, error) {
	if b.multiTenant && claims.TenantID == "" {
		return envelope.UserLayer{}, &envelope.MalformedInputError{
			Layer:  envelope.LayerUser,
			Field:  "tenant_id",
			Reason: "tenant identifier required in multi-tenant mode",
		}
	}

	layer := envelope.UserLayer{
		UserID:      claims.Subject,
		TenantID:    claims.TenantID,
		Roles:       claims.Roles,
		Expertise:   ExpertiseFromRoles(claims.Roles),
		Preferences: preferencesFromRoles(claims.Roles),
		LastSeen:    time.Now().UTC(),
	}

	// Explicit claim preferences win over role-derived defaults.
	for k, v := range claims.Preferences {
		layer.Preferences[k] = v
	}

	if b.history != nil {
		summary, count, err := b.history.UserSummary(ctx, claims.Subject)
		if err != nil {
			// A timed-out source fails the builder so the assembler can
			// record the degradation; other service errors just lose the
			// summary.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return envelope.UserLayer{}, ctxErr
			}
			logging.BuilderWarn("history lookup failed for %s, continuing without summary: %v", claims.Subject, err)
		} else {
			layer.HistorySummary = summary
			layer.SessionCount = count
		}
	}

	logging.BuilderDebug("user layer built for %s (expertise=%s, sessions=%d)",
		layer.UserID, layer.Expertise, layer.SessionCount)
	return layer, nil
}

// Degraded returns the anonymous fallback user layer.
func (b *UserBuilder) Degraded() envelope.UserLayer {
	return envelope.UserLayer{
		UserID:    "anonymous",
		Expertise: envelope.ExpertiseIntermediate,
		Preferences: map[string]string{
			"verbosity": "balanced",
		},
	}
}

// ExpertiseFromRoles maps role titles to a skill tier. Seniority markers win
// over everything else; unknown roles land on intermediate. Exported because
// cache keying needs the same classification without a full user build.
func ExpertiseFromRoles(roles []string) envelope.Expertise {
	for _, role := range roles {
		r := strings.ToLower(role)
		switch {
		case strings.Contains(r, "senior"), strings.Contains(r, "lead"),
			strings.Contains(r, "principal"), strings.Contains(r, "architect"),
			strings.Contains(r, "staff"):
			return envelope.ExpertiseExpert
		case strings.Contains(r, "junior"), strings.Contains(r, "intern"),
			strings.Contains(r, "trainee"):
			return envelope.ExpertiseBeginner
		}
	}
	return envelope.ExpertiseIntermediate
}

// preferencesFromRoles seeds communication preferences from job function.
func preferencesFromRoles(roles []string) map[string]string {
	prefs := map[string]string{
		"verbosity":     "balanced",
		"code_examples": "true",
	}
	for _, role := range roles {
		r := strings.ToLower(role)
		switch {
		case strings.Contains(r, "manager"), strings.Contains(r, "director"),
			strings.Contains(r, "executive"):
			prefs["verbosity"] = "concise"
			prefs["code_examples"] = "false"
			prefs["focus"] = "business_impact"
		case strings.Contains(r, "architect"):
			prefs["focus"] = "system_design"
			prefs["diagrams"] = "true"
		case strings.Contains(r, "security"):
			prefs["focus"] = "security_implications"
		case strings.Contains(r, "devops"), strings.Contains(r, "sre"),
			strings.Contains(r, "platform"):
			prefs["focus"] = "operational_concerns"
		}
	}
	return prefs
}
