// Package layers implements the five input layer builders. Each builder
// gathers one concern (user, intent, domain, rules, environment) from its
// sources, independently of the others, and every builder also exposes a
// degraded default so one failing source never takes the whole build down.
package layers

import (
	"context"
	"fmt"

	"github.com/stackconsulting/orchestra/internal/envelope"
)

// Claims is the verified identity payload extracted from the caller's auth
// token. Claims are trusted input: validation happened upstream, parsing
// here only checks shape.
type Claims struct {
	Subject     string
	TenantID    string
	Roles       []string
	Preferences map[string]string
}

// ParseClaims converts a decoded token payload into Claims. A missing or
// non-string subject is malformed; everything else is optional.
func ParseClaims(payload map[string]any) (Claims, error) {
	sub, ok := payload["sub"].(string)
	if !ok || sub == "" {
		return Claims{}, &envelope.MalformedInputError{
			Layer:  envelope.LayerUser,
			Field:  "sub",
			Reason: "missing or non-string subject claim",
		}
	}

	claims := Claims{Subject: sub}
	if tenant, ok := payload["tenant_id"].(string); ok {
		claims.TenantID = tenant
	}
	if roles, ok := payload["roles"].([]any); ok {
		for i, r := range roles {
			role, ok := r.(string)
			if !ok {
				return Claims{}, &envelope.MalformedInputError{
					Layer:  envelope.LayerUser,
					Field:  fmt.Sprintf("roles[%d]", i),
					Reason: "non-string role entry",
				}
			}
			claims.Roles = append(claims.Roles, role)
		}
	}
	if prefs, ok := payload["preferences"].(map[string]any); ok {
		claims.Preferences = make(map[string]string, len(prefs))
		for k, v := range prefs {
			if s, ok := v.(string); ok {
				claims.Preferences[k] = s
			}
		}
	}
	return claims, nil
}

// Request is one inbound context-build request.
type Request struct {
	Message   string `json:"message"`
	TaskType  string `json:"task_type,omitempty"`
	RepoPath  string `json:"repo_path,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	SessionID string `json:"session_id"`
}

// HistoryService summarizes a user's prior sessions. Implementations talk to
// the conversation store; the builder degrades to an empty summary when the
// service fails.
type HistoryService interface {
	UserSummary(ctx context.Context, userID string) (summary string, sessionCount int, err error)
}

// RepoAnalyzer produces a deeper repository summary than marker-file
// sniffing alone. Optional: a nil analyzer means markers only.
type RepoAnalyzer interface {
	Summarize(ctx context.Context, repoPath string) (string, error)
}

// PolicyStore serves per-tenant rule customizations.
type PolicyStore interface {
	TenantPolicies(ctx context.Context, tenantID string) (hard []envelope.HardRule, soft []envelope.SoftRule, err error)
}

// LoadProbe reports current system load in [0,1] and active session count.
type LoadProbe interface {
	Load() (load float64, activeSessions int)
}
