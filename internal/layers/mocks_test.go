package layers

import (
	"context"
	"errors"

	"github.com/stackconsulting/orchestra/internal/envelope"
)

type mockHistory struct {
	summary string
	count   int
	err     error
}

func (m *mockHistory) UserSummary(ctx context.Context, userID string) (string, int, error) {
	return m.summary, m.count, m.err
}

type mockAnalyzer struct {
	summary string
	err     error
}

func (m *mockAnalyzer) Summarize(ctx context.Context, repoPath string) (string, error) {
	return m.summary, m.err
}

type mockPolicies struct {
	hard []envelope.HardRule
	soft []envelope.SoftRule
	err  error
}

func (m *mockPolicies) TenantPolicies(ctx context.Context, tenantID string) ([]envelope.HardRule, []envelope.SoftRule, error) {
	return m.hard, m.soft, m.err
}

type mockProbe struct {
	load     float64
	sessions int
}

func (m *mockProbe) Load() (float64, int) {
	return m.load, m.sessions
}

var errUnavailable = errors.New("service unavailable")
