package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackconsulting/orchestra/internal/envelope"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storedEnvelope(id string) *envelope.Envelope {
	return &envelope.Envelope{
		ContextID: id,
		CreatedAt: time.Now().UTC(),
		User:      envelope.UserLayer{UserID: "alice", TenantID: "acme"},
		Intent:    envelope.IntentLayer{Primary: envelope.IntentImplementation, Confidence: 0.8},
		Rules: envelope.RulesLayer{
			HardWalls: []envelope.HardRule{
				{ID: "hard.no_live_exec", Kind: envelope.HardForbidAction, Actions: []string{"execute_live_code"}},
			},
		},
		TokenCount: 1234,
	}
}

func TestSaveAndGetEnvelope(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	env := storedEnvelope("ctx-1")
	require.NoError(t, s.SaveEnvelope(ctx, env))

	got, err := s.GetEnvelope(ctx, "ctx-1")
	require.NoError(t, err)

	assert.Equal(t, env.ContextID, got.ContextID)
	assert.Equal(t, env.User.UserID, got.User.UserID)
	assert.Equal(t, env.Intent.Primary, got.Intent.Primary)
	assert.Equal(t, env.TokenCount, got.TokenCount)
	require.Len(t, got.Rules.HardWalls, 1)
	assert.Equal(t, envelope.HardForbidAction, got.Rules.HardWalls[0].Kind)
}

func TestGetEnvelopeMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetEnvelope(context.Background(), "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestSaveEnvelopeUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	env := storedEnvelope("ctx-1")
	require.NoError(t, s.SaveEnvelope(ctx, env))

	env.TokenCount = 99
	require.NoError(t, s.SaveEnvelope(ctx, env))

	got, err := s.GetEnvelope(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, 99, got.TokenCount)
}

func TestRecentEnvelopes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"ctx-1", "ctx-2", "ctx-3"} {
		env := storedEnvelope(id)
		env.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, s.SaveEnvelope(ctx, env))
	}

	got, err := s.RecentEnvelopes(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ctx-3", got[0].ContextID)

	none, err := s.RecentEnvelopes(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditTrail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordViolation(ctx, "ctx-1", "hard.no_live_exec", "execute_live_code", "blocking"))
	require.NoError(t, s.RecordOverride(ctx, "ctx-2", "admin", "hard wall hard.freeze (require_approval)"))

	entries, err := s.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "override", entries[0].Kind)
	assert.Equal(t, "admin", entries[0].Actor)
	assert.Equal(t, "violation", entries[1].Kind)
	assert.Equal(t, "hard.no_live_exec", entries[1].RuleID)
	assert.Equal(t, "blocking", entries[1].Severity)
}

func TestRecentAuditLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordViolation(ctx, "ctx-1", "hard.no_live_exec", "execute_live_code", "blocking"))
	}

	entries, err := s.RecentAudit(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
