// Package store persists envelopes and the compliance audit trail in a
// local SQLite database. One writer at a time; the mutex serializes access
// the same way the rest of the system treats the store as a single slow
// resource.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// Store is the SQLite-backed persistence layer. It implements the
// assembler's audit sink and the compliance gate's violation sink.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations. Use
// ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// SQLite allows one writer; extra connections just contend.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("store opened at %s", path)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS envelopes (
	context_id TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	tenant_id  TEXT,
	intent     TEXT NOT NULL,
	tokens     INTEGER NOT NULL,
	degraded   INTEGER NOT NULL DEFAULT 0,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_envelopes_user ON envelopes(user_id, created_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	context_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	rule_id    TEXT,
	actor      TEXT,
	action     TEXT,
	severity   TEXT,
	detail     TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_context ON audit_log(context_id);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveEnvelope persists a built envelope for later inspection.
func (s *Store) SaveEnvelope(ctx context.Context, env *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryStore, "save_envelope")
	defer timer.StopWithThreshold(100 * time.Millisecond)

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to serialize envelope %s: %w", env.ContextID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO envelopes
			(context_id, user_id, tenant_id, intent, tokens, degraded, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ContextID, env.User.UserID, env.User.TenantID, env.Intent.Primary,
		env.TokenCount, len(env.Degraded), string(payload), env.CreatedAt,
	)
	if err != nil {
		logging.StoreError("failed to save envelope %s: %v", env.ContextID, err)
		return fmt.Errorf("failed to save envelope: %w", err)
	}
	return nil
}

// GetEnvelope loads a persisted envelope by context ID.
func (s *Store) GetEnvelope(ctx context.Context, contextID string) (*envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM envelopes WHERE context_id = ?`, contextID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("envelope %s not found", contextID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load envelope %s: %w", contextID, err)
	}

	var env envelope.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope %s: %w", contextID, err)
	}
	return &env, nil
}

// RecentEnvelopes lists the newest persisted envelopes for a user.
func (s *Store) RecentEnvelopes(ctx context.Context, userID string, limit int) ([]*envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM envelopes
		WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list envelopes: %w", err)
	}
	defer rows.Close()

	var out []*envelope.Envelope
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var env envelope.Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return nil, err
		}
		out = append(out, &env)
	}
	return out, rows.Err()
}

// RecordOverride logs a privileged hard-wall override.
func (s *Store) RecordOverride(ctx context.Context, contextID, actor, detail string) error {
	return s.appendAudit(ctx, AuditEntry{
		ContextID: contextID,
		Kind:      "override",
		Actor:     actor,
		Detail:    detail,
	})
}

// RecordViolation logs a hard-wall violation.
func (s *Store) RecordViolation(ctx context.Context, contextID, ruleID, action, severity string) error {
	return s.appendAudit(ctx, AuditEntry{
		ContextID: contextID,
		Kind:      "violation",
		RuleID:    ruleID,
		Action:    action,
		Severity:  severity,
	})
}

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	ContextID string    `json:"context_id"`
	Kind      string    `json:"kind"`
	RuleID    string    `json:"rule_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) appendAudit(ctx context.Context, rec AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (context_id, kind, rule_id, actor, action, severity, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ContextID, rec.Kind, rec.RuleID, rec.Actor, rec.Action, rec.Severity, rec.Detail,
		time.Now().UTC(),
	)
	if err != nil {
		logging.StoreError("failed to append audit record: %v", err)
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// RecentAudit returns the newest audit entries, newest first.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, context_id, kind, COALESCE(rule_id, ''), COALESCE(actor, ''),
		       COALESCE(action, ''), COALESCE(severity, ''), COALESCE(detail, ''), created_at
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.ContextID, &e.Kind, &e.RuleID, &e.Actor,
			&e.Action, &e.Severity, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
