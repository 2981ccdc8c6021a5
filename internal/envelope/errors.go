package envelope

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for degradable conditions.
var (
	// ErrBudgetExceeded signals that an envelope exceeds its token ceiling.
	// It is non-fatal: the budgeter prunes until the ceiling is satisfied.
	ErrBudgetExceeded = errors.New("token budget exceeded")

	// ErrCacheUnavailable signals that the envelope cache cannot be used.
	// Callers degrade to always-build mode.
	ErrCacheUnavailable = errors.New("context cache unavailable")
)

// TimeoutError reports a layer builder that exceeded its configured timeout.
// The assembler substitutes the layer's degraded default and records the
// failure; it is only surfaced when every builder fails.
type TimeoutError struct {
	Layer   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s builder exceeded %v timeout", e.Layer, e.Timeout)
}

// MalformedInputError reports malformed required input to a builder, e.g. an
// unparseable auth claim. Expected absence of optional input is never an
// error.
type MalformedInputError struct {
	Layer  string
	Field  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("%s builder: malformed %s: %s", e.Layer, e.Field, e.Reason)
}

// ComplianceError reports a hard-wall violation. It is fatal to the specific
// action, not the request, and must never be silently downgraded: it always
// carries the violated rule identifier and severity.
type ComplianceError struct {
	RuleID   string
	Severity string
	Action   string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("compliance violation: action %q denied by rule %s (severity %s)", e.Action, e.RuleID, e.Severity)
}

// BuildError is the only user-visible build failure: it is returned when all
// five input builders fail, and names each failing layer with its cause.
type BuildError struct {
	Causes map[string]error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("context build failed: all %d layer builders failed", len(e.Causes))
}

// Unwrap exposes the per-layer causes to errors.Is / errors.As.
func (e *BuildError) Unwrap() []error {
	errs := make([]error, 0, len(e.Causes))
	for _, err := range e.Causes {
		errs = append(errs, err)
	}
	return errs
}
