// Package assemble fans out the five layer builders, joins their results
// into a single envelope, fuses the exposition narrative, and enforces the
// token budget. Assembly is all-or-each: any builder may fail and be
// replaced by its degraded default, and only total failure of all five
// surfaces as an error.
package assemble

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stackconsulting/orchestra/internal/config"
	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/layers"
	"github.com/stackconsulting/orchestra/internal/logging"
	"github.com/stackconsulting/orchestra/internal/tokens"
)

// AuditSink records privileged override applications. The persistence store
// implements it; a nil sink means audit goes to the log only.
type AuditSink interface {
	RecordOverride(ctx context.Context, contextID, actor, detail string) error
}

// Assembler builds context envelopes.
type Assembler struct {
	cfg *config.Config

	user        *layers.UserBuilder
	intent      *layers.IntentBuilder
	domain      *layers.DomainBuilder
	rules       *layers.RulesBuilder
	environment *layers.EnvironmentBuilder

	counter   *tokens.Counter
	budgeter  *tokens.Budgeter
	telemetry *Telemetry
	audit     AuditSink

	// limiter throttles builds to the request budget of the most recent
	// environment snapshot. limiterRPM remembers the budget it was sized
	// from so an unchanged snapshot keeps the bucket's accumulated tokens.
	limiterMu  sync.Mutex
	limiter    *rate.Limiter
	limiterRPM int
}

// Deps bundles the external services the builders need.
type Deps struct {
	History  layers.HistoryService
	Analyzer layers.RepoAnalyzer
	Policies layers.PolicyStore
	Probe    layers.LoadProbe
	Fs       afero.Fs
	Audit    AuditSink
}

// New returns an assembler wired with the given dependencies. Any Deps field
// may be nil; the corresponding builder degrades gracefully.
func New(cfg *config.Config, deps Deps) *Assembler {
	counter := tokens.NewCounter()
	return &Assembler{
		cfg:         cfg,
		user:        layers.NewUserBuilder(deps.History, cfg.MultiTenant),
		intent:      layers.NewIntentBuilder(),
		domain:      layers.NewDomainBuilder(deps.Fs, deps.Analyzer),
		rules:       layers.NewRulesBuilder(deps.Policies),
		environment: layers.NewEnvironmentBuilder(cfg.Environment, cfg.Routing.Mode, deps.Probe),
		counter:     counter,
		budgeter:    tokens.NewBudgeter(cfg.Budget, counter),
		telemetry:   NewTelemetry(),
		audit:       deps.Audit,
		limiter:     layers.RequestLimiter(envelope.EnvironmentLayer{}),
		limiterRPM:  layers.RequestsPerMinute(envelope.EnvironmentLayer{}),
	}
}

// Telemetry exposes the assembler's counters.
func (a *Assembler) Telemetry() *Telemetry {
	return a.telemetry
}

// Build assembles one envelope: fan out the five builders under their
// per-source timeouts, substitute degraded defaults for failures, apply
// overrides, fuse the exposition, and prune to budget.
//
// The only build-level errors are a cancelled caller context, malformed
// required input, and total failure of all five builders.
func (a *Assembler) Build(ctx context.Context, req layers.Request, claims layers.Claims, override *envelope.Override) (*envelope.Envelope, error) {
	if err := a.throttle(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	timer := logging.StartTimer(logging.CategoryAssemble, "build")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	var (
		userLayer   envelope.UserLayer
		intentLayer envelope.IntentLayer
		domainLayer envelope.DomainLayer
		rulesLayer  envelope.RulesLayer
		envLayer    envelope.EnvironmentLayer

		userErr, intentErr, domainErr, rulesErr, envErr error
	)

	// Each goroutine owns exactly one result variable and one error
	// variable, so no locking is needed; the errgroup wait is the barrier.
	// Goroutines always return nil: one failing builder must not cancel
	// its siblings.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		userLayer, userErr = buildWithTimeout(gctx, a.cfg.Source(config.SourceHistory), envelope.LayerUser,
			func(c context.Context) (envelope.UserLayer, error) { return a.user.Build(c, claims) })
		return nil
	})
	g.Go(func() error {
		intentLayer, intentErr = buildWithTimeout(gctx, a.cfg.Source(config.SourceIntent), envelope.LayerIntent,
			func(c context.Context) (envelope.IntentLayer, error) { return a.intent.Build(c, req) })
		return nil
	})
	g.Go(func() error {
		domainLayer, domainErr = buildWithTimeout(gctx, a.cfg.Source(config.SourceRepoAnalyzer), envelope.LayerDomain,
			func(c context.Context) (envelope.DomainLayer, error) { return a.domain.Build(c, req) })
		return nil
	})
	g.Go(func() error {
		rulesLayer, rulesErr = buildWithTimeout(gctx, a.cfg.Source(config.SourceTenantPolicies), envelope.LayerRules,
			func(c context.Context) (envelope.RulesLayer, error) { return a.rules.Build(c, claims) })
		return nil
	})
	g.Go(func() error {
		envLayer, envErr = buildWithTimeout(gctx, a.cfg.Source(config.SourceEnv), envelope.LayerEnvironment,
			func(c context.Context) (envelope.EnvironmentLayer, error) { return a.environment.Build(c, req) })
		return nil
	})

	// The barrier: exposition fusion never starts before every builder has
	// finished or timed out.
	_ = g.Wait()

	failures := map[string]error{
		envelope.LayerUser:        userErr,
		envelope.LayerIntent:      intentErr,
		envelope.LayerDomain:      domainErr,
		envelope.LayerRules:       rulesErr,
		envelope.LayerEnvironment: envErr,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env := &envelope.Envelope{
		ContextID:   uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		User:        userLayer,
		Intent:      intentLayer,
		Domain:      domainLayer,
		Rules:       rulesLayer,
		Environment: envLayer,
	}

	for _, layer := range envelope.InputLayers() {
		err := failures[layer]
		if err == nil {
			continue
		}
		var malformed *envelope.MalformedInputError
		if errors.As(err, &malformed) {
			// Bad required input is a caller error, never degradable.
			a.telemetry.RecordError()
			return nil, err
		}
		a.substituteDegraded(env, layer)
		a.telemetry.RecordDegraded(layer)
		logging.AssembleWarn("%s builder failed, using degraded default: %v", layer, err)
	}
	sort.Strings(env.Degraded)

	if allFailed(failures) {
		a.telemetry.RecordError()
		return nil, &envelope.BuildError{Causes: failures}
	}

	env.Intent = a.intent.RefineWithHistory(env.Intent, req.Message, env.User.HistorySummary)

	if override != nil {
		a.applyOverride(ctx, env, override)
	}

	// Prune the structured layers before fusing the narrative so the
	// narrative only describes content that survived; a second pass after
	// fusion handles narrative overflow.
	report := a.budgeter.Fit(env)
	a.fuseExposition(env)
	if second := a.budgeter.Fit(env); second.Pruned() {
		report.Steps = append(report.Steps, second.Steps...)
		report.FinalTokens = second.FinalTokens
	}

	env.Exposition.LayerTokens = a.counter.LayerCounts(env)
	env.TokenCount = a.counter.CountEnvelope(env)
	env.BuildTime = time.Since(start)

	a.refreshLimiter(env.Environment)
	a.telemetry.RecordBuild(env.BuildTime, report.Pruned(), len(env.Degraded))
	logging.Assemble("envelope %s built in %v (%d tokens, %d degraded layers)",
		env.ContextID, env.BuildTime.Round(time.Millisecond), env.TokenCount, len(env.Degraded))
	return env, nil
}

// throttle blocks until the request limiter grants a slot, or the caller's
// context ends.
func (a *Assembler) throttle(ctx context.Context) error {
	a.limiterMu.Lock()
	lim := a.limiter
	a.limiterMu.Unlock()
	return lim.Wait(ctx)
}

// refreshLimiter resizes the limiter when a fresh environment snapshot
// carries a different request budget. A degraded snapshot tightens it.
func (a *Assembler) refreshLimiter(env envelope.EnvironmentLayer) {
	rpm := layers.RequestsPerMinute(env)
	a.limiterMu.Lock()
	if rpm != a.limiterRPM {
		a.limiter = layers.RequestLimiter(env)
		a.limiterRPM = rpm
	}
	a.limiterMu.Unlock()
}

// buildWithTimeout runs one builder under its configured source timeout.
// Builders are expected to honor context cancellation on their blocking
// calls.
func buildWithTimeout[L any](ctx context.Context, src config.SourceConfig, layer string, build func(context.Context) (L, error)) (L, error) {
	tctx, cancel := context.WithTimeout(ctx, src.Timeout())
	defer cancel()

	result, err := build(tctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = &envelope.TimeoutError{Layer: layer, Timeout: src.Timeout()}
	}
	return result, err
}

// substituteDegraded swaps in the failed layer's fallback.
func (a *Assembler) substituteDegraded(env *envelope.Envelope, layer string) {
	switch layer {
	case envelope.LayerUser:
		env.User = a.user.Degraded()
	case envelope.LayerIntent:
		env.Intent = a.intent.Degraded()
	case envelope.LayerDomain:
		env.Domain = a.domain.Degraded()
	case envelope.LayerRules:
		env.Rules = a.rules.Degraded()
	case envelope.LayerEnvironment:
		env.Environment = a.environment.Degraded()
	}
	env.Degraded = append(env.Degraded, layer)
}

func allFailed(failures map[string]error) bool {
	for _, layer := range envelope.InputLayers() {
		if failures[layer] == nil {
			return false
		}
	}
	return true
}
