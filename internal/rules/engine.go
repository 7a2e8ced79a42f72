// internal/rules/engine.go
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solatis/rulefilter/internal/provider"
	"github.com/solatis/rulefilter/internal/types"
)

// ProcessedRecorder is implemented by rule stores that record when a rule
// set was last compiled.
type ProcessedRecorder interface {
	MarkProcessed(ctx context.Context, id types.RuleSetID, at time.Time) error
}

// Engine compiles rule sets into predicates.
//
// Compile is a pure function of the rule set, the registry and the sub-groups
// the source returns. CompileByID adds store lookup, caching and
// LastProcessedOnUtc stamping.
type Engine struct {
	registry *Registry
	source   RuleSetSource
	cache    *PredicateCache
	log      *logrus.Entry
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables predicate caching for CompileByID.
func WithCache(c *PredicateCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the engine's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an engine over registry. source resolves sub-groups and
// may be nil when no rule set contains group rules.
func NewEngine(registry *Registry, source RuleSetSource, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		source:   source,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Target builds a provider target for scope, filling SQL columns from the
// registry.
func (e *Engine) Target(scope types.Scope, kind provider.Kind, dialect string) provider.Target {
	t := provider.Target{Kind: kind, Dialect: dialect}
	if kind == provider.SQL {
		t.Columns = e.registry.Columns(scope)
	}
	return t
}

// Build compiles rs into its composite expression without adapting it.
// A set marked IsSubGroup cannot be compiled on its own.
func (e *Engine) Build(ctx context.Context, rs *types.RuleSet) (*CompositeFilterExpression, error) {
	if rs.IsSubGroup {
		return nil, fmt.Errorf("%w: %s", types.ErrSubGroupRoot, rs.ID)
	}
	g := &groupCompiler{
		registry: e.registry,
		source:   e.source,
		visiting: make(map[types.RuleSetID]bool),
	}
	return g.compile(ctx, rs, 0)
}

// Compile builds, unifies and adapts rs for target.
func (e *Engine) Compile(ctx context.Context, rs *types.RuleSet, target provider.Target) (*provider.Predicate, error) {
	comp, err := e.Build(ctx, rs)
	if err != nil {
		return nil, fmt.Errorf("compile rule set %s: %w", rs.ID, err)
	}
	lambda, err := comp.Predicate()
	if err != nil {
		return nil, fmt.Errorf("compile rule set %s: %w", rs.ID, err)
	}
	p, err := provider.Adapt(lambda, target)
	if err != nil {
		return nil, fmt.Errorf("compile rule set %s: %w", rs.ID, err)
	}
	return p, nil
}

// CompileByID loads rule set id from the source and compiles it for target,
// reusing a cached predicate while the set is unchanged. SQL targets without
// columns get the columns of the rule set's scope.
func (e *Engine) CompileByID(ctx context.Context, id types.RuleSetID, target provider.Target) (*provider.Predicate, error) {
	if e.source == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrRuleSetNotFound, id)
	}
	rs, err := e.source.GetRuleSet(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.Kind == provider.SQL && target.Columns == nil {
		target.Columns = e.registry.Columns(rs.Scope)
	}
	log := e.log.WithFields(logrus.Fields{
		"rule_set_id": id,
		"provider":    target.String(),
	})

	compile := func() (*provider.Predicate, error) {
		start := e.now()
		p, err := e.Compile(ctx, rs, target)
		if err != nil {
			log.WithError(err).Warn("rule set compilation failed")
			return nil, err
		}
		log.WithField("duration", e.now().Sub(start)).Debug("compiled rule set")
		e.markProcessed(ctx, log, id)
		return p, nil
	}

	if e.cache == nil {
		return compile()
	}
	p, hit, err := e.cache.GetOrCompile(CacheKey(rs, target), compile)
	if err != nil {
		return nil, err
	}
	if hit {
		log.WithField("stamp", stamp(rs.UpdatedOnUtc)).Trace("predicate cache hit")
	}
	return p, nil
}

// markProcessed records the compilation time. Failures are logged only; a
// compiled predicate is still valid when the stamp cannot be written.
func (e *Engine) markProcessed(ctx context.Context, log *logrus.Entry, id types.RuleSetID) {
	rec, ok := e.source.(ProcessedRecorder)
	if !ok {
		return
	}
	if err := rec.MarkProcessed(ctx, id, e.now().UTC()); err != nil {
		log.WithError(err).Warn("failed to record last processed time")
	}
}
