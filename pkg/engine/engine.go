package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbiterhq/arbiter/pkg/catalog"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/exceptions"
	"github.com/arbiterhq/arbiter/pkg/obligations"
	"github.com/arbiterhq/arbiter/pkg/risk"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
)

// Options control engine construction.
type Options struct {
	Logger zerolog.Logger
	// Clock supplies the evaluation time for requests that do not carry an
	// explicit timestamp. Defaults to time.Now; tests inject a fixed clock.
	Clock func() time.Time
	// Risk carries the scoring thresholds.
	Risk risk.Config
}

// Engine holds the catalog and exception registry snapshots and evaluates
// decision requests against them. All methods are safe for concurrent use;
// snapshot swaps are atomic pointer updates, so an in-flight evaluation
// always sees a consistent pair.
type Engine struct {
	logger zerolog.Logger
	scorer risk.Scorer
	clock  func() time.Time

	catalog  atomic.Pointer[catalog.Catalog]
	registry atomic.Pointer[exceptions.Registry]
}

// New constructs an Engine. No catalog is loaded yet; until SetCatalog is
// called every decision fails closed with ReasonCatalogUnavailable.
func New(opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	e := &Engine{
		logger: opts.Logger,
		scorer: risk.NewScorer(opts.Risk),
		clock:  clock,
	}
	e.registry.Store(exceptions.Empty())
	return e
}

// SetCatalog publishes a new catalog snapshot. Nil catalogs are ignored.
func (e *Engine) SetCatalog(c *catalog.Catalog) {
	if c == nil {
		return
	}
	e.catalog.Store(c)
	e.logger.Info().
		Str("version", c.Version()).
		Str("revision", c.Revision()).
		Int("rules", c.RuleCount()).
		Msg("catalog snapshot swapped")
}

// Catalog returns the current catalog snapshot, or nil before the first load.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog.Load()
}

// SetExceptions publishes a new exception registry snapshot.
func (e *Engine) SetExceptions(r *exceptions.Registry) {
	if r == nil {
		return
	}
	e.registry.Store(r)
	e.logger.Info().Int("entries", r.Len()).Msg("exception registry swapped")
}

// Exceptions returns the current registry snapshot. Never nil.
func (e *Engine) Exceptions() *exceptions.Registry {
	return e.registry.Load()
}

// Ready reports whether a catalog has been loaded.
func (e *Engine) Ready() bool {
	return e.catalog.Load() != nil
}

// Decide evaluates the request at the request's own timestamp when set,
// otherwise at the engine clock's current time.
func (e *Engine) Decide(ctx context.Context, req domain.DecisionRequest) domain.Decision {
	at := req.Context.Timestamp
	if at.IsZero() {
		at = e.clock()
	}
	return e.DecideAt(ctx, req, at)
}

// DecideAt evaluates the request at an explicit evaluation time. The same
// (request, catalog revision, registry, evalTime) tuple always produces an
// identical decision, which makes decisions replayable.
func (e *Engine) DecideAt(ctx context.Context, req domain.DecisionRequest, at time.Time) domain.Decision {
	start := time.Now()
	at = at.UTC()

	decision := e.decide(req, at)

	telemetry.RecordDecision(ctx, telemetry.DecisionMetrics{
		Allowed:    decision.Allowed,
		Reason:     string(decision.Reason),
		RiskLevel:  string(decision.Risk.Level),
		RiskScore:  decision.Risk.Score,
		Violations: len(decision.Violations),
		Waived:     len(decision.WaivedViolations),
		Duration:   time.Since(start),
	})

	e.logger.Debug().
		Bool("allowed", decision.Allowed).
		Str("reason", string(decision.Reason)).
		Str("risk", string(decision.Risk.Level)).
		Int("violations", len(decision.Violations)).
		Strs("matched", decision.MatchedRules).
		Msg("decision composed")

	return decision
}

func (e *Engine) decide(req domain.DecisionRequest, at time.Time) domain.Decision {
	if err := req.Validate(); err != nil {
		return failClosed(domain.ReasonMalformedRequest, at)
	}

	cat := e.catalog.Load()
	if cat == nil {
		return failClosed(domain.ReasonCatalogUnavailable, at)
	}
	registry := e.registry.Load()

	// The engine never mutates caller-supplied data; evaluation works on its
	// own copy of the facts.
	req = req.Clone()

	outcomes := e.evaluate(req, cat)
	active, waived := aggregate(cat, outcomes.Violations, registry, at)
	assessment := e.scorer.Score(req, active, at)

	denied := hasCritical(active)
	for _, verdict := range outcomes.Verdicts {
		if verdict.Denied {
			denied = true
			break
		}
	}

	derived := obligations.Derive(obligations.Draft{
		Request:          req,
		Risk:             assessment,
		ActiveViolations: active,
		Denied:           denied,
	})
	derived = mergeFragments(derived, outcomes.Fragments)

	return compose(composeInput{
		Request:     req,
		Outcomes:    outcomes,
		Active:      active,
		Waived:      waived,
		Risk:        assessment,
		Obligations: derived,
		Revision:    cat.Revision(),
		EvalTime:    at,
	})
}

func failClosed(reason domain.ReasonCode, at time.Time) domain.Decision {
	return domain.Decision{
		Allowed:      false,
		Reason:       reason,
		Violations:   []domain.Violation{},
		Obligations:  []domain.Obligation{},
		MatchedRules: []string{},
		EvaluatedAt:  at,
	}
}
