// Package optimize turns predicted conflicts into recommended
// resolution actions. An exact time-boxed search runs first; when the
// budget expires before the search completes, a greedy priority
// heuristic guarantees an answer.
package optimize

import (
	"context"
	"time"

	"github.com/signalsfoundry/section-twin/internal/logging"
	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/model"
)

// Status tracks a request through its lifecycle.
type Status string

const (
	StatusReceived    Status = "RECEIVED"
	StatusFormulating Status = "FORMULATING"
	StatusSolving     Status = "SOLVING"

	// Terminal states.
	StatusOptimal            Status = "OPTIMAL"
	StatusTimeLimitHeuristic Status = "TIME_LIMIT_HEURISTIC"
	StatusInfeasible         Status = "INFEASIBLE"
)

// Terminal reports whether the status ends a request.
func (s Status) Terminal() bool {
	switch s {
	case StatusOptimal, StatusTimeLimitHeuristic, StatusInfeasible:
		return true
	}
	return false
}

// DefaultBudget bounds the exact search per request.
const DefaultBudget = 30 * time.Second

// Result is the outcome of one optimization request.
type Result struct {
	Status       Status
	Actions      []model.ResolutionAction
	StateVersion uint64
	Elapsed      time.Duration
	Explored     int

	// Blocking names the hard constraints that rejected every candidate
	// plan; only set when Status is INFEASIBLE.
	Blocking []string
}

// MetricsRecorder receives optimizer outcome counters.
type MetricsRecorder interface {
	ObserveOptimization(status string, elapsed time.Duration)
}

// Optimizer resolves conflicts against a live twin. It reads one
// consistent branch per request and never mutates live state.
type Optimizer struct {
	tw      *twin.Twin
	budget  time.Duration
	horizon time.Duration
	log     logging.Logger
	metrics MetricsRecorder
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithBudget overrides the default solver budget.
func WithBudget(d time.Duration) Option {
	return func(o *Optimizer) {
		if d >= 0 {
			o.budget = d
		}
	}
}

// WithHorizon overrides the impact simulation horizon.
func WithHorizon(d time.Duration) Option {
	return func(o *Optimizer) {
		if d > 0 {
			o.horizon = d
		}
	}
}

// WithMetricsRecorder wires outcome counters.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *Optimizer) { o.metrics = m }
}

// New builds an optimizer over the given twin.
func New(tw *twin.Twin, log logging.Logger, opts ...Option) *Optimizer {
	if log == nil {
		log = logging.Noop()
	}
	o := &Optimizer{
		tw:      tw,
		budget:  DefaultBudget,
		horizon: 30 * time.Minute,
		log:     log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolve produces recommendations for the given conflicts. The exact
// search runs until it finishes or the budget expires; a zero budget
// skips it entirely and the heuristic answers immediately, and a
// negative budget falls back to the configured default. The returned
// actions carry the state version they were computed against.
func (o *Optimizer) Resolve(ctx context.Context, conflicts []model.ConflictCandidate, budget time.Duration) (*Result, error) {
	start := time.Now()
	if budget < 0 {
		budget = o.budget
	}
	o.transition(ctx, StatusReceived)

	base := o.tw.Branch()
	result := &Result{StateVersion: base.BaseVersion}

	if len(conflicts) == 0 {
		result.Status = StatusOptimal
		result.Elapsed = time.Since(start)
		o.record(result)
		return result, nil
	}

	o.transition(ctx, StatusFormulating)
	problem, err := formulate(base, conflicts, o.horizon)
	if err != nil {
		return nil, err
	}

	o.transition(ctx, StatusSolving)
	solution := solve(ctx, problem, budget)
	result.Explored = solution.explored

	switch {
	case solution.complete && solution.best != nil:
		result.Status = StatusOptimal
		result.Actions = o.finalize(base, problem, solution.best.assignment, model.SourceOptimal)

	default:
		// Out of time, or nothing feasible found yet: greedy fallback,
		// keeping a better partial search result when one exists.
		greedy := greedyAssignment(problem)
		chosen := greedy
		if solution.best != nil && (greedy == nil || solution.best.cost < evaluateCost(problem, greedy)) {
			chosen = solution.best.assignment
		}
		if chosen == nil {
			result.Status = StatusInfeasible
			result.Blocking = problem.blocking()
		} else {
			result.Status = StatusTimeLimitHeuristic
			result.Actions = o.finalize(base, problem, chosen, model.SourceHeuristic)
		}
	}

	result.Elapsed = time.Since(start)
	o.log.Info(ctx, "optimization finished",
		logging.String("status", string(result.Status)),
		logging.Int("actions", len(result.Actions)),
		logging.Int("explored", result.Explored),
		logging.Duration("elapsed", result.Elapsed),
	)
	o.record(result)
	return result, nil
}

func (o *Optimizer) transition(ctx context.Context, s Status) {
	o.log.Debug(ctx, "optimizer state", logging.String("status", string(s)))
}

func (o *Optimizer) record(r *Result) {
	if o.metrics != nil {
		o.metrics.ObserveOptimization(string(r.Status), r.Elapsed)
	}
}

// finalize turns a chosen assignment into fully annotated actions,
// attaching impact reports simulated against the request's base state.
func (o *Optimizer) finalize(base *twin.Branch, p *problem, assignment []int, source model.ActionSource) []model.ResolutionAction {
	actions := p.actionsFor(assignment)
	for i := range actions {
		actions[i].Source = source
		actions[i].StateVersion = base.BaseVersion
		actions[i].Impact = assessImpact(base, p, actions[i:i+1])
	}
	return actions
}
