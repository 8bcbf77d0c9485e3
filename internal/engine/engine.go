// Package engine wires the live twin, the conflict predictor, the
// optimizer and the KPI store into the operations the control API
// exposes. Tick ingestion is serialized; optimization and what-if work
// runs on forked branches and never blocks the tick path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/section-twin/internal/feed"
	"github.com/signalsfoundry/section-twin/internal/kpi"
	"github.com/signalsfoundry/section-twin/internal/logging"
	"github.com/signalsfoundry/section-twin/internal/optimize"
	"github.com/signalsfoundry/section-twin/internal/predict"
	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/model"
)

// maxConcurrentSolves bounds how many optimization requests run at
// once; further requests wait or give up with their context.
const maxConcurrentSolves = 2

var tracer = otel.Tracer("github.com/signalsfoundry/section-twin/internal/engine")

// ErrConflictNotFound indicates an optimization request named a conflict
// absent from the current prediction cycle.
var ErrConflictNotFound = errors.New("conflict not found")

// ConflictMetrics receives the size of each prediction cycle.
type ConflictMetrics interface {
	SetOpenConflicts(n int)
	ObservePrediction(d time.Duration)
}

// Engine owns one live twin and everything advisory around it.
type Engine struct {
	tw    *twin.Twin
	pred  *predict.Predictor
	opt   *optimize.Optimizer
	store *kpi.Store
	calib *predict.Calibration
	feed  *feed.Feed
	log   logging.Logger

	conflictMetrics ConflictMetrics
	solveSem        chan struct{}

	mu        sync.RWMutex
	conflicts []model.ConflictCandidate
	actions   map[string]*model.ResolutionAction
}

// Option configures an Engine.
type Option func(*Engine)

// WithKPIStore wires indicator persistence.
func WithKPIStore(s *kpi.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithFeed attaches a synthetic update source used by Tick.
func WithFeed(f *feed.Feed) Option {
	return func(e *Engine) { e.feed = f }
}

// WithConflictMetrics wires prediction gauges.
func WithConflictMetrics(m ConflictMetrics) Option {
	return func(e *Engine) { e.conflictMetrics = m }
}

// New assembles an engine. The calibration instance is shared with the
// predictor's scorer so operator feedback shifts future confidence.
func New(tw *twin.Twin, pred *predict.Predictor, opt *optimize.Optimizer, calib *predict.Calibration, log logging.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logging.Noop()
	}
	e := &Engine{
		tw:       tw,
		pred:     pred,
		opt:      opt,
		calib:    calib,
		log:      log,
		solveSem: make(chan struct{}, maxConcurrentSolves),
		actions:  make(map[string]*model.ResolutionAction),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Twin exposes the live twin, mainly for tests and the simulator.
func (e *Engine) Twin() *twin.Twin { return e.tw }

// IngestTick advances the live twin by one step with the given updates,
// reruns conflict prediction against the new state and persists a KPI
// sample. Ticks are serialized by the twin's own lock.
func (e *Engine) IngestTick(ctx context.Context, updates []model.TrainUpdate) ([]model.TrainDelta, error) {
	ctx, span := tracer.Start(ctx, "twin.tick")
	defer span.End()

	deltas := e.tw.IngestTick(updates)
	snap := e.tw.Snapshot()
	span.SetAttributes(
		attribute.Int64("twin.state_version", int64(snap.Version)),
		attribute.Int("twin.updates", len(updates)),
	)

	start := time.Now()
	scanCtx, scanSpan := tracer.Start(ctx, "predict.scan")
	conflicts := e.pred.Predict(scanCtx, snap.Trains, snap.Now)
	scanSpan.SetAttributes(attribute.Int("predict.candidates", len(conflicts)))
	scanSpan.End()
	if e.conflictMetrics != nil {
		e.conflictMetrics.ObservePrediction(time.Since(start))
		e.conflictMetrics.SetOpenConflicts(len(conflicts))
	}
	span.SetAttributes(attribute.Int("twin.conflicts", len(conflicts)))

	e.mu.Lock()
	e.conflicts = conflicts
	e.mu.Unlock()

	if e.store != nil {
		sample := kpi.SampleFromTrains(snap.Now, snap.Version, snap.Trains, len(conflicts))
		if err := e.store.RecordSample(ctx, sample); err != nil {
			e.log.Warn(ctx, "kpi sample not recorded", logging.Err(err))
		}
	}
	return deltas, nil
}

// Tick drives one step from the attached synthetic feed. A nil feed
// makes it a plain empty-update tick.
func (e *Engine) Tick(ctx context.Context) ([]model.TrainDelta, error) {
	var updates []model.TrainUpdate
	if e.feed != nil {
		updates = e.feed.Next(e.tw.Now().Add(e.tw.Tick()), e.tw.Snapshot().Trains)
	}
	return e.IngestTick(ctx, updates)
}

// Snapshot returns a deep copy of live state.
func (e *Engine) Snapshot(ctx context.Context) *twin.TwinState {
	return e.tw.Snapshot()
}

// Conflicts returns the candidates from the most recent prediction
// cycle, ordered by rank.
func (e *Engine) Conflicts(ctx context.Context) []model.ConflictCandidate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.ConflictCandidate(nil), e.conflicts...)
}

// WhatIfResult is the outcome of one counterfactual run.
type WhatIfResult struct {
	BranchID     string
	BaseVersion  uint64
	Impact       model.ImpactReport
	FinalTrains  []*model.Train
	HorizonTicks int
}

// RunWhatIf forks live state, applies the given actions to the fork and
// simulates the horizon forward, reporting the delay impact versus
// doing nothing. Live state is never touched; the same state version
// and actions always produce the same result.
func (e *Engine) RunWhatIf(ctx context.Context, actions []model.ResolutionAction, horizon time.Duration) (*WhatIfResult, error) {
	if horizon <= 0 {
		horizon = e.pred.Horizon()
	}
	branch := e.tw.Branch()

	baseline := branch.Fork()
	baselineState := baseline.State()
	conflictsBefore := predict.DetectConflicts(baseline.Tracker(), baselineState.Trains, baseline.Now(), horizon)
	baselineRun := baseline.Simulate(horizon)

	altered := branch.Fork()
	for i := range actions {
		if err := altered.ApplyAction(&actions[i]); err != nil {
			return nil, err
		}
	}
	alteredState := altered.State()
	conflictsAfter := predict.DetectConflicts(altered.Tracker(), alteredState.Trains, altered.Now(), horizon)
	alteredRun := altered.Simulate(horizon)

	impact := model.ImpactReport{
		DelayDelta:       make(map[string]time.Duration),
		TotalDelayBefore: baselineRun.TotalDelay(),
		TotalDelayAfter:  alteredRun.TotalDelay(),
		MaxDelayBefore:   baselineRun.MaxDelay(),
		MaxDelayAfter:    alteredRun.MaxDelay(),
		ConflictsBefore:  len(conflictsBefore),
		ConflictsAfter:   len(conflictsAfter),
	}
	before := baselineRun.DelayByTrain()
	for id, after := range alteredRun.DelayByTrain() {
		if d := after - before[id]; d != 0 {
			impact.DelayDelta[id] = d
		}
	}

	return &WhatIfResult{
		BranchID:     branch.ID,
		BaseVersion:  branch.BaseVersion,
		Impact:       impact,
		FinalTrains:  alteredRun.Final.Trains,
		HorizonTicks: len(alteredRun.Steps),
	}, nil
}

// OptimizeRequest narrows one optimization run. An empty ConflictIDs
// resolves the full current conflict set; a nil TimeBudget uses the
// optimizer's configured default, while an explicit zero skips the exact
// search and answers heuristically at once.
type OptimizeRequest struct {
	ConflictIDs []string
	TimeBudget  *time.Duration
}

// Optimize resolves conflicts from the current prediction cycle.
// Requests queue on a small semaphore so a burst of solves cannot
// starve the tick path; the caller's context cancels both the wait and
// the search.
func (e *Engine) Optimize(ctx context.Context, req OptimizeRequest) (*optimize.Result, error) {
	ctx, span := tracer.Start(ctx, "optimize.resolve")
	defer span.End()

	select {
	case e.solveSem <- struct{}{}:
		defer func() { <-e.solveSem }()
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "queue wait cancelled")
		return nil, ctx.Err()
	}

	conflicts := e.Conflicts(ctx)
	if len(req.ConflictIDs) > 0 {
		var err error
		if conflicts, err = selectConflicts(conflicts, req.ConflictIDs); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "unknown conflict")
			return nil, err
		}
	}
	budget := time.Duration(-1)
	if req.TimeBudget != nil {
		budget = *req.TimeBudget
	}

	result, err := e.opt.Resolve(ctx, conflicts, budget)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("optimize.status", string(result.Status)),
		attribute.Int("optimize.explored", result.Explored),
		attribute.Int("optimize.actions", len(result.Actions)),
	)

	e.mu.Lock()
	for i := range result.Actions {
		if result.Actions[i].ID == "" {
			result.Actions[i].ID = uuid.NewString()
		}
		a := result.Actions[i]
		e.actions[a.ID] = &a
	}
	e.mu.Unlock()
	return result, nil
}

// selectConflicts filters candidates down to the requested IDs,
// preserving their order. Every requested ID must still be live.
func selectConflicts(conflicts []model.ConflictCandidate, ids []string) ([]model.ConflictCandidate, error) {
	byID := make(map[string]model.ConflictCandidate, len(conflicts))
	for _, c := range conflicts {
		byID[c.ID] = c
	}
	out := make([]model.ConflictCandidate, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
		}
		out = append(out, c)
	}
	return out, nil
}

// CommitAction applies a recommended action to the live twin. The twin
// rejects it if the state version moved on or the action is no longer
// physically possible.
func (e *Engine) CommitAction(ctx context.Context, action *model.ResolutionAction) (*model.CommitResult, error) {
	result, err := e.tw.CommitAction(ctx, action)
	if err != nil {
		return nil, err
	}
	if e.store != nil {
		if err := e.store.RecordAction(ctx, result.CommittedAt, action); err != nil {
			e.log.Warn(ctx, "action audit not recorded", logging.Err(err))
		}
	}
	return result, nil
}

// Action returns a previously recommended action by ID.
func (e *Engine) Action(id string) (*model.ResolutionAction, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actions[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// Feedback records an operator verdict; acceptance shifts predictor
// confidence through the shared calibration.
func (e *Engine) Feedback(ctx context.Context, fb *model.OperatorFeedback) error {
	if fb.Timestamp.IsZero() {
		fb.Timestamp = e.tw.Now()
	}
	if e.calib != nil {
		e.calib.Observe(fb.Verdict == model.VerdictAccepted)
	}
	if e.store != nil {
		if err := e.store.RecordFeedback(ctx, fb); err != nil {
			return err
		}
	}
	e.log.Info(ctx, "operator feedback recorded",
		logging.String("action_id", fb.ActionID),
		logging.String("verdict", string(fb.Verdict)),
	)
	return nil
}

// KPIStore exposes the indicator store for reporting endpoints; nil
// when persistence is disabled.
func (e *Engine) KPIStore() *kpi.Store { return e.store }
