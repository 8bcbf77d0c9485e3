package twin

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/internal/logging"
	"github.com/signalsfoundry/section-twin/model"
)

// MetricsRecorder receives live-state gauge updates from the twin.
type MetricsRecorder interface {
	SetTrainCounts(active, held, completed int)
	SetStateVersion(version uint64)
}

// Twin is the live, single source of truth for train state on the
// monitored section. Only IngestTick and CommitAction mutate it, both
// serialized under one lock; branches get isolated deep copies and never
// write back.
type Twin struct {
	// mu is the coarse state lock. Ticks never overlap, and readers see
	// a consistent version/trains pair.
	mu sync.RWMutex

	topo    *core.Topology
	tracker *core.Tracker

	trains  map[string]*model.Train
	now     time.Time
	tick    time.Duration
	version uint64

	log     logging.Logger
	metrics MetricsRecorder
}

// Option customises Twin construction.
type Option func(*Twin)

// WithMetricsRecorder attaches a gauge recorder driven by mutations.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(tw *Twin) { tw.metrics = m }
}

// WithTick overrides the default 5s tick duration.
func WithTick(d time.Duration) Option {
	return func(tw *Twin) {
		if d > 0 {
			tw.tick = d
		}
	}
}

// New builds a live twin over a validated topology. start is the
// simulation epoch for the first tick.
func New(topo *core.Topology, start time.Time, log logging.Logger, opts ...Option) *Twin {
	if log == nil {
		log = logging.Noop()
	}
	tw := &Twin{
		topo:    topo,
		tracker: core.NewTracker(topo, log),
		trains:  make(map[string]*model.Train),
		now:     start,
		tick:    5 * time.Second,
		version: 1,
		log:     log,
	}
	for _, opt := range opts {
		opt(tw)
	}
	return tw
}

// Topology exposes the immutable section graph.
func (tw *Twin) Topology() *core.Topology { return tw.topo }

// Tracker exposes the advance logic shared with branches.
func (tw *Twin) Tracker() *core.Tracker { return tw.tracker }

// Tick returns the configured tick duration.
func (tw *Twin) Tick() time.Duration { return tw.tick }

// Version returns the current state version. It increases on every
// mutation (tick or commit), never otherwise.
func (tw *Twin) Version() uint64 {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	return tw.version
}

// Now returns the twin's current simulation time.
func (tw *Twin) Now() time.Time {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	return tw.now
}

// AddTrain registers a scheduled train before its first telemetry. Route
// must be walkable on the section topology.
func (tw *Twin) AddTrain(t *model.Train) error {
	if err := tw.topo.ValidateRoute(t.Route); err != nil {
		return err
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if t.Status == "" {
		t.Status = model.StatusScheduled
	}
	tw.trains[t.ID] = t
	tw.bumpLocked()
	return nil
}

// IngestTick advances the live state by one tick, reconciling against
// the supplied telemetry, and returns the per-train deltas. Calls are
// serialized; a tick never observes another tick half-applied.
func (tw *Twin) IngestTick(updates []model.TrainUpdate) []model.TrainDelta {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.now = tw.now.Add(tw.tick)
	deltas := tw.tracker.Advance(tw.trains, tw.now, tw.tick, updates)
	tw.bumpLocked()
	return deltas
}

// TwinState is a deep-copied view of the live twin for display and for
// predictor scans. Callers own it outright.
type TwinState struct {
	Version uint64
	Now     time.Time
	Trains  []*model.Train
}

// Train returns the copied train with the given ID, or nil.
func (s *TwinState) Train(id string) *model.Train {
	for _, t := range s.Trains {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Snapshot returns a consistent deep copy of the live state.
func (tw *Twin) Snapshot() *TwinState {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	return tw.snapshotLocked()
}

func (tw *Twin) snapshotLocked() *TwinState {
	trains := make([]*model.Train, 0, len(tw.trains))
	for _, t := range tw.trains {
		trains = append(trains, t.Clone())
	}
	sort.Slice(trains, func(i, j int) bool { return trains[i].ID < trains[j].ID })
	return &TwinState{
		Version: tw.version,
		Now:     tw.now,
		Trains:  trains,
	}
}

// Branch clones the current live state into an isolated sandbox. The
// branch shares the immutable topology but nothing mutable; it can be
// simulated concurrently with live ticks and with other branches.
func (tw *Twin) Branch() *Branch {
	tw.mu.RLock()
	defer tw.mu.RUnlock()

	trains := make(map[string]*model.Train, len(tw.trains))
	for id, t := range tw.trains {
		trains[id] = t.Clone()
	}
	return &Branch{
		ID:          uuid.NewString(),
		topo:        tw.topo,
		tracker:     tw.tracker,
		trains:      trains,
		now:         tw.now,
		tick:        tw.tick,
		BaseVersion: tw.version,
	}
}

// CommitAction is the single path by which a recommendation mutates live
// state. The action must have been computed against the current version;
// otherwise a StaleStateError tells the caller to recompute. Hard
// constraint violations surface as InfeasibleActionError and leave the
// twin untouched.
func (tw *Twin) CommitAction(ctx context.Context, action *model.ResolutionAction) (*model.CommitResult, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if action.StateVersion != tw.version {
		return nil, &StaleStateError{Expected: action.StateVersion, Actual: tw.version}
	}
	t := tw.trains[action.TrainID]
	if t == nil {
		return nil, ErrTrainNotFound
	}
	if t.Status != model.StatusActive && t.Status != model.StatusHeld && t.Status != model.StatusScheduled {
		return nil, &StaleStateError{Expected: action.StateVersion, Actual: tw.version}
	}

	if err := applyAction(tw.topo, tw.tracker, tw.trains, tw.now, t, action); err != nil {
		return nil, err
	}

	tw.bumpLocked()
	tw.log.Info(ctx, "committed resolution action",
		logging.String("action_id", action.ID),
		logging.String("action_type", string(action.Type)),
		logging.String("train_id", action.TrainID),
		logging.Uint64("state_version", tw.version),
	)
	return &model.CommitResult{
		ActionID:     action.ID,
		TrainID:      action.TrainID,
		StateVersion: tw.version,
		CommittedAt:  tw.now,
	}, nil
}

// bumpLocked advances the version and refreshes gauges. Callers hold mu.
func (tw *Twin) bumpLocked() {
	tw.version++
	if tw.metrics == nil {
		return
	}
	var active, held, completed int
	for _, t := range tw.trains {
		switch t.Status {
		case model.StatusActive:
			active++
		case model.StatusHeld:
			held++
		case model.StatusCompleted:
			completed++
		}
	}
	tw.metrics.SetTrainCounts(active, held, completed)
	tw.metrics.SetStateVersion(tw.version)
}
