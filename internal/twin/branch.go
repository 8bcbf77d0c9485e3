package twin

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/model"
)

// Branch is a sandboxed copy of live state for what-if analysis. It
// shares the immutable topology with the live twin and nothing else;
// mutations and simulation never propagate back.
type Branch struct {
	ID          string
	BaseVersion uint64

	topo    *core.Topology
	tracker *core.Tracker
	trains  map[string]*model.Train
	now     time.Time
	tick    time.Duration
}

// Now returns the branch's current simulation time.
func (b *Branch) Now() time.Time { return b.now }

// Fork clones the branch so several alternative futures can be explored
// from one consistent base without re-reading live state.
func (b *Branch) Fork() *Branch {
	trains := make(map[string]*model.Train, len(b.trains))
	for id, t := range b.trains {
		trains[id] = t.Clone()
	}
	return &Branch{
		ID:          b.ID,
		BaseVersion: b.BaseVersion,
		topo:        b.topo,
		tracker:     b.tracker,
		trains:      trains,
		now:         b.now,
		tick:        b.tick,
	}
}

// Train returns the branch's copy of a train, or nil.
func (b *Branch) Train(id string) *model.Train { return b.trains[id] }

// Topology exposes the shared immutable graph.
func (b *Branch) Topology() *core.Topology { return b.topo }

// Tracker exposes the shared advance logic.
func (b *Branch) Tracker() *core.Tracker { return b.tracker }

// State returns a deep copy of the branch's current train state.
func (b *Branch) State() *TwinState {
	trains := make([]*model.Train, 0, len(b.trains))
	for _, t := range b.trains {
		trains = append(trains, t.Clone())
	}
	sort.Slice(trains, func(i, j int) bool { return trains[i].ID < trains[j].ID })
	return &TwinState{Version: b.BaseVersion, Now: b.now, Trains: trains}
}

// ApplyAction mutates only this branch. Actions that would break a hard
// occupancy or physical constraint fail with InfeasibleActionError and
// leave the branch unchanged.
func (b *Branch) ApplyAction(action *model.ResolutionAction) error {
	t := b.trains[action.TrainID]
	if t == nil {
		return ErrTrainNotFound
	}
	return applyAction(b.topo, b.tracker, b.trains, b.now, t, action)
}

// SimStep is one tick of a simulated future.
type SimStep struct {
	At     time.Time
	Deltas []model.TrainDelta
}

// SimResult is the deterministic projection of a branch over a horizon.
type SimResult struct {
	Steps []SimStep
	Final *TwinState
}

// TotalDelay sums cumulative delay over all trains in the final state.
func (r *SimResult) TotalDelay() time.Duration {
	var sum time.Duration
	for _, t := range r.Final.Trains {
		sum += t.Delay
	}
	return sum
}

// MaxDelay is the worst single-train delay in the final state.
func (r *SimResult) MaxDelay() time.Duration {
	var max time.Duration
	for _, t := range r.Final.Trains {
		if t.Delay > max {
			max = t.Delay
		}
	}
	return max
}

// DelayByTrain maps train ID to final cumulative delay.
func (r *SimResult) DelayByTrain() map[string]time.Duration {
	out := make(map[string]time.Duration, len(r.Final.Trains))
	for _, t := range r.Final.Trains {
		out[t.ID] = t.Delay
	}
	return out
}

// Simulate advances the branch tick by tick with no external updates: a
// pure projection. Identical starting state and horizon always produce
// identical output; there is no randomness anywhere on this path.
func (b *Branch) Simulate(horizon time.Duration) *SimResult {
	steps := int(horizon / b.tick)
	result := &SimResult{Steps: make([]SimStep, 0, steps)}

	for i := 0; i < steps; i++ {
		b.now = b.now.Add(b.tick)
		deltas := b.tracker.Advance(b.trains, b.now, b.tick, nil)
		result.Steps = append(result.Steps, SimStep{At: b.now, Deltas: deltas})
	}

	result.Final = b.State()
	return result
}

// applyAction applies one resolution action to a train within the given
// state, enforcing hard constraints. Shared by branch application and by
// the live commit path so impact predictions and commits can never
// diverge.
func applyAction(topo *core.Topology, tracker *core.Tracker, trains map[string]*model.Train, now time.Time, t *model.Train, action *model.ResolutionAction) error {
	beforeLine := singleLineViolations(tracker, trains, now)
	beforePlatform := platformViolations(tracker, trains, now)

	restore := t.Clone()
	switch action.Type {
	case model.ActionHold:
		if action.HoldDuration <= 0 {
			return &InfeasibleActionError{
				TrainID:    t.ID,
				ActionType: string(action.Type),
				Reason:     "hold duration must be positive",
			}
		}
		t.Status = model.StatusHeld
		t.HoldUntil = now.Add(action.HoldDuration)
		t.SpeedMPS = 0

	case model.ActionSpeedAdjust:
		base := t.MaxSpeedMPS
		if base <= 0 {
			if e := topo.Edge(t.CurrentEdge); e != nil {
				base = e.MaxSpeedMPS
			}
		}
		next := base + action.SpeedDeltaMPS
		if next <= 0 {
			return &InfeasibleActionError{
				TrainID:    t.ID,
				ActionType: string(action.Type),
				Reason:     fmt.Sprintf("speed delta %.1f m/s would stop the train entirely", action.SpeedDeltaMPS),
			}
		}
		t.MaxSpeedMPS = next

	case model.ActionReroute:
		if len(action.AltRoute) == 0 {
			return &InfeasibleActionError{
				TrainID:    t.ID,
				ActionType: string(action.Type),
				Reason:     "empty alternate route",
			}
		}
		if err := topo.ValidateRoute(action.AltRoute); err != nil {
			return &InfeasibleActionError{
				TrainID:    t.ID,
				ActionType: string(action.Type),
				Reason:     err.Error(),
			}
		}
		cur := t.CurrentNode()
		if action.AltRoute[0].NodeID != cur {
			return &InfeasibleActionError{
				TrainID:    t.ID,
				ActionType: string(action.Type),
				Reason:     fmt.Sprintf("alternate route starts at %q, train is at %q", action.AltRoute[0].NodeID, cur),
			}
		}
		if t.CurrentEdge != "" && action.AltRoute[0].EdgeID != t.CurrentEdge {
			return &InfeasibleActionError{
				TrainID:    t.ID,
				ActionType: string(action.Type),
				Reason:     "cannot reroute a train mid-edge off its current segment",
			}
		}
		t.Route = append(append([]model.RouteStop(nil), t.Route[:t.RouteIdx]...), action.AltRoute...)

	default:
		return &InfeasibleActionError{
			TrainID:    t.ID,
			ActionType: string(action.Type),
			Reason:     "unknown action type",
		}
	}

	// An action may not introduce a single-line or platform occupancy
	// violation that was not already present.
	for key := range singleLineViolations(tracker, trains, now) {
		if _, existed := beforeLine[key]; !existed {
			*t = *restore
			return &InfeasibleActionError{
				TrainID:    t.ID,
				ActionType: string(action.Type),
				Reason:     fmt.Sprintf("would violate single-line headway on %s", key),
			}
		}
	}
	for key := range platformViolations(tracker, trains, now) {
		if _, existed := beforePlatform[key]; !existed {
			*t = *restore
			return &InfeasibleActionError{
				TrainID:    t.ID,
				ActionType: string(action.Type),
				Reason:     fmt.Sprintf("would exceed platform capacity at %s", key),
			}
		}
	}
	return nil
}

// violationHorizon bounds the lookahead used for hard-constraint checks
// during action application.
const violationHorizon = 30 * time.Minute

// singleLineViolations projects every train's occupancy and returns the
// set of single-line edge pairs whose separation falls below the edge's
// minimum headway. Keys are "edgeID/trainA/trainB" with the pair sorted.
func singleLineViolations(tracker *core.Tracker, trains map[string]*model.Train, now time.Time) map[string]struct{} {
	byEdge := make(map[string][]core.OccupancyWindow)
	ids := make([]string, 0, len(trains))
	for id := range trains {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, w := range tracker.ProjectOccupancy(trains[id], now, violationHorizon) {
			if w.EdgeID == "" {
				continue
			}
			e := tracker.Topo.Edge(w.EdgeID)
			if e == nil || !e.SingleLine {
				continue
			}
			byEdge[w.EdgeID] = append(byEdge[w.EdgeID], w)
		}
	}

	violations := make(map[string]struct{})
	for edgeID, windows := range byEdge {
		e := tracker.Topo.Edge(edgeID)
		for i := 0; i < len(windows); i++ {
			for j := i + 1; j < len(windows); j++ {
				a, bw := windows[i], windows[j]
				if a.TrainID == bw.TrainID {
					continue
				}
				if a.Overlaps(bw) || a.Gap(bw) < e.MinHeadway {
					x, y := a.TrainID, bw.TrainID
					if x > y {
						x, y = y, x
					}
					violations[fmt.Sprintf("%s/%s/%s", edgeID, x, y)] = struct{}{}
				}
			}
		}
	}
	return violations
}

// platformViolations sweeps each station's projected dwell windows and
// returns the set of overbooked moments. Keys are "nodeID/" followed by
// the sorted train IDs dwelling at once, so an action is only rejected
// when it puts a new combination of trains over capacity.
func platformViolations(tracker *core.Tracker, trains map[string]*model.Train, now time.Time) map[string]struct{} {
	byStation := make(map[string][]core.OccupancyWindow)
	ids := make([]string, 0, len(trains))
	for id := range trains {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, w := range tracker.ProjectOccupancy(trains[id], now, violationHorizon) {
			if w.NodeID == "" {
				continue
			}
			byStation[w.NodeID] = append(byStation[w.NodeID], w)
		}
	}

	violations := make(map[string]struct{})
	for nodeID, windows := range byStation {
		capacity := tracker.Topo.PlatformCapacity(nodeID)
		if capacity <= 0 {
			capacity = 1
		}
		for i := range windows {
			concurrent := []string{windows[i].TrainID}
			for j := range windows {
				if j == i || windows[j].TrainID == windows[i].TrainID {
					continue
				}
				if windows[i].Overlaps(windows[j]) {
					concurrent = append(concurrent, windows[j].TrainID)
				}
			}
			if len(concurrent) > capacity {
				sort.Strings(concurrent)
				violations[nodeID+"/"+strings.Join(concurrent, "/")] = struct{}{}
			}
		}
	}
	return violations
}
