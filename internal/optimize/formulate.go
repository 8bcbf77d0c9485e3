package optimize

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/model"
)

// holdQuantum rounds hold durations up so recommendations land on
// operationally sensible boundaries.
const holdQuantum = 30 * time.Second

// maxAlternates bounds how many reroute options formulation offers per
// train.
const maxAlternates = 2

// variable is one conflicted train together with its candidate actions.
// Index 0 in options is always "leave the train alone".
type variable struct {
	trainID  string
	priority model.Priority
	options  []*model.ResolutionAction
}

// problem is the formulated search space for one request.
type problem struct {
	base      *twin.Branch
	vars      []variable
	conflicts []model.ConflictCandidate
	horizon   time.Duration

	// byTrain maps train ID to the conflicts it participates in.
	byTrain map[string][]string

	// blocked accumulates the hard constraints that rejected candidate
	// assignments during the search, keyed by a stable description.
	blocked map[string]struct{}
}

// noteBlocked records the constraint behind a rejected assignment so an
// infeasible outcome can name what stood in the way.
func (p *problem) noteBlocked(err error) {
	var infeasible *twin.InfeasibleActionError
	if !errors.As(err, &infeasible) {
		return
	}
	p.blocked[fmt.Sprintf("%s %s: %s", infeasible.ActionType, infeasible.TrainID, infeasible.Reason)] = struct{}{}
}

// blocking returns the recorded constraint descriptions, sorted.
func (p *problem) blocking() []string {
	if len(p.blocked) == 0 {
		return nil
	}
	out := make([]string, 0, len(p.blocked))
	for k := range p.blocked {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// formulate builds decision variables for every train named by a
// conflict. A referenced train that the base state no longer tracks as
// live means the conflicts were computed against a version the twin has
// moved past.
func formulate(base *twin.Branch, conflicts []model.ConflictCandidate, horizon time.Duration) (*problem, error) {
	p := &problem{
		base:      base,
		conflicts: conflicts,
		horizon:   horizon,
		byTrain:   make(map[string][]string),
		blocked:   make(map[string]struct{}),
	}

	seen := make(map[string]bool)
	var trainIDs []string
	for _, c := range conflicts {
		for _, id := range c.TrainIDs {
			p.byTrain[id] = append(p.byTrain[id], c.ID)
			if !seen[id] {
				seen[id] = true
				trainIDs = append(trainIDs, id)
			}
		}
	}
	sort.Strings(trainIDs)

	for _, id := range trainIDs {
		t := base.Train(id)
		if t == nil || t.Status == model.StatusCompleted || t.Status == model.StatusCancelled {
			return nil, &twin.StaleStateError{Expected: base.BaseVersion, Actual: base.BaseVersion}
		}
		p.vars = append(p.vars, variable{
			trainID:  id,
			priority: t.Priority,
			options:  candidateActions(base, t, p.byTrain[id], conflicts, horizon),
		})
	}
	return p, nil
}

// candidateActions enumerates the schedule adjustments worth trying for
// one train: no-op, clearing holds sized from the conflicts it is part
// of, a mild speed reduction, and up to two alternate routes.
func candidateActions(base *twin.Branch, t *model.Train, conflictIDs []string, conflicts []model.ConflictCandidate, horizon time.Duration) []*model.ResolutionAction {
	options := []*model.ResolutionAction{nil}

	hold := minimumClearingHold(base, t, conflictIDs, conflicts, horizon)
	if hold > 0 {
		options = append(options,
			holdAction(t, conflictIDs, hold),
			holdAction(t, conflictIDs, hold+holdQuantum),
		)
	}

	if t.MaxSpeedMPS > 6 {
		delta := -math.Min(5, t.MaxSpeedMPS/4)
		options = append(options, &model.ResolutionAction{
			ID:      fmt.Sprintf("slow:%s", t.ID),
			Type:    model.ActionSpeedAdjust,
			TrainID: t.ID,
			Explanation: fmt.Sprintf("reduce %s ceiling by %.1f m/s to stretch its arrival into a clear slot",
				t.Number, -delta),
			SpeedDeltaMPS:       delta,
			ResolvesConflictIDs: conflictIDs,
		})
	}

	options = append(options, rerouteActions(base, t, conflictIDs)...)
	return options
}

func holdAction(t *model.Train, conflictIDs []string, d time.Duration) *model.ResolutionAction {
	return &model.ResolutionAction{
		ID:      fmt.Sprintf("hold:%s:%s", t.ID, d),
		Type:    model.ActionHold,
		TrainID: t.ID,
		Explanation: fmt.Sprintf("hold %s for %s so the conflicting block clears with full headway",
			t.Number, d),
		HoldDuration:        d,
		ResolvesConflictIDs: conflictIDs,
	}
}

// minimumClearingHold is the smallest hold that removes the worst
// shortfall among the train's conflicts, rounded up to the quantum. A
// hold runs from now, so a train that would only reach the contested
// location later needs the lead time added on top of the shortfall.
func minimumClearingHold(base *twin.Branch, t *model.Train, conflictIDs []string, conflicts []model.ConflictCandidate, horizon time.Duration) time.Duration {
	var worst time.Duration
	ids := make(map[string]bool, len(conflictIDs))
	for _, id := range conflictIDs {
		ids[id] = true
	}
	windows := base.Tracker().ProjectOccupancy(t, base.Now(), horizon)
	for _, c := range conflicts {
		if !ids[c.ID] {
			continue
		}
		need := c.GapShortfall + entryLead(windows, c, base.Now())
		if need > worst {
			worst = need
		}
	}
	if worst <= 0 {
		return 0
	}
	return ((worst + holdQuantum - 1) / holdQuantum) * holdQuantum
}

// entryLead is how long until the train reaches the conflict location
// under the current projection; zero if it is already there.
func entryLead(windows []core.OccupancyWindow, c model.ConflictCandidate, now time.Time) time.Duration {
	for _, w := range windows {
		if w.EdgeID != c.Location && w.BlockID != c.Location && w.NodeID != c.Location {
			continue
		}
		if lead := w.Enter.Sub(now); lead > 0 {
			return lead
		}
		return 0
	}
	return 0
}

// rerouteActions offers alternate paths from the train's current node to
// its destination, skipping the one it is already on.
func rerouteActions(base *twin.Branch, t *model.Train, conflictIDs []string) []*model.ResolutionAction {
	// Rerouting is only offered to trains standing at a node; a train
	// already rolling on an edge keeps its current segment.
	if t.CurrentEdge != "" {
		return nil
	}
	from, to := t.CurrentNode(), t.FinalNode()
	if from == "" || to == "" || from == to {
		return nil
	}
	routes, err := base.Topology().AlternateRoutes(from, to, maxAlternates+1)
	if err != nil {
		return nil
	}

	var out []*model.ResolutionAction
	for _, r := range routes {
		stops := routeStops(r, t, from)
		if stops == nil || sameTail(t, stops) {
			continue
		}
		out = append(out, &model.ResolutionAction{
			ID:      fmt.Sprintf("reroute:%s:%s", t.ID, stops[0].EdgeID),
			Type:    model.ActionReroute,
			TrainID: t.ID,
			Explanation: fmt.Sprintf("divert %s via %s to free the contested block",
				t.Number, stops[0].EdgeID),
			AltRoute:            stops,
			ResolvesConflictIDs: conflictIDs,
		})
		if len(out) == maxAlternates {
			break
		}
	}
	return out
}

// routeStops converts a topology route into route stops, carrying over
// the train's scheduled times where the nodes match so lateness keeps
// being measured against the original timetable.
func routeStops(r *core.Route, t *model.Train, from string) []model.RouteStop {
	nodes, edges := r.NodeIDs, r.EdgeIDs
	if len(nodes) < 2 {
		return nil
	}
	sched := make(map[string]model.RouteStop, len(t.Route))
	for _, s := range t.Route {
		sched[s.NodeID] = s
	}

	stops := make([]model.RouteStop, len(nodes))
	for i, nodeID := range nodes {
		stop := model.RouteStop{NodeID: nodeID}
		if prev, ok := sched[nodeID]; ok {
			stop = prev
		}
		if i < len(edges) {
			stop.EdgeID = edges[i]
		} else {
			stop.EdgeID = ""
		}
		stops[i] = stop
	}
	return stops
}

func sameTail(t *model.Train, stops []model.RouteStop) bool {
	tail := t.Route[t.RouteIdx:]
	if len(tail) != len(stops) {
		return false
	}
	for i := range tail {
		if tail[i].NodeID != stops[i].NodeID || tail[i].EdgeID != stops[i].EdgeID {
			return false
		}
	}
	return true
}

// actionsFor materializes an assignment (one option index per variable)
// as a flat action list, skipping no-ops. Actions are cloned so callers
// can annotate them freely.
func (p *problem) actionsFor(assignment []int) []model.ResolutionAction {
	var out []model.ResolutionAction
	for i, choice := range assignment {
		opt := p.vars[i].options[choice]
		if opt == nil {
			continue
		}
		a := *opt
		a.AltRoute = append([]model.RouteStop(nil), opt.AltRoute...)
		a.ResolvesConflictIDs = append([]string(nil), opt.ResolvesConflictIDs...)
		out = append(out, a)
	}
	return out
}
