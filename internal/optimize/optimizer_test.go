package optimize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/internal/predict"
	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/model"
)

var testStart = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func newTestTwin(t *testing.T) *twin.Twin {
	t.Helper()
	nodes := []*model.Node{
		{ID: "STN-B", Type: model.NodeStation, Platforms: 2},
		{ID: "JN-D", Type: model.NodeJunction},
		{ID: "STN-C", Type: model.NodeStation, Platforms: 2},
	}
	edges := []*model.Edge{
		{ID: "b-c", From: "STN-B", To: "STN-C", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
		{ID: "b-d", From: "STN-B", To: "JN-D", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
		{ID: "d-c", From: "JN-D", To: "STN-C", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
	}
	topo, err := core.NewTopology(nodes, edges)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	return twin.New(topo, testStart, nil)
}

// seedHeadwayScenario dispatches an express and a freight two minutes
// apart into a block with a five minute headway and returns the
// resulting conflicts.
func seedHeadwayScenario(t *testing.T, tw *twin.Twin) []model.ConflictCandidate {
	t.Helper()
	add := func(id string, prio model.Priority, dep time.Time) {
		err := tw.AddTrain(&model.Train{
			ID:       id,
			Number:   id,
			Priority: prio,
			Status:   model.StatusActive,
			Route: []model.RouteStop{
				{NodeID: "STN-B", EdgeID: "b-c", Departure: dep},
				{NodeID: "STN-C"},
			},
			MaxSpeedMPS: 20,
		})
		if err != nil {
			t.Fatalf("AddTrain %s: %v", id, err)
		}
	}
	add("trn-exp", model.PriorityExpress, testStart)
	add("trn-frt", model.PriorityFreight, testStart.Add(2*time.Minute))

	snap := tw.Snapshot()
	conflicts := predict.DetectConflicts(tw.Tracker(), snap.Trains, snap.Now, 30*time.Minute)
	if len(conflicts) != 1 || conflicts[0].Kind != model.ConflictHeadway {
		t.Fatalf("scenario did not produce the expected headway conflict: %+v", conflicts)
	}
	return conflicts
}

func TestResolveNoConflicts(t *testing.T) {
	tw := newTestTwin(t)
	o := New(tw, nil)

	res, err := o.Resolve(context.Background(), nil, -1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusOptimal {
		t.Fatalf("expected OPTIMAL for empty input, got %s", res.Status)
	}
	if len(res.Actions) != 0 {
		t.Fatalf("expected no actions, got %d", len(res.Actions))
	}
	if res.StateVersion != tw.Version() {
		t.Fatalf("result version %d, twin at %d", res.StateVersion, tw.Version())
	}
}

func TestResolveZeroBudgetAnswersImmediately(t *testing.T) {
	tw := newTestTwin(t)
	conflicts := seedHeadwayScenario(t, tw)
	o := New(tw, nil, WithBudget(0), WithHorizon(15*time.Minute))

	res, err := o.Resolve(context.Background(), conflicts, -1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusTimeLimitHeuristic {
		t.Fatalf("zero budget must fall back, got %s", res.Status)
	}
	if res.Explored != 0 {
		t.Fatalf("exact search ran despite zero budget: explored %d", res.Explored)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("expected one greedy action, got %+v", res.Actions)
	}

	a := res.Actions[0]
	if a.Type != model.ActionHold {
		t.Fatalf("greedy fallback should hold, got %s", a.Type)
	}
	if a.TrainID != "trn-frt" {
		t.Fatalf("the freight, not the express, takes the hold: got %s", a.TrainID)
	}
	// The 280s shortfall rounds up to a 5 minute hold.
	if a.HoldDuration < 3*time.Minute {
		t.Fatalf("hold too short to clear the headway: %v", a.HoldDuration)
	}
	if a.Source != model.SourceHeuristic {
		t.Fatalf("expected HEURISTIC source, got %s", a.Source)
	}
	if a.StateVersion != tw.Version() {
		t.Fatalf("action version %d, twin at %d", a.StateVersion, tw.Version())
	}
	if len(a.ResolvesConflictIDs) == 0 || a.ResolvesConflictIDs[0] != conflicts[0].ID {
		t.Fatalf("action does not reference the conflict it clears: %+v", a.ResolvesConflictIDs)
	}
}

func TestResolveCompletesExactSearch(t *testing.T) {
	tw := newTestTwin(t)
	conflicts := seedHeadwayScenario(t, tw)
	o := New(tw, nil, WithBudget(30*time.Second), WithHorizon(15*time.Minute))

	res, err := o.Resolve(context.Background(), conflicts, -1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusOptimal {
		t.Fatalf("small problem should finish exactly, got %s after %v", res.Status, res.Elapsed)
	}
	if res.Explored == 0 {
		t.Fatal("exact search explored nothing")
	}
	if len(res.Actions) == 0 {
		t.Fatal("a live conflict resolved with zero actions")
	}
	for _, a := range res.Actions {
		if a.Source != model.SourceOptimal {
			t.Fatalf("expected OPTIMAL source, got %s", a.Source)
		}
	}

	// The recommended plan actually clears the section.
	b := tw.Branch()
	for i := range res.Actions {
		if err := b.ApplyAction(&res.Actions[i]); err != nil {
			t.Fatalf("recommended action infeasible on its own base: %v", err)
		}
	}
	state := b.State()
	remaining := predict.DetectConflicts(b.Tracker(), state.Trains, b.Now(), 15*time.Minute)
	if len(remaining) != 0 {
		t.Fatalf("conflicts survive the optimal plan: %+v", remaining)
	}
}

func TestResolveAttachesImpactReports(t *testing.T) {
	tw := newTestTwin(t)
	conflicts := seedHeadwayScenario(t, tw)
	o := New(tw, nil, WithBudget(0), WithHorizon(15*time.Minute))

	res, err := o.Resolve(context.Background(), conflicts, -1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	a := res.Actions[0]
	if a.Impact.ConflictsBefore != 1 {
		t.Fatalf("impact baseline missing the conflict: %+v", a.Impact)
	}
	if a.Impact.ConflictsAfter != 0 {
		t.Fatalf("hold does not clear the conflict in simulation: %+v", a.Impact)
	}
	// Holding the freight delays the freight; the report must say so.
	if d := a.Impact.DelayDelta["trn-frt"]; d <= 0 {
		t.Fatalf("expected positive delay delta for the held freight, got %v", d)
	}
	// The express was never touched, so its delay must not move.
	if d := a.Impact.DelayDelta["trn-exp"]; d != 0 {
		t.Fatalf("hold on the freight changed the express delay by %v", d)
	}
	// The totals must reconcile with the per-train deltas.
	if got := a.Impact.TotalDelayAfter - a.Impact.TotalDelayBefore; got != a.Impact.DelayDelta["trn-frt"] {
		t.Fatalf("total delay moved by %v, per-train deltas say %v", got, a.Impact.DelayDelta["trn-frt"])
	}
	if a.Impact.TotalDelayAfter < a.Impact.TotalDelayBefore {
		t.Fatalf("a pure hold cannot reduce total delay: %v -> %v",
			a.Impact.TotalDelayBefore, a.Impact.TotalDelayAfter)
	}
}

func TestResolvePerRequestBudgetOverridesDefault(t *testing.T) {
	tw := newTestTwin(t)
	conflicts := seedHeadwayScenario(t, tw)
	o := New(tw, nil, WithBudget(30*time.Second), WithHorizon(15*time.Minute))

	res, err := o.Resolve(context.Background(), conflicts, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusTimeLimitHeuristic {
		t.Fatalf("zero request budget must skip the exact search, got %s", res.Status)
	}
	if res.Explored != 0 {
		t.Fatalf("exact search ran despite zero request budget: explored %d", res.Explored)
	}
}

func TestResolveInfeasibleNamesBlockingConstraints(t *testing.T) {
	nodes := []*model.Node{
		{ID: "STN-B", Type: model.NodeStation, Platforms: 3},
		{ID: "STN-C", Type: model.NodeStation, Platforms: 3},
	}
	edges := []*model.Edge{
		{ID: "b-c", From: "STN-B", To: "STN-C", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute, SingleLine: true},
	}
	topo, err := core.NewTopology(nodes, edges)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	tw := twin.New(topo, testStart, nil)

	add := func(id string, prio model.Priority, dep time.Time) {
		err := tw.AddTrain(&model.Train{
			ID:       id,
			Number:   id,
			Priority: prio,
			Status:   model.StatusActive,
			Route: []model.RouteStop{
				{NodeID: "STN-B", EdgeID: "b-c", Departure: dep},
				{NodeID: "STN-C"},
			},
			MaxSpeedMPS: 20,
		})
		if err != nil {
			t.Fatalf("AddTrain %s: %v", id, err)
		}
	}
	// The express and the freight run 2 minutes apart into a 5 minute
	// headway; a third train departs just far enough behind that any
	// hold long enough to clear the first pair collides with it.
	add("trn-exp", model.PriorityExpress, testStart.Add(time.Minute))
	add("trn-frt", model.PriorityFreight, testStart.Add(3*time.Minute))
	add("trn-3", model.PriorityPassenger, testStart.Add(700*time.Second))

	snap := tw.Snapshot()
	conflicts := predict.DetectConflicts(tw.Tracker(), snap.Trains, snap.Now, 30*time.Minute)
	if len(conflicts) != 1 || conflicts[0].Kind != model.ConflictHeadway {
		t.Fatalf("scenario did not produce the expected headway conflict: %+v", conflicts)
	}

	o := New(tw, nil, WithBudget(0), WithHorizon(15*time.Minute))
	res, err := o.Resolve(context.Background(), conflicts, -1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StatusInfeasible {
		t.Fatalf("expected INFEASIBLE, got %s", res.Status)
	}
	if len(res.Actions) != 0 {
		t.Fatalf("infeasible result carries actions: %+v", res.Actions)
	}
	if len(res.Blocking) == 0 {
		t.Fatal("infeasible result names no blocking constraints")
	}
	found := false
	for _, b := range res.Blocking {
		if strings.Contains(b, "trn-frt") && strings.Contains(b, "b-c") {
			found = true
		}
	}
	if !found {
		t.Fatalf("blocking constraints do not name the contested line: %v", res.Blocking)
	}
}

func TestResolveStaleConflictSet(t *testing.T) {
	tw := newTestTwin(t)
	ghost := []model.ConflictCandidate{{
		ID:       "HEADWAY:b-c:trn-ghost:trn-other",
		Kind:     model.ConflictHeadway,
		TrainIDs: []string{"trn-ghost", "trn-other"},
		Location: "b-c",
	}}
	o := New(tw, nil)

	_, err := o.Resolve(context.Background(), ghost, -1)
	var stale *twin.StaleStateError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleStateError for unknown trains, got %v", err)
	}
}

func TestGreedyAssignmentHoldsLowestPriority(t *testing.T) {
	tw := newTestTwin(t)
	conflicts := seedHeadwayScenario(t, tw)
	p, err := formulate(tw.Branch(), conflicts, 15*time.Minute)
	if err != nil {
		t.Fatalf("formulate: %v", err)
	}

	assignment := greedyAssignment(p)
	if assignment == nil {
		t.Fatal("greedy found no feasible plan")
	}
	actions := p.actionsFor(assignment)
	if len(actions) != 1 || actions[0].TrainID != "trn-frt" || actions[0].Type != model.ActionHold {
		t.Fatalf("expected a single hold on the freight, got %+v", actions)
	}
}

func TestFormulateOffersNoOpFirst(t *testing.T) {
	tw := newTestTwin(t)
	conflicts := seedHeadwayScenario(t, tw)
	p, err := formulate(tw.Branch(), conflicts, 15*time.Minute)
	if err != nil {
		t.Fatalf("formulate: %v", err)
	}
	if len(p.vars) != 2 {
		t.Fatalf("expected one variable per conflicted train, got %d", len(p.vars))
	}
	for _, v := range p.vars {
		if v.options[0] != nil {
			t.Fatalf("option 0 must be the no-op for %s", v.trainID)
		}
		if len(v.options) < 2 {
			t.Fatalf("no real options formulated for %s", v.trainID)
		}
	}
}
