package feed

import (
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/model"
)

var feedStart = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func feedTopology(t *testing.T) *core.Topology {
	t.Helper()
	nodes := []*model.Node{
		{ID: "STN-A", Type: model.NodeStation, Platforms: 2},
		{ID: "SIG-1", Type: model.NodeSignal},
		{ID: "STN-B", Type: model.NodeStation, Platforms: 2},
	}
	edges := []*model.Edge{
		{ID: "a-s1", From: "STN-A", To: "SIG-1", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
		{ID: "s1-b", From: "SIG-1", To: "STN-B", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
		{ID: "b-s1", From: "STN-B", To: "SIG-1", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
		{ID: "s1-a", From: "SIG-1", To: "STN-A", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
	}
	topo, err := core.NewTopology(nodes, edges)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	return topo
}

func liveTrains() []*model.Train {
	return []*model.Train{
		{ID: "trn-1", Status: model.StatusActive, CurrentEdge: "a-s1", OffsetM: 500, SpeedMPS: 15},
		{ID: "trn-2", Status: model.StatusActive, CurrentEdge: "s1-b", OffsetM: 1500, SpeedMPS: 18},
		{ID: "trn-3", Status: model.StatusHeld, CurrentEdge: "a-s1", OffsetM: 100},
	}
}

func TestFeedIsDeterministicForSeed(t *testing.T) {
	topo := feedTopology(t)
	a, b := New(topo, 42, 3), New(topo, 42, 3)

	for i := 0; i < 30; i++ {
		now := feedStart.Add(time.Duration(i) * 5 * time.Second)
		ua := a.Next(now, liveTrains())
		ub := b.Next(now, liveTrains())
		if !reflect.DeepEqual(ua, ub) {
			t.Fatalf("tick %d diverged:\n%+v\n%+v", i, ua, ub)
		}
	}
}

func TestFeedDifferentSeedsDiverge(t *testing.T) {
	topo := feedTopology(t)
	a, b := New(topo, 1, 3), New(topo, 2, 3)

	same := true
	for i := 0; i < 30 && same; i++ {
		now := feedStart.Add(time.Duration(i) * 5 * time.Second)
		if !reflect.DeepEqual(a.Next(now, liveTrains()), b.Next(now, liveTrains())) {
			same = false
		}
	}
	if same {
		t.Fatal("different seeds produced identical streams")
	}
}

func TestFeedSpawnsValidTrains(t *testing.T) {
	topo := feedTopology(t)
	f := New(topo, 7, 1) // spawn attempt every tick

	var spawned int
	for i := 0; i < 50; i++ {
		now := feedStart.Add(time.Duration(i) * 5 * time.Second)
		for _, u := range f.Next(now, nil) {
			if len(u.Route) == 0 {
				t.Fatalf("spawned train without a route: %+v", u)
			}
			if err := topo.ValidateRoute(u.Route); err != nil {
				t.Fatalf("spawned route not walkable: %v", err)
			}
			if u.Priority == 0 {
				t.Fatalf("spawned train without priority: %+v", u)
			}
			if u.EdgeID != u.Route[0].EdgeID {
				t.Fatalf("spawn edge %q does not match route head %q", u.EdgeID, u.Route[0].EdgeID)
			}
			spawned++
		}
	}
	if spawned == 0 {
		t.Fatal("no trains spawned in 50 ticks with spawnEvery=1")
	}
}

func TestFeedNeverReportsOffEdgePositions(t *testing.T) {
	topo := feedTopology(t)
	f := New(topo, 11, 0)

	edgeEnd := []*model.Train{{
		ID: "trn-1", Status: model.StatusActive, CurrentEdge: "a-s1", OffsetM: 1999, SpeedMPS: 20,
	}}
	for i := 0; i < 100; i++ {
		now := feedStart.Add(time.Duration(i) * 5 * time.Second)
		for _, u := range f.Next(now, edgeEnd) {
			if u.OffsetM < 0 || u.OffsetM > 2000 {
				t.Fatalf("offset %v outside edge", u.OffsetM)
			}
			if u.TrainID != "trn-1" {
				t.Fatalf("unexpected update %+v", u)
			}
		}
	}
}

func TestFeedSkipsHeldAndStandingTrains(t *testing.T) {
	topo := feedTopology(t)
	f := New(topo, 3, 0)

	trains := []*model.Train{
		{ID: "trn-held", Status: model.StatusHeld, CurrentEdge: "a-s1"},
		{ID: "trn-standing", Status: model.StatusActive, CurrentEdge: ""},
	}
	for i := 0; i < 50; i++ {
		now := feedStart.Add(time.Duration(i) * 5 * time.Second)
		if got := f.Next(now, trains); len(got) != 0 {
			t.Fatalf("reported a train with no live movement: %+v", got)
		}
	}
}
