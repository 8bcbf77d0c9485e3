// Package feed generates synthetic train movement updates for demos and
// load tests. Output is fully determined by the seed so scripted runs
// reproduce exactly.
package feed

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/model"
)

// Feed emits TrainUpdate batches against a section topology.
type Feed struct {
	topo *core.Topology
	rng  *rand.Rand

	spawnEvery int
	nextNum    int
	ticks      int

	stations []string
}

// New builds a feed. spawnEvery controls how many ticks pass between new
// trains entering the section; zero disables spawning.
func New(topo *core.Topology, seed int64, spawnEvery int) *Feed {
	f := &Feed{
		topo:       topo,
		rng:        rand.New(rand.NewSource(seed)),
		spawnEvery: spawnEvery,
		nextNum:    12001,
	}
	for _, n := range topo.Nodes() {
		if n.IsStation() {
			f.stations = append(f.stations, n.ID)
		}
	}
	return f
}

// Next produces the update batch for one tick: noisy position reports
// for a subset of the given live trains, plus periodically a brand new
// train entering at a station.
func (f *Feed) Next(now time.Time, live []*model.Train) []model.TrainUpdate {
	f.ticks++
	var out []model.TrainUpdate

	for _, t := range live {
		if t.Status != model.StatusActive || t.CurrentEdge == "" {
			continue
		}
		// Report roughly a third of trains each tick, like a sparse
		// trackside sensor network would.
		if f.rng.Float64() > 0.35 {
			continue
		}
		e := f.topo.Edge(t.CurrentEdge)
		if e == nil {
			continue
		}
		offset := t.OffsetM + f.rng.Float64()*20 - 10
		if offset < 0 {
			offset = 0
		}
		if offset > e.LengthM {
			offset = e.LengthM
		}
		delay := t.Delay
		out = append(out, model.TrainUpdate{
			TrainID:    t.ID,
			Number:     t.Number,
			EdgeID:     t.CurrentEdge,
			OffsetM:    offset,
			SpeedMPS:   t.SpeedMPS * (0.95 + 0.1*f.rng.Float64()),
			Delay:      &delay,
			ObservedAt: now,
		})
	}

	if f.spawnEvery > 0 && f.ticks%f.spawnEvery == 0 {
		if u, ok := f.spawn(now); ok {
			out = append(out, u)
		}
	}
	return out
}

// spawn creates a new train on a random station-to-station route.
func (f *Feed) spawn(now time.Time) (model.TrainUpdate, bool) {
	if len(f.stations) < 2 {
		return model.TrainUpdate{}, false
	}
	from := f.stations[f.rng.Intn(len(f.stations))]
	to := f.stations[f.rng.Intn(len(f.stations))]
	if from == to {
		return model.TrainUpdate{}, false
	}
	route, err := f.topo.ShortestPath(from, to)
	if err != nil {
		return model.TrainUpdate{}, false
	}

	num := fmt.Sprintf("%05d", f.nextNum)
	f.nextNum++
	priorities := []model.Priority{
		model.PriorityExpress,
		model.PriorityPassenger,
		model.PriorityPassenger,
		model.PriorityFreight,
	}

	stops := make([]model.RouteStop, len(route.NodeIDs))
	at := now
	for i, nodeID := range route.NodeIDs {
		stop := model.RouteStop{NodeID: nodeID, Arrival: at}
		if i == 0 {
			stop.Departure = now
		}
		if i < len(route.EdgeIDs) {
			stop.EdgeID = route.EdgeIDs[i]
			at = at.Add(time.Duration(f.topo.MinTraversal(route.EdgeIDs[i]) * float64(time.Second)))
		}
		stops[i] = stop
	}

	return model.TrainUpdate{
		TrainID:    "trn-" + num,
		Number:     num,
		Priority:   priorities[f.rng.Intn(len(priorities))],
		EdgeID:     route.EdgeIDs[0],
		SpeedMPS:   0,
		Route:      stops,
		ObservedAt: now,
	}, true
}
