package core

import (
	"context"
	"sort"
	"time"

	"github.com/signalsfoundry/section-twin/internal/logging"
	"github.com/signalsfoundry/section-twin/model"
)

// Tracker advances train state tick by tick. It owns the kinematic rules
// but not the train store: callers (the live twin and its branches) hand
// in their train maps, so the same logic drives live tracking and
// counterfactual projection.
type Tracker struct {
	Topo *Topology
	Kin  Kinematics

	log logging.Logger
}

// NewTracker builds a tracker bound to a topology.
func NewTracker(topo *Topology, log logging.Logger) *Tracker {
	if log == nil {
		log = logging.Noop()
	}
	return &Tracker{
		Topo: topo,
		Kin:  DefaultKinematics(),
		log:  log,
	}
}

// Advance moves every train forward by tickDur, reconciling against any
// authoritative external updates. With updates == nil the advance is a
// pure projection: same input state, same output, every time.
//
// Updates naming unknown trains are treated as new arrivals and create a
// train record; a malformed arrival is logged and dropped, never fatal.
func (tr *Tracker) Advance(trains map[string]*model.Train, now time.Time, tickDur time.Duration, updates []model.TrainUpdate) []model.TrainDelta {
	byTrain := make(map[string]*model.TrainUpdate, len(updates))
	deltas := make([]model.TrainDelta, 0, len(trains)+len(updates))

	for i := range updates {
		u := &updates[i]
		if _, known := trains[u.TrainID]; known {
			byTrain[u.TrainID] = u
			continue
		}
		t, ok := tr.admit(u, now)
		if !ok {
			continue
		}
		trains[t.ID] = t
		deltas = append(deltas, model.TrainDelta{
			TrainID:  t.ID,
			Status:   t.Status,
			EdgeID:   t.CurrentEdge,
			OffsetM:  t.OffsetM,
			SpeedMPS: t.SpeedMPS,
			Delay:    t.Delay,
			Created:  true,
			Tick:     now,
		})
	}

	// Stable iteration order keeps projections bit-identical.
	ids := make([]string, 0, len(trains))
	for id := range trains {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		t := trains[id]
		switch t.Status {
		case model.StatusCompleted, model.StatusCancelled:
			continue
		case model.StatusScheduled:
			if len(t.Route) > 0 && !now.Before(t.Route[0].Departure) {
				t.Status = model.StatusActive
			} else {
				continue
			}
		}

		before := t.OffsetM
		if t.Status == model.StatusHeld {
			tr.advanceHeld(t, now, tickDur)
		} else if u := byTrain[id]; u != nil {
			tr.reconcile(t, u, now)
		} else {
			tr.advanceKinematic(t, now, tickDur)
		}

		deltas = append(deltas, model.TrainDelta{
			TrainID:    t.ID,
			Status:     t.Status,
			EdgeID:     t.CurrentEdge,
			OffsetM:    t.OffsetM,
			MovedM:     t.OffsetM - before,
			SpeedMPS:   t.SpeedMPS,
			Delay:      t.Delay,
			Reconciled: byTrain[id] != nil,
			Completed:  t.Status == model.StatusCompleted,
			Tick:       now,
		})
	}

	return deltas
}

// admit turns a first-seen update into a train record. The update must
// carry either a full route or at least a known current edge from which
// a fallback route can be derived.
func (tr *Tracker) admit(u *model.TrainUpdate, now time.Time) (*model.Train, bool) {
	ctx := context.Background()
	route := u.Route
	if len(route) == 0 {
		e := tr.Topo.Edge(u.EdgeID)
		if e == nil {
			tr.log.Warn(ctx, "dropping update for unknown train with no usable route",
				logging.String("train_id", u.TrainID),
				logging.String("edge_id", u.EdgeID))
			return nil, false
		}
		route = []model.RouteStop{
			{NodeID: e.From, EdgeID: e.ID, Departure: now},
			{NodeID: e.To, Arrival: now.Add(time.Duration(e.LengthM / e.MaxSpeedMPS * float64(time.Second)))},
		}
	}
	if err := tr.Topo.ValidateRoute(route); err != nil {
		tr.log.Warn(ctx, "dropping arrival with invalid route",
			logging.String("train_id", u.TrainID),
			logging.String("error", err.Error()))
		return nil, false
	}

	prio := u.Priority
	if prio == 0 {
		prio = model.PriorityPassenger
	}
	t := &model.Train{
		ID:          u.TrainID,
		Number:      u.Number,
		Priority:    prio,
		Status:      model.StatusActive,
		Route:       route,
		CurrentEdge: u.EdgeID,
		OffsetM:     u.OffsetM,
		SpeedMPS:    u.SpeedMPS,
		LastUpdate:  now,
	}
	if u.Delay != nil && *u.Delay > 0 {
		t.Delay = *u.Delay
	}
	if t.CurrentEdge != "" {
		t.RouteIdx = routeIndexForEdge(route, t.CurrentEdge)
	}
	tr.log.Info(ctx, "admitted new train from feed",
		logging.String("train_id", t.ID),
		logging.String("priority", t.Priority.String()))
	return t, true
}

// advanceHeld keeps a held train stationary while its delay accrues.
// The hold releases once HoldUntil passes.
func (tr *Tracker) advanceHeld(t *model.Train, now time.Time, tickDur time.Duration) {
	t.SpeedMPS = 0
	t.Delay += tickDur
	t.LastUpdate = now
	if !t.HoldUntil.IsZero() && !now.Before(t.HoldUntil) {
		t.Status = model.StatusActive
		t.HoldUntil = time.Time{}
	}
}

// reconcile snaps the tracked state toward an authoritative telemetry
// sample. On the same edge the offset never moves backwards; live
// corrections fix drift, they do not teleport trains.
func (tr *Tracker) reconcile(t *model.Train, u *model.TrainUpdate, now time.Time) {
	if u.EdgeID != "" && u.EdgeID != t.CurrentEdge {
		if idx := routeIndexForEdge(t.Route, u.EdgeID); idx >= 0 {
			t.CurrentEdge = u.EdgeID
			t.RouteIdx = idx
			t.OffsetM = u.OffsetM
		}
	} else if u.OffsetM > t.OffsetM {
		t.OffsetM = u.OffsetM
	}
	t.SpeedMPS = u.SpeedMPS
	if u.Delay != nil {
		d := *u.Delay
		if d < 0 {
			d = 0
		}
		t.Delay = d
	}
	t.LastUpdate = now
	tr.completeIfExited(t, now)
}

// advanceKinematic is the pure simulation step: accelerate toward the
// edge speed limit, integrate position, and walk route stops as edge
// boundaries are crossed.
func (tr *Tracker) advanceKinematic(t *model.Train, now time.Time, tickDur time.Duration) {
	dt := tickDur.Seconds()
	if dt <= 0 {
		return
	}
	t.LastUpdate = now

	// Standing at a node: wait out the dwell, then roll onto the next edge.
	if t.CurrentEdge == "" {
		stop := currentStop(t)
		if stop == nil {
			tr.completeIfExited(t, now)
			return
		}
		if !stop.Departure.IsZero() && now.Before(stop.Departure) {
			t.SpeedMPS = 0
			return
		}
		if stop.EdgeID == "" {
			tr.completeIfExited(t, now)
			return
		}
		t.CurrentEdge = stop.EdgeID
		t.OffsetM = 0
	}

	remaining := dt
	for remaining > 0 {
		e := tr.Topo.Edge(t.CurrentEdge)
		if e == nil {
			tr.log.Warn(context.Background(), "train on unknown edge, halting",
				logging.String("train_id", t.ID),
				logging.String("edge_id", t.CurrentEdge))
			t.SpeedMPS = 0
			return
		}

		target := TargetSpeed(t, e)
		t.SpeedMPS = tr.Kin.StepSpeed(t.SpeedMPS, target, remaining)
		if t.SpeedMPS <= 0 {
			return
		}

		distM := t.SpeedMPS * remaining
		if t.OffsetM+distM < e.LengthM {
			t.OffsetM += distM
			return
		}

		// Crossed the edge boundary: spend the time the rest of the edge
		// took, then stand at the node.
		usable := (e.LengthM - t.OffsetM) / t.SpeedMPS
		remaining -= usable
		t.RouteIdx++
		t.CurrentEdge = ""
		t.OffsetM = 0

		stop := currentStop(t)
		if stop == nil || stop.EdgeID == "" {
			tr.completeIfExited(t, now)
			return
		}
		if !stop.Arrival.IsZero() {
			if late := now.Sub(stop.Arrival); late > t.Delay {
				t.Delay = late
			}
		}
		if !stop.Departure.IsZero() && now.Before(stop.Departure) {
			// Dwell: the rest of the tick is spent standing.
			t.SpeedMPS = 0
			return
		}
		t.CurrentEdge = stop.EdgeID
	}
}

// completeIfExited retires a train standing at the section's final node.
func (tr *Tracker) completeIfExited(t *model.Train, now time.Time) {
	if t.CurrentEdge != "" {
		return
	}
	if t.RouteIdx >= len(t.Route)-1 {
		t.Status = model.StatusCompleted
		t.SpeedMPS = 0
		t.LastUpdate = now
	}
}

func currentStop(t *model.Train) *model.RouteStop {
	if t.RouteIdx < 0 || t.RouteIdx >= len(t.Route) {
		return nil
	}
	return &t.Route[t.RouteIdx]
}

func routeIndexForEdge(route []model.RouteStop, edgeID string) int {
	for i := range route {
		if route[i].EdgeID == edgeID {
			return i
		}
	}
	return -1
}
