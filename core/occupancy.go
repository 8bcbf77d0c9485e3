package core

import (
	"sort"
	"time"

	"github.com/signalsfoundry/section-twin/model"
)

// OccupancyWindow is the projected interval during which a train holds a
// piece of infrastructure: an edge, a block section, or a station
// platform. Windows drive the rule-based conflict checks.
type OccupancyWindow struct {
	TrainID string

	// EdgeID is set for track occupancy; NodeID for a station dwell.
	EdgeID  string
	NodeID  string
	BlockID string

	// Platform is the occupied platform index for a station dwell.
	Platform int

	Enter time.Time
	Exit  time.Time
}

// Overlaps reports whether two windows intersect in time.
func (w OccupancyWindow) Overlaps(o OccupancyWindow) bool {
	return w.Enter.Before(o.Exit) && o.Enter.Before(w.Exit)
}

// Gap is the separation between two non-overlapping windows; zero or
// negative when they overlap.
func (w OccupancyWindow) Gap(o OccupancyWindow) time.Duration {
	if w.Enter.Before(o.Enter) {
		return o.Enter.Sub(w.Exit)
	}
	return w.Enter.Sub(o.Exit)
}

// ProjectOccupancy walks a train's remaining route at limit speed and
// returns its occupancy windows up to the horizon. The projection is
// closed form and deterministic; it ignores other traffic, which is
// exactly what the geometric conflict check needs as input.
func (tr *Tracker) ProjectOccupancy(t *model.Train, from time.Time, horizon time.Duration) []OccupancyWindow {
	if t == nil || t.Status == model.StatusCompleted || t.Status == model.StatusCancelled {
		return nil
	}
	limit := from.Add(horizon)
	windows := []OccupancyWindow{}

	cursor := from
	// A held train keeps sitting where it is: whatever it occupies now
	// stays occupied until the hold releases, so the release delay is
	// folded into the exit of the first window instead of its entry.
	var hold time.Duration
	if t.Status == model.StatusHeld && t.HoldUntil.After(cursor) {
		hold = t.HoldUntil.Sub(cursor)
	}
	if t.Status == model.StatusScheduled && len(t.Route) > 0 && t.Route[0].Departure.After(cursor) {
		cursor = t.Route[0].Departure
	}

	idx := t.RouteIdx
	edgeID := t.CurrentEdge
	offset := t.OffsetM

	// A train standing at a node occupies its platform until it departs,
	// or until its hold releases, whichever is later.
	if edgeID == "" {
		if idx < 0 || idx >= len(t.Route) {
			return nil
		}
		stop := t.Route[idx]
		depart := stop.Departure
		if depart.Before(cursor) {
			depart = cursor
		}
		if rel := cursor.Add(hold); depart.Before(rel) {
			depart = rel
		}
		hold = 0
		if node := tr.Topo.Node(stop.NodeID); node != nil && node.IsStation() {
			windows = append(windows, OccupancyWindow{
				TrainID:  t.ID,
				NodeID:   stop.NodeID,
				Platform: stop.Platform,
				Enter:    cursor,
				Exit:     depart,
			})
		}
		cursor = depart
		edgeID = stop.EdgeID
		offset = 0
	}

	for edgeID != "" && cursor.Before(limit) {
		e := tr.Topo.Edge(edgeID)
		if e == nil {
			break
		}
		speed := TargetSpeed(t, e)
		if speed <= 0 {
			break
		}
		traverse := time.Duration((e.LengthM - offset) / speed * float64(time.Second))
		exit := cursor.Add(hold + traverse)
		hold = 0
		windows = append(windows, OccupancyWindow{
			TrainID: t.ID,
			EdgeID:  e.ID,
			BlockID: e.Block(),
			Enter:   cursor,
			Exit:    exit,
		})

		cursor = exit
		idx++
		offset = 0
		if idx >= len(t.Route) {
			break
		}
		stop := t.Route[idx]
		if node := tr.Topo.Node(stop.NodeID); node != nil && node.IsStation() {
			depart := stop.Departure
			if depart.Before(cursor) {
				depart = cursor.Add(time.Duration(stop.DwellS * float64(time.Second)))
			}
			windows = append(windows, OccupancyWindow{
				TrainID:  t.ID,
				NodeID:   stop.NodeID,
				Platform: stop.Platform,
				Enter:    cursor,
				Exit:     depart,
			})
			cursor = depart
		}
		edgeID = stop.EdgeID
	}

	// Clip to the horizon so no window speculates past it.
	out := windows[:0]
	for _, w := range windows {
		if !w.Enter.Before(limit) {
			continue
		}
		if w.Exit.After(limit) {
			w.Exit = limit
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Enter.Before(out[j].Enter) })
	return out
}
