package predict

import (
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/model"
)

// DetectConflicts runs the rule stage: a geometric scan of projected
// occupancy windows. Every violation of a hard separation rule within
// the horizon becomes a candidate; the learned stage may rescore these
// but never remove them.
func DetectConflicts(tracker *core.Tracker, trains []*model.Train, now time.Time, horizon time.Duration) []model.ConflictCandidate {
	byBlock := make(map[string][]core.OccupancyWindow)
	byStation := make(map[string][]core.OccupancyWindow)

	for _, t := range trains {
		if t.Status == model.StatusCompleted || t.Status == model.StatusCancelled {
			continue
		}
		for _, w := range tracker.ProjectOccupancy(t, now, horizon) {
			switch {
			case w.EdgeID != "":
				byBlock[w.BlockID] = append(byBlock[w.BlockID], w)
			case w.NodeID != "":
				byStation[w.NodeID] = append(byStation[w.NodeID], w)
			}
		}
	}

	var out []model.ConflictCandidate
	out = append(out, detectBlockConflicts(tracker.Topo, byBlock)...)
	out = append(out, detectPlatformConflicts(tracker.Topo, byStation)...)

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// detectBlockConflicts finds pairs of trains booked into the same block
// too close together. Overlapping occupancy is a SIGNAL conflict (two
// trains inside one block at once); a positive gap below the edge's
// minimum headway is a HEADWAY conflict.
func detectBlockConflicts(topo *core.Topology, byBlock map[string][]core.OccupancyWindow) []model.ConflictCandidate {
	var out []model.ConflictCandidate
	for _, windows := range byBlock {
		sort.Slice(windows, func(i, j int) bool {
			if !windows[i].Enter.Equal(windows[j].Enter) {
				return windows[i].Enter.Before(windows[j].Enter)
			}
			return windows[i].TrainID < windows[j].TrainID
		})
		for i := 0; i < len(windows); i++ {
			for j := i + 1; j < len(windows); j++ {
				lead, trail := windows[i], windows[j]
				if lead.TrainID == trail.TrainID {
					continue
				}
				required := minHeadwayFor(topo, lead, trail)
				if lead.Overlaps(trail) {
					out = append(out, blockCandidate(model.ConflictSignal, lead, trail, required+overlapDuration(lead, trail)))
					continue
				}
				if gap := lead.Gap(trail); gap < required {
					out = append(out, blockCandidate(model.ConflictHeadway, lead, trail, required-gap))
				}
			}
		}
	}
	return out
}

func blockCandidate(kind model.ConflictKind, lead, trail core.OccupancyWindow, shortfall time.Duration) model.ConflictCandidate {
	start, end := lead.Enter, trail.Exit
	if trail.Enter.Before(start) {
		start = trail.Enter
	}
	if lead.Exit.After(end) {
		end = lead.Exit
	}
	return model.ConflictCandidate{
		ID:           candidateID(kind, trail.EdgeID, lead.TrainID, trail.TrainID),
		Kind:         kind,
		TrainIDs:     []string{lead.TrainID, trail.TrainID},
		Location:     trail.EdgeID,
		WindowStart:  start,
		WindowEnd:    end,
		GapShortfall: shortfall,
	}
}

// detectPlatformConflicts sweeps each station's platform windows and
// flags any instant where demand exceeds platform capacity.
func detectPlatformConflicts(topo *core.Topology, byStation map[string][]core.OccupancyWindow) []model.ConflictCandidate {
	var out []model.ConflictCandidate
	for nodeID, windows := range byStation {
		capacity := topo.PlatformCapacity(nodeID)
		if capacity <= 0 {
			capacity = 1
		}
		sort.Slice(windows, func(i, j int) bool {
			if !windows[i].Enter.Equal(windows[j].Enter) {
				return windows[i].Enter.Before(windows[j].Enter)
			}
			return windows[i].TrainID < windows[j].TrainID
		})
		for i := range windows {
			concurrent := []core.OccupancyWindow{windows[i]}
			for j := i + 1; j < len(windows); j++ {
				if windows[j].Enter.Before(windows[i].Exit) {
					concurrent = append(concurrent, windows[j])
				}
			}
			if len(concurrent) <= capacity {
				continue
			}
			ids := make([]string, 0, len(concurrent))
			end := windows[i].Exit
			var shortfall time.Duration
			for _, w := range concurrent {
				ids = append(ids, w.TrainID)
				if w.Exit.Before(end) {
					end = w.Exit
				}
				if d := windows[i].Exit.Sub(w.Enter); d > shortfall {
					shortfall = d
				}
			}
			sort.Strings(ids[1:])
			out = append(out, model.ConflictCandidate{
				ID:           candidateID(model.ConflictPlatform, nodeID, ids...),
				Kind:         model.ConflictPlatform,
				TrainIDs:     ids,
				Location:     nodeID,
				WindowStart:  concurrent[len(concurrent)-1].Enter,
				WindowEnd:    end,
				GapShortfall: shortfall,
			})
			break
		}
	}
	return out
}

// minHeadwayFor picks the stricter of the two edge headways when a
// block spans multiple edges (bidirectional single-line pairs).
func minHeadwayFor(topo *core.Topology, a, b core.OccupancyWindow) time.Duration {
	required := time.Duration(0)
	for _, id := range []string{a.EdgeID, b.EdgeID} {
		if e := topo.Edge(id); e != nil && e.MinHeadway > required {
			required = e.MinHeadway
		}
	}
	return required
}

func overlapDuration(a, b core.OccupancyWindow) time.Duration {
	start, end := a.Enter, a.Exit
	if b.Enter.After(start) {
		start = b.Enter
	}
	if b.Exit.Before(end) {
		end = b.Exit
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// candidateID is deterministic so repeated prediction cycles report the
// same conflict under the same identifier.
func candidateID(kind model.ConflictKind, location string, trains ...string) string {
	sorted := append([]string(nil), trains...)
	sort.Strings(sorted)
	id := fmt.Sprintf("%s:%s", kind, location)
	for _, t := range sorted {
		id += ":" + t
	}
	return id
}
