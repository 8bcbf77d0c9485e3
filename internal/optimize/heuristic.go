package optimize

import (
	"math"
	"sort"

	"github.com/signalsfoundry/section-twin/model"
)

// greedyAssignment is the time-limit fallback: walk conflicts from the
// highest rank down and, for each unresolved one, hold the
// lowest-priority train involved for its minimum clearing duration.
// Runs in linear time over the formulated variables, so it always
// finishes inside any budget. Returns nil when no feasible greedy plan
// exists.
func greedyAssignment(p *problem) []int {
	assignment := make([]int, len(p.vars))

	ordered := append([]model.ConflictCandidate(nil), p.conflicts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := ordered[i].Rank(), ordered[j].Rank()
		if ri != rj {
			return ri > rj
		}
		return ordered[i].ID < ordered[j].ID
	})

	resolved := make(map[string]bool)
	for _, c := range ordered {
		if resolved[c.ID] {
			continue
		}
		victim := lowestPriorityTrain(p, c.TrainIDs)
		if victim < 0 || assignment[victim] != 0 {
			continue
		}
		hold := firstHoldOption(p.vars[victim])
		if hold < 0 {
			continue
		}
		assignment[victim] = hold
		for _, id := range p.vars[victim].options[hold].ResolvesConflictIDs {
			resolved[id] = true
		}
	}

	if !feasible(p, assignment) {
		return nil
	}
	return assignment
}

// lowestPriorityTrain picks which train to penalize: the one with the
// largest priority ordinal, ties broken toward the later arrival (the
// second train listed) and then lexically.
func lowestPriorityTrain(p *problem, trainIDs []string) int {
	best := -1
	worstOrdinal := math.MinInt
	for i := len(trainIDs) - 1; i >= 0; i-- {
		idx, ok := varIndex(p, trainIDs[i])
		if !ok {
			continue
		}
		if ord := int(p.vars[idx].priority); ord > worstOrdinal {
			worstOrdinal = ord
			best = idx
		}
	}
	return best
}

func varIndex(p *problem, trainID string) (int, bool) {
	for i, v := range p.vars {
		if v.trainID == trainID {
			return i, true
		}
	}
	return 0, false
}

// firstHoldOption returns the index of the shortest hold in a
// variable's options, or -1 if the train has none.
func firstHoldOption(v variable) int {
	for i, opt := range v.options {
		if opt != nil && opt.Type == model.ActionHold {
			return i
		}
	}
	return -1
}

// feasible checks that an assignment applies cleanly to a fork of the
// base state.
func feasible(p *problem, assignment []int) bool {
	fork := p.base.Fork()
	actions := p.actionsFor(assignment)
	for i := range actions {
		if err := fork.ApplyAction(&actions[i]); err != nil {
			p.noteBlocked(err)
			return false
		}
	}
	return true
}
