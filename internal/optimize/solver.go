package optimize

import (
	"context"
	"math"
	"time"

	"github.com/signalsfoundry/section-twin/internal/predict"
	"github.com/signalsfoundry/section-twin/model"
)

// conflictPenalty prices one unresolved conflict in weighted delay
// seconds; high enough that clearing a conflict always beats saving a
// few minutes of low-priority delay.
const conflictPenalty = 3600.0

// actionPenalty nudges the search toward plans with fewer interventions
// when their delay outcomes tie.
const actionPenalty = 1.0

type candidate struct {
	assignment []int
	cost       float64
}

type solution struct {
	best     *candidate
	complete bool
	explored int
}

// solve enumerates action assignments depth-first within the budget.
// Each complete assignment is priced by forking the base state, applying
// the actions and simulating forward; infeasible combinations are
// discarded. A finished enumeration proves the best found assignment
// optimal over the formulated space.
func solve(ctx context.Context, p *problem, budget time.Duration) solution {
	s := solution{}
	if budget <= 0 || len(p.vars) == 0 {
		return s
	}
	deadline := time.Now().Add(budget)

	assignment := make([]int, len(p.vars))
	s.complete = dfs(ctx, p, assignment, 0, deadline, &s)
	return s
}

func dfs(ctx context.Context, p *problem, assignment []int, depth int, deadline time.Time, s *solution) bool {
	if time.Now().After(deadline) || ctx.Err() != nil {
		return false
	}
	if depth == len(p.vars) {
		s.explored++
		cost := evaluateCost(p, assignment)
		if math.IsInf(cost, 1) {
			return true
		}
		if s.best == nil || cost < s.best.cost {
			s.best = &candidate{assignment: append([]int(nil), assignment...), cost: cost}
		}
		return true
	}
	for choice := range p.vars[depth].options {
		assignment[depth] = choice
		if !dfs(ctx, p, assignment, depth+1, deadline, s) {
			return false
		}
	}
	return true
}

// evaluateCost prices one complete assignment: priority-weighted total
// delay after simulation, plus penalties for conflicts still present and
// for each intervention taken. Infeasible assignments cost +Inf.
func evaluateCost(p *problem, assignment []int) float64 {
	fork := p.base.Fork()
	actions := p.actionsFor(assignment)
	for i := range actions {
		if err := fork.ApplyAction(&actions[i]); err != nil {
			p.noteBlocked(err)
			return math.Inf(1)
		}
	}

	state := fork.State()
	remaining := predict.DetectConflicts(fork.Tracker(), state.Trains, fork.Now(), p.horizon)

	result := fork.Simulate(p.horizon)
	cost := actionPenalty * float64(len(actions))
	cost += conflictPenalty * float64(len(remaining))
	for _, t := range result.Final.Trains {
		cost += priorityWeight(t.Priority) * t.Delay.Seconds()
	}
	return cost
}

// priorityWeight scales delay cost by train class; ordinal 1 is the
// highest class and the most expensive to delay.
func priorityWeight(p model.Priority) float64 {
	switch p {
	case model.PriorityExpress:
		return 8
	case model.PriorityPassenger:
		return 4
	case model.PriorityFreight:
		return 2
	default:
		return 1
	}
}
