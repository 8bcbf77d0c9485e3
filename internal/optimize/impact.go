package optimize

import (
	"time"

	"github.com/signalsfoundry/section-twin/internal/predict"
	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/model"
)

// assessImpact simulates the same horizon twice from the request's base
// state, with and without the given actions, and reports the difference.
// Both runs are deterministic, so the report is reproducible for anyone
// holding the same state version.
func assessImpact(base *twin.Branch, p *problem, actions []model.ResolutionAction) model.ImpactReport {
	baseline := base.Fork()
	baselineState := baseline.State()
	conflictsBefore := predict.DetectConflicts(baseline.Tracker(), baselineState.Trains, baseline.Now(), p.horizon)
	baselineResult := baseline.Simulate(p.horizon)

	altered := base.Fork()
	applied := true
	for i := range actions {
		if err := altered.ApplyAction(&actions[i]); err != nil {
			applied = false
			break
		}
	}

	report := model.ImpactReport{
		DelayDelta:       make(map[string]time.Duration),
		TotalDelayBefore: baselineResult.TotalDelay(),
		MaxDelayBefore:   baselineResult.MaxDelay(),
		ConflictsBefore:  len(conflictsBefore),
	}
	if !applied {
		report.TotalDelayAfter = report.TotalDelayBefore
		report.MaxDelayAfter = report.MaxDelayBefore
		report.ConflictsAfter = report.ConflictsBefore
		return report
	}

	alteredState := altered.State()
	conflictsAfter := predict.DetectConflicts(altered.Tracker(), alteredState.Trains, altered.Now(), p.horizon)
	alteredResult := altered.Simulate(p.horizon)

	report.TotalDelayAfter = alteredResult.TotalDelay()
	report.MaxDelayAfter = alteredResult.MaxDelay()
	report.ConflictsAfter = len(conflictsAfter)

	before := baselineResult.DelayByTrain()
	for id, after := range alteredResult.DelayByTrain() {
		if d := after - before[id]; d != 0 {
			report.DelayDelta[id] = d
		}
	}
	return report
}
