package model

import "time"

// ActionType enumerates the schedule adjustments the optimizer may
// recommend.
type ActionType string

const (
	ActionHold        ActionType = "HOLD"
	ActionReroute     ActionType = "REROUTE"
	ActionSpeedAdjust ActionType = "SPEED_ADJUST"
)

// ActionSource records whether an action came from the exact solver or
// the greedy fallback.
type ActionSource string

const (
	SourceOptimal   ActionSource = "OPTIMAL"
	SourceHeuristic ActionSource = "HEURISTIC"
)

// ResolutionAction is a proposed schedule adjustment. It never mutates
// live twin state by itself; only an explicit commit applies it.
type ResolutionAction struct {
	ID          string
	Type        ActionType
	TrainID     string
	Source      ActionSource
	Explanation string

	// HoldDuration applies to HOLD actions.
	HoldDuration time.Duration

	// AltRoute applies to REROUTE actions: the replacement tail of the
	// train's route from its current position.
	AltRoute []RouteStop

	// SpeedDeltaMPS applies to SPEED_ADJUST actions; negative slows the
	// train down.
	SpeedDeltaMPS float64

	// ResolvesConflictIDs lists the predictor candidates this action
	// clears.
	ResolvesConflictIDs []string

	// Impact is the simulated delay change per affected train,
	// reproducible against the same state version.
	Impact ImpactReport

	// StateVersion is the twin version the action was computed against;
	// commit rejects the action once the live version has moved on.
	StateVersion uint64
}

// ImpactReport compares a simulated future with and without an action.
type ImpactReport struct {
	// DelayDelta maps train ID to the change in cumulative delay;
	// positive means the train ends up more delayed.
	DelayDelta map[string]time.Duration

	TotalDelayBefore time.Duration
	TotalDelayAfter  time.Duration
	MaxDelayBefore   time.Duration
	MaxDelayAfter    time.Duration

	ConflictsBefore int
	ConflictsAfter  int
}

// NetDelayReduction is positive when the action leaves the section less
// delayed overall.
func (r ImpactReport) NetDelayReduction() time.Duration {
	return r.TotalDelayBefore - r.TotalDelayAfter
}

// AffectedTrains counts trains whose delay changes under the action.
func (r ImpactReport) AffectedTrains() int {
	n := 0
	for _, d := range r.DelayDelta {
		if d != 0 {
			n++
		}
	}
	return n
}

// CommitResult acknowledges a committed action.
type CommitResult struct {
	ActionID     string
	TrainID      string
	StateVersion uint64
	CommittedAt  time.Time
}

// FeedbackVerdict is the operator's response to a recommendation,
// consumed only for predictor confidence calibration.
type FeedbackVerdict string

const (
	VerdictAccepted   FeedbackVerdict = "ACCEPTED"
	VerdictOverridden FeedbackVerdict = "OVERRIDDEN"
)

// OperatorFeedback links a verdict to the action it judges.
type OperatorFeedback struct {
	ActionID  string
	Verdict   FeedbackVerdict
	Note      string
	Timestamp time.Time
}
