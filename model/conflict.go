package model

import "time"

// ConflictKind classifies a predicted occupancy violation.
type ConflictKind string

const (
	ConflictHeadway  ConflictKind = "HEADWAY"
	ConflictPlatform ConflictKind = "PLATFORM"
	ConflictSignal   ConflictKind = "SIGNAL"
)

// ConflictCandidate is one predicted violation within the simulation
// horizon. Candidates are ephemeral: the predictor recomputes the full
// set every cycle and they are never persisted as authoritative state.
type ConflictCandidate struct {
	ID   string
	Kind ConflictKind

	// TrainIDs lists the involved trains, two or more, ordered so the
	// earlier occupant comes first.
	TrainIDs []string

	// Location is a node ID for PLATFORM/SIGNAL conflicts and an edge ID
	// for HEADWAY conflicts.
	Location string

	// WindowStart/WindowEnd bound the predicted violation. Both lie
	// within the simulation horizon that produced the candidate.
	WindowStart time.Time
	WindowEnd   time.Time

	// GapShortfall is how far below the required separation the pair
	// falls; the minimum hold that clears the violation.
	GapShortfall time.Duration

	// Severity and Confidence are the learned-stage refinement, both in
	// [0,1]. The rule stage alone decides existence.
	Severity   float64
	Confidence float64
}

// Rank is the ordering key for optimizer triage.
func (c *ConflictCandidate) Rank() float64 { return c.Severity * c.Confidence }
