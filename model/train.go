package model

import "time"

// Priority orders trains for conflict resolution. Lower ordinal wins:
// an EXPRESS should not be held to benefit a FREIGHT.
type Priority int

const (
	PriorityExpress Priority = iota + 1
	PriorityPassenger
	PriorityFreight
	PrioritySpecial
)

func (p Priority) String() string {
	switch p {
	case PriorityExpress:
		return "EXPRESS"
	case PriorityPassenger:
		return "PASSENGER"
	case PriorityFreight:
		return "FREIGHT"
	case PrioritySpecial:
		return "SPECIAL"
	default:
		return "UNKNOWN"
	}
}

// TrainStatus is the lifecycle state of a train in the live twin.
type TrainStatus string

const (
	StatusScheduled TrainStatus = "SCHEDULED"
	StatusActive    TrainStatus = "ACTIVE"
	StatusHeld      TrainStatus = "HELD"
	StatusCompleted TrainStatus = "COMPLETED"
	StatusCancelled TrainStatus = "CANCELLED"
)

// RouteStop is one scheduled stop (or passage) on a train's route.
type RouteStop struct {
	NodeID string
	// EdgeID leads from this stop to the next one; empty on the final stop.
	EdgeID    string
	Arrival   time.Time
	Departure time.Time
	// Platform is the assigned platform index at a station, 0-based.
	// Ignored for non-station nodes.
	Platform int
	// DwellS is the planned dwell in seconds at a station stop.
	DwellS float64
}

// Train is the mutable per-train state tracked by the twin. All fields
// are owned by the Train State Tracker once the train is created; other
// components read through snapshots or branches.
type Train struct {
	ID       string
	Number   string
	Priority Priority
	Status   TrainStatus

	// Route is the ordered plan through the section.
	Route []RouteStop
	// RouteIdx is the index of the stop the train most recently passed.
	RouteIdx int

	// CurrentEdge and OffsetM locate the train; OffsetM is metres from
	// the edge's From node and is monotonically non-decreasing while the
	// train is ACTIVE on that edge. A train standing at a node has
	// CurrentEdge == "" and sits at Route[RouteIdx].NodeID.
	CurrentEdge string
	OffsetM     float64

	SpeedMPS    float64
	MaxSpeedMPS float64
	LengthM     float64
	WeightTons  float64

	// Delay is the cumulative schedule deviation; grows while held.
	Delay time.Duration

	// HoldUntil is set when a HOLD action is committed; the tracker
	// keeps the train stationary until this simulation time passes.
	HoldUntil time.Time

	LastUpdate time.Time
}

// Clone returns a deep copy so branches never alias live route slices.
func (t *Train) Clone() *Train {
	cp := *t
	cp.Route = make([]RouteStop, len(t.Route))
	copy(cp.Route, t.Route)
	return &cp
}

// CurrentNode returns the node the train occupies when standing, or the
// route node it most recently departed when moving along an edge.
func (t *Train) CurrentNode() string {
	if t.RouteIdx >= 0 && t.RouteIdx < len(t.Route) {
		return t.Route[t.RouteIdx].NodeID
	}
	return ""
}

// FinalNode is the exit node of the monitored section for this train.
func (t *Train) FinalNode() string {
	if len(t.Route) == 0 {
		return ""
	}
	return t.Route[len(t.Route)-1].NodeID
}

// TrainUpdate is one authoritative telemetry sample from the external
// feed. Origin-agnostic: the mock generator and a real signalling or
// GPS integration produce the same shape.
type TrainUpdate struct {
	TrainID  string
	Number   string
	Priority Priority

	EdgeID   string
	OffsetM  float64
	SpeedMPS float64

	// Delay is nil when the sample carries no delay reading; a non-nil
	// zero is an authoritative "running on time".
	Delay *time.Duration

	// Route is only consulted when the update creates a previously
	// unknown train (feed-first-seen arrival).
	Route []RouteStop

	ObservedAt time.Time
}

// TrainDelta is the per-train change record emitted after each tick for
// downstream consumers.
type TrainDelta struct {
	TrainID    string
	Status     TrainStatus
	EdgeID     string
	OffsetM    float64
	MovedM     float64
	SpeedMPS   float64
	Delay      time.Duration
	Reconciled bool
	Created    bool
	Completed  bool
	Tick       time.Time
}
