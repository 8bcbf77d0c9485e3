package model

import "time"

// Edge is a directed track segment between two nodes. Immutable after
// topology load. A double-line edge carries traffic in both directions
// independently; a single-line edge is shared by both directions and is
// subject to the occupancy invariant.
type Edge struct {
	ID   string
	From string
	To   string

	LengthM     float64
	MaxSpeedMPS float64

	// SingleLine marks a segment shared by opposing traffic.
	SingleLine bool

	// MinHeadway is the minimum time separation between two trains
	// entering this edge.
	MinHeadway time.Duration

	// GradientPct is the grade in percent; positive is uphill in the
	// From→To direction. Feeds braking-distance estimates.
	GradientPct float64

	// BlockID names the block section (track circuit) this edge belongs
	// to, used for SIGNAL double-occupancy detection. Empty means the
	// edge is its own block.
	BlockID string
}

// Block returns the effective block section identifier for the edge.
func (e *Edge) Block() string {
	if e.BlockID != "" {
		return e.BlockID
	}
	return e.ID
}
