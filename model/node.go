package model

// NodeType categorizes a point on the monitored section.
type NodeType string

const (
	NodeStation  NodeType = "STATION"
	NodeSignal   NodeType = "SIGNAL"
	NodeJunction NodeType = "JUNCTION"
)

// Node is a station, signal, or junction on the section. Immutable after
// topology load.
type Node struct {
	ID   string
	Name string
	Type NodeType

	// Platforms is the platform count; meaningful for stations only.
	Platforms int

	// OffsetM is the geographic offset along the section in metres,
	// measured from the section origin. Used for display ordering and
	// sanity checks, not for pathfinding.
	OffsetM float64
}

// IsStation reports whether the node can host a station dwell.
func (n *Node) IsStation() bool { return n.Type == NodeStation }
