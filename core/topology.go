package core

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/signalsfoundry/section-twin/model"
)

// TopologyError reports a structural problem with the section topology.
// It is fatal at load time: a twin must never start on a broken graph.
type TopologyError struct {
	Reason string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("topology error: %s", e.Reason)
}

func topologyErrorf(format string, args ...any) *TopologyError {
	return &TopologyError{Reason: fmt.Sprintf(format, args...)}
}

// Topology is the static graph of the monitored section: nodes, directed
// track segments, and the adjacency derived from them. Immutable after
// construction; safe for concurrent readers.
type Topology struct {
	nodes map[string]*model.Node
	edges map[string]*model.Edge

	// outgoing maps node ID to the edges leaving it.
	outgoing map[string][]*model.Edge
}

// NewTopology validates the node/edge set and builds the graph. Every
// edge must reference known nodes and carry positive length, speed, and
// headway values.
func NewTopology(nodes []*model.Node, edges []*model.Edge) (*Topology, error) {
	t := &Topology{
		nodes:    make(map[string]*model.Node, len(nodes)),
		edges:    make(map[string]*model.Edge, len(edges)),
		outgoing: make(map[string][]*model.Edge),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, topologyErrorf("node with empty id")
		}
		if _, dup := t.nodes[n.ID]; dup {
			return nil, topologyErrorf("duplicate node %q", n.ID)
		}
		if n.Type == model.NodeStation && n.Platforms <= 0 {
			return nil, topologyErrorf("station %q has no platforms", n.ID)
		}
		t.nodes[n.ID] = n
	}

	for _, e := range edges {
		if e.ID == "" {
			return nil, topologyErrorf("edge with empty id")
		}
		if _, dup := t.edges[e.ID]; dup {
			return nil, topologyErrorf("duplicate edge %q", e.ID)
		}
		if _, ok := t.nodes[e.From]; !ok {
			return nil, topologyErrorf("edge %q references unknown node %q", e.ID, e.From)
		}
		if _, ok := t.nodes[e.To]; !ok {
			return nil, topologyErrorf("edge %q references unknown node %q", e.ID, e.To)
		}
		if e.LengthM <= 0 {
			return nil, topologyErrorf("edge %q has non-positive length %v", e.ID, e.LengthM)
		}
		if e.MaxSpeedMPS <= 0 {
			return nil, topologyErrorf("edge %q has non-positive max speed %v", e.ID, e.MaxSpeedMPS)
		}
		if e.MinHeadway <= 0 {
			return nil, topologyErrorf("edge %q has non-positive headway %v", e.ID, e.MinHeadway)
		}
		t.edges[e.ID] = e
		t.outgoing[e.From] = append(t.outgoing[e.From], e)
	}

	// Deterministic neighbour order regardless of input order.
	for id := range t.outgoing {
		sort.Slice(t.outgoing[id], func(i, j int) bool {
			return t.outgoing[id][i].ID < t.outgoing[id][j].ID
		})
	}

	return t, nil
}

// Node returns the node with the given ID, or nil.
func (t *Topology) Node(id string) *model.Node { return t.nodes[id] }

// Edge returns the edge with the given ID, or nil.
func (t *Topology) Edge(id string) *model.Edge { return t.edges[id] }

// Nodes returns all nodes sorted by ID.
func (t *Topology) Nodes() []*model.Node {
	out := make([]*model.Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges sorted by ID.
func (t *Topology) Edges() []*model.Edge {
	out := make([]*model.Edge, 0, len(t.edges))
	for _, e := range t.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Outgoing returns the edges leaving nodeID in deterministic order.
func (t *Topology) Outgoing(nodeID string) []*model.Edge {
	return t.outgoing[nodeID]
}

// PlatformCapacity returns the platform count of a station node, or 0
// for non-stations.
func (t *Topology) PlatformCapacity(nodeID string) int {
	n := t.nodes[nodeID]
	if n == nil || n.Type != model.NodeStation {
		return 0
	}
	return n.Platforms
}

// ValidateRoute checks that consecutive stops are joined by known edges
// and that the graph connects every pair. A train whose route cannot be
// walked must not enter the twin.
func (t *Topology) ValidateRoute(route []model.RouteStop) error {
	if len(route) == 0 {
		return topologyErrorf("empty route")
	}
	for i, stop := range route {
		if t.nodes[stop.NodeID] == nil {
			return topologyErrorf("route references unknown node %q", stop.NodeID)
		}
		last := i == len(route)-1
		if last {
			continue
		}
		e := t.edges[stop.EdgeID]
		if e == nil {
			return topologyErrorf("route stop %q references unknown edge %q", stop.NodeID, stop.EdgeID)
		}
		if e.From != stop.NodeID || e.To != route[i+1].NodeID {
			return topologyErrorf("edge %q does not join %q to %q", stop.EdgeID, stop.NodeID, route[i+1].NodeID)
		}
	}
	return nil
}

// Route is a walkable path through the section.
type Route struct {
	NodeIDs []string
	EdgeIDs []string
	LengthM float64
}

// ShortestPath returns the minimum-length route between two nodes, or a
// TopologyError when they are disconnected.
func (t *Topology) ShortestPath(from, to string) (*Route, error) {
	routes := t.kShortestPaths(from, to, 1)
	if len(routes) == 0 {
		return nil, topologyErrorf("no path from %q to %q", from, to)
	}
	return routes[0], nil
}

// AlternateRoutes returns up to max loop-free routes between two nodes,
// shortest first. The first entry is always the shortest path.
func (t *Topology) AlternateRoutes(from, to string, max int) ([]*Route, error) {
	if max < 1 {
		max = 1
	}
	routes := t.kShortestPaths(from, to, max)
	if len(routes) == 0 {
		return nil, topologyErrorf("no path from %q to %q", from, to)
	}
	return routes, nil
}

// pqItem is a partial path on the Dijkstra/Yen frontier.
type pqItem struct {
	nodeID  string
	nodeIDs []string
	edgeIDs []string
	lengthM float64
	index   int
}

type pathQueue []*pqItem

func (q pathQueue) Len() int            { return len(q) }
func (q pathQueue) Less(i, j int) bool  { return q[i].lengthM < q[j].lengthM }
func (q pathQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *pathQueue) Push(x any)         { item := x.(*pqItem); item.index = len(*q); *q = append(*q, item) }
func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// kShortestPaths is a loopless best-first enumeration: pop the cheapest
// partial path, extend it along outgoing edges, collect completed paths
// until k are found. Visit counts bound the frontier so the search
// terminates on cyclic graphs.
func (t *Topology) kShortestPaths(from, to string, k int) []*Route {
	if t.nodes[from] == nil || t.nodes[to] == nil {
		return nil
	}

	frontier := &pathQueue{}
	heap.Init(frontier)
	heap.Push(frontier, &pqItem{
		nodeID:  from,
		nodeIDs: []string{from},
		lengthM: 0,
	})

	visits := make(map[string]int)
	found := make([]*Route, 0, k)

	for frontier.Len() > 0 && len(found) < k {
		item := heap.Pop(frontier).(*pqItem)

		visits[item.nodeID]++
		if visits[item.nodeID] > k {
			continue
		}

		if item.nodeID == to {
			found = append(found, &Route{
				NodeIDs: item.nodeIDs,
				EdgeIDs: item.edgeIDs,
				LengthM: item.lengthM,
			})
			continue
		}

		for _, e := range t.outgoing[item.nodeID] {
			if containsNode(item.nodeIDs, e.To) {
				continue // loopless paths only
			}
			nodeIDs := append(append([]string(nil), item.nodeIDs...), e.To)
			edgeIDs := append(append([]string(nil), item.edgeIDs...), e.ID)
			heap.Push(frontier, &pqItem{
				nodeID:  e.To,
				nodeIDs: nodeIDs,
				edgeIDs: edgeIDs,
				lengthM: item.lengthM + e.LengthM,
			})
		}
	}

	return found
}

// MinTraversal returns the minimum time to traverse an edge at its speed
// limit.
func (t *Topology) MinTraversal(edgeID string) float64 {
	e := t.edges[edgeID]
	if e == nil || e.MaxSpeedMPS <= 0 {
		return math.Inf(1)
	}
	return e.LengthM / e.MaxSpeedMPS
}

func containsNode(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
