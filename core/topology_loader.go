package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/signalsfoundry/section-twin/model"
)

// SectionSummary is a small summary of what was loaded from JSON.
// It's mainly useful for logging from main().
type SectionSummary struct {
	NodeIDs []string
	EdgeIDs []string
}

// internal JSON shapes – kept unexported so we're free to evolve them.
type sectionJSON struct {
	Nodes []sectionNodeJSON `json:"nodes"`
	Edges []sectionEdgeJSON `json:"edges"`
}

type sectionNodeJSON struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"` // "station" | "signal" | "junction"
	Platforms int     `json:"platforms"`
	OffsetKM  float64 `json:"offset_km"`
}

type sectionEdgeJSON struct {
	ID          string  `json:"id"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	LengthM     float64 `json:"length_m"`
	MaxSpeedKMH float64 `json:"max_speed_kmh"`
	SingleLine  bool    `json:"single_line"`
	HeadwayS    float64 `json:"headway_s"`
	GradientPct float64 `json:"gradient_pct"`
	BlockID     string  `json:"block_id"`
	// Bidirectional single lines are described once; set to emit the
	// reverse edge automatically.
	Bidirectional bool `json:"bidirectional"`
}

// LoadSection reads a JSON section description from r and returns a
// validated Topology plus a summary of what was loaded. Structural
// problems surface as *TopologyError via NewTopology.
func LoadSection(r io.Reader) (*Topology, *SectionSummary, error) {
	var payload sectionJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, nil, fmt.Errorf("LoadSection: decode failed: %w", err)
	}

	summary := &SectionSummary{
		NodeIDs: make([]string, 0, len(payload.Nodes)),
		EdgeIDs: make([]string, 0, len(payload.Edges)),
	}

	nodes := make([]*model.Node, 0, len(payload.Nodes))
	for _, jn := range payload.Nodes {
		if jn.ID == "" {
			return nil, nil, fmt.Errorf("LoadSection: node with empty id")
		}
		nodes = append(nodes, &model.Node{
			ID:        jn.ID,
			Name:      jn.Name,
			Type:      nodeTypeFromString(jn.Type),
			Platforms: jn.Platforms,
			OffsetM:   jn.OffsetKM * 1000.0,
		})
		summary.NodeIDs = append(summary.NodeIDs, jn.ID)
	}

	edges := make([]*model.Edge, 0, len(payload.Edges))
	addEdge := func(e *model.Edge) {
		edges = append(edges, e)
		summary.EdgeIDs = append(summary.EdgeIDs, e.ID)
	}
	for _, je := range payload.Edges {
		if je.ID == "" {
			return nil, nil, fmt.Errorf("LoadSection: edge with empty id")
		}
		e := &model.Edge{
			ID:          je.ID,
			From:        je.From,
			To:          je.To,
			LengthM:     je.LengthM,
			MaxSpeedMPS: je.MaxSpeedKMH / 3.6,
			SingleLine:  je.SingleLine,
			MinHeadway:  time.Duration(je.HeadwayS * float64(time.Second)),
			GradientPct: je.GradientPct,
			BlockID:     je.BlockID,
		}
		addEdge(e)
		if je.Bidirectional {
			rev := *e
			rev.ID = je.ID + ":rev"
			rev.From, rev.To = e.To, e.From
			rev.GradientPct = -e.GradientPct
			if rev.BlockID == "" {
				// Opposite directions of one physical track share a block.
				rev.BlockID = e.ID
				e.BlockID = e.ID
			}
			addEdge(&rev)
		}
	}

	topo, err := NewTopology(nodes, edges)
	if err != nil {
		return nil, nil, err
	}
	return topo, summary, nil
}

// nodeTypeFromString maps the JSON "type" string to model.NodeType.
// Unknown or empty values default to SIGNAL, the most common node kind
// on a section.
func nodeTypeFromString(s string) model.NodeType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "station", "stn":
		return model.NodeStation
	case "junction", "jun":
		return model.NodeJunction
	default:
		return model.NodeSignal
	}
}
