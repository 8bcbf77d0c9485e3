package api

import (
	"time"

	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/model"
)

// TrainResponse is the wire form of a tracked train.
type TrainResponse struct {
	ID          string  `json:"id"`
	Number      string  `json:"number"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	CurrentEdge string  `json:"current_edge,omitempty"`
	OffsetM     float64 `json:"offset_m"`
	SpeedMPS    float64 `json:"speed_mps"`
	DelaySec    float64 `json:"delay_seconds"`
	NextNode    string  `json:"next_node,omitempty"`
}

func trainResponse(t *model.Train) TrainResponse {
	return TrainResponse{
		ID:          t.ID,
		Number:      t.Number,
		Priority:    t.Priority.String(),
		Status:      string(t.Status),
		CurrentEdge: t.CurrentEdge,
		OffsetM:     t.OffsetM,
		SpeedMPS:    t.SpeedMPS,
		DelaySec:    t.Delay.Seconds(),
		NextNode:    t.CurrentNode(),
	}
}

// SnapshotResponse is the full live state.
type SnapshotResponse struct {
	StateVersion uint64          `json:"state_version"`
	Now          time.Time       `json:"now"`
	Trains       []TrainResponse `json:"trains"`
}

func snapshotResponse(s *twin.TwinState) SnapshotResponse {
	out := SnapshotResponse{StateVersion: s.Version, Now: s.Now}
	for _, t := range s.Trains {
		out.Trains = append(out.Trains, trainResponse(t))
	}
	return out
}

// TickRequest carries external movement updates for one tick.
type TickRequest struct {
	Updates []TrainUpdateRequest `json:"updates"`
}

// TrainUpdateRequest is one observed train position.
type TrainUpdateRequest struct {
	TrainID  string  `json:"train_id"`
	Number   string  `json:"number,omitempty"`
	Priority string  `json:"priority,omitempty"`
	EdgeID   string  `json:"edge_id,omitempty"`
	OffsetM  float64 `json:"offset_m"`
	SpeedMPS float64 `json:"speed_mps"`

	// DelaySec is optional; an explicit zero clears the tracked delay.
	DelaySec *float64           `json:"delay_seconds,omitempty"`
	Route    []RouteStopRequest `json:"route,omitempty"`
}

// RouteStopRequest is one stop of a submitted route.
type RouteStopRequest struct {
	NodeID    string     `json:"node_id"`
	EdgeID    string     `json:"edge_id,omitempty"`
	Arrival   *time.Time `json:"arrival,omitempty"`
	Departure *time.Time `json:"departure,omitempty"`
	Platform  int        `json:"platform,omitempty"`
	DwellS    float64    `json:"dwell_seconds,omitempty"`
}

func (r TrainUpdateRequest) toModel(now time.Time) model.TrainUpdate {
	u := model.TrainUpdate{
		TrainID:    r.TrainID,
		Number:     r.Number,
		Priority:   priorityFromString(r.Priority),
		EdgeID:     r.EdgeID,
		OffsetM:    r.OffsetM,
		SpeedMPS:   r.SpeedMPS,
		ObservedAt: now,
	}
	if r.DelaySec != nil {
		d := time.Duration(*r.DelaySec * float64(time.Second))
		u.Delay = &d
	}
	for _, s := range r.Route {
		u.Route = append(u.Route, s.toModel())
	}
	return u
}

func (s RouteStopRequest) toModel() model.RouteStop {
	stop := model.RouteStop{
		NodeID:   s.NodeID,
		EdgeID:   s.EdgeID,
		Platform: s.Platform,
		DwellS:   s.DwellS,
	}
	if s.Arrival != nil {
		stop.Arrival = *s.Arrival
	}
	if s.Departure != nil {
		stop.Departure = *s.Departure
	}
	return stop
}

func priorityFromString(s string) model.Priority {
	switch s {
	case "EXPRESS":
		return model.PriorityExpress
	case "PASSENGER":
		return model.PriorityPassenger
	case "FREIGHT":
		return model.PriorityFreight
	case "SPECIAL":
		return model.PrioritySpecial
	}
	return 0
}

// TickResponse reports what one tick changed.
type TickResponse struct {
	StateVersion uint64          `json:"state_version"`
	Now          time.Time       `json:"now"`
	Deltas       []DeltaResponse `json:"deltas"`
}

// DeltaResponse is one train's change over a tick.
type DeltaResponse struct {
	TrainID    string  `json:"train_id"`
	Status     string  `json:"status"`
	EdgeID     string  `json:"edge_id,omitempty"`
	OffsetM    float64 `json:"offset_m"`
	MovedM     float64 `json:"moved_m"`
	SpeedMPS   float64 `json:"speed_mps"`
	DelaySec   float64 `json:"delay_seconds"`
	Reconciled bool    `json:"reconciled,omitempty"`
	Created    bool    `json:"created,omitempty"`
	Completed  bool    `json:"completed,omitempty"`
}

func deltaResponse(d model.TrainDelta) DeltaResponse {
	return DeltaResponse{
		TrainID:    d.TrainID,
		Status:     string(d.Status),
		EdgeID:     d.EdgeID,
		OffsetM:    d.OffsetM,
		MovedM:     d.MovedM,
		SpeedMPS:   d.SpeedMPS,
		DelaySec:   d.Delay.Seconds(),
		Reconciled: d.Reconciled,
		Created:    d.Created,
		Completed:  d.Completed,
	}
}

// ConflictResponse is one predicted conflict.
type ConflictResponse struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	TrainIDs        []string  `json:"train_ids"`
	Location        string    `json:"location"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	GapShortfallSec float64   `json:"gap_shortfall_seconds"`
	Severity        float64   `json:"severity"`
	Confidence      float64   `json:"confidence"`
}

func conflictResponse(c model.ConflictCandidate) ConflictResponse {
	return ConflictResponse{
		ID:              c.ID,
		Kind:            string(c.Kind),
		TrainIDs:        c.TrainIDs,
		Location:        c.Location,
		WindowStart:     c.WindowStart,
		WindowEnd:       c.WindowEnd,
		GapShortfallSec: c.GapShortfall.Seconds(),
		Severity:        c.Severity,
		Confidence:      c.Confidence,
	}
}

// ActionRequest is an inline action for what-if runs.
type ActionRequest struct {
	Type          string             `json:"type" enum:"HOLD,REROUTE,SPEED_ADJUST"`
	TrainID       string             `json:"train_id"`
	HoldSec       float64            `json:"hold_seconds,omitempty"`
	SpeedDeltaMPS float64            `json:"speed_delta_mps,omitempty"`
	AltRoute      []RouteStopRequest `json:"alt_route,omitempty"`
}

func (r ActionRequest) toModel() model.ResolutionAction {
	a := model.ResolutionAction{
		Type:          model.ActionType(r.Type),
		TrainID:       r.TrainID,
		HoldDuration:  time.Duration(r.HoldSec * float64(time.Second)),
		SpeedDeltaMPS: r.SpeedDeltaMPS,
	}
	for _, s := range r.AltRoute {
		a.AltRoute = append(a.AltRoute, s.toModel())
	}
	return a
}

// ActionResponse is a recommended or committed action.
type ActionResponse struct {
	ID            string             `json:"id"`
	Type          string             `json:"type"`
	TrainID       string             `json:"train_id"`
	Source        string             `json:"source"`
	Explanation   string             `json:"explanation"`
	HoldSec       float64            `json:"hold_seconds,omitempty"`
	SpeedDeltaMPS float64            `json:"speed_delta_mps,omitempty"`
	Resolves      []string           `json:"resolves_conflict_ids,omitempty"`
	Impact        ImpactResponse     `json:"impact"`
	StateVersion  uint64             `json:"state_version"`
	AltRoute      []RouteStopRequest `json:"alt_route,omitempty"`
}

func actionResponse(a model.ResolutionAction) ActionResponse {
	out := ActionResponse{
		ID:            a.ID,
		Type:          string(a.Type),
		TrainID:       a.TrainID,
		Source:        string(a.Source),
		Explanation:   a.Explanation,
		HoldSec:       a.HoldDuration.Seconds(),
		SpeedDeltaMPS: a.SpeedDeltaMPS,
		Resolves:      a.ResolvesConflictIDs,
		Impact:        impactResponse(a.Impact),
		StateVersion:  a.StateVersion,
	}
	for _, s := range a.AltRoute {
		stop := RouteStopRequest{NodeID: s.NodeID, EdgeID: s.EdgeID, Platform: s.Platform, DwellS: s.DwellS}
		if !s.Arrival.IsZero() {
			arr := s.Arrival
			stop.Arrival = &arr
		}
		if !s.Departure.IsZero() {
			dep := s.Departure
			stop.Departure = &dep
		}
		out.AltRoute = append(out.AltRoute, stop)
	}
	return out
}

// ImpactResponse summarizes a simulated delay comparison.
type ImpactResponse struct {
	DelayDeltaSec   map[string]float64 `json:"delay_delta_seconds,omitempty"`
	TotalBeforeSec  float64            `json:"total_delay_before_seconds"`
	TotalAfterSec   float64            `json:"total_delay_after_seconds"`
	MaxBeforeSec    float64            `json:"max_delay_before_seconds"`
	MaxAfterSec     float64            `json:"max_delay_after_seconds"`
	ConflictsBefore int                `json:"conflicts_before"`
	ConflictsAfter  int                `json:"conflicts_after"`
}

func impactResponse(r model.ImpactReport) ImpactResponse {
	out := ImpactResponse{
		TotalBeforeSec:  r.TotalDelayBefore.Seconds(),
		TotalAfterSec:   r.TotalDelayAfter.Seconds(),
		MaxBeforeSec:    r.MaxDelayBefore.Seconds(),
		MaxAfterSec:     r.MaxDelayAfter.Seconds(),
		ConflictsBefore: r.ConflictsBefore,
		ConflictsAfter:  r.ConflictsAfter,
	}
	if len(r.DelayDelta) > 0 {
		out.DelayDeltaSec = make(map[string]float64, len(r.DelayDelta))
		for id, d := range r.DelayDelta {
			out.DelayDeltaSec[id] = d.Seconds()
		}
	}
	return out
}

// WhatIfRequest runs counterfactual actions against a state branch.
type WhatIfRequest struct {
	Actions        []ActionRequest `json:"actions"`
	HorizonMinutes int             `json:"horizon_minutes,omitempty"`
}

// WhatIfResponse reports the counterfactual outcome.
type WhatIfResponse struct {
	BranchID     string          `json:"branch_id"`
	BaseVersion  uint64          `json:"base_version"`
	Impact       ImpactResponse  `json:"impact"`
	FinalTrains  []TrainResponse `json:"final_trains"`
	HorizonTicks int             `json:"horizon_ticks"`
}

// OptimizeRequest narrows one optimization run. Both fields are
// optional: no conflict IDs means the full current set, and no budget
// means the configured default. An explicit zero budget answers
// heuristically without the exact search.
type OptimizeRequest struct {
	ConflictIDs  []string `json:"conflict_ids,omitempty"`
	TimeBudgetMS *int     `json:"time_budget_ms,omitempty" minimum:"0"`
}

// OptimizeResponse carries recommendations and solver telemetry.
type OptimizeResponse struct {
	Status       string           `json:"status"`
	StateVersion uint64           `json:"state_version"`
	Actions      []ActionResponse `json:"actions"`
	ElapsedMS    int64            `json:"elapsed_ms"`
	Explored     int              `json:"explored"`
	Blocking     []string         `json:"blocking,omitempty"`
}

// CommitRequest applies a previously recommended action by ID.
type CommitRequest struct {
	ActionID string `json:"action_id"`
}

// CommitResponse acknowledges a committed action.
type CommitResponse struct {
	ActionID     string    `json:"action_id"`
	TrainID      string    `json:"train_id"`
	StateVersion uint64    `json:"state_version"`
	CommittedAt  time.Time `json:"committed_at"`
}

// FeedbackRequest records an operator verdict.
type FeedbackRequest struct {
	ActionID string `json:"action_id"`
	Verdict  string `json:"verdict" enum:"ACCEPTED,OVERRIDDEN"`
	Note     string `json:"note,omitempty"`
}
