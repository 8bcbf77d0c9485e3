package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/internal/engine"
	"github.com/signalsfoundry/section-twin/internal/kpi"
	"github.com/signalsfoundry/section-twin/internal/optimize"
	"github.com/signalsfoundry/section-twin/internal/predict"
	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/model"
)

var testStart = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func testTopology(t *testing.T) *core.Topology {
	t.Helper()
	nodes := []*model.Node{
		{ID: "STN-B", Type: model.NodeStation, Platforms: 2},
		{ID: "JN-D", Type: model.NodeJunction},
		{ID: "STN-C", Type: model.NodeStation, Platforms: 2},
	}
	edges := []*model.Edge{
		{ID: "b-c", From: "STN-B", To: "STN-C", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
		{ID: "b-d", From: "STN-B", To: "JN-D", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
		{ID: "d-c", From: "JN-D", To: "STN-C", LengthM: 2000, MaxSpeedMPS: 20, MinHeadway: 5 * time.Minute},
	}
	topo, err := core.NewTopology(nodes, edges)
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	return topo
}

func newTestServer(t *testing.T, opts ...engine.Option) (http.Handler, *engine.Engine) {
	t.Helper()
	tw := twin.New(testTopology(t), testStart, nil)
	calib := predict.NewCalibration(0.5)
	pred := predict.New(tw.Tracker(), nil,
		predict.WithHorizon(15*time.Minute),
		predict.WithScorer(&predict.HeuristicScorer{Calibration: calib}),
	)
	opt := optimize.New(tw, nil, optimize.WithBudget(0), optimize.WithHorizon(15*time.Minute))
	e := engine.New(tw, pred, opt, calib, nil, opts...)
	return New(Config{Engine: e}), e
}

func seedHeadwayScenario(t *testing.T, e *engine.Engine) {
	t.Helper()
	add := func(id string, prio model.Priority, dep time.Time) {
		err := e.Twin().AddTrain(&model.Train{
			ID: id, Number: id, Priority: prio, Status: model.StatusActive,
			Route: []model.RouteStop{
				{NodeID: "STN-B", EdgeID: "b-c", Departure: dep},
				{NodeID: "STN-C"},
			},
			MaxSpeedMPS: 20,
		})
		if err != nil {
			t.Fatalf("AddTrain %s: %v", id, err)
		}
	}
	add("trn-exp", model.PriorityExpress, testStart.Add(time.Minute))
	add("trn-frt", model.PriorityFreight, testStart.Add(3*time.Minute))
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/v0/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestTickThenSnapshot(t *testing.T) {
	h, e := newTestServer(t)
	seedHeadwayScenario(t, e)
	before := e.Twin().Version()

	rec := doJSON(t, h, http.MethodPost, "/v0/ticks", TickRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("tick failed: %d %s", rec.Code, rec.Body.String())
	}
	tick := decode[TickResponse](t, rec)
	if tick.StateVersion != before+1 {
		t.Fatalf("tick version %d, expected %d", tick.StateVersion, before+1)
	}

	rec = doJSON(t, h, http.MethodGet, "/v0/snapshot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot failed: %d", rec.Code)
	}
	snap := decode[SnapshotResponse](t, rec)
	if len(snap.Trains) != 2 {
		t.Fatalf("expected 2 trains, got %+v", snap.Trains)
	}
	if snap.Trains[0].Priority != "EXPRESS" && snap.Trains[1].Priority != "EXPRESS" {
		t.Fatalf("priorities not rendered: %+v", snap.Trains)
	}
}

func TestTickAdmitsNewTrainFromUpdate(t *testing.T) {
	h, e := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v0/ticks", TickRequest{
		Updates: []TrainUpdateRequest{{
			TrainID:  "trn-new",
			Priority: "FREIGHT",
			EdgeID:   "b-c",
			OffsetM:  100,
			SpeedMPS: 10,
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("tick failed: %d %s", rec.Code, rec.Body.String())
	}
	got := e.Snapshot(context.Background()).Train("trn-new")
	if got == nil || got.Priority != model.PriorityFreight {
		t.Fatalf("update did not admit the train: %+v", got)
	}
}

func TestConflictsEndpoint(t *testing.T) {
	h, e := newTestServer(t)
	seedHeadwayScenario(t, e)
	doJSON(t, h, http.MethodPost, "/v0/ticks", TickRequest{})

	rec := doJSON(t, h, http.MethodGet, "/v0/conflicts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("conflicts failed: %d", rec.Code)
	}
	conflicts := decode[[]ConflictResponse](t, rec)
	if len(conflicts) != 1 || conflicts[0].Kind != "HEADWAY" {
		t.Fatalf("expected one HEADWAY conflict, got %+v", conflicts)
	}
	if conflicts[0].GapShortfallSec <= 0 {
		t.Fatalf("shortfall not rendered: %+v", conflicts[0])
	}
}

func TestWhatIfValidation(t *testing.T) {
	h, e := newTestServer(t)
	seedHeadwayScenario(t, e)

	rec := doJSON(t, h, http.MethodPost, "/v0/whatif", WhatIfRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty action list should 400, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v0/whatif", WhatIfRequest{
		Actions: []ActionRequest{{Type: "HOLD", TrainID: "trn-frt", HoldSec: -5}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("infeasible action should 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWhatIfReportsImpact(t *testing.T) {
	h, e := newTestServer(t)
	seedHeadwayScenario(t, e)

	rec := doJSON(t, h, http.MethodPost, "/v0/whatif", WhatIfRequest{
		Actions:        []ActionRequest{{Type: "HOLD", TrainID: "trn-frt", HoldSec: 480}},
		HorizonMinutes: 15,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("whatif failed: %d %s", rec.Code, rec.Body.String())
	}
	out := decode[WhatIfResponse](t, rec)
	if out.BaseVersion != e.Twin().Version() {
		t.Fatalf("what-if base %d, live %d", out.BaseVersion, e.Twin().Version())
	}
	if out.Impact.ConflictsBefore != 1 || out.Impact.ConflictsAfter != 0 {
		t.Fatalf("hold should clear the conflict: %+v", out.Impact)
	}
	if out.HorizonTicks != 180 {
		t.Fatalf("15m at 5s ticks should be 180 steps, got %d", out.HorizonTicks)
	}
	if len(out.FinalTrains) != 2 {
		t.Fatalf("final state incomplete: %+v", out.FinalTrains)
	}
}

func TestOptimizeCommitFlow(t *testing.T) {
	h, e := newTestServer(t)
	seedHeadwayScenario(t, e)
	doJSON(t, h, http.MethodPost, "/v0/ticks", TickRequest{})

	rec := doJSON(t, h, http.MethodPost, "/v0/optimize", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("optimize failed: %d %s", rec.Code, rec.Body.String())
	}
	out := decode[OptimizeResponse](t, rec)
	if out.Status != string(optimize.StatusTimeLimitHeuristic) {
		t.Fatalf("zero budget must answer heuristically, got %s", out.Status)
	}
	if len(out.Actions) == 0 || out.Actions[0].ID == "" {
		t.Fatalf("no identifiable recommendation: %+v", out.Actions)
	}
	actionID := out.Actions[0].ID

	// Unknown ID is a 404.
	rec = doJSON(t, h, http.MethodPost, "/v0/actions/commit", CommitRequest{ActionID: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action should 404, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v0/actions/commit", CommitRequest{ActionID: actionID})
	if rec.Code != http.StatusOK {
		t.Fatalf("commit failed: %d %s", rec.Code, rec.Body.String())
	}
	commit := decode[CommitResponse](t, rec)
	if commit.TrainID != out.Actions[0].TrainID {
		t.Fatalf("commit ack wrong: %+v", commit)
	}

	// After another tick the same recommendation is stale.
	doJSON(t, h, http.MethodPost, "/v0/ticks", TickRequest{})
	rec = doJSON(t, h, http.MethodPost, "/v0/actions/commit", CommitRequest{ActionID: actionID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale commit should 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOptimizeRequestParameters(t *testing.T) {
	h, e := newTestServer(t)
	seedHeadwayScenario(t, e)
	doJSON(t, h, http.MethodPost, "/v0/ticks", TickRequest{})

	rec := doJSON(t, h, http.MethodGet, "/v0/conflicts", nil)
	conflicts := decode[[]ConflictResponse](t, rec)
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", conflicts)
	}

	// Naming the conflict and a zero budget drives the heuristic path on
	// just that conflict.
	zero := 0
	rec = doJSON(t, h, http.MethodPost, "/v0/optimize", OptimizeRequest{
		ConflictIDs:  []string{conflicts[0].ID},
		TimeBudgetMS: &zero,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("optimize failed: %d %s", rec.Code, rec.Body.String())
	}
	out := decode[OptimizeResponse](t, rec)
	if out.Status != string(optimize.StatusTimeLimitHeuristic) {
		t.Fatalf("zero budget must answer heuristically, got %s", out.Status)
	}
	if out.Explored != 0 {
		t.Fatalf("exact search ran despite a zero budget: %d", out.Explored)
	}
	if len(out.Actions) == 0 {
		t.Fatalf("no recommendation for the selected conflict: %+v", out)
	}

	// A conflict the prediction cycle no longer tracks is a 404.
	rec = doJSON(t, h, http.MethodPost, "/v0/optimize", OptimizeRequest{
		ConflictIDs: []string{"CONFL-GHOST"},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown conflict should 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFeedbackValidation(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v0/feedback", FeedbackRequest{ActionID: "act-1", Verdict: "MAYBE"})
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad verdict should be rejected, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v0/feedback", FeedbackRequest{ActionID: "act-1", Verdict: "ACCEPTED"})
	if rec.Code != http.StatusOK {
		t.Fatalf("feedback failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestKPIEndpoint(t *testing.T) {
	noStore, _ := newTestServer(t)
	rec := doJSON(t, noStore, http.MethodGet, "/v0/kpis", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("kpis without a store should 404, got %d", rec.Code)
	}

	store, err := kpi.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer store.Close()
	h, e := newTestServer(t, engine.WithKPIStore(store))
	seedHeadwayScenario(t, e)
	doJSON(t, h, http.MethodPost, "/v0/ticks", TickRequest{})

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/v0/kpis?since_minutes=%d", 60), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("kpis failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["operational"] == nil || body["advisory"] == nil {
		t.Fatalf("summary sections missing: %v", body)
	}
}
