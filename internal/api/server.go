// Package api exposes the section control surface over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/internal/engine"
	"github.com/signalsfoundry/section-twin/internal/logging"
	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/model"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Log      logging.Logger
	BasePath string

	// Middleware is applied to the router before the routes; used for
	// request metrics.
	Middleware []func(http.Handler) http.Handler

	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler
}

// New returns the HTTP handler for the control API.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}

	router := chi.NewRouter()
	for _, mw := range cfg.Middleware {
		router.Use(mw)
	}
	router.Use(requestIDMiddleware(log))

	hcfg := huma.DefaultConfig("Section Twin API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hapi := humachi.New(router, hcfg)
	group := huma.NewGroup(hapi, basePath)

	registerHealth(group, cfg.Engine)
	registerTicks(group, cfg.Engine)
	registerSnapshot(group, cfg.Engine)
	registerConflicts(group, cfg.Engine)
	registerWhatIf(group, cfg.Engine)
	registerOptimize(group, cfg.Engine)
	registerCommit(group, cfg.Engine)
	registerFeedback(group, cfg.Engine)
	registerKPI(group, cfg.Engine)

	if cfg.MetricsHandler != nil {
		router.Handle("/metrics", cfg.MetricsHandler)
	}
	return router
}

// requestIDMiddleware stamps every request with an ID and a scoped
// logger.
func requestIDMiddleware(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, id := logging.EnsureRequestID(r.Context())
			w.Header().Set("X-Request-Id", id)
			ctx, _ = logging.WithRequestLogger(ctx, log)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// mapError translates domain errors into HTTP status errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var stale *twin.StaleStateError
	if errors.As(err, &stale) {
		return huma.Error409Conflict(stale.Error())
	}
	var infeasible *twin.InfeasibleActionError
	if errors.As(err, &infeasible) {
		return huma.Error422UnprocessableEntity(infeasible.Error())
	}
	var topo *core.TopologyError
	if errors.As(err, &topo) {
		return huma.Error400BadRequest(topo.Error())
	}
	if errors.Is(err, twin.ErrTrainNotFound) || errors.Is(err, twin.ErrBranchNotFound) || errors.Is(err, engine.ErrConflictNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return huma.Error503ServiceUnavailable(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

func registerHealth(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "healthz",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"status":        "ok",
			"state_version": e.Twin().Version(),
		}}, nil
	})
}

func registerTicks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-tick",
		Method:      http.MethodPost,
		Path:        "/ticks",
		Summary:     "Advance the live twin by one tick",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body TickRequest `json:"body"`
	}) (*struct {
		Body TickResponse `json:"body"`
	}, error) {
		now := e.Twin().Now().Add(e.Twin().Tick())
		updates := make([]model.TrainUpdate, 0, len(input.Body.Updates))
		for _, u := range input.Body.Updates {
			updates = append(updates, u.toModel(now))
		}
		deltas, err := e.IngestTick(ctx, updates)
		if err != nil {
			return nil, mapError(err)
		}
		resp := TickResponse{
			StateVersion: e.Twin().Version(),
			Now:          e.Twin().Now(),
		}
		for _, d := range deltas {
			resp.Deltas = append(resp.Deltas, deltaResponse(d))
		}
		return &struct {
			Body TickResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSnapshot(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/snapshot",
		Summary:     "Read-consistent copy of live state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SnapshotResponse `json:"body"`
	}, error) {
		return &struct {
			Body SnapshotResponse `json:"body"`
		}{Body: snapshotResponse(e.Snapshot(ctx))}, nil
	})
}

func registerConflicts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-conflicts",
		Method:      http.MethodGet,
		Path:        "/conflicts",
		Summary:     "Conflicts predicted by the latest cycle",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ConflictResponse `json:"body"`
	}, error) {
		conflicts := e.Conflicts(ctx)
		out := make([]ConflictResponse, 0, len(conflicts))
		for _, c := range conflicts {
			out = append(out, conflictResponse(c))
		}
		return &struct {
			Body []ConflictResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerWhatIf(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-whatif",
		Method:      http.MethodPost,
		Path:        "/whatif",
		Summary:     "Simulate actions on a branch without touching live state",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body WhatIfRequest `json:"body"`
	}) (*struct {
		Body WhatIfResponse `json:"body"`
	}, error) {
		if len(input.Body.Actions) == 0 {
			return nil, huma.Error400BadRequest("at least one action is required")
		}
		actions := make([]model.ResolutionAction, 0, len(input.Body.Actions))
		for _, a := range input.Body.Actions {
			actions = append(actions, a.toModel())
		}
		horizon := time.Duration(input.Body.HorizonMinutes) * time.Minute
		result, err := e.RunWhatIf(ctx, actions, horizon)
		if err != nil {
			return nil, mapError(err)
		}
		resp := WhatIfResponse{
			BranchID:     result.BranchID,
			BaseVersion:  result.BaseVersion,
			Impact:       impactResponse(result.Impact),
			HorizonTicks: result.HorizonTicks,
		}
		for _, t := range result.FinalTrains {
			resp.FinalTrains = append(resp.FinalTrains, trainResponse(t))
		}
		return &struct {
			Body WhatIfResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerOptimize(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "optimize",
		Method:      http.MethodPost,
		Path:        "/optimize",
		Summary:     "Resolve predicted conflicts",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body *OptimizeRequest `json:"body" required:"false"`
	}) (*struct {
		Body OptimizeResponse `json:"body"`
	}, error) {
		var req engine.OptimizeRequest
		if input.Body != nil {
			req.ConflictIDs = input.Body.ConflictIDs
			if input.Body.TimeBudgetMS != nil {
				budget := time.Duration(*input.Body.TimeBudgetMS) * time.Millisecond
				req.TimeBudget = &budget
			}
		}
		result, err := e.Optimize(ctx, req)
		if err != nil {
			return nil, mapError(err)
		}
		resp := OptimizeResponse{
			Status:       string(result.Status),
			StateVersion: result.StateVersion,
			ElapsedMS:    result.Elapsed.Milliseconds(),
			Explored:     result.Explored,
			Blocking:     result.Blocking,
		}
		for _, a := range result.Actions {
			resp.Actions = append(resp.Actions, actionResponse(a))
		}
		return &struct {
			Body OptimizeResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerCommit(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "commit-action",
		Method:      http.MethodPost,
		Path:        "/actions/commit",
		Summary:     "Apply a recommended action to the live twin",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CommitRequest `json:"body"`
	}) (*struct {
		Body CommitResponse `json:"body"`
	}, error) {
		if input.Body.ActionID == "" {
			return nil, huma.Error400BadRequest("action_id is required")
		}
		action, ok := e.Action(input.Body.ActionID)
		if !ok {
			return nil, huma.Error404NotFound("unknown action " + input.Body.ActionID)
		}
		result, err := e.CommitAction(ctx, action)
		if err != nil {
			return nil, mapError(err)
		}
		return &struct {
			Body CommitResponse `json:"body"`
		}{Body: CommitResponse{
			ActionID:     result.ActionID,
			TrainID:      result.TrainID,
			StateVersion: result.StateVersion,
			CommittedAt:  result.CommittedAt,
		}}, nil
	})
}

func registerFeedback(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-feedback",
		Method:      http.MethodPost,
		Path:        "/feedback",
		Summary:     "Record an operator verdict on a recommendation",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body FeedbackRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		verdict := model.FeedbackVerdict(input.Body.Verdict)
		if verdict != model.VerdictAccepted && verdict != model.VerdictOverridden {
			return nil, huma.Error400BadRequest("verdict must be ACCEPTED or OVERRIDDEN")
		}
		if input.Body.ActionID == "" {
			return nil, huma.Error400BadRequest("action_id is required")
		}
		err := e.Feedback(ctx, &model.OperatorFeedback{
			ActionID: input.Body.ActionID,
			Verdict:  verdict,
			Note:     input.Body.Note,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "recorded"}}, nil
	})
}

func registerKPI(api huma.API, e *engine.Engine) {
	type kpiQuery struct {
		SinceMinutes int `query:"since_minutes" default:"60"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-kpis",
		Method:      http.MethodGet,
		Path:        "/kpis",
		Summary:     "Operational and advisory indicators",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *kpiQuery) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		store := e.KPIStore()
		if store == nil {
			return nil, huma.Error404NotFound("kpi persistence is disabled")
		}
		since := e.Twin().Now().Add(-time.Duration(input.SinceMinutes) * time.Minute)
		operational, err := store.Operational(ctx, since)
		if err != nil {
			return nil, mapError(err)
		}
		advisory, err := store.Advisory(ctx, since)
		if err != nil {
			return nil, mapError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"operational": operational,
			"advisory":    advisory,
		}}, nil
	})
}
