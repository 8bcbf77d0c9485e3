package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMiddlewareRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	r := chi.NewRouter()
	r.Use(collector.Middleware)
	r.Get("/v0/snapshot", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v0/snapshot", nil))

	if got := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("GET", "/v0/snapshot", "200")); got != 1 {
		t.Fatalf("api_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "api_request_duration_seconds", map[string]string{
		"method": "GET",
		"route":  "/v0/snapshot",
	}); count != 1 {
		t.Fatalf("api_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestMiddlewareRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	r := chi.NewRouter()
	r.Use(collector.Middleware)
	r.Post("/v0/actions/commit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v0/actions/commit", nil))

	if got := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("POST", "/v0/actions/commit", "409")); got != 1 {
		t.Fatalf("api_requests_total error label = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesTwinGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}
	collector.SetTrainCounts(3, 4, 5)
	collector.SetStateVersion(42)
	collector.SetOpenConflicts(6)
	collector.HTTPRequests.WithLabelValues("GET", "/v0/healthz", "200").Inc()
	collector.HTTPDurations.WithLabelValues("GET", "/v0/healthz").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"api_requests_total",
		"api_request_duration_seconds",
		"twin_trains_active",
		"twin_trains_held",
		"twin_trains_completed",
		"twin_state_version",
		"conflicts_open",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if got := testutil.ToFloat64(collector.TwinStateVersion); got != 42 {
		t.Fatalf("twin_state_version = %v, want 42", got)
	}
}

func TestOptimizerCollectorCountsByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewOptimizerCollector(reg)
	if err != nil {
		t.Fatalf("NewOptimizerCollector: %v", err)
	}

	collector.ObserveOptimization("OPTIMAL", 120*time.Millisecond)
	collector.ObserveOptimization("TIME_LIMIT_HEURISTIC", 30*time.Second)
	collector.ObserveOptimization("TIME_LIMIT_HEURISTIC", 30*time.Second)

	if got := testutil.ToFloat64(collector.OptimizationsTotal.WithLabelValues("OPTIMAL")); got != 1 {
		t.Fatalf("optimizations_total{OPTIMAL} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.OptimizationsTotal.WithLabelValues("TIME_LIMIT_HEURISTIC")); got != 2 {
		t.Fatalf("optimizations_total{TIME_LIMIT_HEURISTIC} = %v, want 2", got)
	}
}

func TestCollectorsTolerateDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewAPICollector(reg); err != nil {
		t.Fatalf("first NewAPICollector: %v", err)
	}
	if _, err := NewAPICollector(reg); err != nil {
		t.Fatalf("second NewAPICollector: %v", err)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
