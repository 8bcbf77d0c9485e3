package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APICollector bundles Prometheus metrics for the control API and the
// live twin, and provides helpers to wire them into HTTP handlers.
type APICollector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	TwinTrainsActive    prometheus.Gauge
	TwinTrainsHeld      prometheus.Gauge
	TwinTrainsCompleted prometheus.Gauge
	TwinStateVersion    prometheus.Gauge
	ConflictsOpen       prometheus.Gauge
}

// NewAPICollector registers API Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAPICollector(reg prometheus.Registerer) (*APICollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total number of handled API requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"})
	requests, err := registerCounterVec(reg, requests, "api_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "API request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})
	durations, err = registerHistogramVec(reg, durations, "api_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twin_trains_active",
		Help: "Current number of active or scheduled trains in the live twin.",
	}), "twin_trains_active")
	if err != nil {
		return nil, err
	}
	held, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twin_trains_held",
		Help: "Current number of held trains in the live twin.",
	}), "twin_trains_held")
	if err != nil {
		return nil, err
	}
	completed, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twin_trains_completed",
		Help: "Trains that have completed their route since startup.",
	}), "twin_trains_completed")
	if err != nil {
		return nil, err
	}
	version, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twin_state_version",
		Help: "Monotonic version of the live twin state.",
	}), "twin_state_version")
	if err != nil {
		return nil, err
	}
	conflicts, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conflicts_open",
		Help: "Conflict candidates reported by the most recent prediction cycle.",
	}), "conflicts_open")
	if err != nil {
		return nil, err
	}

	return &APICollector{
		gatherer:            gatherer,
		HTTPRequests:        requests,
		HTTPDurations:       durations,
		TwinTrainsActive:    active,
		TwinTrainsHeld:      held,
		TwinTrainsCompleted: completed,
		TwinStateVersion:    version,
		ConflictsOpen:       conflicts,
	}, nil
}

// Middleware records request counts and durations, labeling by the chi
// route pattern rather than the raw path.
func (c *APICollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		if c == nil {
			return
		}
		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		if c.HTTPRequests != nil {
			c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
		}
		if c.HTTPDurations != nil {
			c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *APICollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetTrainCounts satisfies the twin's MetricsRecorder interface so state
// mutations drive gauge values directly.
func (c *APICollector) SetTrainCounts(active, held, completed int) {
	if c == nil {
		return
	}
	if c.TwinTrainsActive != nil {
		c.TwinTrainsActive.Set(float64(active))
	}
	if c.TwinTrainsHeld != nil {
		c.TwinTrainsHeld.Set(float64(held))
	}
	if c.TwinTrainsCompleted != nil {
		c.TwinTrainsCompleted.Set(float64(completed))
	}
}

// SetStateVersion mirrors the twin's monotonic version.
func (c *APICollector) SetStateVersion(version uint64) {
	if c == nil || c.TwinStateVersion == nil {
		return
	}
	c.TwinStateVersion.Set(float64(version))
}

// SetOpenConflicts records the size of the latest prediction cycle.
func (c *APICollector) SetOpenConflicts(n int) {
	if c == nil || c.ConflictsOpen == nil {
		return
	}
	c.ConflictsOpen.Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
