package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OptimizerCollector exposes conflict-resolution Prometheus metrics.
type OptimizerCollector struct {
	gatherer prometheus.Gatherer

	OptimizationsTotal   *prometheus.CounterVec
	OptimizationDuration prometheus.Histogram
	PredictionDuration   prometheus.Histogram
}

// NewOptimizerCollector registers optimizer metrics against the provided registerer.
func NewOptimizerCollector(reg prometheus.Registerer) (*OptimizerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	totals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "optimizations_total",
		Help: "Completed optimization requests, labeled by terminal status.",
	}, []string{"status"})
	totals, err := registerCounterVec(reg, totals, "optimizations_total")
	if err != nil {
		return nil, err
	}

	optDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "optimization_duration_seconds",
		Help:    "Wall-clock duration of optimization requests, including heuristic fallbacks.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	optDuration, err = registerHistogram(reg, optDuration, "optimization_duration_seconds")
	if err != nil {
		return nil, err
	}

	predDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "prediction_cycle_duration_seconds",
		Help:    "Duration of conflict prediction cycles.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	predDuration, err = registerHistogram(reg, predDuration, "prediction_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &OptimizerCollector{
		gatherer:             gatherer,
		OptimizationsTotal:   totals,
		OptimizationDuration: optDuration,
		PredictionDuration:   predDuration,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *OptimizerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveOptimization records one finished optimization request.
func (c *OptimizerCollector) ObserveOptimization(status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.OptimizationsTotal != nil {
		c.OptimizationsTotal.WithLabelValues(status).Inc()
	}
	if c.OptimizationDuration != nil {
		c.OptimizationDuration.Observe(elapsed.Seconds())
	}
}

// ObservePrediction records a conflict prediction cycle duration.
func (c *OptimizerCollector) ObservePrediction(d time.Duration) {
	if c == nil || c.PredictionDuration == nil {
		return
	}
	c.PredictionDuration.Observe(d.Seconds())
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
