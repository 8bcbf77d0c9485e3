package predict

import (
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/section-twin/model"
)

// Scorer is the learned refinement stage. Implementations assign
// severity and confidence in [0,1] to candidates the rule stage found.
// A scorer never decides existence; a candidate it dislikes still
// surfaces with a low rank.
type Scorer interface {
	Score(c *model.ConflictCandidate, trains map[string]*model.Train, now time.Time) (severity, confidence float64)
}

// HeuristicScorer is the default scorer used until a trained model is
// plugged in. It blends imminence, shortfall magnitude and the priority
// of the trains involved, then scales confidence by the operator
// acceptance rate observed so far.
type HeuristicScorer struct {
	// Calibration feeds operator feedback back into confidence. Nil
	// means a fixed baseline confidence.
	Calibration *Calibration
}

const (
	baselineConfidence = 0.75
	imminenceScale     = 15 * time.Minute
)

func (s *HeuristicScorer) Score(c *model.ConflictCandidate, trains map[string]*model.Train, now time.Time) (float64, float64) {
	// Shortfall relative to a ten minute ceiling.
	shortfall := clamp01(c.GapShortfall.Seconds() / 600)

	// Conflicts further out score lower: more slack to resolve them.
	lead := c.WindowStart.Sub(now)
	imminence := clamp01(1 - lead.Seconds()/imminenceScale.Seconds())

	// Higher-priority trains raise the stakes. Ordinal 1 is highest.
	weight := 0.0
	for _, id := range c.TrainIDs {
		if t, ok := trains[id]; ok {
			weight = math.Max(weight, priorityWeight(t.Priority))
		}
	}

	severity := clamp01(0.45*shortfall + 0.35*imminence + 0.2*weight)
	if c.Kind == model.ConflictSignal {
		// Projected block overlap is always serious.
		severity = math.Max(severity, 0.8)
	}

	confidence := baselineConfidence
	if s.Calibration != nil {
		confidence = s.Calibration.Confidence()
	}
	return severity, confidence
}

func priorityWeight(p model.Priority) float64 {
	switch p {
	case model.PriorityExpress:
		return 1.0
	case model.PriorityPassenger:
		return 0.75
	case model.PriorityFreight:
		return 0.5
	default:
		return 0.25
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Calibration tracks how often operators accept recommendations and
// drifts predictor confidence toward that rate with an exponentially
// weighted moving average.
type Calibration struct {
	mu    sync.Mutex
	alpha float64
	rate  float64
	seen  int
}

// NewCalibration starts from the baseline confidence with the given
// smoothing factor in (0,1]; larger alpha reacts faster.
func NewCalibration(alpha float64) *Calibration {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	return &Calibration{alpha: alpha, rate: baselineConfidence}
}

// Observe records one operator verdict.
func (c *Calibration) Observe(accepted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := 0.0
	if accepted {
		v = 1.0
	}
	c.rate = c.rate + c.alpha*(v-c.rate)
	c.seen++
}

// Confidence returns the current calibrated confidence, floored so a
// run of overrides can dampen but never silence predictions.
func (c *Calibration) Confidence() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rate < 0.1 {
		return 0.1
	}
	return c.rate
}

// Observations reports how many verdicts have been folded in.
func (c *Calibration) Observations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen
}
