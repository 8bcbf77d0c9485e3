// Package predict implements the two-stage conflict predictor: a
// geometric rule scan over projected occupancy that decides which
// conflicts exist, followed by a pluggable scorer that ranks them.
package predict

import (
	"context"
	"sort"
	"time"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/internal/logging"
	"github.com/signalsfoundry/section-twin/model"
)

// DefaultHorizon bounds how far ahead the predictor projects occupancy.
const DefaultHorizon = 30 * time.Minute

// Predictor combines the rule stage with a scorer.
type Predictor struct {
	tracker *core.Tracker
	scorer  Scorer
	horizon time.Duration
	log     logging.Logger
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithHorizon overrides the projection horizon.
func WithHorizon(h time.Duration) Option {
	return func(p *Predictor) {
		if h > 0 {
			p.horizon = h
		}
	}
}

// WithScorer replaces the default heuristic scorer.
func WithScorer(s Scorer) Option {
	return func(p *Predictor) {
		if s != nil {
			p.scorer = s
		}
	}
}

// New builds a predictor over the given tracker.
func New(tracker *core.Tracker, log logging.Logger, opts ...Option) *Predictor {
	if log == nil {
		log = logging.Noop()
	}
	p := &Predictor{
		tracker: tracker,
		scorer:  &HeuristicScorer{},
		horizon: DefaultHorizon,
		log:     log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Horizon reports the active projection horizon.
func (p *Predictor) Horizon() time.Duration { return p.horizon }

// Predict recomputes the full candidate set for the given state. The
// result is ordered by descending rank, ties broken by candidate ID so
// identical states always yield identical output. Every rule-stage hit
// appears in the result regardless of how the scorer rates it.
func (p *Predictor) Predict(ctx context.Context, trains []*model.Train, now time.Time) []model.ConflictCandidate {
	candidates := DetectConflicts(p.tracker, trains, now, p.horizon)
	if len(candidates) == 0 {
		return nil
	}

	byID := make(map[string]*model.Train, len(trains))
	for _, t := range trains {
		byID[t.ID] = t
	}

	for i := range candidates {
		sev, conf := p.scorer.Score(&candidates[i], byID, now)
		candidates[i].Severity = clamp01(sev)
		candidates[i].Confidence = clamp01(conf)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Rank(), candidates[j].Rank()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].ID < candidates[j].ID
	})

	p.log.Debug(ctx, "conflict prediction cycle",
		logging.Int("candidates", len(candidates)),
		logging.Duration("horizon", p.horizon),
	)
	return candidates
}
