package kpi

import (
	"context"
	"strings"
	"time"

	"github.com/signalsfoundry/section-twin/model"
)

// SectionSample is one tick's worth of operational indicators.
type SectionSample struct {
	At           time.Time
	StateVersion uint64
	Active       int
	Held         int
	Completed    int
	TotalDelay   time.Duration
	MaxDelay     time.Duration
	OpenConflict int
}

// SampleFromTrains derives a section sample from the current train set.
func SampleFromTrains(at time.Time, version uint64, trains []*model.Train, openConflicts int) SectionSample {
	s := SectionSample{At: at, StateVersion: version, OpenConflict: openConflicts}
	for _, t := range trains {
		switch t.Status {
		case model.StatusActive, model.StatusScheduled:
			s.Active++
		case model.StatusHeld:
			s.Held++
		case model.StatusCompleted:
			s.Completed++
		}
		s.TotalDelay += t.Delay
		if t.Delay > s.MaxDelay {
			s.MaxDelay = t.Delay
		}
	}
	return s
}

// RecordSample appends one tick snapshot.
func (s *Store) RecordSample(ctx context.Context, sm SectionSample) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO snapshots(ts,state_version,trains_active,trains_held,trains_done,total_delay_s,max_delay_s,conflicts_open)
		 VALUES (?,?,?,?,?,?,?,?)`,
		sm.At.UTC().Format(time.RFC3339), sm.StateVersion, sm.Active, sm.Held, sm.Completed,
		sm.TotalDelay.Seconds(), sm.MaxDelay.Seconds(), sm.OpenConflict)
	return err
}

// RecordAction audits a committed resolution action.
func (s *Store) RecordAction(ctx context.Context, at time.Time, a *model.ResolutionAction) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT OR REPLACE INTO actions(id,ts,type,train_id,source,explanation,state_version,resolves,net_delay_reduction_s)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, at.UTC().Format(time.RFC3339), string(a.Type), a.TrainID, string(a.Source),
		a.Explanation, a.StateVersion, strings.Join(a.ResolvesConflictIDs, ","),
		a.Impact.NetDelayReduction().Seconds())
	return err
}

// RecordFeedback stores an operator verdict on a recommendation.
func (s *Store) RecordFeedback(ctx context.Context, fb *model.OperatorFeedback) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO feedback(action_id,ts,verdict,note) VALUES (?,?,?,?)`,
		fb.ActionID, fb.Timestamp.UTC().Format(time.RFC3339), string(fb.Verdict), nullable(fb.Note))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
