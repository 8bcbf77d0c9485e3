package kpi

import (
	"context"
	"database/sql"
	"time"
)

// OperationalSummary aggregates section performance over a window.
type OperationalSummary struct {
	Samples        int
	AvgTotalDelay  time.Duration
	PeakMaxDelay   time.Duration
	PeakHeld       int
	TrainsComplete int
	AvgConflicts   float64
}

// AdvisorySummary aggregates how the recommendation pipeline performed.
type AdvisorySummary struct {
	ActionsCommitted  int
	BySource          map[string]int
	Accepted          int
	Overridden        int
	AcceptanceRate    float64
	AvgDelayReduction time.Duration
}

// Operational summarizes snapshots taken at or after since.
func (s *Store) Operational(ctx context.Context, since time.Time) (*OperationalSummary, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(total_delay_s),0),
		        COALESCE(MAX(max_delay_s),0),
		        COALESCE(MAX(trains_held),0),
		        COALESCE(MAX(trains_done),0),
		        COALESCE(AVG(conflicts_open),0)
		 FROM snapshots WHERE ts >= ?`,
		since.UTC().Format(time.RFC3339))

	var out OperationalSummary
	var avgDelay, peakDelay float64
	if err := row.Scan(&out.Samples, &avgDelay, &peakDelay, &out.PeakHeld, &out.TrainsComplete, &out.AvgConflicts); err != nil {
		return nil, err
	}
	out.AvgTotalDelay = time.Duration(avgDelay * float64(time.Second))
	out.PeakMaxDelay = time.Duration(peakDelay * float64(time.Second))
	return &out, nil
}

// Advisory summarizes committed actions and operator verdicts at or
// after since. The acceptance rate counts only actions with feedback.
func (s *Store) Advisory(ctx context.Context, since time.Time) (*AdvisorySummary, error) {
	ts := since.UTC().Format(time.RFC3339)
	out := &AdvisorySummary{BySource: make(map[string]int)}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT source, COUNT(*), COALESCE(AVG(net_delay_reduction_s),0)
		 FROM actions WHERE ts >= ? GROUP BY source`, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var totalReduction float64
	for rows.Next() {
		var source string
		var n int
		var avg float64
		if err := rows.Scan(&source, &n, &avg); err != nil {
			return nil, err
		}
		out.BySource[source] = n
		out.ActionsCommitted += n
		totalReduction += avg * float64(n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out.ActionsCommitted > 0 {
		out.AvgDelayReduction = time.Duration(totalReduction / float64(out.ActionsCommitted) * float64(time.Second))
	}

	row := s.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN verdict='ACCEPTED' THEN 1 ELSE 0 END),0),
		        COALESCE(SUM(CASE WHEN verdict='OVERRIDDEN' THEN 1 ELSE 0 END),0)
		 FROM feedback WHERE ts >= ?`, ts)
	if err := row.Scan(&out.Accepted, &out.Overridden); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if judged := out.Accepted + out.Overridden; judged > 0 {
		out.AcceptanceRate = float64(out.Accepted) / float64(judged)
	}
	return out, nil
}
