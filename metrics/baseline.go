/*
baseline.go - Phase baselines and baseline-relative trends

PURPOSE:
  Snapshots each tracked metric's representative value when a user enters a
  new phase, then computes trends relative to that snapshot. Baselines are
  write-once: re-processing the same transition is an idempotent no-op.

REPRESENTATIVE VALUE:
  The most recent merged value at or before the transition date. Metrics
  with no value by then are simply absent from the baseline map.

TREND ANCHORING:
  The first trend point is dated exactly at the phase's transition date.
  When no record exists on that exact day, the baseline value itself anchors
  the series (percent change zero by construction).

SEE ALSO:
  - store.go: BaselineStore write-once contract
  - types.go: PhaseTransition, PhaseBaseline, TrendPoint
*/
package metrics

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// PHASE MANAGER
// =============================================================================

type PhaseManager struct {
	Metrics   MetricStore
	Baselines BaselineStore

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

func NewPhaseManager(metrics MetricStore, baselines BaselineStore) *PhaseManager {
	return &PhaseManager{Metrics: metrics, Baselines: baselines}
}

func (pm *PhaseManager) now() time.Time {
	if pm.Now != nil {
		return pm.Now()
	}
	return time.Now().UTC()
}

// TransitionResult reports whether a transition created a new baseline.
type TransitionResult struct {
	Baseline PhaseBaseline
	Created  bool // false when the phase already had one (idempotent replay)
}

// ProcessTransition snapshots a baseline for the entered phase. Exactly one
// baseline exists per phase: duplicates and replays return the stored one.
func (pm *PhaseManager) ProcessTransition(ctx context.Context, t PhaseTransition) (TransitionResult, error) {
	if t.UserID == "" {
		return TransitionResult{}, &ValidationError{Field: "userId", Reason: "required"}
	}
	if t.ToPhase == "" {
		return TransitionResult{}, &ValidationError{Field: "toPhase", Reason: "required"}
	}
	if t.TransitionDate.IsZero() {
		return TransitionResult{}, &ValidationError{Field: "transitionDate", Reason: "required"}
	}

	if existing, err := pm.Baselines.Get(ctx, t.ToPhase); err != nil {
		return TransitionResult{}, err
	} else if existing != nil {
		return TransitionResult{Baseline: *existing}, nil
	}

	baseline, err := pm.snapshot(ctx, t)
	if err != nil {
		return TransitionResult{}, err
	}

	if err := pm.Baselines.Save(ctx, baseline); err != nil {
		if errors.Is(err, ErrBaselineExists) {
			// Lost a race with a concurrent identical transition.
			stored, getErr := pm.Baselines.Get(ctx, t.ToPhase)
			if getErr != nil {
				return TransitionResult{}, getErr
			}
			return TransitionResult{Baseline: *stored}, nil
		}
		return TransitionResult{}, err
	}

	return TransitionResult{Baseline: baseline, Created: true}, nil
}

func (pm *PhaseManager) snapshot(ctx context.Context, t PhaseTransition) (PhaseBaseline, error) {
	records, err := pm.Metrics.List(ctx)
	if err != nil {
		return PhaseBaseline{}, err
	}

	// Latest value per metric at or before the transition date.
	latest := make(map[string]MetricRecord)
	for _, rec := range records {
		if rec.UserID != t.UserID || rec.Date.After(t.TransitionDate) {
			continue
		}
		if prev, ok := latest[rec.MetricName]; !ok || rec.Date.After(prev.Date) {
			latest[rec.MetricName] = rec
		}
	}

	values := make(map[string]Measurement, len(latest))
	for name, rec := range latest {
		values[name] = rec.Value
	}

	return PhaseBaseline{
		PhaseID:         t.ToPhase,
		UserID:          t.UserID,
		TransitionDate:  t.TransitionDate,
		BaselineMetrics: values,
		TakenAt:         pm.now(),
	}, nil
}

// BaselineMetrics returns the stored baseline map for a phase.
func (pm *PhaseManager) BaselineMetrics(ctx context.Context, phaseID PhaseID) (map[string]Measurement, error) {
	b, err := pm.Baselines.Get(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "phase", ID: string(phaseID)}
	}
	return b.BaselineMetrics, nil
}

// =============================================================================
// TRENDS
// =============================================================================

// TrendByMetric returns the ordered baseline-relative series for one metric
// from the phase's transition date onward. The first point is dated exactly
// at the transition date.
func (pm *PhaseManager) TrendByMetric(ctx context.Context, metricName string, phaseID PhaseID) ([]TrendPoint, error) {
	b, err := pm.Baselines.Get(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "phase", ID: string(phaseID)}
	}

	base, ok := b.BaselineMetrics[metricName]
	if !ok {
		return nil, &NotFoundError{Kind: "metric", ID: metricName}
	}

	records, err := pm.Metrics.ListByMetric(ctx, b.UserID, metricName)
	if err != nil {
		return nil, err
	}

	points := make([]TrendPoint, 0, len(records)+1)
	for _, rec := range records {
		if rec.Date.Before(b.TransitionDate) {
			continue
		}
		points = append(points, TrendPoint{
			Date:          rec.Date,
			Value:         rec.Value,
			PercentChange: rec.Value.PercentChangeFrom(base),
		})
	}

	// Anchor the series at the transition date itself.
	if len(points) == 0 || !points[0].Date.Equal(b.TransitionDate) {
		anchor := TrendPoint{Date: b.TransitionDate, Value: base}
		points = append([]TrendPoint{anchor}, points...)
	}

	return points, nil
}
