package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/metrics-engine/metrics"
	"github.com/warp/metrics-engine/metrics/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestPhases(t *testing.T) (*metrics.PhaseManager, *metrics.MergeEngine) {
	t.Helper()
	records := store.NewMemory()
	return metrics.NewPhaseManager(records, store.NewMemoryBaselines()),
		metrics.NewMergeEngine(records)
}

func mergeDay(t *testing.T, eng *metrics.MergeEngine, name string, day metrics.DayStamp, value float64) {
	t.Helper()
	_, err := eng.Merge(context.Background(), metrics.MetricSample{
		UserID:     "user-1",
		MetricName: name,
		Category:   "vitals",
		Date:       day,
		Value:      metrics.NewMeasurement(value, "bpm"),
		Source:     metrics.SourceWearable,
	})
	require.NoError(t, err)
}

func transitionTo(phase metrics.PhaseID, day metrics.DayStamp) metrics.PhaseTransition {
	return metrics.PhaseTransition{
		UserID:         "user-1",
		FromPhase:      "phase-0",
		ToPhase:        phase,
		TransitionDate: day,
	}
}

// =============================================================================
// BASELINE SNAPSHOT TESTS
// =============================================================================

func TestProcessTransition_SnapshotsLatestValueAtOrBeforeDate(t *testing.T) {
	// GIVEN: Heart rate merged on March 8 (62) and March 12 (70)
	// WHEN: Transitioning into phase-1 on March 10
	// THEN: The baseline captures 62, the latest value at or before the date

	pm, eng := newTestPhases(t)
	ctx := context.Background()

	mergeDay(t, eng, "resting_heart_rate", metrics.NewDayStamp(2026, time.March, 8), 62)
	mergeDay(t, eng, "resting_heart_rate", metrics.NewDayStamp(2026, time.March, 12), 70)

	res, err := pm.ProcessTransition(ctx, transitionTo("phase-1", metrics.NewDayStamp(2026, time.March, 10)))
	require.NoError(t, err)

	assert.True(t, res.Created)
	base, ok := res.Baseline.BaselineMetrics["resting_heart_rate"]
	require.True(t, ok)
	assert.True(t, base.Value.Equal(decimal.NewFromInt(62)))
}

func TestProcessTransition_MetricWithNoHistory_Absent(t *testing.T) {
	pm, eng := newTestPhases(t)
	ctx := context.Background()

	mergeDay(t, eng, "resting_heart_rate", metrics.NewDayStamp(2026, time.March, 12), 70)

	res, err := pm.ProcessTransition(ctx, transitionTo("phase-1", metrics.NewDayStamp(2026, time.March, 10)))
	require.NoError(t, err)

	_, ok := res.Baseline.BaselineMetrics["resting_heart_rate"]
	assert.False(t, ok, "value merged after the transition date must not appear")
}

func TestProcessTransition_Replay_Idempotent(t *testing.T) {
	// GIVEN: A phase already has its baseline
	// WHEN: The same transition is processed again, even with more data merged
	// THEN: The stored baseline is returned unchanged

	pm, eng := newTestPhases(t)
	ctx := context.Background()

	day := metrics.NewDayStamp(2026, time.March, 10)
	mergeDay(t, eng, "resting_heart_rate", day, 62)

	first, err := pm.ProcessTransition(ctx, transitionTo("phase-1", day))
	require.NoError(t, err)
	require.True(t, first.Created)

	mergeDay(t, eng, "resting_heart_rate", day.AddDays(-1), 90)

	second, err := pm.ProcessTransition(ctx, transitionTo("phase-1", day))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.True(t, second.Baseline.BaselineMetrics["resting_heart_rate"].Value.
		Equal(decimal.NewFromInt(62)))
}

func TestProcessTransition_MissingPhase_Rejected(t *testing.T) {
	pm, _ := newTestPhases(t)

	_, err := pm.ProcessTransition(context.Background(), metrics.PhaseTransition{
		UserID:         "user-1",
		TransitionDate: metrics.NewDayStamp(2026, time.March, 10),
	})
	assert.ErrorIs(t, err, metrics.ErrValidation)
}

func TestProcessTransition_MissingUser_Rejected(t *testing.T) {
	// An empty user would claim the phase's write-once slot with an empty
	// metric map, so it is rejected up front.
	pm, _ := newTestPhases(t)

	_, err := pm.ProcessTransition(context.Background(), metrics.PhaseTransition{
		ToPhase:        "phase-1",
		TransitionDate: metrics.NewDayStamp(2026, time.March, 10),
	})
	assert.ErrorIs(t, err, metrics.ErrValidation)

	_, err = pm.BaselineMetrics(context.Background(), "phase-1")
	assert.ErrorIs(t, err, metrics.ErrNotFound, "rejected transition must not occupy the phase")
}

func TestBaselineMetrics_UnknownPhase_NotFound(t *testing.T) {
	pm, _ := newTestPhases(t)

	_, err := pm.BaselineMetrics(context.Background(), "no-such-phase")
	assert.ErrorIs(t, err, metrics.ErrNotFound)
}

// =============================================================================
// TREND TESTS
// =============================================================================

func TestTrend_AnchoredAtTransitionDate(t *testing.T) {
	// GIVEN: Baseline 60 on March 10, merged values on March 12 and 14
	// WHEN: Computing the trend
	// THEN: The first point is dated March 10 with zero percent change

	pm, eng := newTestPhases(t)
	ctx := context.Background()

	day := metrics.NewDayStamp(2026, time.March, 10)
	mergeDay(t, eng, "resting_heart_rate", day.AddDays(-2), 60)

	_, err := pm.ProcessTransition(ctx, transitionTo("phase-1", day))
	require.NoError(t, err)

	mergeDay(t, eng, "resting_heart_rate", day.AddDays(2), 66)
	mergeDay(t, eng, "resting_heart_rate", day.AddDays(4), 72)

	points, err := pm.TrendByMetric(ctx, "resting_heart_rate", "phase-1")
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.True(t, points[0].Date.Equal(day), "series must start at the transition date")
	assert.True(t, points[0].PercentChange.IsZero())

	// 66 vs 60 -> +10%, 72 vs 60 -> +20%
	assert.True(t, points[1].PercentChange.Equal(decimal.NewFromInt(10)),
		"got %v", points[1].PercentChange)
	assert.True(t, points[2].PercentChange.Equal(decimal.NewFromInt(20)),
		"got %v", points[2].PercentChange)
}

func TestTrend_RecordOnTransitionDay_NoSyntheticAnchor(t *testing.T) {
	// GIVEN: A record exists exactly on the transition date
	// WHEN: Computing the trend
	// THEN: That record is the anchor; no extra point is synthesized

	pm, eng := newTestPhases(t)
	ctx := context.Background()

	day := metrics.NewDayStamp(2026, time.March, 10)
	mergeDay(t, eng, "resting_heart_rate", day, 60)

	_, err := pm.ProcessTransition(ctx, transitionTo("phase-1", day))
	require.NoError(t, err)

	points, err := pm.TrendByMetric(ctx, "resting_heart_rate", "phase-1")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Date.Equal(day))
}

func TestTrend_ZeroBaseline_ZeroPercentChange(t *testing.T) {
	// A zero baseline value must not blow up the percent math.
	pm, eng := newTestPhases(t)
	ctx := context.Background()

	day := metrics.NewDayStamp(2026, time.March, 10)
	mergeDay(t, eng, "pain", day.AddDays(-1), 0)

	_, err := pm.ProcessTransition(ctx, transitionTo("phase-1", day))
	require.NoError(t, err)

	mergeDay(t, eng, "pain", day.AddDays(2), 4)

	points, err := pm.TrendByMetric(ctx, "pain", "phase-1")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[1].PercentChange.IsZero())
}

func TestTrend_UnknownMetric_NotFound(t *testing.T) {
	pm, eng := newTestPhases(t)
	ctx := context.Background()

	day := metrics.NewDayStamp(2026, time.March, 10)
	mergeDay(t, eng, "resting_heart_rate", day, 60)

	_, err := pm.ProcessTransition(ctx, transitionTo("phase-1", day))
	require.NoError(t, err)

	_, err = pm.TrendByMetric(ctx, "never_merged", "phase-1")
	assert.ErrorIs(t, err, metrics.ErrNotFound)
}
