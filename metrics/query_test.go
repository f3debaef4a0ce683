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
// QUERY TESTS
// =============================================================================

func newTestQuery(t *testing.T) (*metrics.QueryEngine, *metrics.MergeEngine) {
	t.Helper()
	records := store.NewMemory()
	return metrics.NewQueryEngine(records), metrics.NewMergeEngine(records)
}

func mergeSample(t *testing.T, eng *metrics.MergeEngine, user metrics.UserID, name string, category metrics.Category, day metrics.DayStamp, value float64) {
	t.Helper()
	_, err := eng.Merge(context.Background(), metrics.MetricSample{
		UserID:     user,
		MetricName: name,
		Category:   category,
		Date:       day,
		Value:      metrics.NewMeasurement(value, "score"),
		Source:     metrics.SourceManual,
	})
	require.NoError(t, err)
}

func TestLatestByMetric_PicksMostRecentPerMetric(t *testing.T) {
	q, eng := newTestQuery(t)
	ctx := context.Background()

	day := metrics.NewDayStamp(2026, time.March, 10)
	mergeSample(t, eng, "user-1", "mood", "subjective", day, 5)
	mergeSample(t, eng, "user-1", "mood", "subjective", day.AddDays(3), 7)
	mergeSample(t, eng, "user-2", "mood", "subjective", day.AddDays(9), 2)

	latest, err := q.LatestByMetric(ctx, "user-1")
	require.NoError(t, err)
	require.Contains(t, latest, "mood")
	assert.True(t, latest["mood"].Date.Equal(day.AddDays(3)))
	assert.True(t, latest["mood"].Value.Value.Equal(decimal.NewFromInt(7)))
}

func TestMetricsByCategory_Filters(t *testing.T) {
	q, eng := newTestQuery(t)
	ctx := context.Background()

	day := metrics.NewDayStamp(2026, time.March, 10)
	mergeSample(t, eng, "user-1", "mood", "subjective", day, 5)
	mergeSample(t, eng, "user-1", "resting_heart_rate", "vitals", day, 60)

	subjective, err := q.MetricsByCategory(ctx, "subjective")
	require.NoError(t, err)
	require.Len(t, subjective, 1)
	assert.Equal(t, "mood", subjective[0].MetricName)
}

// =============================================================================
// HEALTH INDEX TESTS
// =============================================================================

func TestComputeHealthIndex_MeanOfCategoryMeans(t *testing.T) {
	// GIVEN: Two subjective scores (4, 6) and one vitals score (10),
	//        all confidence 1
	// WHEN: Computing the index
	// THEN: Category means are 5 and 10; the score is their mean 7.5

	q, eng := newTestQuery(t)
	ctx := context.Background()

	day := metrics.NewDayStamp(2026, time.March, 10)
	mergeSample(t, eng, "user-1", "mood", "subjective", day, 4)
	mergeSample(t, eng, "user-1", "energy", "subjective", day, 6)
	mergeSample(t, eng, "user-1", "recovery", "vitals", day, 10)

	idx, err := q.ComputeHealthIndex(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 3, idx.SampleCount)
	assert.True(t, idx.ByCategory["subjective"].Equal(decimal.NewFromInt(5)),
		"got %v", idx.ByCategory["subjective"])
	assert.True(t, idx.ByCategory["vitals"].Equal(decimal.NewFromInt(10)))
	assert.True(t, idx.Score.Equal(decimal.RequireFromString("7.5")),
		"got %v", idx.Score)
}

func TestComputeHealthIndex_IgnoresOtherUsers(t *testing.T) {
	q, eng := newTestQuery(t)
	ctx := context.Background()

	day := metrics.NewDayStamp(2026, time.March, 10)
	mergeSample(t, eng, "user-2", "mood", "subjective", day, 9)

	idx, err := q.ComputeHealthIndex(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, idx.SampleCount)
	assert.True(t, idx.Score.IsZero())
}
