package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/metrics-engine/metrics"
	"github.com/warp/metrics-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func storedRecord(value float64, rev int64) metrics.MetricRecord {
	return metrics.MetricRecord{
		UserID:     "user-1",
		MetricName: "resting_heart_rate",
		Category:   "vitals",
		Date:       metrics.NewDayStamp(2026, time.March, 10),
		Value:      metrics.NewMeasurement(value, "bpm"),
		Sources: []metrics.SourceAttribution{{
			Source:     metrics.SourceWearable,
			RawRef:     "raw-1",
			Value:      metrics.NewMeasurement(value, "bpm"),
			RecordedAt: time.Now().UTC(),
		}},
		Confidence: decimal.NewFromInt(1),
		Revision:   rev,
		MergedAt:   time.Now().UTC(),
	}
}

// =============================================================================
// METRIC STORE TESTS
// =============================================================================

func TestSQLite_PutGet_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	m := st.Metrics()
	ctx := context.Background()

	rec := storedRecord(62, 0)
	require.NoError(t, m.Put(ctx, rec, 0))

	got, err := m.Get(ctx, rec.Key())
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, int64(1), got.Revision)
	assert.True(t, got.Value.Value.Equal(decimal.NewFromInt(62)))
	assert.True(t, got.Date.Equal(rec.Date))
	require.Len(t, got.Sources, 1)
	assert.Equal(t, metrics.SourceWearable, got.Sources[0].Source)
	assert.Equal(t, "raw-1", got.Sources[0].RawRef)
}

func TestSQLite_GetMissing_NilNoError(t *testing.T) {
	st := newTestStore(t)

	got, err := st.Metrics().Get(context.Background(), storedRecord(62, 0).Key())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_CreateExisting_Conflicts(t *testing.T) {
	st := newTestStore(t)
	m := st.Metrics()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, storedRecord(62, 0), 0))

	err := m.Put(ctx, storedRecord(70, 0), 0)
	assert.ErrorIs(t, err, metrics.ErrConcurrentModification)
}

func TestSQLite_StaleRevision_Conflicts(t *testing.T) {
	st := newTestStore(t)
	m := st.Metrics()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, storedRecord(62, 0), 0))
	require.NoError(t, m.Put(ctx, storedRecord(64, 1), 1)) // revision now 2

	err := m.Put(ctx, storedRecord(66, 1), 1)
	assert.ErrorIs(t, err, metrics.ErrConcurrentModification)

	got, err := m.Get(ctx, storedRecord(0, 0).Key())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)
	assert.True(t, got.Value.Value.Equal(decimal.NewFromInt(64)))
}

func TestSQLite_ListByCategory(t *testing.T) {
	st := newTestStore(t)
	m := st.Metrics()
	ctx := context.Background()

	vitals := storedRecord(62, 0)
	require.NoError(t, m.Put(ctx, vitals, 0))

	mood := storedRecord(7, 0)
	mood.MetricName = "mood"
	mood.Category = "subjective"
	require.NoError(t, m.Put(ctx, mood, 0))

	got, err := m.ListByCategory(ctx, "vitals")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "resting_heart_rate", got[0].MetricName)
}

// =============================================================================
// ANOMALY STORE TESTS
// =============================================================================

func TestSQLite_AnomalyLifecycle(t *testing.T) {
	st := newTestStore(t)
	a := st.Anomalies()
	ctx := context.Background()

	rec := metrics.AnomalyRecord{
		ID:         "a-1",
		UserID:     "user-1",
		MetricName: "resting_heart_rate",
		Date:       metrics.NewDayStamp(2026, time.March, 10),
		Expected:   metrics.Range{Min: decimal.NewFromInt(40), Max: decimal.NewFromInt(100)},
		Actual:     metrics.NewMeasurement(130, "bpm"),
		Severity:   metrics.SeverityWarning,
		Status:     metrics.AnomalyPending,
		DetectedAt: time.Now().UTC(),
	}
	require.NoError(t, a.Append(ctx, rec))

	observed := metrics.NewMeasurement(128, "bpm")
	require.NoError(t, a.Resolve(ctx, "a-1", observed, metrics.AnomalyVerified))

	got, err := a.Get(ctx, "a-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, metrics.AnomalyVerified, got.Status)
	require.NotNil(t, got.ObservedValue)
	assert.True(t, got.ObservedValue.Value.Equal(decimal.NewFromInt(128)))
	assert.NotNil(t, got.ResolvedAt)
}

func TestSQLite_ResolveTerminal_InvalidState(t *testing.T) {
	st := newTestStore(t)
	a := st.Anomalies()
	ctx := context.Background()

	rec := metrics.AnomalyRecord{
		ID:         "a-1",
		UserID:     "user-1",
		MetricName: "resting_heart_rate",
		Date:       metrics.NewDayStamp(2026, time.March, 10),
		Expected:   metrics.Range{Min: decimal.NewFromInt(40), Max: decimal.NewFromInt(100)},
		Actual:     metrics.NewMeasurement(130, "bpm"),
		Severity:   metrics.SeverityWarning,
		Status:     metrics.AnomalyPending,
		DetectedAt: time.Now().UTC(),
	}
	require.NoError(t, a.Append(ctx, rec))

	observed := metrics.NewMeasurement(128, "bpm")
	require.NoError(t, a.Resolve(ctx, "a-1", observed, metrics.AnomalyVerified))

	err := a.Resolve(ctx, "a-1", observed, metrics.AnomalyRejected)
	assert.ErrorIs(t, err, metrics.ErrInvalidState)
}

func TestSQLite_ResolveUnknown_NotFound(t *testing.T) {
	st := newTestStore(t)

	err := st.Anomalies().Resolve(context.Background(), "no-such-id",
		metrics.NewMeasurement(1, "bpm"), metrics.AnomalyVerified)
	assert.ErrorIs(t, err, metrics.ErrNotFound)
}

// =============================================================================
// BASELINE STORE TESTS
// =============================================================================

func TestSQLite_BaselineWriteOnce(t *testing.T) {
	st := newTestStore(t)
	b := st.Baselines()
	ctx := context.Background()

	baseline := metrics.PhaseBaseline{
		PhaseID:        "phase-1",
		UserID:         "user-1",
		TransitionDate: metrics.NewDayStamp(2026, time.March, 10),
		BaselineMetrics: map[string]metrics.Measurement{
			"resting_heart_rate": metrics.NewMeasurement(62, "bpm"),
		},
		TakenAt: time.Now().UTC(),
	}
	require.NoError(t, b.Save(ctx, baseline))

	err := b.Save(ctx, baseline)
	assert.ErrorIs(t, err, metrics.ErrBaselineExists)

	got, err := b.Get(ctx, "phase-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.BaselineMetrics["resting_heart_rate"].Value.Equal(decimal.NewFromInt(62)))
	assert.True(t, got.TransitionDate.Equal(baseline.TransitionDate))
}
