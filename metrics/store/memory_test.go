package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/metrics-engine/metrics"
	"github.com/warp/metrics-engine/metrics/store"
)

func record(rev int64) metrics.MetricRecord {
	return metrics.MetricRecord{
		UserID:     "user-1",
		MetricName: "mood",
		Category:   "subjective",
		Date:       metrics.NewDayStamp(2026, time.March, 10),
		Value:      metrics.NewMeasurement(5, "score"),
		Revision:   rev,
		MergedAt:   time.Now().UTC(),
	}
}

// =============================================================================
// COMPARE-AND-SWAP TESTS
// =============================================================================

func TestMemory_CreateThenGet(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, record(0), 0))

	got, err := m.Get(ctx, record(0).Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Revision, "store assigns revision 1 on create")
}

func TestMemory_CreateExisting_Conflicts(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, record(0), 0))

	err := m.Put(ctx, record(0), 0)
	assert.ErrorIs(t, err, metrics.ErrConcurrentModification)
}

func TestMemory_UpdateWithStaleRevision_Conflicts(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, record(0), 0))
	require.NoError(t, m.Put(ctx, record(1), 1))

	// Revision is now 2; a writer still holding 1 must lose.
	err := m.Put(ctx, record(1), 1)
	assert.ErrorIs(t, err, metrics.ErrConcurrentModification)
}

func TestMemory_GetMissing_NilNoError(t *testing.T) {
	m := store.NewMemory()

	got, err := m.Get(context.Background(), record(0).Key())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	// Mutating a returned record must not corrupt the stored one.
	m := store.NewMemory()
	ctx := context.Background()

	rec := record(0)
	rec.Sources = []metrics.SourceAttribution{{Source: metrics.SourceManual, Value: rec.Value}}
	require.NoError(t, m.Put(ctx, rec, 0))

	got, err := m.Get(ctx, rec.Key())
	require.NoError(t, err)
	got.Sources[0].Source = metrics.SourceComputed

	again, err := m.Get(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, metrics.SourceManual, again.Sources[0].Source)
}

// =============================================================================
// ANOMALY AND BASELINE STORE TESTS
// =============================================================================

func TestMemoryAnomalies_ResolveNonPending_Fails(t *testing.T) {
	m := store.NewMemoryAnomalies()
	ctx := context.Background()

	rec := metrics.AnomalyRecord{
		ID:     "a-1",
		Status: metrics.AnomalyPending,
	}
	require.NoError(t, m.Append(ctx, rec))

	observed := metrics.NewMeasurement(1, "bpm")
	require.NoError(t, m.Resolve(ctx, "a-1", observed, metrics.AnomalyVerified))

	err := m.Resolve(ctx, "a-1", observed, metrics.AnomalyRejected)
	assert.ErrorIs(t, err, metrics.ErrInvalidState)
}

func TestMemoryBaselines_WriteOnce(t *testing.T) {
	m := store.NewMemoryBaselines()
	ctx := context.Background()

	b := metrics.PhaseBaseline{PhaseID: "phase-1", UserID: "user-1"}
	require.NoError(t, m.Save(ctx, b))

	err := m.Save(ctx, b)
	assert.ErrorIs(t, err, metrics.ErrBaselineExists)
}
