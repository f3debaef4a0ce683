package offline_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/metrics-engine/metrics"
	"github.com/warp/metrics-engine/offline"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func cacheSample(name string, day int, value float64) metrics.MetricSample {
	return metrics.MetricSample{
		UserID:     "user-1",
		MetricName: name,
		Category:   "subjective",
		Date:       metrics.NewDayStamp(2026, time.March, day),
		Value:      metrics.NewMeasurement(value, "score"),
		Source:     metrics.SourceManual,
	}
}

func entry(name string, day int, value float64, pending bool) offline.Entry {
	s := cacheSample(name, day, value)
	return offline.Entry{
		Key:         offline.KeyFor(s),
		Sample:      s,
		CachedAt:    time.Now().UTC(),
		PendingSync: pending,
	}
}

// =============================================================================
// FILE CACHE TESTS
// =============================================================================

func TestFileCache_RoundTripSurvivesReopen(t *testing.T) {
	// GIVEN: Entries persisted to disk
	// WHEN: The cache file is reopened (simulated restart)
	// THEN: Entries come back with values and order intact

	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	c, err := offline.NewFileCache(path)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, []offline.Entry{
		entry("mood", 10, 7, true),
		entry("energy", 10, 5, false),
	}))

	reopened, err := offline.NewFileCache(path)
	require.NoError(t, err)

	entries, err := reopened.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "mood", entries[0].Sample.MetricName)
	assert.Equal(t, "energy", entries[1].Sample.MetricName)
	assert.True(t, entries[0].Sample.Value.Value.Equal(decimal.NewFromInt(7)))
	assert.True(t, entries[0].PendingSync)
	assert.False(t, entries[1].PendingSync)
}

func TestFileCache_PendingIsFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	c, err := offline.NewFileCache(path)
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, []offline.Entry{entry("mood", 10, 7, true)}))
	require.NoError(t, c.Put(ctx, []offline.Entry{entry("energy", 10, 5, false)}))
	require.NoError(t, c.Put(ctx, []offline.Entry{entry("pain", 10, 2, true)}))

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "mood", pending[0].Sample.MetricName)
	assert.Equal(t, "pain", pending[1].Sample.MetricName)
}

func TestFileCache_RePutKeepsInsertionPosition(t *testing.T) {
	// Updating an existing key must not move it to the back of the queue.
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	c, err := offline.NewFileCache(path)
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, []offline.Entry{entry("mood", 10, 7, true)}))
	require.NoError(t, c.Put(ctx, []offline.Entry{entry("energy", 10, 5, true)}))
	require.NoError(t, c.Put(ctx, []offline.Entry{entry("mood", 10, 8, true)}))

	entries, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "mood", entries[0].Sample.MetricName)
	assert.True(t, entries[0].Sample.Value.Value.Equal(decimal.NewFromInt(8)))
}

func TestFileCache_ClearRemovesConfirmedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	c, err := offline.NewFileCache(path)
	require.NoError(t, err)

	first := entry("mood", 10, 7, true)
	second := entry("energy", 10, 5, true)
	require.NoError(t, c.Put(ctx, []offline.Entry{first, second}))

	require.NoError(t, c.Clear(ctx, []string{first.Key}))

	entries, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "energy", entries[0].Sample.MetricName)

	// Clear must be durable too.
	reopened, err := offline.NewFileCache(path)
	require.NoError(t, err)
	entries, err = reopened.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileCache_EmptyPathRejected(t *testing.T) {
	_, err := offline.NewFileCache("")
	assert.Error(t, err)
}

// =============================================================================
// MEMORY CACHE TESTS
// =============================================================================

func TestMemoryCache_PendingFilter(t *testing.T) {
	c := offline.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, []offline.Entry{
		entry("mood", 10, 7, true),
		entry("energy", 10, 5, false),
	}))

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "mood", pending[0].Sample.MetricName)
}
