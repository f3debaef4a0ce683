package wellness_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/metrics-engine/wellness"
)

func TestParseRangeTable_OverlaysDefaults(t *testing.T) {
	ranges, err := wellness.ParseRangeTable([]byte(`{
		"ranges": [
			{"metric": "resting_heart_rate", "min": 45, "max": 90},
			{"metric": "custom_marker", "min": 1, "max": 5}
		]
	}`))
	require.NoError(t, err)

	// Overridden entry
	hr, ok := ranges.RangeFor("resting_heart_rate")
	require.True(t, ok)
	assert.True(t, hr.Min.Equal(decimal.NewFromInt(45)))
	assert.True(t, hr.Max.Equal(decimal.NewFromInt(90)))

	// New entry
	_, ok = ranges.RangeFor("custom_marker")
	assert.True(t, ok)

	// Untouched default
	sleep, ok := ranges.RangeFor("sleep_duration")
	require.True(t, ok)
	assert.True(t, sleep.Min.Equal(decimal.NewFromInt(4)))
}

func TestParseRangeTable_MissingMetric_Rejected(t *testing.T) {
	_, err := wellness.ParseRangeTable([]byte(`{"ranges": [{"min": 1, "max": 5}]}`))
	assert.Error(t, err)
}

func TestParseRangeTable_InvertedBounds_Rejected(t *testing.T) {
	_, err := wellness.ParseRangeTable([]byte(`{
		"ranges": [{"metric": "mood", "min": 8, "max": 2}]
	}`))
	assert.Error(t, err)
}
