/*
rangeconfig.go - JSON to expected-range table conversion

PURPOSE:
  Converts JSON range definitions into a metrics.RangeMap. This enables
  range tuning without code changes - a practitioner can adjust expected
  bounds in JSON, and the loader produces the detector's predicate.

JSON SCHEMA:
  {
    "ranges": [
      {"metric": "resting_heart_rate", "min": 40, "max": 100},
      {"metric": "sleep_duration", "min": 4, "max": 11}
    ]
  }

KEY FEATURES:
  - Validates structure (metric name present, min <= max)
  - Entries override the default table metric by metric
  - Unlisted metrics keep their default range

USAGE:
  ranges, err := wellness.ParseRangeTable(jsonBytes)
  detector := metrics.NewDetector(ranges, store)

SEE ALSO:
  - ranges.go: The default table this overlays
  - metrics/anomaly.go: RangeSource consumer
*/
package wellness

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/metrics-engine/metrics"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RangeTableJSON is the JSON representation of an expected-range table.
type RangeTableJSON struct {
	Ranges []RangeJSON `json:"ranges"`
}

// RangeJSON is one metric's expected interval.
type RangeJSON struct {
	Metric string  `json:"metric"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRangeTable builds a range table from JSON, overlaying the defaults.
// Metrics absent from the JSON keep their default range.
func ParseRangeTable(data []byte) (metrics.RangeMap, error) {
	var table RangeTableJSON
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("invalid range table: %w", err)
	}

	out := DefaultRanges()
	for i, r := range table.Ranges {
		if r.Metric == "" {
			return nil, fmt.Errorf("range entry %d: metric is required", i)
		}
		if r.Min > r.Max {
			return nil, fmt.Errorf("range entry %d (%s): min %v exceeds max %v",
				i, r.Metric, r.Min, r.Max)
		}
		out[r.Metric] = metrics.Range{
			Min: decimal.NewFromFloat(r.Min),
			Max: decimal.NewFromFloat(r.Max),
		}
	}
	return out, nil
}

// LoadRangeTable reads and parses a range table file.
func LoadRangeTable(path string) (metrics.RangeMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRangeTable(data)
}
