package wellness

import (
	"github.com/shopspring/decimal"
	"github.com/warp/metrics-engine/metrics"
)

// =============================================================================
// DEFAULT EXPECTED RANGES
// =============================================================================

// DefaultRanges is the static expected-range table for common wellness
// metrics. The anomaly detector takes any metrics.RangeSource; this table
// is the out-of-the-box predicate. The values are broad plausibility
// bounds, not a statistical model.
func DefaultRanges() metrics.RangeMap {
	return metrics.RangeMap{
		"resting_heart_rate": rng(40, 100),
		"hrv":                rng(20, 200),
		"sleep_duration":     rng(4, 11),
		"body_temperature":   rng(96.0, 100.4),
		"spo2":               rng(90, 100),
		"weight":             rng(80, 400),
		"mood":               rng(0, 10),
		"energy":             rng(0, 10),
		"pain":               rng(0, 10),
	}
}

func rng(min, max float64) metrics.Range {
	return metrics.Range{
		Min: decimal.NewFromFloat(min),
		Max: decimal.NewFromFloat(max),
	}
}
