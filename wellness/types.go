/*
Package wellness provides the domain-specific layer over the generic
metrics engine: measurement categories, per-category ingestion schemas,
and wellness-specific aggregations.

PURPOSE:
  The metrics package knows nothing about products, modalities or
  wearables. This package defines the concrete input records for each
  channel, validates them, and converts them into metric samples for the
  merge engine. It also owns adherence/compliance math and the default
  expected-range table.

CATEGORIES:
  adherence:  Product/supplement usage ratios
  modality:   Therapy session measurements (sauna, red light, ...)
  subjective: Manual wellness self-reports (mood, energy, ...)
  vitals:     Wearable-sourced physiological readings
  computed:   Engine-derived aggregates (health index)

SEE ALSO:
  - adapters.go: Validation and conversion to metric samples
  - ranges.go: Default expected ranges per metric
*/
package wellness

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/metrics-engine/metrics"
)

// =============================================================================
// CATEGORIES AND UNITS
// =============================================================================

const (
	CategoryAdherence  metrics.Category = "adherence"
	CategoryModality   metrics.Category = "modality"
	CategorySubjective metrics.Category = "subjective"
	CategoryVitals     metrics.Category = "vitals"
	CategoryComputed   metrics.Category = "computed"
)

const (
	UnitRatio   metrics.Unit = "ratio"
	UnitMinutes metrics.Unit = "minutes"
	UnitScore   metrics.Unit = "score" // 0-10 subjective scale
)

// =============================================================================
// INPUT RECORDS - One schema per ingestion channel
// =============================================================================

// ProductUsageRecord is one day's usage log for one product.
type ProductUsageRecord struct {
	UserID        metrics.UserID
	Product       string
	Date          metrics.DayStamp
	DosesTaken    int
	DosesExpected int
	RefID         string
	Notes         string
}

// Compliant reports whether the full expected dose was taken that day.
func (r ProductUsageRecord) Compliant() bool {
	return r.DosesExpected > 0 && r.DosesTaken >= r.DosesExpected
}

// AdherenceRatio is taken/expected for the day, capped at 1.
func (r ProductUsageRecord) AdherenceRatio() decimal.Decimal {
	if r.DosesExpected <= 0 {
		return decimal.Zero
	}
	ratio := decimal.NewFromInt(int64(r.DosesTaken)).
		Div(decimal.NewFromInt(int64(r.DosesExpected)))
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return ratio
}

// ModalitySessionRecord is one completed or attempted therapy session.
type ModalitySessionRecord struct {
	UserID          metrics.UserID
	Modality        string
	Date            metrics.DayStamp
	DurationMinutes int
	Intensity       int // 0-10, optional
	Completed       bool
	RefID           string
}

// UserInputRecord is a manual subjective entry (mood, energy, pain, ...).
type UserInputRecord struct {
	UserID     metrics.UserID
	MetricName string
	Date       metrics.DayStamp
	Value      float64
	Unit       metrics.Unit
	RefID      string
	Notes      string
}

// WearableReading is one normalized reading from an external wearable feed.
type WearableReading struct {
	UserID     metrics.UserID
	Device     string
	MetricName string
	Date       metrics.DayStamp
	Value      float64
	Unit       metrics.Unit
	RefID      string
}

// =============================================================================
// METRIC NAMING
// =============================================================================

// AdherenceMetric is the canonical metric name for a product's daily
// adherence ratio.
func AdherenceMetric(product string) string {
	return fmt.Sprintf("adherence:%s", product)
}

// ModalityMetric is the canonical metric name for a modality's session
// minutes.
func ModalityMetric(modality string) string {
	return fmt.Sprintf("modality:%s", modality)
}
