/*
adapters.go - Ingestion adapters: validate, normalize, hand off

PURPOSE:
  Each adapter validates a batch against its category schema and converts
  valid records into provisional metric samples for the merge engine. No
  other side effects.

ALL-OR-NOTHING:
  A single malformed record fails the whole batch with a ValidationError
  naming the record index and field. Nothing is partially applied; callers
  retry the corrected batch.

SEE ALSO:
  - types.go: Input record schemas
  - metrics/merge.go: Where the returned samples go next
*/
package wellness

import (
	"github.com/shopspring/decimal"
	"github.com/warp/metrics-engine/metrics"
)

// =============================================================================
// PRODUCT USAGE
// =============================================================================

// AdaptProductUsage validates a usage batch and emits one adherence-ratio
// sample per record.
func AdaptProductUsage(records []ProductUsageRecord) ([]metrics.MetricSample, error) {
	samples := make([]metrics.MetricSample, 0, len(records))
	for i, r := range records {
		switch {
		case r.UserID == "":
			return nil, &metrics.ValidationError{Category: CategoryAdherence, Index: i, Field: "userId", Reason: "required"}
		case r.Product == "":
			return nil, &metrics.ValidationError{Category: CategoryAdherence, Index: i, Field: "product", Reason: "required"}
		case r.Date.IsZero():
			return nil, &metrics.ValidationError{Category: CategoryAdherence, Index: i, Field: "date", Reason: "required"}
		case r.DosesExpected <= 0:
			return nil, &metrics.ValidationError{Category: CategoryAdherence, Index: i, Field: "dosesExpected", Reason: "must be positive"}
		case r.DosesTaken < 0:
			return nil, &metrics.ValidationError{Category: CategoryAdherence, Index: i, Field: "dosesTaken", Reason: "must not be negative"}
		}

		samples = append(samples, metrics.MetricSample{
			UserID:     r.UserID,
			MetricName: AdherenceMetric(r.Product),
			Category:   CategoryAdherence,
			Date:       r.Date,
			Value:      metrics.NewMeasurementFromDecimal(r.AdherenceRatio(), UnitRatio),
			Source:     metrics.SourceProduct,
			RawRef:     r.RefID,
		})
	}
	return samples, nil
}

// ComplianceByProduct aggregates per-day compliance flags into a ratio per
// product, rounded to two decimal places (2 of 3 compliant days -> 0.67).
func ComplianceByProduct(records []ProductUsageRecord) map[string]decimal.Decimal {
	type tally struct{ compliant, total int64 }
	tallies := make(map[string]*tally)

	for _, r := range records {
		t, ok := tallies[r.Product]
		if !ok {
			t = &tally{}
			tallies[r.Product] = t
		}
		t.total++
		if r.Compliant() {
			t.compliant++
		}
	}

	out := make(map[string]decimal.Decimal, len(tallies))
	for product, t := range tallies {
		out[product] = decimal.NewFromInt(t.compliant).
			Div(decimal.NewFromInt(t.total)).
			Round(2)
	}
	return out
}

// =============================================================================
// MODALITY SESSIONS
// =============================================================================

// AdaptModalitySessions validates a session batch and emits one
// session-minutes sample per completed record. Incomplete sessions are
// validated but emit nothing.
func AdaptModalitySessions(records []ModalitySessionRecord) ([]metrics.MetricSample, error) {
	samples := make([]metrics.MetricSample, 0, len(records))
	for i, r := range records {
		switch {
		case r.UserID == "":
			return nil, &metrics.ValidationError{Category: CategoryModality, Index: i, Field: "userId", Reason: "required"}
		case r.Modality == "":
			return nil, &metrics.ValidationError{Category: CategoryModality, Index: i, Field: "modality", Reason: "required"}
		case r.Date.IsZero():
			return nil, &metrics.ValidationError{Category: CategoryModality, Index: i, Field: "date", Reason: "required"}
		case r.DurationMinutes <= 0:
			return nil, &metrics.ValidationError{Category: CategoryModality, Index: i, Field: "durationMinutes", Reason: "must be positive"}
		case r.Intensity < 0 || r.Intensity > 10:
			return nil, &metrics.ValidationError{Category: CategoryModality, Index: i, Field: "intensity", Reason: "must be 0-10"}
		}

		if !r.Completed {
			continue
		}
		samples = append(samples, metrics.MetricSample{
			UserID:     r.UserID,
			MetricName: ModalityMetric(r.Modality),
			Category:   CategoryModality,
			Date:       r.Date,
			Value:      metrics.NewMeasurement(float64(r.DurationMinutes), UnitMinutes),
			Source:     metrics.SourceModality,
			RawRef:     r.RefID,
		})
	}
	return samples, nil
}

// =============================================================================
// MANUAL USER INPUTS
// =============================================================================

func AdaptUserInputs(records []UserInputRecord) ([]metrics.MetricSample, error) {
	samples := make([]metrics.MetricSample, 0, len(records))
	for i, r := range records {
		switch {
		case r.UserID == "":
			return nil, &metrics.ValidationError{Category: CategorySubjective, Index: i, Field: "userId", Reason: "required"}
		case r.MetricName == "":
			return nil, &metrics.ValidationError{Category: CategorySubjective, Index: i, Field: "metricName", Reason: "required"}
		case r.Date.IsZero():
			return nil, &metrics.ValidationError{Category: CategorySubjective, Index: i, Field: "date", Reason: "required"}
		}

		unit := r.Unit
		if unit == "" {
			unit = UnitScore
		}
		samples = append(samples, metrics.MetricSample{
			UserID:     r.UserID,
			MetricName: r.MetricName,
			Category:   CategorySubjective,
			Date:       r.Date,
			Value:      metrics.NewMeasurement(r.Value, unit),
			Source:     metrics.SourceManual,
			RawRef:     r.RefID,
		})
	}
	return samples, nil
}

// =============================================================================
// WEARABLE FEEDS
// =============================================================================

func AdaptWearableReadings(records []WearableReading) ([]metrics.MetricSample, error) {
	samples := make([]metrics.MetricSample, 0, len(records))
	for i, r := range records {
		switch {
		case r.UserID == "":
			return nil, &metrics.ValidationError{Category: CategoryVitals, Index: i, Field: "userId", Reason: "required"}
		case r.MetricName == "":
			return nil, &metrics.ValidationError{Category: CategoryVitals, Index: i, Field: "metricName", Reason: "required"}
		case r.Date.IsZero():
			return nil, &metrics.ValidationError{Category: CategoryVitals, Index: i, Field: "date", Reason: "required"}
		case r.Unit == "":
			return nil, &metrics.ValidationError{Category: CategoryVitals, Index: i, Field: "unit", Reason: "required"}
		}

		meta := map[string]string(nil)
		if r.Device != "" {
			meta = map[string]string{"device": r.Device}
		}
		samples = append(samples, metrics.MetricSample{
			UserID:     r.UserID,
			MetricName: r.MetricName,
			Category:   CategoryVitals,
			Date:       r.Date,
			Value:      metrics.NewMeasurement(r.Value, r.Unit),
			Source:     metrics.SourceWearable,
			RawRef:     r.RefID,
			Meta:       meta,
		})
	}
	return samples, nil
}
