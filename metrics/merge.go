/*
merge.go - Merge & reconciliation engine

PURPOSE:
  Combines same-metric/same-date samples from multiple channels into one
  canonical MetricRecord with full source attribution. This is the ONLY
  writer of the MetricStore.

CONFLICT POLICY (deterministic, documented in DESIGN.md):
  1. Sources are ranked: manual > wearable > modality = product > computed.
  2. The highest-priority attribution is the "winner".
  3. Every attribution within epsilon of the winner agrees with it; the
     canonical value is the average of the agreeing attributions.
  4. Attributions beyond epsilon lose: their value does not influence the
     canonical value, but they stay in Sources for audit.
  5. Confidence = agreeing / total attributions (single source = 1.0).

IDEMPOTENCY:
  Re-merging an identical sample changes nothing: same source + same value
  is recognized before any write, so Sources cardinality and the canonical
  value are stable under replays and duplicate sync deliveries.

CONCURRENCY:
  Per-key contention uses an optimistic read-merge-write loop on the
  record's Revision (compare-and-swap in the store). Losing the swap means
  another channel merged first; the loop re-reads and recomputes. No locks,
  no lost updates.

SEE ALSO:
  - store.go: The compare-and-swap contract
  - types.go: SourceTag.Priority, Measurement.WithinEpsilon
*/
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultEpsilon is the value-agreement tolerance when none is configured.
var DefaultEpsilon = decimal.RequireFromString("0.5")

const defaultMergeRetries = 8

// =============================================================================
// MERGE ENGINE
// =============================================================================

type MergeEngine struct {
	Store MetricStore

	// Epsilon is the agreement tolerance for averaging. Zero value means
	// DefaultEpsilon.
	Epsilon decimal.Decimal

	// MaxRetries bounds the optimistic retry loop. Zero means the default.
	MaxRetries int

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

func NewMergeEngine(store MetricStore) *MergeEngine {
	return &MergeEngine{Store: store}
}

// MergeResult reports what one merge call did.
type MergeResult struct {
	Record  MetricRecord
	Created bool // no prior record existed
	Changed bool // a write happened (false for idempotent replays)

	// Conflicted marks that at least one attribution disagrees beyond
	// epsilon. Diagnostic only; the call still succeeds.
	Conflicted bool

	// Averaged marks that the canonical value is a multi-source average.
	Averaged bool
}

func (e *MergeEngine) epsilon() decimal.Decimal {
	if e.Epsilon.IsZero() {
		return DefaultEpsilon
	}
	return e.Epsilon
}

func (e *MergeEngine) retries() int {
	if e.MaxRetries <= 0 {
		return defaultMergeRetries
	}
	return e.MaxRetries
}

func (e *MergeEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// Merge folds one sample into the canonical record for its key.
// Safe to call concurrently for the same key.
func (e *MergeEngine) Merge(ctx context.Context, sample MetricSample) (MergeResult, error) {
	if err := checkSample(sample); err != nil {
		return MergeResult{}, err
	}

	for attempt := 0; attempt < e.retries(); attempt++ {
		cur, err := e.Store.Get(ctx, sample.Key())
		if err != nil {
			return MergeResult{}, err
		}

		if cur == nil {
			rec := e.newRecord(sample)
			if err := e.Store.Put(ctx, rec, 0); err != nil {
				if IsRetryable(err) {
					continue // another channel created it first
				}
				return MergeResult{}, err
			}
			rec.Revision = 1
			return MergeResult{Record: rec, Created: true, Changed: true}, nil
		}

		merged, outcome := e.fold(*cur, sample)
		if !outcome.changed {
			return MergeResult{Record: *cur}, nil
		}

		if err := e.Store.Put(ctx, merged, cur.Revision); err != nil {
			if IsRetryable(err) {
				continue
			}
			return MergeResult{}, err
		}
		merged.Revision = cur.Revision + 1
		return MergeResult{
			Record:     merged,
			Changed:    true,
			Conflicted: outcome.conflicted,
			Averaged:   outcome.averaged,
		}, nil
	}

	return MergeResult{}, fmt.Errorf("key %s/%s/%s: %w",
		sample.UserID, sample.MetricName, sample.Date, ErrRetriesExhausted)
}

// MergeBatch merges samples in order, stamping them with the given source.
// Each sample merges independently; a failure aborts the remainder.
func (e *MergeEngine) MergeBatch(ctx context.Context, source SourceTag, samples []MetricSample) ([]MergeResult, error) {
	results := make([]MergeResult, 0, len(samples))
	for _, s := range samples {
		s.Source = source
		res, err := e.Merge(ctx, s)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// =============================================================================
// POLICY
// =============================================================================

type foldOutcome struct {
	changed    bool
	conflicted bool
	averaged   bool
}

// newRecord builds the canonical record for a first-seen key.
func (e *MergeEngine) newRecord(sample MetricSample) MetricRecord {
	now := e.now()
	return MetricRecord{
		UserID:           sample.UserID,
		MetricName:       sample.MetricName,
		Category:         sample.Category,
		Date:             sample.Date,
		Value:            sample.Value,
		Sources:          []SourceAttribution{attributionOf(sample, now)},
		Confidence:       decimal.NewFromInt(1),
		PhaseIDAtCapture: sample.PhaseID,
		MergedAt:         now,
	}
}

// fold applies the conflict policy to an existing record plus one sample.
// Pure with respect to the store; the caller handles the CAS write.
func (e *MergeEngine) fold(cur MetricRecord, sample MetricSample) (MetricRecord, foldOutcome) {
	now := e.now()
	attrs := append([]SourceAttribution(nil), cur.Sources...)

	replaced := false
	for i, a := range attrs {
		if a.Source != sample.Source {
			continue
		}
		if a.Value.Value.Equal(sample.Value.Value) {
			// Identical replay: nothing to do.
			return cur, foldOutcome{}
		}
		// Same channel re-reported a corrected value: replace its
		// contribution, keep its position in the audit list.
		attrs[i] = attributionOf(sample, now)
		replaced = true
		break
	}
	if !replaced {
		attrs = append(attrs, attributionOf(sample, now))
	}

	value, confidence, conflicted, averaged := e.resolve(attrs)

	next := cur
	next.Value = value
	next.Sources = attrs
	next.Confidence = confidence
	next.MergedAt = now
	if next.PhaseIDAtCapture == "" {
		next.PhaseIDAtCapture = sample.PhaseID
	}
	return next, foldOutcome{changed: true, conflicted: conflicted, averaged: averaged}
}

// resolve computes the canonical value from the full attribution set.
// Deterministic: depends only on the attribution set, priority and epsilon,
// never on arrival order. Equal priorities break on the source tag, so
// modality outranks product regardless of which merged first.
func (e *MergeEngine) resolve(attrs []SourceAttribution) (Measurement, decimal.Decimal, bool, bool) {
	winner := attrs[0]
	for _, a := range attrs[1:] {
		switch {
		case a.Source.Priority() > winner.Source.Priority():
			winner = a
		case a.Source.Priority() == winner.Source.Priority() && a.Source < winner.Source:
			winner = a
		}
	}

	eps := e.epsilon()
	agreeing := make([]Measurement, 0, len(attrs))
	for _, a := range attrs {
		if a.Value.WithinEpsilon(winner.Value, eps) {
			agreeing = append(agreeing, a.Value)
		}
	}

	value := winner.Value
	averaged := false
	if len(agreeing) > 1 {
		value = Measurement{Value: Average(agreeing).Value, Unit: winner.Value.Unit}
		averaged = true
	}

	confidence := decimal.NewFromInt(int64(len(agreeing))).
		Div(decimal.NewFromInt(int64(len(attrs))))
	conflicted := len(agreeing) < len(attrs)

	return value, confidence, conflicted, averaged
}

func attributionOf(sample MetricSample, at time.Time) SourceAttribution {
	return SourceAttribution{
		Source:     sample.Source,
		RawRef:     sample.RawRef,
		Value:      sample.Value,
		RecordedAt: at,
	}
}

func checkSample(s MetricSample) error {
	switch {
	case s.UserID == "":
		return &ValidationError{Category: s.Category, Field: "userId", Reason: "required"}
	case s.MetricName == "":
		return &ValidationError{Category: s.Category, Field: "metricName", Reason: "required"}
	case s.Date.IsZero():
		return &ValidationError{Category: s.Category, Field: "date", Reason: "required"}
	case !s.Source.Valid():
		return &ValidationError{Category: s.Category, Field: "source", Reason: "unknown source tag"}
	}
	return nil
}
