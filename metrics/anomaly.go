/*
anomaly.go - Expected-range evaluation and the verification workflow

PURPOSE:
  Evaluates freshly merged samples against a per-metric expected range and
  manages the pending -> verified/rejected workflow. The statistical model
  behind the ranges is out of scope: RangeSource is a pluggable predicate.

STATE MACHINE:
  pending -> verified   (human confirmed the reading)
  pending -> rejected   (human dismissed it, e.g. sensor glitch)
  Terminal states never transition again; re-verification fails with
  ErrInvalidState. Records are append-only: anomalies are never deleted.

SEVERITY:
  Graded by how far outside the range the value falls, measured in range
  widths: < 0.25 widths -> info, < 1 width -> warning, otherwise critical.

IMPORTANT:
  Verification never alters the underlying MetricRecord. Only the anomaly's
  own audit fields (observed value, status, timestamps) change.

SEE ALSO:
  - store.go: AnomalyStore contract
  - wellness/ranges.go: Default range table for wellness metrics
*/
package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ANOMALY TYPES
// =============================================================================

type AnomalyStatus string

const (
	AnomalyPending  AnomalyStatus = "pending"
	AnomalyVerified AnomalyStatus = "verified"
	AnomalyRejected AnomalyStatus = "rejected"
)

func (s AnomalyStatus) Terminal() bool {
	return s == AnomalyVerified || s == AnomalyRejected
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Range is the inclusive expected interval for a metric.
type Range struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v decimal.Decimal) bool {
	return v.GreaterThanOrEqual(r.Min) && v.LessThanOrEqual(r.Max)
}

// Overshoot returns how far v falls outside the range, in range widths.
// Zero when v is inside. A degenerate (zero-width) range counts any
// excursion as one full width.
func (r Range) Overshoot(v decimal.Decimal) decimal.Decimal {
	var dist decimal.Decimal
	switch {
	case v.LessThan(r.Min):
		dist = r.Min.Sub(v)
	case v.GreaterThan(r.Max):
		dist = v.Sub(r.Max)
	default:
		return decimal.Zero
	}
	width := r.Max.Sub(r.Min)
	if width.IsZero() {
		return decimal.NewFromInt(1)
	}
	return dist.Div(width)
}

// RangeSource supplies the expected range for a metric, if one is known.
// Injectable; implementations may be static tables or statistical models.
type RangeSource interface {
	RangeFor(metricName string) (Range, bool)
}

// RangeMap is the simplest RangeSource: a static lookup table.
type RangeMap map[string]Range

func (m RangeMap) RangeFor(metricName string) (Range, bool) {
	r, ok := m[metricName]
	return r, ok
}

// AnomalyRecord is the append-only audit record of an out-of-range sample.
type AnomalyRecord struct {
	ID         AnomalyID
	UserID     UserID
	MetricName string
	Date       DayStamp
	Expected   Range
	Actual     Measurement
	Severity   Severity
	Status     AnomalyStatus

	// PossibleCauses is opaque pass-through data for the notification
	// collaborator; the engine assigns no semantics to it.
	PossibleCauses []string

	DetectedAt time.Time

	// Verification audit fields; set once on resolution.
	ObservedValue *Measurement
	ResolvedAt    *time.Time
}

// =============================================================================
// DETECTOR
// =============================================================================

type Detector struct {
	Ranges    RangeSource
	Anomalies AnomalyStore

	// Now is injectable for tests. Nil means time.Now.
	Now func() time.Time
}

func NewDetector(ranges RangeSource, store AnomalyStore) *Detector {
	return &Detector{Ranges: ranges, Anomalies: store}
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Evaluate checks one merged record against its expected range, creating a
// pending anomaly when it falls outside. Returns nil when in range or when
// no range is configured for the metric.
func (d *Detector) Evaluate(ctx context.Context, rec MetricRecord) (*AnomalyRecord, error) {
	expected, ok := d.Ranges.RangeFor(rec.MetricName)
	if !ok || expected.Contains(rec.Value.Value) {
		return nil, nil
	}

	anomaly := AnomalyRecord{
		ID:         AnomalyID(uuid.NewString()),
		UserID:     rec.UserID,
		MetricName: rec.MetricName,
		Date:       rec.Date,
		Expected:   expected,
		Actual:     rec.Value,
		Severity:   gradeSeverity(expected, rec.Value.Value),
		Status:     AnomalyPending,
		DetectedAt: d.now(),
	}

	if err := d.Anomalies.Append(ctx, anomaly); err != nil {
		return nil, err
	}
	return &anomaly, nil
}

// Verify transitions a pending anomaly to verified or rejected, recording
// the human-observed value. Terminal anomalies cannot transition again.
func (d *Detector) Verify(ctx context.Context, id AnomalyID, observed Measurement, status AnomalyStatus) (*AnomalyRecord, error) {
	if !status.Terminal() {
		return nil, &InvalidStateError{AnomalyID: id, Current: AnomalyPending, Requested: status}
	}

	cur, err := d.Anomalies.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, &NotFoundError{Kind: "anomaly", ID: string(id)}
	}
	if cur.Status != AnomalyPending {
		return nil, &InvalidStateError{AnomalyID: id, Current: cur.Status, Requested: status}
	}

	if err := d.Anomalies.Resolve(ctx, id, observed, status); err != nil {
		return nil, err
	}

	resolvedAt := d.now()
	out := *cur
	out.Status = status
	out.ObservedValue = &observed
	out.ResolvedAt = &resolvedAt
	return &out, nil
}

// List returns all anomalies for the query layer and external notification
// collaborators.
func (d *Detector) List(ctx context.Context) ([]AnomalyRecord, error) {
	return d.Anomalies.List(ctx)
}

func gradeSeverity(expected Range, actual decimal.Decimal) Severity {
	overshoot := expected.Overshoot(actual)
	switch {
	case overshoot.LessThan(decimal.RequireFromString("0.25")):
		return SeverityInfo
	case overshoot.LessThan(decimal.NewFromInt(1)):
		return SeverityWarning
	default:
		return SeverityCritical
	}
}
