/*
Package metrics provides the core metric synchronization and aggregation engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms for merging
  heterogeneous measurement streams into canonical per-metric records. Whether
  the measurement comes from a manual entry, a product-adherence log, a
  modality session, or a wearable feed, the same engine handles conflict
  resolution, source attribution, anomaly detection, and baseline-relative
  trend computation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Measurement: A quantity with a unit (e.g., 7.5 hours, 98.6 degF)
  - MetricSample: A provisional, source-attributed observation entering merge
  - MetricRecord: The canonical merged record (one per user+metric+date)
  - SourceTag: Which input channel produced an observation
  - DayStamp: A calendar-day timestamp (merge granularity is one day)

DESIGN PRINCIPLES:
  1. Canonicality: At most one MetricRecord per (userID, metricName, date)
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Attribution: Every contributing source remains visible after merge
  4. Optimism: Records carry a Revision for compare-and-swap writes

USAGE:
  sample := metrics.MetricSample{
      UserID:     "user-1",
      MetricName: "sleep_duration",
      Date:       metrics.NewDayStamp(2026, time.March, 10),
      Value:      metrics.NewMeasurement(7.5, "hours"),
      Source:     metrics.SourceWearable,
  }

SEE ALSO:
  - merge.go: Conflict policy and the optimistic merge loop
  - anomaly.go: Expected-range evaluation and the verification workflow
  - baseline.go: Phase baselines and trend computation
  - store.go: Persistence interfaces
*/
package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MEASUREMENT - Quantity with unit
// =============================================================================

type Measurement struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

func NewMeasurement(value float64, unit Unit) Measurement {
	return Measurement{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewMeasurementFromDecimal(value decimal.Decimal, unit Unit) Measurement {
	return Measurement{Value: value, Unit: unit}
}

func (m Measurement) Add(b Measurement) Measurement {
	return Measurement{Value: m.Value.Add(b.Value), Unit: m.Unit}
}

func (m Measurement) Sub(b Measurement) Measurement {
	return Measurement{Value: m.Value.Sub(b.Value), Unit: m.Unit}
}

func (m Measurement) IsZero() bool { return m.Value.IsZero() }

// WithinEpsilon reports whether two measurements differ by at most epsilon.
func (m Measurement) WithinEpsilon(b Measurement, epsilon decimal.Decimal) bool {
	return m.Value.Sub(b.Value).Abs().LessThanOrEqual(epsilon)
}

// Average returns the arithmetic mean of the given measurements.
// The unit of the first measurement is kept.
func Average(ms []Measurement) Measurement {
	if len(ms) == 0 {
		return Measurement{}
	}
	sum := decimal.Zero
	for _, m := range ms {
		sum = sum.Add(m.Value)
	}
	return Measurement{
		Value: sum.Div(decimal.NewFromInt(int64(len(ms)))),
		Unit:  ms[0].Unit,
	}
}

// PercentChangeFrom returns the percent change of m relative to base.
// A zero base yields zero to keep trend output well-defined.
func (m Measurement) PercentChangeFrom(base Measurement) decimal.Decimal {
	if base.Value.IsZero() {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	return m.Value.Sub(base.Value).Div(base.Value).Mul(hundred)
}

// =============================================================================
// DAY STAMP - Calendar-day timestamp (merge granularity)
// =============================================================================

// DayStamp is a UTC calendar day. Merge keys are per-day, so anything finer
// than a day is truncated at construction.
type DayStamp struct {
	Time time.Time
}

func NewDayStamp(year int, month time.Month, day int) DayStamp {
	return DayStamp{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DayOf(t time.Time) DayStamp {
	u := t.UTC()
	return NewDayStamp(u.Year(), u.Month(), u.Day())
}

func TodayStamp() DayStamp { return DayOf(time.Now()) }

// ParseDay parses a YYYY-MM-DD date string.
func ParseDay(s string) (DayStamp, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return DayStamp{}, err
	}
	return DayOf(t), nil
}

func (d DayStamp) Before(other DayStamp) bool        { return d.Time.Before(other.Time) }
func (d DayStamp) Equal(other DayStamp) bool         { return d.Time.Equal(other.Time) }
func (d DayStamp) After(other DayStamp) bool         { return d.Time.After(other.Time) }
func (d DayStamp) BeforeOrEqual(other DayStamp) bool { return d.Before(other) || d.Equal(other) }
func (d DayStamp) AfterOrEqual(other DayStamp) bool  { return d.After(other) || d.Equal(other) }
func (d DayStamp) AddDays(n int) DayStamp            { return DayStamp{Time: d.Time.AddDate(0, 0, n)} }
func (d DayStamp) IsZero() bool                      { return d.Time.IsZero() }
func (d DayStamp) String() string                    { return d.Time.Format("2006-01-02") }

// MarshalJSON encodes the day as "YYYY-MM-DD".
func (d DayStamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *DayStamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// SOURCE TAG - Input channel attribution
// =============================================================================

type SourceTag string

const (
	SourceManual   SourceTag = "manual"
	SourceProduct  SourceTag = "product"
	SourceModality SourceTag = "modality"
	SourceWearable SourceTag = "wearable"
	SourceComputed SourceTag = "computed"
)

// Priority ranks sources for conflict resolution:
// manual > wearable > modality = product > computed.
func (s SourceTag) Priority() int {
	switch s {
	case SourceManual:
		return 3
	case SourceWearable:
		return 2
	case SourceModality, SourceProduct:
		return 1
	case SourceComputed:
		return 0
	default:
		return -1
	}
}

func (s SourceTag) Valid() bool { return s.Priority() >= 0 }

// =============================================================================
// IDENTIFIERS AND KEYS
// =============================================================================

type UserID string
type Category string
type PhaseID string
type AnomalyID string

// MetricKey identifies the canonical record a sample merges into.
type MetricKey struct {
	UserID     UserID
	MetricName string
	Date       DayStamp
}

// =============================================================================
// METRIC SAMPLE - Provisional observation entering the merge engine
// =============================================================================

type MetricSample struct {
	UserID     UserID
	MetricName string
	Category   Category
	Date       DayStamp
	Value      Measurement
	Source     SourceTag

	// RawRef points back to the raw sub-record (usage log id, session id,
	// wearable payload id) for audit.
	RawRef string

	// PhaseID the user was in when the observation was captured.
	PhaseID PhaseID

	// Meta carries genuinely opaque pass-through data only. Fields with
	// known semantics get first-class typed fields above.
	Meta map[string]string
}

func (s MetricSample) Key() MetricKey {
	return MetricKey{UserID: s.UserID, MetricName: s.MetricName, Date: s.Date}
}

// =============================================================================
// METRIC RECORD - Canonical merged record
// =============================================================================

// SourceAttribution records one channel's contribution to a merged record.
// Attributions are kept even when the channel's value lost the conflict.
type SourceAttribution struct {
	Source     SourceTag
	RawRef     string
	Value      Measurement
	RecordedAt time.Time
}

// MetricRecord is the canonical record for one (userID, metricName, date).
//
// INVARIANTS:
//   - Created only by the merge engine, mutated only by subsequent merges.
//   - Sources always lists every contributing channel.
//   - Revision increments on every successful write (compare-and-swap).
type MetricRecord struct {
	UserID           UserID
	MetricName       string
	Category         Category
	Date             DayStamp
	Value            Measurement
	Sources          []SourceAttribution
	Confidence       decimal.Decimal
	PhaseIDAtCapture PhaseID

	// Revision is the optimistic-concurrency token. Zero means "not yet
	// persisted"; the store assigns 1 on create and increments on update.
	Revision int64

	MergedAt time.Time
}

func (r MetricRecord) Key() MetricKey {
	return MetricKey{UserID: r.UserID, MetricName: r.MetricName, Date: r.Date}
}

// HasSource reports whether the given channel already contributed.
func (r MetricRecord) HasSource(tag SourceTag) bool {
	for _, s := range r.Sources {
		if s.Source == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// PHASE TYPES
// =============================================================================

// PhaseTransition describes a user entering a new phase (e.g., a protocol
// stage change). Baselines are snapshotted exactly once per entered phase.
type PhaseTransition struct {
	UserID         UserID
	FromPhase      PhaseID
	ToPhase        PhaseID
	TransitionDate DayStamp
}

// PhaseBaseline is the write-once snapshot taken at a phase transition.
type PhaseBaseline struct {
	PhaseID         PhaseID
	UserID          UserID
	TransitionDate  DayStamp
	BaselineMetrics map[string]Measurement
	TakenAt         time.Time
}

// TrendPoint is one element of a baseline-relative trend series.
type TrendPoint struct {
	Date          DayStamp
	Value         Measurement
	PercentChange decimal.Decimal
}
