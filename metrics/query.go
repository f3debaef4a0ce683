/*
query.go - Read-only aggregation API

PURPOSE:
  The query surface consumed by the dashboard UI (out of scope here). Pure
  reads over the MetricStore: every merge completed before the call returns
  is visible (read-after-write within a process, guaranteed by the store).

HEAVY AGGREGATES:
  ComputeHealthIndex is the expensive full-scan aggregate. The engine
  package offloads it to a background worker and hands callers a future;
  the computation itself lives here so it stays independently testable.

SEE ALSO:
  - engine/engine.go: Future-based dispatch of the health index
*/
package metrics

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUERY ENGINE
// =============================================================================

type QueryEngine struct {
	Store MetricStore
}

func NewQueryEngine(store MetricStore) *QueryEngine {
	return &QueryEngine{Store: store}
}

// AllMetrics returns every canonical record.
func (q *QueryEngine) AllMetrics(ctx context.Context) ([]MetricRecord, error) {
	return q.Store.List(ctx)
}

// MetricsByCategory returns the canonical records in one category.
func (q *QueryEngine) MetricsByCategory(ctx context.Context, category Category) ([]MetricRecord, error) {
	return q.Store.ListByCategory(ctx, category)
}

// LatestByMetric returns the most recent record per metric name for a user.
func (q *QueryEngine) LatestByMetric(ctx context.Context, userID UserID) (map[string]MetricRecord, error) {
	records, err := q.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]MetricRecord)
	for _, rec := range records {
		if rec.UserID != userID {
			continue
		}
		if prev, ok := latest[rec.MetricName]; !ok || rec.Date.After(prev.Date) {
			latest[rec.MetricName] = rec
		}
	}
	return latest, nil
}

// =============================================================================
// HEALTH INDEX - Weighted cross-category aggregate
// =============================================================================

// HealthIndex summarizes a user's current standing across categories as a
// confidence-weighted mean of the latest normalized values per category.
type HealthIndex struct {
	UserID      UserID
	Score       decimal.Decimal
	ByCategory  map[Category]decimal.Decimal
	SampleCount int
}

// ComputeHealthIndex scans all of a user's records and produces the
// aggregate. Deliberately unoptimized full scan; callers run it off the
// hot path (see engine.ComputeHealthIndex).
func (q *QueryEngine) ComputeHealthIndex(ctx context.Context, userID UserID) (HealthIndex, error) {
	records, err := q.Store.List(ctx)
	if err != nil {
		return HealthIndex{}, err
	}

	type bucket struct {
		weighted decimal.Decimal
		weight   decimal.Decimal
		count    int
	}
	buckets := make(map[Category]*bucket)
	total := 0

	for _, rec := range records {
		if rec.UserID != userID {
			continue
		}
		b, ok := buckets[rec.Category]
		if !ok {
			b = &bucket{}
			buckets[rec.Category] = b
		}
		b.weighted = b.weighted.Add(rec.Value.Value.Mul(rec.Confidence))
		b.weight = b.weight.Add(rec.Confidence)
		b.count++
		total++
	}

	idx := HealthIndex{
		UserID:      userID,
		ByCategory:  make(map[Category]decimal.Decimal, len(buckets)),
		SampleCount: total,
	}

	sum := decimal.Zero
	for cat, b := range buckets {
		if b.weight.IsZero() {
			continue
		}
		mean := b.weighted.Div(b.weight)
		idx.ByCategory[cat] = mean
		sum = sum.Add(mean)
	}
	if n := len(idx.ByCategory); n > 0 {
		idx.Score = sum.Div(decimal.NewFromInt(int64(n)))
	}
	return idx, nil
}
