// Package store provides in-memory implementations of the metrics
// persistence interfaces, for testing and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/metrics-engine/metrics"
)

// =============================================================================
// MEMORY METRIC STORE - Compare-and-swap on Revision
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[metrics.MetricKey]metrics.MetricRecord
}

func NewMemory() *Memory {
	return &Memory{records: make(map[metrics.MetricKey]metrics.MetricRecord)}
}

func (m *Memory) Get(_ context.Context, key metrics.MetricKey) (*metrics.MetricRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

// Put implements the compare-and-swap contract: expectedRevision 0 creates,
// otherwise the stored revision must match.
func (m *Memory) Put(_ context.Context, rec metrics.MetricRecord, expectedRevision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.Key()
	cur, exists := m.records[key]

	if expectedRevision == 0 {
		if exists {
			return metrics.ErrConcurrentModification
		}
	} else {
		if !exists || cur.Revision != expectedRevision {
			return metrics.ErrConcurrentModification
		}
	}

	stored := cloneRecord(rec)
	stored.Revision = expectedRevision + 1
	m.records[key] = stored
	return nil
}

func (m *Memory) List(_ context.Context) ([]metrics.MetricRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(metrics.MetricRecord) bool { return true }), nil
}

func (m *Memory) ListByCategory(_ context.Context, category metrics.Category) ([]metrics.MetricRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(r metrics.MetricRecord) bool { return r.Category == category }), nil
}

func (m *Memory) ListByMetric(_ context.Context, userID metrics.UserID, metricName string) ([]metrics.MetricRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(r metrics.MetricRecord) bool {
		return r.UserID == userID && r.MetricName == metricName
	}), nil
}

// collect returns matching records sorted by (userID, metricName, date).
// Caller must hold at least the read lock.
func (m *Memory) collect(match func(metrics.MetricRecord) bool) []metrics.MetricRecord {
	var out []metrics.MetricRecord
	for _, rec := range m.records {
		if match(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		if out[i].MetricName != out[j].MetricName {
			return out[i].MetricName < out[j].MetricName
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func cloneRecord(rec metrics.MetricRecord) metrics.MetricRecord {
	out := rec
	out.Sources = append([]metrics.SourceAttribution(nil), rec.Sources...)
	return out
}

// =============================================================================
// MEMORY ANOMALY STORE - Append-only, one status transition
// =============================================================================

type MemoryAnomalies struct {
	mu    sync.RWMutex
	order []metrics.AnomalyID
	byID  map[metrics.AnomalyID]metrics.AnomalyRecord
}

func NewMemoryAnomalies() *MemoryAnomalies {
	return &MemoryAnomalies{byID: make(map[metrics.AnomalyID]metrics.AnomalyRecord)}
}

func (m *MemoryAnomalies) Append(_ context.Context, rec metrics.AnomalyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[rec.ID]; exists {
		return metrics.ErrConcurrentModification
	}
	m.byID[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *MemoryAnomalies) Get(_ context.Context, id metrics.AnomalyID) (*metrics.AnomalyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryAnomalies) Resolve(_ context.Context, id metrics.AnomalyID, observed metrics.Measurement, status metrics.AnomalyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return &metrics.NotFoundError{Kind: "anomaly", ID: string(id)}
	}
	if rec.Status != metrics.AnomalyPending {
		return &metrics.InvalidStateError{AnomalyID: id, Current: rec.Status, Requested: status}
	}

	now := time.Now().UTC()
	rec.Status = status
	rec.ObservedValue = &observed
	rec.ResolvedAt = &now
	m.byID[id] = rec
	return nil
}

func (m *MemoryAnomalies) List(_ context.Context) ([]metrics.AnomalyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]metrics.AnomalyRecord, 0, len(m.order))
	// Newest first.
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.byID[m.order[i]])
	}
	return out, nil
}

// =============================================================================
// MEMORY BASELINE STORE - Write-once per phase
// =============================================================================

type MemoryBaselines struct {
	mu        sync.RWMutex
	baselines map[metrics.PhaseID]metrics.PhaseBaseline
}

func NewMemoryBaselines() *MemoryBaselines {
	return &MemoryBaselines{baselines: make(map[metrics.PhaseID]metrics.PhaseBaseline)}
}

func (m *MemoryBaselines) Save(_ context.Context, b metrics.PhaseBaseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.baselines[b.PhaseID]; exists {
		return metrics.ErrBaselineExists
	}
	m.baselines[b.PhaseID] = cloneBaseline(b)
	return nil
}

func (m *MemoryBaselines) Get(_ context.Context, phaseID metrics.PhaseID) (*metrics.PhaseBaseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.baselines[phaseID]
	if !ok {
		return nil, nil
	}
	out := cloneBaseline(b)
	return &out, nil
}

func (m *MemoryBaselines) List(_ context.Context) ([]metrics.PhaseBaseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]metrics.PhaseBaseline, 0, len(m.baselines))
	for _, b := range m.baselines {
		out = append(out, cloneBaseline(b))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TransitionDate.Before(out[j].TransitionDate)
	})
	return out, nil
}

func cloneBaseline(b metrics.PhaseBaseline) metrics.PhaseBaseline {
	out := b
	out.BaselineMetrics = make(map[string]metrics.Measurement, len(b.BaselineMetrics))
	for k, v := range b.BaselineMetrics {
		out.BaselineMetrics[k] = v
	}
	return out
}
