/*
store.go - Persistence interfaces for canonical metric state

PURPOSE:
  Defines the interface between the engine and its durable form. The
  MetricStore is the single source of truth for "current" state; everything
  else (anomalies, baselines) hangs off it. Different implementations can
  use SQLite or in-memory storage.

KEY INTERFACES:
  MetricStore:   Canonical records with compare-and-swap writes
  AnomalyStore:  Append-only anomaly records with one status transition
  BaselineStore: Write-once phase baselines

COMPARE-AND-SWAP CONTRACT:
  Put(record, expectedRevision) succeeds only when the stored revision still
  equals expectedRevision (0 = record must not exist yet). On mismatch it
  returns ErrConcurrentModification and the merge engine re-reads and
  retries. This keeps concurrent ingestion non-blocking with no lost
  updates and no global lock.

APPEND-ONLY ANOMALIES:
  AnomalyStore has no delete. A pending anomaly transitions status exactly
  once (verified or rejected); the record itself stays forever as audit
  trail.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite (WAL)
  - metrics/store/memory.go: In-memory for testing/dev

SEE ALSO:
  - merge.go: The only writer of MetricStore
  - anomaly.go: Detector and verification workflow over AnomalyStore
  - baseline.go: Phase manager over BaselineStore
*/
package metrics

import "context"

// =============================================================================
// METRIC STORE - Canonical records, optimistic writes
// =============================================================================

// MetricStore persists canonical metric records.
//
// INVARIANTS:
//   - At most one record per MetricKey.
//   - Writes are compare-and-swap on Revision; no in-place blind updates.
//   - Reads made after a successful Put observe that Put (read-after-write
//     within a process).
type MetricStore interface {
	// Get returns the record for key, or nil if none exists.
	Get(ctx context.Context, key MetricKey) (*MetricRecord, error)

	// Put writes rec if the stored revision still equals expectedRevision.
	// expectedRevision 0 means "create": fails if the key already exists.
	// On success the stored revision becomes expectedRevision+1.
	// Returns ErrConcurrentModification when the swap loses the race.
	Put(ctx context.Context, rec MetricRecord, expectedRevision int64) error

	// List returns all records, ordered by (userID, metricName, date).
	List(ctx context.Context) ([]MetricRecord, error)

	// ListByCategory returns all records in a category, same ordering.
	ListByCategory(ctx context.Context, category Category) ([]MetricRecord, error)

	// ListByMetric returns one user's records for a metric, date ascending.
	ListByMetric(ctx context.Context, userID UserID, metricName string) ([]MetricRecord, error)
}

// =============================================================================
// ANOMALY STORE - Append-only with one status transition
// =============================================================================

type AnomalyStore interface {
	// Append adds a new pending anomaly. Never overwrites.
	Append(ctx context.Context, rec AnomalyRecord) error

	// Get returns the anomaly, or nil if unknown.
	Get(ctx context.Context, id AnomalyID) (*AnomalyRecord, error)

	// Resolve records the single pending->terminal transition, storing the
	// human-observed value alongside. Implementations only update the
	// verification fields; detection fields are immutable.
	Resolve(ctx context.Context, id AnomalyID, observed Measurement, status AnomalyStatus) error

	// List returns all anomalies (any status), newest first.
	List(ctx context.Context) ([]AnomalyRecord, error)
}

// =============================================================================
// BASELINE STORE - Write-once per phase
// =============================================================================

type BaselineStore interface {
	// Save stores a baseline. Returns ErrBaselineExists if the phase
	// already has one; the stored baseline is never replaced.
	Save(ctx context.Context, b PhaseBaseline) error

	// Get returns the baseline for a phase, or nil if none exists.
	Get(ctx context.Context, phaseID PhaseID) (*PhaseBaseline, error)

	// List returns all baselines, transition date ascending.
	List(ctx context.Context) ([]PhaseBaseline, error)
}
