/*
errors.go - Centralized error types for the metrics engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (wellness, engine, api) wrap these with added context.

ERROR CATEGORIES:
  1. Ingestion errors  - Malformed payloads (whole batch rejected)
  2. Merge errors      - Optimistic-concurrency conflicts, policy diagnostics
  3. Lookup errors     - Unknown anomaly or phase ids
  4. State errors      - Illegal anomaly status transitions
  5. Transport errors  - Peer bus unavailable (recoverable, never fatal)

USAGE:
  if errors.Is(err, metrics.ErrConcurrentModification) {
      // safe to retry the read-merge-write loop
  }

SEE ALSO:
  - merge.go: Retries on ErrConcurrentModification
  - anomaly.go: Returns ErrNotFound / ErrInvalidState on verification
*/
package metrics

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when an ingestion batch contains a malformed
	// record. The whole batch is rejected; nothing is partially applied.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for unknown anomaly or phase ids.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when verifying an anomaly that is already
	// in a terminal state. Status transitions are monotonic.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrMergeConflict marks a same-key value disagreement between sources.
	// It is a diagnostic: the conflict policy resolves it automatically and
	// the merge call still succeeds.
	ErrMergeConflict = errors.New("merge conflict resolved by policy")

	// ErrConcurrentModification is returned by stores when a compare-and-swap
	// write loses the race. The merge loop retries on it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrBaselineExists is returned by baseline stores when a phase already
	// has a baseline. The phase manager treats it as an idempotent no-op.
	ErrBaselineExists = errors.New("baseline already exists for phase")

	// ErrTransportUnavailable is returned when the peer bus cannot deliver.
	// Recoverable: the engine falls back to the offline cache.
	ErrTransportUnavailable = errors.New("sync transport unavailable")

	// ErrRetriesExhausted is returned when the optimistic merge loop gives up.
	ErrRetriesExhausted = errors.New("merge retries exhausted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError identifies the offending record in a rejected batch.
type ValidationError struct {
	Category Category
	Index    int
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s record %d, field %q: %s",
		e.Category, e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies which lookup failed.
type NotFoundError struct {
	Kind string // "anomaly", "phase", "metric"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError describes an illegal anomaly status transition.
type InvalidStateError struct {
	AnomalyID AnomalyID
	Current   AnomalyStatus
	Requested AnomalyStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("anomaly %s is %s; cannot transition to %s",
		e.AnomalyID, e.Current, e.Requested)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRecoverable returns true for connectivity errors the engine absorbs by
// falling back to the offline cache.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrTransportUnavailable)
}
