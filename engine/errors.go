/*
errors.go - Centralized error types for the batch engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (API layer, scheduler) classify errors with the helpers at the
  bottom instead of matching strings.

ERROR CATEGORIES:
  1. NotFound    - referenced batch/alert/rule/product absent
  2. InvalidInput - bad quantities, empty actors, malformed date ordering
  3. Conflict    - optimistic-concurrency loss, already-acknowledged,
                   duplicate open alert
  4. InvariantViolation - would break quantity bounds; should be
                   unreachable if input checks are complete

USAGE:
  if errors.Is(err, engine.ErrConflict) {
      // transient race: reload fresh state and retry a bounded number
      // of times, or surface "please retry"
  }

SEE ALSO:
  - actions.go: Produces most of these
  - api/handlers.go: Maps them to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBatchNotFound is returned when a referenced batch doesn't exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrAlertNotFound is returned when a referenced alert doesn't exist.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrRuleNotFound is returned when a referenced alert rule doesn't exist.
	ErrRuleNotFound = errors.New("alert rule not found")

	// ErrProductNotFound is returned when a referenced product doesn't exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrInvalidQuantity is returned when a quantity is non-positive,
	// exceeds what is available, or would leave the batch out of bounds.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidActionType is returned for unknown action types.
	ErrInvalidActionType = errors.New("invalid action type")

	// ErrInvalidDates is returned when production date is not strictly
	// before expiry date.
	ErrInvalidDates = errors.New("production date must be before expiry date")

	// ErrInvalidActor is returned when performedBy/acknowledgedBy is empty.
	ErrInvalidActor = errors.New("actor must not be empty")

	// ErrConflict is returned when an optimistic-concurrency write loses
	// the race. Transient: callers may retry with fresh state.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrAlreadyAcknowledged is returned when acknowledging an alert that
	// is already acknowledged or closed. Acknowledgment is one-way.
	ErrAlreadyAcknowledged = errors.New("alert already acknowledged")

	// ErrAlertMismatch is returned when an action references an alert
	// belonging to a different batch, or one that is no longer open.
	ErrAlertMismatch = errors.New("alert does not match batch or is not open")

	// ErrDuplicateOpenAlert is returned by stores when creating an alert
	// would violate the one-open-alert-per-(batch,type) constraint.
	// Expected during concurrent evaluator runs; the losing creation is
	// simply dropped.
	ErrDuplicateOpenAlert = errors.New("open alert already exists for batch and type")

	// ErrDuplicateIdempotencyKey is returned when an action with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvariantViolation signals a quantity-bounds break that slipped
	// past validation. Treated as an internal error, not a client error.
	ErrInvariantViolation = errors.New("quantity invariant violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidQuantityError provides details about a quantity rejection.
type InvalidQuantityError struct {
	BatchID   BatchID
	Requested int
	Available int
	Reason    string
}

func (e *InvalidQuantityError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid quantity %d: %s", e.Requested, e.Reason)
	}
	return fmt.Sprintf("invalid quantity: requested %d, available %d", e.Requested, e.Available)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// InvalidDatesError provides details about a date-ordering rejection.
type InvalidDatesError struct {
	ProductionDate time.Time
	ExpiryDate     time.Time
}

func (e *InvalidDatesError) Error() string {
	return fmt.Sprintf("production date %s is not before expiry date %s",
		e.ProductionDate.Format("2006-01-02"), e.ExpiryDate.Format("2006-01-02"))
}

func (e *InvalidDatesError) Unwrap() error { return ErrInvalidDates }

// AlertMismatchError explains why an action's alert reference was rejected.
type AlertMismatchError struct {
	AlertID      AlertID
	AlertBatchID BatchID
	BatchID      BatchID
	Reason       string // "different_batch" or "not_open"
}

func (e *AlertMismatchError) Error() string {
	return fmt.Sprintf("alert %s: %s (alert batch %s, action batch %s)",
		e.AlertID, e.Reason, e.AlertBatchID, e.BatchID)
}

func (e *AlertMismatchError) Unwrap() error { return ErrAlertMismatch }

// ConflictError reports which batch lost an optimistic write and at
// which version, so callers can log and reload.
type ConflictError struct {
	BatchID         BatchID
	ExpectedVersion int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("batch %s: concurrent modification (expected version %d)", e.BatchID, e.ExpectedVersion)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with
// fresh state. Only concurrency conflicts qualify; invalid input and
// missing references are caller errors, not transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidActionType) ||
		errors.Is(err, ErrInvalidDates) ||
		errors.Is(err, ErrInvalidActor) ||
		errors.Is(err, ErrAlertMismatch) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsConflict returns true for the conflict class: concurrent-mutation
// loss and one-way transitions replayed.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyAcknowledged)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound) ||
		errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrProductNotFound)
}
