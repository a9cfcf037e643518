/*
Package engine provides the core batch lifecycle and alert engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking
  perishable stock: batches with shelf-life windows, the status
  derivation that classifies them, the rule-driven expiry alerts, and
  the audited staff actions that consume or correct quantity.

KEY CONCEPTS IN THIS FILE (types.go):
  - Batch: A tracked quantity of one product with a shelf-life window
  - Alert: A notification that a batch crossed an expiry threshold
  - Action: An immutable audit record of a staff operation on a batch
  - AlertRule: A configurable days-before-expiry threshold

DESIGN PRINCIPLES:
  1. Derived status: Status is a cached pure derivation, never set ad hoc
  2. Immutability: Actions are append-only; QuantityTotal is fixed
  3. Optimistic concurrency: Batch carries a Version token for guarded writes
  4. Auditability: Every quantity change has an Action with actor and reason

USAGE:
  batch := engine.Batch{
      ID:                engine.NewBatchID(),
      ProductID:         "prod-7",
      ProductionDate:    prodDate,
      ExpiryDate:        expDate,
      QuantityTotal:     100,
      QuantityAvailable: 100,
      Status:            engine.StatusActive,
  }

SEE ALSO:
  - status.go: Pure status derivation
  - alerts.go: Alert rule evaluation and deduplication
  - actions.go: Validated, atomic action application
*/
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BatchID string
type ProductID string
type AlertID string
type ActionID string
type RuleID string

func NewBatchID() BatchID     { return BatchID("batch-" + uuid.NewString()) }
func NewProductID() ProductID { return ProductID("prod-" + uuid.NewString()) }
func NewAlertID() AlertID     { return AlertID("alert-" + uuid.NewString()) }
func NewActionID() ActionID   { return ActionID("action-" + uuid.NewString()) }
func NewRuleID() RuleID       { return RuleID("rule-" + uuid.NewString()) }

// =============================================================================
// STATUS - Derived classification of a batch
// =============================================================================

// Status classifies a batch. It is a cached derivation (see status.go),
// not a freely settable field. REMOVED and DISPOSED_RETURNED are terminal
// and are only ever set through actions.
type Status string

const (
	StatusActive           Status = "ACTIVE"
	StatusNearExpiry       Status = "NEAR_EXPIRY"
	StatusExpired          Status = "EXPIRED"
	StatusRemoved          Status = "REMOVED"
	StatusDisposedReturned Status = "DISPOSED_RETURNED"
)

// IsTerminal reports whether the status is final. Terminal statuses are
// never overwritten by date-based derivation.
func (s Status) IsTerminal() bool {
	return s == StatusRemoved || s == StatusDisposedReturned
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusNearExpiry, StatusExpired, StatusRemoved, StatusDisposedReturned:
		return true
	}
	return false
}

// =============================================================================
// BATCH - Aggregate root
// =============================================================================

// Batch is a tracked quantity of a single product sharing one expiry window.
//
// INVARIANTS:
//   - ProductionDate < ExpiryDate
//   - 0 <= QuantityAvailable <= QuantityTotal
//   - QuantityTotal is immutable after creation
//
// Version is the optimistic concurrency token: every guarded write
// compares it and increments it, so two racing mutations cannot both
// apply against the same observed state.
type Batch struct {
	ID                BatchID
	ProductID         ProductID
	ProductionDate    time.Time
	ExpiryDate        time.Time
	QuantityTotal     int
	QuantityAvailable int
	Status            Status
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate checks creation-time invariants.
func (b Batch) Validate() error {
	if b.ProductID == "" {
		return ErrProductNotFound
	}
	if !b.ProductionDate.Before(b.ExpiryDate) {
		return &InvalidDatesError{ProductionDate: b.ProductionDate, ExpiryDate: b.ExpiryDate}
	}
	if b.QuantityTotal <= 0 {
		return &InvalidQuantityError{Requested: b.QuantityTotal, Reason: "quantity_total must be positive"}
	}
	if b.QuantityAvailable < 0 || b.QuantityAvailable > b.QuantityTotal {
		return &InvalidQuantityError{
			Requested: b.QuantityAvailable,
			Available: b.QuantityTotal,
			Reason:    "quantity_available outside [0, quantity_total]",
		}
	}
	return nil
}

// DaysLeft returns whole calendar days until expiry, midnight-to-midnight.
// Zero means the batch expires today; negative means already expired.
func (b Batch) DaysLeft(now time.Time) int {
	return DaysUntil(now, b.ExpiryDate)
}

// =============================================================================
// PRODUCT - Catalog reference (owned externally, read by the engine)
// =============================================================================

// Product is the catalog entry a batch points at. Many batches reference
// one product; deleting a product is a catalog concern, not ours.
type Product struct {
	ID        ProductID
	Name      string
	Price     decimal.Decimal
	Unit      string
	Active    bool
	CreatedAt time.Time
}

// =============================================================================
// ALERT RULE - Configurable days-before-expiry threshold
// =============================================================================

// AlertRule fires when a batch is within DaysBeforeExpiry days of its
// expiry date. Rules are read-only input to the evaluator; an implicit
// always-on rule covers already-expired batches (see alerts.go).
type AlertRule struct {
	ID               RuleID
	RuleName         string
	DaysBeforeExpiry int
	Active           bool
	CreatedAt        time.Time
}

// =============================================================================
// ALERT - A batch crossed a threshold
// =============================================================================

// AlertType labels what condition an alert monitors.
type AlertType string

const (
	AlertNearExpiry AlertType = "NEAR_EXPIRY"
	AlertExpired    AlertType = "EXPIRED"
)

// Resolution records why an alert left the open set.
type Resolution string

const (
	ResolutionAcknowledged  Resolution = "acknowledged"
	ResolutionByAction      Resolution = "resolved_by_action"
	ResolutionBatchTerminal Resolution = "batch_terminal"
)

// Alert is a system-generated notice that a batch crossed an expiry
// threshold.
//
// INVARIANT: at most one OPEN alert per (BatchID, AlertType). The open
// set is enforced by the store's uniqueness constraint, not by
// check-then-create in the evaluator.
type Alert struct {
	ID        AlertID
	BatchID   BatchID
	RuleID    RuleID // empty for the implicit EXPIRED rule
	AlertType AlertType
	AlertDate time.Time

	// Acknowledged fields are set together or not at all.
	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *time.Time

	// Closed marks alerts removed from the open set without staff
	// acknowledgment (resolved by an action, or batch went terminal).
	Closed     bool
	Resolution Resolution

	CreatedAt time.Time
}

// Open reports whether the alert is still in the working set.
func (a Alert) Open() bool { return !a.Acknowledged && !a.Closed }

// =============================================================================
// ACTION - Immutable audit record of a staff operation
// =============================================================================

// ActionType enumerates staff operations on a batch.
type ActionType string

const (
	ActionRemovedFromShelf   ActionType = "REMOVED_FROM_SHELF"
	ActionDisposed           ActionType = "DISPOSED"
	ActionReturnedToSupplier ActionType = "RETURNED_TO_SUPPLIER"
	ActionRecounted          ActionType = "RECOUNTED"
	ActionOther              ActionType = "OTHER"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionRemovedFromShelf, ActionDisposed, ActionReturnedToSupplier, ActionRecounted, ActionOther:
		return true
	}
	return false
}

// Consumes reports whether the action subtracts from QuantityAvailable.
// RECOUNTED is the exception: it corrects the count (see actions.go).
func (t ActionType) Consumes() bool { return t != ActionRecounted }

// Action is the source-of-truth audit trail entry. Created once, never
// mutated or deleted.
type Action struct {
	ID               ActionID
	BatchID          BatchID
	AlertID          AlertID // optional: the alert this action resolves
	ActionType       ActionType
	QuantityAffected int
	PerformedBy      string
	PerformedAt      time.Time
	Notes            string
	IdempotencyKey   string
	CreatedAt        time.Time
}

// =============================================================================
// EVALUATION RUN - Audit of a scheduler tick
// =============================================================================

// EvaluationRun records one pass of the batch status + alert evaluation
// tick, for audit and UI display.
type EvaluationRun struct {
	ID             string
	StartedAt      time.Time
	CompletedAt    *time.Time
	Status         string // "running", "completed", "failed"
	BatchesChecked int
	AlertsCreated  int
	AlertsClosed   int
	StatusChanges  int
	Error          string
}
