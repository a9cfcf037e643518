/*
store.go - Persistence interfaces for batches, alerts, actions, rules

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never talks SQL; it talks these interfaces. Different implementations
  can use SQLite or in-memory storage.

GUARDED WRITES:
  Batch mutation goes through UpdateBatchGuarded, which compares the
  caller's observed Version and fails with ErrConflict when it no longer
  matches. That is the whole per-batch serialization discipline: at most
  one successful mutation proceeds at a time per batch id, with no
  process-level per-id mutexes. Retrying is the CALLER's job (bounded,
  with fresh state) - stores never retry internally.

APPEND-ONLY CONTRACT:
  ActionStore has no Update or Delete. Actions are the audit trail;
  corrections happen as new actions (a RECOUNTED entry), never edits.

OPEN-ALERT UNIQUENESS:
  CreateAlert fails with ErrDuplicateOpenAlert when an open alert for
  the same (batch, type) already exists. The constraint lives in the
  store (a partial unique index in SQLite) so it holds even under
  concurrent evaluator runs.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - actions.go: Drives WithTx + UpdateBatchGuarded
  - alerts.go: Produces the diffs these interfaces persist
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS AND PAGINATION
// =============================================================================

// Page is a 1-based page request. Limit <= 0 means no limit.
type Page struct {
	Page  int
	Limit int
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	Status    *Status
	ProductID *ProductID
	// Exclude terminal batches (the evaluator's working set).
	ActiveOnly bool
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	BatchID      *BatchID
	AlertType    *AlertType
	OpenOnly     bool
	Acknowledged *bool
}

// ActionFilter narrows action listings.
type ActionFilter struct {
	BatchID    *BatchID
	ActionType *ActionType
}

// =============================================================================
// STORES
// =============================================================================

// BatchStore persists batches with a conditional update for mutation.
type BatchStore interface {
	CreateBatch(ctx context.Context, b Batch) error
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)
	ListBatches(ctx context.Context, filter BatchFilter, page Page) ([]Batch, int, error)

	// UpdateBatchGuarded writes quantity and status if and only if the
	// stored version equals expectedVersion, then increments the
	// version. Returns ErrConflict (as *ConflictError) on mismatch.
	UpdateBatchGuarded(ctx context.Context, b Batch, expectedVersion int) error
}

// AlertStore persists alerts and enforces the open-alert uniqueness
// constraint.
type AlertStore interface {
	// CreateAlert inserts an alert. Returns ErrDuplicateOpenAlert when
	// an open alert for the same (batch, type) exists.
	CreateAlert(ctx context.Context, a Alert) error
	GetAlert(ctx context.Context, id AlertID) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter, page Page) ([]Alert, int, error)

	// CloseAlert removes an open alert from the working set without
	// acknowledging it. No-op semantics: closing an already-closed alert
	// returns nil.
	CloseAlert(ctx context.Context, id AlertID, resolution Resolution) error

	// AcknowledgeAlert is a compare-and-set on the acknowledged flag.
	// Returns ErrAlreadyAcknowledged if the alert is acknowledged or
	// closed, ErrAlertNotFound if absent.
	AcknowledgeAlert(ctx context.Context, id AlertID, by string, at time.Time) (*Alert, error)
}

// ActionStore is the append-only audit trail.
type ActionStore interface {
	// AppendAction persists an action. Returns
	// ErrDuplicateIdempotencyKey when the key already exists.
	AppendAction(ctx context.Context, a Action) error
	ListActions(ctx context.Context, filter ActionFilter, page Page) ([]Action, int, error)
	ActionExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// RuleStore persists alert rule configuration.
type RuleStore interface {
	SaveRule(ctx context.Context, r AlertRule) error
	GetRule(ctx context.Context, id RuleID) (*AlertRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]AlertRule, error)
	DeleteRule(ctx context.Context, id RuleID) error
}

// ProductStore persists the minimal catalog batches reference.
type ProductStore interface {
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]Product, error)
}

// RunStore records scheduler ticks for audit and UI display.
type RunStore interface {
	SaveRun(ctx context.Context, run EvaluationRun) error
	ListRuns(ctx context.Context, limit int) ([]EvaluationRun, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is everything the engine needs from persistence.
type Store interface {
	BatchStore
	AlertStore
	ActionStore
	RuleStore
	ProductStore
	RunStore

	// WithTx executes fn within a storage transaction. The batch update,
	// action append, and alert closure of a single staff operation go
	// through one WithTx call so no partial state is ever visible.
	// If fn returns an error the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// NOTIFICATION SINK - Optional collaborator
// =============================================================================

// Notifier is invoked after an alert is created. Delivery (email, SMS,
// message bus) is an external concern; failures are logged, never
// propagated into the evaluation tick.
type Notifier interface {
	AlertCreated(ctx context.Context, a Alert) error
}

// NopNotifier discards notifications. Used when no sink is configured.
type NopNotifier struct{}

func (NopNotifier) AlertCreated(context.Context, Alert) error { return nil }
