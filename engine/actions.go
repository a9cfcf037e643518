/*
actions.go - Validated, atomic application of staff actions

PURPOSE:
  The ActionLedger is the only writer of batch quantity. It validates a
  staff operation, mutates QuantityAvailable, re-derives status with the
  NEW quantity (so a disposal that zeroes the batch flips it to
  DISPOSED_RETURNED immediately, not at the next tick), appends the
  immutable Action record, and optionally closes the alert the action
  resolves - all inside one storage transaction.

VALIDATION (fails fast, no partial mutation):
  - batch must exist; all statuses accept actions (RECOUNTED and
    REMOVED_FROM_SHELF apply at any stage)
  - QuantityAffected > 0
  - consuming types (everything but RECOUNTED): QuantityAffected <=
    QuantityAvailable
  - RECOUNTED: see RECOUNT SEMANTICS below
  - AlertID, when supplied, must reference an OPEN alert on the SAME
    batch; the action then closes it as resolved-by-action (distinct
    from acknowledged-by-staff)

RECOUNT SEMANTICS:
  The observed form reuses one quantityAffected field for both "consume"
  and "correct" operations, which is ambiguous for RECOUNTED. Both
  readings are implemented behind RecountSemantics:

    RecountSets (default): QuantityAffected IS the corrected available
      count; must satisfy 0 <= QuantityAffected <= QuantityTotal.
      A physical recount states what is on the shelf.
    RecountConsumes: RECOUNTED behaves like the consuming types.

  The product decision is RecountSets; RecountConsumes stays selectable
  for deployments that treated recounts as shrinkage write-offs.

CONCURRENCY:
  Mutation goes through UpdateBatchGuarded (version compare-and-swap).
  On ErrConflict the ledger reloads the batch and revalidates, up to
  maxConflictRetries times, then surfaces the conflict to the caller.
  Two concurrent 60-unit disposals against 100 available therefore end
  with exactly one success: the loser revalidates against 40 and fails
  with InvalidQuantity.

SEE ALSO:
  - status.go: DeriveStatus, called with the post-action quantity
  - store.go: WithTx, UpdateBatchGuarded
*/
package engine

import (
	"context"
	"fmt"
)

// =============================================================================
// RECOUNT SEMANTICS
// =============================================================================

// RecountSemantics selects how RECOUNTED interprets QuantityAffected.
type RecountSemantics string

const (
	// RecountSets: QuantityAffected is the corrected available count.
	RecountSets RecountSemantics = "sets"
	// RecountConsumes: RECOUNTED subtracts like the consuming types.
	RecountConsumes RecountSemantics = "consumes"
)

// maxConflictRetries bounds automatic retries after losing an
// optimistic-concurrency race. Past this the Conflict surfaces to the
// caller as "please retry".
const maxConflictRetries = 3

// =============================================================================
// ACTION LEDGER
// =============================================================================

// ActionLedger applies staff actions against batches.
type ActionLedger struct {
	Store   Store
	Clock   Clock
	Recount RecountSemantics

	// OnConflictRetry, when set, is called once per version conflict
	// that triggers a retry. Used for instrumentation.
	OnConflictRetry func()
}

// NewActionLedger creates a ledger with the default RecountSets semantics.
func NewActionLedger(store Store, clock Clock) *ActionLedger {
	return &ActionLedger{Store: store, Clock: clock, Recount: RecountSets}
}

// ApplyInput is one staff operation.
type ApplyInput struct {
	BatchID          BatchID
	ActionType       ActionType
	QuantityAffected int
	PerformedBy      string
	Notes            string
	AlertID          AlertID // optional
	IdempotencyKey   string  // optional
}

// ActionResult is what a successful application produced.
type ActionResult struct {
	Action      Action
	Batch       Batch  // post-mutation state
	ClosedAlert *Alert // non-nil when the input referenced an alert
}

// Apply validates and applies one action atomically.
func (l *ActionLedger) Apply(ctx context.Context, in ApplyInput) (*ActionResult, error) {
	if !in.ActionType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidActionType, in.ActionType)
	}
	if in.PerformedBy == "" {
		return nil, fmt.Errorf("%w: performed_by", ErrInvalidActor)
	}
	if in.QuantityAffected <= 0 && !(!in.ActionType.Consumes() && l.Recount == RecountSets && in.QuantityAffected == 0) {
		// RECOUNTED-to-zero is a legitimate correction under RecountSets.
		return nil, &InvalidQuantityError{BatchID: in.BatchID, Requested: in.QuantityAffected, Reason: "must be positive"}
	}
	if in.IdempotencyKey != "" {
		exists, err := l.Store.ActionExists(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateIdempotencyKey
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		result, err := l.tryApply(ctx, in)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		if l.OnConflictRetry != nil {
			l.OnConflictRetry()
		}
		lastErr = err
	}
	return nil, lastErr
}

// tryApply runs one attempt against a fresh read of the batch.
func (l *ActionLedger) tryApply(ctx context.Context, in ApplyInput) (*ActionResult, error) {
	now := l.Clock.Now()

	batch, err := l.Store.GetBatch(ctx, in.BatchID)
	if err != nil {
		return nil, err
	}

	var alert *Alert
	if in.AlertID != "" {
		alert, err = l.Store.GetAlert(ctx, in.AlertID)
		if err != nil {
			return nil, err
		}
		if alert.BatchID != batch.ID {
			return nil, &AlertMismatchError{AlertID: alert.ID, AlertBatchID: alert.BatchID, BatchID: batch.ID, Reason: "different_batch"}
		}
		if !alert.Open() {
			return nil, &AlertMismatchError{AlertID: alert.ID, AlertBatchID: alert.BatchID, BatchID: batch.ID, Reason: "not_open"}
		}
	}

	newAvailable, err := l.newAvailable(*batch, in)
	if err != nil {
		return nil, err
	}
	if newAvailable < 0 || newAvailable > batch.QuantityTotal {
		// Unreachable if the checks above are complete.
		return nil, fmt.Errorf("%w: batch %s would hold %d of %d",
			ErrInvariantViolation, batch.ID, newAvailable, batch.QuantityTotal)
	}

	rules, err := l.Store.ListRules(ctx, true)
	if err != nil {
		return nil, err
	}

	updated := *batch
	updated.QuantityAvailable = newAvailable
	// Status follows the NEW quantity: zeroing the batch goes terminal now.
	updated.Status = DeriveStatus(updated, now, NearExpiryThreshold(rules))
	if in.ActionType == ActionRemovedFromShelf && newAvailable == 0 {
		updated.Status = StatusRemoved
	}
	updated.UpdatedAt = now

	action := Action{
		ID:               NewActionID(),
		BatchID:          batch.ID,
		AlertID:          in.AlertID,
		ActionType:       in.ActionType,
		QuantityAffected: in.QuantityAffected,
		PerformedBy:      in.PerformedBy,
		PerformedAt:      now,
		Notes:            in.Notes,
		IdempotencyKey:   in.IdempotencyKey,
		CreatedAt:        now,
	}

	err = l.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.UpdateBatchGuarded(ctx, updated, batch.Version); err != nil {
			return err
		}
		if err := tx.AppendAction(ctx, action); err != nil {
			return err
		}
		if alert != nil {
			if err := tx.CloseAlert(ctx, alert.ID, ResolutionByAction); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated.Version = batch.Version + 1
	result := &ActionResult{Action: action, Batch: updated}
	if alert != nil {
		closed := *alert
		closed.Closed = true
		closed.Resolution = ResolutionByAction
		result.ClosedAlert = &closed
	}
	return result, nil
}

// newAvailable computes the post-action available quantity.
func (l *ActionLedger) newAvailable(b Batch, in ApplyInput) (int, error) {
	if !in.ActionType.Consumes() && l.Recount == RecountSets {
		if in.QuantityAffected > b.QuantityTotal {
			return 0, &InvalidQuantityError{
				BatchID:   b.ID,
				Requested: in.QuantityAffected,
				Available: b.QuantityTotal,
				Reason:    "recount exceeds quantity_total",
			}
		}
		return in.QuantityAffected, nil
	}

	// Consuming path: REMOVED_FROM_SHELF, DISPOSED, RETURNED_TO_SUPPLIER,
	// OTHER, and RECOUNTED under RecountConsumes.
	if in.QuantityAffected > b.QuantityAvailable {
		return 0, &InvalidQuantityError{
			BatchID:   b.ID,
			Requested: in.QuantityAffected,
			Available: b.QuantityAvailable,
			Reason:    "exceeds available quantity",
		}
	}
	return b.QuantityAvailable - in.QuantityAffected, nil
}
