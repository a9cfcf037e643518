package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoamart/shelflife/engine"
	"github.com/yoamart/shelflife/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type ledgerFixture struct {
	store  *store.Memory
	ledger *engine.ActionLedger
	clock  engine.FixedClock
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	mem := store.NewMemory()
	clock := engine.FixedClock{At: noon}
	return &ledgerFixture{
		store:  mem,
		ledger: engine.NewActionLedger(mem, clock),
		clock:  clock,
	}
}

// seed creates a batch expiring daysLeft days out with the given stock.
func (f *ledgerFixture) seed(t *testing.T, daysLeft, quantity int) engine.Batch {
	t.Helper()
	b := testBatch(daysLeft, quantity)
	b.ID = engine.NewBatchID()
	b.QuantityTotal = quantity
	require.NoError(t, f.store.CreateBatch(context.Background(), b))
	return b
}

func (f *ledgerFixture) seedAlert(t *testing.T, batchID engine.BatchID, at engine.AlertType) engine.Alert {
	t.Helper()
	a := openAlert(batchID, at)
	require.NoError(t, f.store.CreateAlert(context.Background(), a))
	return a
}

// =============================================================================
// CONSUMPTION
// =============================================================================

func TestApply_Disposal_SubtractsQuantity(t *testing.T) {
	// GIVEN: 100 units available
	// WHEN: Disposing 30
	// THEN: 70 remain, the action is recorded, version advanced

	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	result, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 30,
		PerformedBy:      "amaka",
	})
	require.NoError(t, err)

	assert.Equal(t, 70, result.Batch.QuantityAvailable)
	assert.Equal(t, 100, result.Batch.QuantityTotal)
	assert.Equal(t, b.Version+1, result.Batch.Version)
	assert.Equal(t, engine.ActionDisposed, result.Action.ActionType)
	assert.Equal(t, "amaka", result.Action.PerformedBy)

	stored, err := f.store.GetBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, stored.QuantityAvailable)
}

func TestApply_OverConsumption_Rejected(t *testing.T) {
	// GIVEN: 10 units available
	// WHEN: Disposing 11
	// THEN: InvalidQuantity; nothing changed, no action recorded

	f := newLedgerFixture(t)
	b := f.seed(t, 30, 10)

	_, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 11,
		PerformedBy:      "amaka",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvalidQuantity)
	assert.False(t, engine.IsRetryable(err))

	stored, _ := f.store.GetBatch(context.Background(), b.ID)
	assert.Equal(t, 10, stored.QuantityAvailable)
	actions, total, _ := f.store.ListActions(context.Background(), engine.ActionFilter{BatchID: &b.ID}, engine.Page{})
	assert.Empty(t, actions)
	assert.Zero(t, total)
}

func TestApply_DisposeToZero_TerminalStatus(t *testing.T) {
	f := newLedgerFixture(t)
	b := f.seed(t, 30, 25)

	result, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 25,
		PerformedBy:      "amaka",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Batch.QuantityAvailable)
	assert.Equal(t, engine.StatusDisposedReturned, result.Batch.Status)
}

func TestApply_RemoveFromShelfToZero_RemovedStatus(t *testing.T) {
	// GIVEN: Stock fully taken off the shelf (not binned, not returned)
	// THEN: REMOVED, the other terminal state

	f := newLedgerFixture(t)
	b := f.seed(t, 30, 25)

	result, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionRemovedFromShelf,
		QuantityAffected: 25,
		PerformedBy:      "chidi",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRemoved, result.Batch.Status)
}

func TestApply_PartialConsumption_StatusReflectsDates(t *testing.T) {
	// GIVEN: A batch 5 days out
	// WHEN: Removing part of it
	// THEN: Status re-derives to NEAR_EXPIRY, not terminal

	f := newLedgerFixture(t)
	b := f.seed(t, 5, 100)

	result, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionRemovedFromShelf,
		QuantityAffected: 40,
		PerformedBy:      "chidi",
	})
	require.NoError(t, err)
	assert.Equal(t, 60, result.Batch.QuantityAvailable)
	assert.Equal(t, engine.StatusNearExpiry, result.Batch.Status)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestApply_UnknownActionType_Rejected(t *testing.T) {
	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	_, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       "SOLD",
		QuantityAffected: 1,
		PerformedBy:      "amaka",
	})
	assert.ErrorIs(t, err, engine.ErrInvalidActionType)
}

func TestApply_EmptyActor_Rejected(t *testing.T) {
	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	_, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 1,
	})
	assert.ErrorIs(t, err, engine.ErrInvalidActor)
}

func TestApply_ZeroQuantityConsumingAction_Rejected(t *testing.T) {
	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	_, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 0,
		PerformedBy:      "amaka",
	})
	assert.ErrorIs(t, err, engine.ErrInvalidQuantity)
}

func TestApply_MissingBatch_NotFound(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          "batch-nope",
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 1,
		PerformedBy:      "amaka",
	})
	assert.ErrorIs(t, err, engine.ErrBatchNotFound)
}

// =============================================================================
// RECOUNT SEMANTICS
// =============================================================================

func TestActionType_Consumes(t *testing.T) {
	// RECOUNTED corrects the count; every other type subtracts.
	assert.True(t, engine.ActionDisposed.Consumes())
	assert.True(t, engine.ActionReturnedToSupplier.Consumes())
	assert.True(t, engine.ActionRemovedFromShelf.Consumes())
	assert.False(t, engine.ActionRecounted.Consumes())
}

func TestApply_RecountSets_CorrectsAvailable(t *testing.T) {
	// GIVEN: Default RecountSets semantics, 100 on the books
	// WHEN: A recount finds 85
	// THEN: Available becomes 85 exactly

	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	result, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionRecounted,
		QuantityAffected: 85,
		PerformedBy:      "chidi",
	})
	require.NoError(t, err)
	assert.Equal(t, 85, result.Batch.QuantityAvailable)
}

func TestApply_RecountSets_ToZero_Allowed(t *testing.T) {
	// A shelf can genuinely be empty when counted.
	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	result, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionRecounted,
		QuantityAffected: 0,
		PerformedBy:      "chidi",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Batch.QuantityAvailable)
	assert.Equal(t, engine.StatusDisposedReturned, result.Batch.Status)
}

func TestApply_RecountSets_AboveTotal_Rejected(t *testing.T) {
	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	_, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionRecounted,
		QuantityAffected: 120,
		PerformedBy:      "chidi",
	})
	assert.ErrorIs(t, err, engine.ErrInvalidQuantity)
}

func TestApply_RecountConsumes_Subtracts(t *testing.T) {
	// GIVEN: The alternative RecountConsumes semantics
	// WHEN: Recounting 15
	// THEN: 15 is subtracted like any consuming action

	f := newLedgerFixture(t)
	f.ledger.Recount = engine.RecountConsumes
	b := f.seed(t, 30, 100)

	result, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionRecounted,
		QuantityAffected: 15,
		PerformedBy:      "chidi",
	})
	require.NoError(t, err)
	assert.Equal(t, 85, result.Batch.QuantityAvailable)
}

// =============================================================================
// ALERT RESOLUTION
// =============================================================================

func TestApply_WithAlert_ClosesItAtomically(t *testing.T) {
	// GIVEN: An open NEAR_EXPIRY alert on the batch
	// WHEN: Disposing with the alert referenced
	// THEN: The alert closes as resolved_by_action in the same operation

	f := newLedgerFixture(t)
	b := f.seed(t, 5, 100)
	a := f.seedAlert(t, b.ID, engine.AlertNearExpiry)

	result, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 100,
		PerformedBy:      "amaka",
		AlertID:          a.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, result.ClosedAlert)
	assert.Equal(t, engine.ResolutionByAction, result.ClosedAlert.Resolution)

	stored, err := f.store.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, stored.Open())
}

func TestApply_AlertFromDifferentBatch_Rejected(t *testing.T) {
	f := newLedgerFixture(t)
	b1 := f.seed(t, 5, 100)
	b2 := f.seed(t, 5, 100)
	a := f.seedAlert(t, b2.ID, engine.AlertNearExpiry)

	_, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b1.ID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 10,
		PerformedBy:      "amaka",
		AlertID:          a.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrAlertMismatch)

	// The batch must be untouched.
	stored, _ := f.store.GetBatch(context.Background(), b1.ID)
	assert.Equal(t, 100, stored.QuantityAvailable)
}

func TestApply_ClosedAlertReference_Rejected(t *testing.T) {
	f := newLedgerFixture(t)
	b := f.seed(t, 5, 100)
	a := f.seedAlert(t, b.ID, engine.AlertNearExpiry)
	require.NoError(t, f.store.CloseAlert(context.Background(), a.ID, engine.ResolutionBatchTerminal))

	_, err := f.ledger.Apply(context.Background(), engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 10,
		PerformedBy:      "amaka",
		AlertID:          a.ID,
	})
	assert.ErrorIs(t, err, engine.ErrAlertMismatch)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestApply_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	// GIVEN: An action already applied with key "k-1"
	// WHEN: Replaying the same key
	// THEN: Rejected without double-applying

	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	in := engine.ApplyInput{
		BatchID:          b.ID,
		ActionType:       engine.ActionDisposed,
		QuantityAffected: 10,
		PerformedBy:      "amaka",
		IdempotencyKey:   "k-1",
	}
	_, err := f.ledger.Apply(context.Background(), in)
	require.NoError(t, err)

	_, err = f.ledger.Apply(context.Background(), in)
	assert.ErrorIs(t, err, engine.ErrDuplicateIdempotencyKey)

	stored, _ := f.store.GetBatch(context.Background(), b.ID)
	assert.Equal(t, 90, stored.QuantityAvailable)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestApply_ConcurrentOverlappingActions_ExactlyOneWins(t *testing.T) {
	// GIVEN: 100 available and two staff each disposing 60 concurrently
	// THEN: Exactly one succeeds; the loser revalidates against the
	//       fresh 40 and fails with InvalidQuantity. Never -20.

	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.ledger.Apply(context.Background(), engine.ApplyInput{
				BatchID:          b.ID,
				ActionType:       engine.ActionDisposed,
				QuantityAffected: 60,
				PerformedBy:      "staff",
			})
		}()
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, engine.ErrInvalidQuantity)
		}
	}
	assert.Equal(t, 1, successes)

	stored, _ := f.store.GetBatch(context.Background(), b.ID)
	assert.Equal(t, 40, stored.QuantityAvailable)
	assert.GreaterOrEqual(t, stored.QuantityAvailable, 0)
}

func TestApply_StaleVersion_ConflictIsRetryable(t *testing.T) {
	// GIVEN: A write guarded by an outdated version token
	// THEN: The store reports a retryable conflict

	f := newLedgerFixture(t)
	b := f.seed(t, 30, 100)

	stale := b
	stale.QuantityAvailable = 50
	err := f.store.UpdateBatchGuarded(context.Background(), stale, b.Version+5)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrConflict)
	assert.True(t, engine.IsRetryable(err))

	var conflict *engine.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, b.ID, conflict.BatchID)
}
