package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoamart/shelflife/engine"
	"github.com/yoamart/shelflife/engine/store"
)

func newAckFixture(t *testing.T) (*store.Memory, *engine.AcknowledgmentService) {
	t.Helper()
	mem := store.NewMemory()
	return mem, engine.NewAcknowledgmentService(mem, engine.FixedClock{At: noon})
}

func TestAcknowledge_RecordsActorAndTime(t *testing.T) {
	// GIVEN: An open alert
	// WHEN: Chidi acknowledges it
	// THEN: Acknowledged with who and when; the alert stays unresolved

	mem, svc := newAckFixture(t)
	a := openAlert("batch-1", engine.AlertNearExpiry)
	require.NoError(t, mem.CreateAlert(context.Background(), a))

	acked, err := svc.Acknowledge(context.Background(), a.ID, "chidi")
	require.NoError(t, err)

	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "chidi", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.Equal(t, noon, *acked.AcknowledgedAt)
	assert.False(t, acked.Closed)
}

func TestAcknowledge_Twice_Conflicts(t *testing.T) {
	// Acknowledgment is one-way; a replay must not overwrite who/when.
	mem, svc := newAckFixture(t)
	a := openAlert("batch-1", engine.AlertNearExpiry)
	require.NoError(t, mem.CreateAlert(context.Background(), a))

	_, err := svc.Acknowledge(context.Background(), a.ID, "chidi")
	require.NoError(t, err)

	_, err = svc.Acknowledge(context.Background(), a.ID, "amaka")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrAlreadyAcknowledged)
	assert.True(t, engine.IsConflict(err))

	stored, err := mem.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "chidi", stored.AcknowledgedBy)
}

func TestAcknowledge_ClosedAlert_Conflicts(t *testing.T) {
	mem, svc := newAckFixture(t)
	a := openAlert("batch-1", engine.AlertExpired)
	require.NoError(t, mem.CreateAlert(context.Background(), a))
	require.NoError(t, mem.CloseAlert(context.Background(), a.ID, engine.ResolutionBatchTerminal))

	_, err := svc.Acknowledge(context.Background(), a.ID, "chidi")
	assert.ErrorIs(t, err, engine.ErrAlreadyAcknowledged)
}

func TestAcknowledge_EmptyActor_Rejected(t *testing.T) {
	mem, svc := newAckFixture(t)
	a := openAlert("batch-1", engine.AlertNearExpiry)
	require.NoError(t, mem.CreateAlert(context.Background(), a))

	_, err := svc.Acknowledge(context.Background(), a.ID, "")
	assert.ErrorIs(t, err, engine.ErrInvalidActor)
}

func TestAcknowledge_MissingAlert_NotFound(t *testing.T) {
	_, svc := newAckFixture(t)

	_, err := svc.Acknowledge(context.Background(), "alert-nope", "chidi")
	assert.ErrorIs(t, err, engine.ErrAlertNotFound)
}
