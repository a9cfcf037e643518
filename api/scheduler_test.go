package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoamart/shelflife/api"
	"github.com/yoamart/shelflife/engine"
	"github.com/yoamart/shelflife/engine/store"
)

// recordingNotifier captures alert notifications for assertions.
type recordingNotifier struct {
	alerts []engine.Alert
}

func (n *recordingNotifier) AlertCreated(_ context.Context, a engine.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

type schedulerFixture struct {
	store     *store.Memory
	scheduler *api.EvaluationScheduler
	notifier  *recordingNotifier
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	mem := store.NewMemory()
	n := &recordingNotifier{}
	s := api.NewEvaluationScheduler(mem, engine.FixedClock{At: apiNow}, n, zerolog.Nop())
	return &schedulerFixture{store: mem, scheduler: s, notifier: n}
}

func (f *schedulerFixture) seedRule(t *testing.T, days int) engine.AlertRule {
	t.Helper()
	rule := engine.AlertRule{
		ID:               engine.NewRuleID(),
		RuleName:         "warning",
		DaysBeforeExpiry: days,
		Active:           true,
		CreatedAt:        apiNow,
	}
	require.NoError(t, f.store.SaveRule(context.Background(), rule))
	return rule
}

func (f *schedulerFixture) seedBatch(t *testing.T, daysLeft, quantity int, status engine.Status) engine.Batch {
	t.Helper()
	b := engine.Batch{
		ID:                engine.NewBatchID(),
		ProductID:         "prod-bread",
		ProductionDate:    engine.Midnight(apiNow.AddDate(0, 0, daysLeft-14)),
		ExpiryDate:        engine.Midnight(apiNow.AddDate(0, 0, daysLeft)),
		QuantityTotal:     quantity,
		QuantityAvailable: quantity,
		Status:            status,
		CreatedAt:         apiNow,
		UpdatedAt:         apiNow,
	}
	require.NoError(t, f.store.CreateBatch(context.Background(), b))
	return b
}

func (f *schedulerFixture) openAlerts(t *testing.T) []engine.Alert {
	t.Helper()
	alerts, _, err := f.store.ListAlerts(context.Background(), engine.AlertFilter{OpenOnly: true}, engine.Page{})
	require.NoError(t, err)
	return alerts
}

// =============================================================================
// TICK BEHAVIOR
// =============================================================================

func TestRunNow_RefreshesStatusAndCreatesAlert(t *testing.T) {
	// GIVEN: A 7-day rule and a batch 5 days out whose cached status is
	//        still ACTIVE
	// WHEN: One tick runs
	// THEN: Status refreshes to NEAR_EXPIRY and an attributed alert opens

	f := newSchedulerFixture(t)
	rule := f.seedRule(t, 7)
	b := f.seedBatch(t, 5, 40, engine.StatusActive)

	run, err := f.scheduler.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 1, run.BatchesChecked)
	assert.Equal(t, 1, run.StatusChanges)
	assert.Equal(t, 1, run.AlertsCreated)
	assert.Equal(t, 0, run.AlertsClosed)

	got, err := f.store.GetBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusNearExpiry, got.Status)
	assert.Equal(t, 1, got.Version)

	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, b.ID, alerts[0].BatchID)
	assert.Equal(t, engine.AlertNearExpiry, alerts[0].AlertType)
	assert.Equal(t, rule.ID, alerts[0].RuleID)

	// The notifier saw the alert.
	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, b.ID, f.notifier.alerts[0].BatchID)
}

func TestRunNow_Idempotent(t *testing.T) {
	// Running twice on unchanged state does no additional work.
	f := newSchedulerFixture(t)
	f.seedRule(t, 7)
	f.seedBatch(t, 5, 40, engine.StatusActive)

	_, err := f.scheduler.RunNow(context.Background())
	require.NoError(t, err)

	second, err := f.scheduler.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, second.StatusChanges)
	assert.Equal(t, 0, second.AlertsCreated)
	assert.Equal(t, 0, second.AlertsClosed)
	assert.Len(t, f.openAlerts(t), 1)
	assert.Len(t, f.notifier.alerts, 1)
}

func TestRunNow_ExpiredBatch_ImplicitAlert(t *testing.T) {
	// GIVEN: A batch past its expiry date and no rules configured
	// THEN: EXPIRED status and an EXPIRED alert with no rule attribution

	f := newSchedulerFixture(t)
	b := f.seedBatch(t, -2, 40, engine.StatusActive)

	run, err := f.scheduler.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.AlertsCreated)

	got, _ := f.store.GetBatch(context.Background(), b.ID)
	assert.Equal(t, engine.StatusExpired, got.Status)

	alerts := f.openAlerts(t)
	require.Len(t, alerts, 1)
	assert.Equal(t, engine.AlertExpired, alerts[0].AlertType)
	assert.Empty(t, alerts[0].RuleID)
}

func TestRunNow_TerminalBatch_ClosesOpenAlerts(t *testing.T) {
	// GIVEN: An open alert on a batch that has since been disposed
	// WHEN: The next tick runs
	// THEN: The alert leaves the open set as batch_terminal

	f := newSchedulerFixture(t)
	f.seedRule(t, 7)
	b := f.seedBatch(t, 5, 40, engine.StatusActive)
	alert := engine.Alert{
		ID:        engine.NewAlertID(),
		BatchID:   b.ID,
		AlertType: engine.AlertNearExpiry,
		AlertDate: apiNow,
		CreatedAt: apiNow,
	}
	require.NoError(t, f.store.CreateAlert(context.Background(), alert))

	depleted := b
	depleted.QuantityAvailable = 0
	depleted.Status = engine.StatusDisposedReturned
	require.NoError(t, f.store.UpdateBatchGuarded(context.Background(), depleted, b.Version))

	run, err := f.scheduler.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.AlertsClosed)
	assert.Equal(t, 0, run.AlertsCreated)
	assert.Empty(t, f.openAlerts(t))

	got, err := f.store.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.True(t, got.Closed)
	assert.Equal(t, engine.ResolutionBatchTerminal, got.Resolution)
}

func TestRunNow_BatchGoesTerminalMidTick_ClosesAlertSameTick(t *testing.T) {
	// GIVEN: A depleted batch whose cached status is still ACTIVE and an
	//        open alert on it
	// WHEN: A single tick runs
	// THEN: Phase 1 derives the terminal status and phase 2 closes the
	//       alert in the same tick, not the next one

	f := newSchedulerFixture(t)
	f.seedRule(t, 7)
	b := f.seedBatch(t, 5, 0, engine.StatusActive)
	alert := engine.Alert{
		ID:        engine.NewAlertID(),
		BatchID:   b.ID,
		AlertType: engine.AlertNearExpiry,
		AlertDate: apiNow,
		CreatedAt: apiNow,
	}
	require.NoError(t, f.store.CreateAlert(context.Background(), alert))

	run, err := f.scheduler.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.StatusChanges)
	assert.Equal(t, 1, run.AlertsClosed)
	assert.Equal(t, 0, run.AlertsCreated)
	assert.Empty(t, f.openAlerts(t))

	got, err := f.store.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.ResolutionBatchTerminal, got.Resolution)

	batch, err := f.store.GetBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusDisposedReturned, batch.Status)
}

func TestRunNow_SavesRunRecord(t *testing.T) {
	f := newSchedulerFixture(t)
	f.seedRule(t, 7)
	f.seedBatch(t, 5, 40, engine.StatusActive)

	run, err := f.scheduler.RunNow(context.Background())
	require.NoError(t, err)

	runs, err := f.store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)
	require.NotNil(t, runs[0].CompletedAt)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestScheduler_StartStop(t *testing.T) {
	// Start fires the on-start tick; Stop must not hang or panic.
	f := newSchedulerFixture(t)
	f.seedRule(t, 7)
	f.seedBatch(t, 5, 40, engine.StatusActive)

	f.scheduler.Interval = time.Hour
	f.scheduler.Start()

	// The initial tick runs asynchronously; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.openAlerts(t)) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.scheduler.Stop()

	assert.NotEmpty(t, f.openAlerts(t))
}

func TestScheduler_Disabled_DoesNothing(t *testing.T) {
	f := newSchedulerFixture(t)
	f.seedRule(t, 7)
	f.seedBatch(t, 5, 40, engine.StatusActive)

	f.scheduler.Enabled = false
	f.scheduler.Start()
	f.scheduler.Stop()

	assert.Empty(t, f.openAlerts(t))
}
