/*
scheduler.go - Automated batch evaluation scheduler

PURPOSE:
  Periodically re-derives batch statuses and reconciles the open alert
  set against the alert rules. This is the component that notices a
  batch slid into its warning window overnight.

DESIGN:
  - Runs a background goroutine with configurable tick interval
  - Each tick snapshots batches, rules, and open alerts, then:
      1. Re-derives every non-terminal batch's status (guarded write)
      2. Runs the pure evaluator to diff alerts against rules
      3. Creates/closes alerts; duplicates from racing ticks are dropped
  - Fully idempotent: running twice in a row changes nothing the second
    time. Restarting mid-tick is safe for the same reason.
  - Records every tick as an EvaluationRun for audit and UI display
  - Per-batch persistence fans out through an errgroup with a
    concurrency cap; one batch's conflict never fails the tick

CONFIGURATION:
  - Interval: How often to tick (default: 1 hour)
  - Concurrency: Parallel batch writes per tick (default: 4)

USAGE:
  scheduler := NewEvaluationScheduler(store, clock, notifier, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/alerts.go: The pure evaluator this drives
  - handlers.go: TriggerEvaluation endpoint (manual tick)
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yoamart/shelflife/engine"
	"github.com/yoamart/shelflife/metrics"
)

// EvaluationScheduler drives periodic status and alert evaluation.
type EvaluationScheduler struct {
	Store       engine.Store
	Clock       engine.Clock
	Notifier    engine.Notifier
	Interval    time.Duration
	Concurrency int
	Enabled     bool
	RunOnStart  bool

	evaluator engine.AlertRuleEvaluator
	log       zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewEvaluationScheduler creates a scheduler with default settings.
func NewEvaluationScheduler(store engine.Store, clock engine.Clock, notifier engine.Notifier, log zerolog.Logger) *EvaluationScheduler {
	if notifier == nil {
		notifier = engine.NopNotifier{}
	}
	return &EvaluationScheduler{
		Store:       store,
		Clock:       clock,
		Notifier:    notifier,
		Interval:    1 * time.Hour,
		Concurrency: 4,
		Enabled:     true,
		RunOnStart:  true,
		log:         log.With().Str("component", "scheduler").Logger(),
		stop:        make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *EvaluationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	s.log.Info().Dur("interval", s.Interval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight tick to finish.
func (s *EvaluationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info().Msg("scheduler stopped")
	}
}

func (s *EvaluationScheduler) run() {
	defer s.wg.Done()

	// Tick immediately on start so a restart never leaves stale
	// statuses waiting a full interval.
	if s.RunOnStart {
		if _, err := s.RunNow(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("initial evaluation failed")
		}
	}

	for {
		select {
		case <-s.ticker.C:
			if _, err := s.RunNow(context.Background()); err != nil {
				s.log.Error().Err(err).Msg("evaluation tick failed")
			}
		case <-s.stop:
			return
		}
	}
}

// RunNow executes one evaluation tick and returns its audit record.
// Exposed for the admin endpoint and tests.
func (s *EvaluationScheduler) RunNow(ctx context.Context) (*engine.EvaluationRun, error) {
	started := s.Clock.Now()
	run := engine.EvaluationRun{
		ID:        fmt.Sprintf("run-%d", started.UnixNano()),
		StartedAt: started,
		Status:    "running",
	}
	if err := s.Store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run record: %w", err)
	}

	err := s.tick(ctx, &run)

	completed := s.Clock.Now()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		metrics.EvaluationTicks.WithLabelValues("failed").Inc()
	} else {
		run.Status = "completed"
		metrics.EvaluationTicks.WithLabelValues("completed").Inc()
	}
	metrics.EvaluationDuration.Observe(completed.Sub(started).Seconds())

	if saveErr := s.Store.SaveRun(ctx, run); saveErr != nil {
		s.log.Error().Err(saveErr).Msg("failed to update run record")
	}
	if err != nil {
		return &run, err
	}

	if run.AlertsCreated > 0 || run.AlertsClosed > 0 || run.StatusChanges > 0 {
		s.log.Info().
			Int("batches_checked", run.BatchesChecked).
			Int("alerts_created", run.AlertsCreated).
			Int("alerts_closed", run.AlertsClosed).
			Int("status_changes", run.StatusChanges).
			Msg("evaluation completed")
	}
	return &run, nil
}

func (s *EvaluationScheduler) tick(ctx context.Context, run *engine.EvaluationRun) error {
	now := s.Clock.Now()

	batches, _, err := s.Store.ListBatches(ctx, engine.BatchFilter{}, engine.Page{})
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}
	rules, err := s.Store.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	openAlerts, _, err := s.Store.ListAlerts(ctx, engine.AlertFilter{OpenOnly: true}, engine.Page{})
	if err != nil {
		return fmt.Errorf("failed to list open alerts: %w", err)
	}

	run.BatchesChecked = len(batches)

	// Phase 1: refresh cached statuses. Losing a version race to a
	// concurrent staff action is fine; that action already derived a
	// status from fresher state, and the next tick re-checks anyway.
	threshold := engine.NearExpiryThreshold(rules)
	var statusChanges int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Concurrency)
	for i := range batches {
		b := batches[i]
		derived := engine.DeriveStatus(b, now, threshold)
		if derived == b.Status {
			continue
		}
		// Phase 2 evaluates this snapshot, so a batch going terminal
		// this tick must close its alerts this tick.
		batches[i].Status = derived
		g.Go(func() error {
			updated := b
			updated.Status = derived
			updated.UpdatedAt = now
			err := s.Store.UpdateBatchGuarded(gctx, updated, b.Version)
			if err != nil {
				if engine.IsConflict(err) {
					s.log.Debug().Str("batch_id", string(b.ID)).Msg("status refresh lost version race")
					return nil
				}
				return err
			}
			mu.Lock()
			statusChanges++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to refresh statuses: %w", err)
	}
	run.StatusChanges = int(statusChanges)

	// Phase 2: reconcile the open alert set against the refreshed
	// snapshot.
	result := s.evaluator.Evaluate(engine.EvaluationInput{
		Batches:    batches,
		Rules:      rules,
		OpenAlerts: openAlerts,
		Now:        now,
	})

	for _, alert := range result.ToCreate {
		if err := s.Store.CreateAlert(ctx, alert); err != nil {
			if errors.Is(err, engine.ErrDuplicateOpenAlert) {
				// A concurrent tick won the creation. Same outcome.
				continue
			}
			return fmt.Errorf("failed to create alert: %w", err)
		}
		run.AlertsCreated++
		metrics.AlertsCreated.WithLabelValues(string(alert.AlertType)).Inc()

		if err := s.Notifier.AlertCreated(ctx, alert); err != nil {
			metrics.NotifyFailures.Inc()
			s.log.Warn().Err(err).Str("alert_id", string(alert.ID)).Msg("alert notification failed")
		}
	}

	for _, closure := range result.ToClose {
		if err := s.Store.CloseAlert(ctx, closure.AlertID, closure.Resolution); err != nil {
			return fmt.Errorf("failed to close alert: %w", err)
		}
		run.AlertsClosed++
		metrics.AlertsClosed.WithLabelValues(string(closure.Resolution)).Inc()
	}

	return nil
}

// NextRunTime returns when the next scheduled tick will occur.
func (s *EvaluationScheduler) NextRunTime() time.Time {
	return s.Clock.Now().Add(s.Interval)
}
