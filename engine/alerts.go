/*
alerts.go - Deterministic alert generation and deduplication

PURPOSE:
  Computes the set of alerts that SHOULD exist for the current batches
  and rules, and reconciles it against the alerts that already exist.
  The evaluator itself is pure: it reads inputs and returns a diff
  (creations + closures) for the caller to persist.

IDEMPOTENCE:
  Running Evaluate twice with unchanged inputs produces zero creations
  the second time. Deduplication key is the open (BatchID, AlertType)
  pair; the store enforces the same key as a uniqueness constraint so
  the invariant survives concurrent evaluator runs too.

RULE SEMANTICS:
  - A configured rule fires when 0 <= daysLeft <= rule.DaysBeforeExpiry.
    Configured rules never fire post-expiry.
  - An implicit always-on rule fires for daysLeft < 0, producing an
    EXPIRED alert. It has no RuleID.
  - When several rules fire for one batch they collapse into a single
    NEAR_EXPIRY alert attributed to the tightest rule (smallest
    DaysBeforeExpiry).

CLOSURE POLICY:
  Open alerts whose batch has reached a terminal status are auto-closed
  with resolution "batch_terminal". The stock has been handled; keeping
  the alert open would leave it permanently unacknowledgeable.

SEE ALSO:
  - status.go: Shares the daysLeft calendar-day math
  - store.go: CreateAlert enforces the open-alert uniqueness constraint
*/
package engine

import (
	"sort"
	"time"
)

// =============================================================================
// EVALUATION INPUT / RESULT
// =============================================================================

// EvaluationInput is a snapshot of everything the evaluator reads.
type EvaluationInput struct {
	Batches    []Batch
	Rules      []AlertRule
	OpenAlerts []Alert
	Now        time.Time
}

// AlertClosure identifies one alert to remove from the open set.
type AlertClosure struct {
	AlertID    AlertID
	Resolution Resolution
}

// EvaluationResult is the diff between the alerts that should exist and
// the alerts that do.
type EvaluationResult struct {
	ToCreate []Alert
	ToClose  []AlertClosure
}

// =============================================================================
// ALERT RULE EVALUATOR
// =============================================================================

// AlertRuleEvaluator reconciles batches against alert rules. Stateless;
// the zero value is ready to use.
type AlertRuleEvaluator struct{}

// Evaluate computes creations and closures. Each batch is evaluated
// independently; ordering across batches is irrelevant.
func (AlertRuleEvaluator) Evaluate(in EvaluationInput) EvaluationResult {
	// Index open alerts by (batch, type) for dedup, and by batch for
	// terminal closure.
	type openKey struct {
		BatchID   BatchID
		AlertType AlertType
	}
	open := make(map[openKey]Alert, len(in.OpenAlerts))
	openByBatch := make(map[BatchID][]Alert)
	for _, a := range in.OpenAlerts {
		if !a.Open() {
			continue
		}
		open[openKey{a.BatchID, a.AlertType}] = a
		openByBatch[a.BatchID] = append(openByBatch[a.BatchID], a)
	}

	// Active rules, tightest threshold first, so the first firing rule
	// is the one the alert is attributed to.
	rules := make([]AlertRule, 0, len(in.Rules))
	for _, r := range in.Rules {
		if r.Active && r.DaysBeforeExpiry >= 0 {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].DaysBeforeExpiry < rules[j].DaysBeforeExpiry })

	var result EvaluationResult
	for _, b := range in.Batches {
		if b.Status.IsTerminal() {
			// Condition no longer applies to actionable stock.
			for _, a := range openByBatch[b.ID] {
				result.ToClose = append(result.ToClose, AlertClosure{
					AlertID:    a.ID,
					Resolution: ResolutionBatchTerminal,
				})
			}
			continue
		}

		daysLeft := b.DaysLeft(in.Now)

		if daysLeft < 0 {
			// Implicit always-on expiry rule.
			if _, exists := open[openKey{b.ID, AlertExpired}]; !exists {
				result.ToCreate = append(result.ToCreate, newAlert(b, "", AlertExpired, in.Now))
			}
			continue
		}

		for _, r := range rules {
			if daysLeft > r.DaysBeforeExpiry {
				continue
			}
			if _, exists := open[openKey{b.ID, AlertNearExpiry}]; !exists {
				result.ToCreate = append(result.ToCreate, newAlert(b, r.ID, AlertNearExpiry, in.Now))
			}
			break
		}
	}

	return result
}

func newAlert(b Batch, ruleID RuleID, alertType AlertType, now time.Time) Alert {
	return Alert{
		ID:        NewAlertID(),
		BatchID:   b.ID,
		RuleID:    ruleID,
		AlertType: alertType,
		AlertDate: now,
		CreatedAt: now,
	}
}
