/*
status.go - Pure status derivation for batches

PURPOSE:
  Maps a batch's dates, quantities, and current status to its correct
  status. This is the single source of truth for what a batch's status
  should be; the stored status column is only a cache of this function.

RULES (first match wins):
  1. Terminal status (REMOVED, DISPOSED_RETURNED) is kept. Actions set
     terminal states; date math never overwrites them.
  2. QuantityAvailable == 0 -> DISPOSED_RETURNED. Fully depleted stock
     is handled stock, even before its expiry date.
  3. daysLeft < 0  -> EXPIRED
  4. daysLeft <= threshold -> NEAR_EXPIRY
  5. otherwise -> ACTIVE

DETERMINISM:
  daysLeft is whole calendar days (midnight-to-midnight, see clock.go),
  so two evaluations on the same calendar day yield identical results.
  A batch expiring exactly today (daysLeft == 0) is NEAR_EXPIRY unless
  the threshold is negative, which cannot happen (thresholds are >= 0).

SEE ALSO:
  - clock.go: DaysUntil
  - alerts.go: Uses the same daysLeft math for rule firing
*/
package engine

import "time"

// DefaultNearExpiryThreshold is used when no active alert rule is
// configured.
const DefaultNearExpiryThreshold = 7

// NearExpiryThreshold returns the tightest DaysBeforeExpiry among
// active rules, or DefaultNearExpiryThreshold when none are
// configured. Status uses the tightest window; wider rules still raise
// alerts for batches that derive ACTIVE.
func NearExpiryThreshold(rules []AlertRule) int {
	threshold := -1
	for _, r := range rules {
		if !r.Active {
			continue
		}
		if threshold < 0 || r.DaysBeforeExpiry < threshold {
			threshold = r.DaysBeforeExpiry
		}
	}
	if threshold < 0 {
		return DefaultNearExpiryThreshold
	}
	return threshold
}

// DeriveStatus computes the correct status for a batch at 'now'.
// Pure: no side effects, safe to call concurrently.
func DeriveStatus(b Batch, now time.Time, threshold int) Status {
	if b.Status.IsTerminal() {
		return b.Status
	}
	if b.QuantityAvailable == 0 {
		return StatusDisposedReturned
	}
	daysLeft := b.DaysLeft(now)
	switch {
	case daysLeft < 0:
		return StatusExpired
	case daysLeft <= threshold:
		return StatusNearExpiry
	default:
		return StatusActive
	}
}
