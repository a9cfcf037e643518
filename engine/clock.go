package engine

import "time"

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies "now" for status derivation and rule evaluation.
// Injectable so that tests can pin the calendar day.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. For tests.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// =============================================================================
// CALENDAR-DAY ARITHMETIC
// =============================================================================

// Midnight truncates t to the start of its UTC calendar day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysUntil returns the whole calendar days from now until target,
// midnight-to-midnight. Two evaluations on the same calendar day yield
// the same result regardless of the hour; this is what makes status
// derivation deterministic within a day.
//
//	target today      ->  0
//	target tomorrow   ->  1
//	target yesterday  -> -1
func DaysUntil(now, target time.Time) int {
	return int(Midnight(target).Sub(Midnight(now)).Hours() / 24)
}

// NewDate builds a midnight UTC date, the canonical form for
// production and expiry dates.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
