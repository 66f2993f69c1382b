package ledger

import "time"

// Year is the accrual period used by every annual rate in the engine.
const Year = 365 * 24 * time.Hour

// Clock supplies the current time. Pools read time only through a Clock so
// tests can drive it deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f().
func (f ClockFunc) Now() time.Time { return f() }

// Elapsed returns to - from, clamped at zero so a clock that steps backwards
// never produces negative accrual.
func Elapsed(from, to time.Time) time.Duration {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return d
}
