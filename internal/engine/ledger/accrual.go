package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

var yearNanos = decimal.NewFromInt(int64(Year))

// Accrue returns the simple interest earned by principal at annualRate over
// elapsed: principal * annualRate * elapsed / Year.
func Accrue(principal, annualRate decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 || principal.Sign() <= 0 || annualRate.Sign() <= 0 {
		return Zero
	}
	numerator := principal.Mul(annualRate).Mul(decimal.NewFromInt(int64(elapsed)))
	return DivDown(numerator, yearNanos)
}

// Settle brings a lazily accrued balance up to now. It returns the new accrued
// total and the timestamp the next settlement should start from. Staking
// rewards, deposit interest and loan interest all settle through here.
func Settle(principal, annualRate, accrued decimal.Decimal, last, now time.Time) (decimal.Decimal, time.Time) {
	earned := Accrue(principal, annualRate, Elapsed(last, now))
	if now.Before(last) {
		return accrued.Add(earned), last
	}
	return accrued.Add(earned), now
}
