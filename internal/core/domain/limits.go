package domain

import (
	"time"

	"wallet-ledger/pkg/apperror"
)

// LimitPolicy holds the daily ceilings, in the smallest currency unit.
type LimitPolicy struct {
	DailyDeposit    int64
	DailyWithdrawal int64
	// TransfersCountTowardWithdrawal makes outgoing transfers consume the
	// withdrawal ceiling. Off by default: only explicit withdrawals count.
	TransfersCountTowardWithdrawal bool
	// Location defines where a calendar day starts. Nil means UTC.
	Location *time.Location
}

// CheckLimit fails with LimitExceeded when used+requested exceeds limit.
// The comparison is arranged so large requests cannot overflow.
func CheckLimit(used, requested, limit int64) error {
	if requested > limit || used > limit-requested {
		return apperror.ErrLimitExceeded()
	}
	return nil
}

// DepositKinds are the event kinds counted against the deposit ceiling.
func (p LimitPolicy) DepositKinds() []EventKind {
	return []EventKind{KindFundsDeposited}
}

// WithdrawalKinds are the event kinds counted against the withdrawal ceiling.
func (p LimitPolicy) WithdrawalKinds() []EventKind {
	if p.TransfersCountTowardWithdrawal {
		return []EventKind{KindFundsWithdrawn, KindTransferSent}
	}
	return []EventKind{KindFundsWithdrawn}
}

// Day converts now into the policy's calendar location.
func (p LimitPolicy) Day(now time.Time) time.Time {
	if p.Location == nil {
		return now.UTC()
	}
	return now.In(p.Location)
}

// DayBounds returns [start, end) of the calendar day containing day, in
// day's own location.
func DayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}
