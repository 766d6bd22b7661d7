package quotation

import "time"

// EvaluateValidity computes the remaining validity window of a quotation
// relative to now. The result is derived on every read; it is a function of
// wall-clock time and is deliberately never stored.
//
// State mapping: remaining <= -1 expired, 0 overdue, 1..2 due, otherwise valid.
func EvaluateValidity(quotationDate time.Time, validityDays int, now time.Time) Validity {
	validUntil := truncateToDate(quotationDate).AddDate(0, 0, validityDays)
	remaining := daysBetween(truncateToDate(now), validUntil)

	state := ValidityValid
	switch {
	case remaining <= -1:
		state = ValidityExpired
	case remaining == 0:
		state = ValidityOverdue
	case remaining <= 2:
		state = ValidityDue
	}

	return Validity{ValidUntil: validUntil, RemainingDays: remaining, State: state}
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
