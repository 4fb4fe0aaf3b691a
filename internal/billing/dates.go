package billing

import (
	"math"
	"time"
)

// SubscriptionEndDate returns start advanced by one cycle. When the target
// month is shorter than start's day, the date clamps to that month's last
// day: Jan 31 + 1 month is Feb 28 (29 in a leap year) and Feb 29 + 1 year is
// Feb 28.
func SubscriptionEndDate(start time.Time, cycle string) time.Time {
	months := 1
	if cycle == CycleYearly {
		months = 12
	}
	return addMonthsClamped(start, months)
}

// NextBillingDate returns the date the period starting at from renews.
func NextBillingDate(from time.Time, cycle string) time.Time {
	return SubscriptionEndDate(from, cycle)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	// Day 1 never overflows, so this lands in the target month.
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// DaysRemaining is the number of started days until end, never negative.
func DaysRemaining(end, now time.Time) int {
	diff := end.Sub(now)
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(diff.Hours() / 24))
}

// IsActive reports whether a subscription with status and end date is usable at now.
func IsActive(status string, end, now time.Time) bool {
	return status == StatusActive && end.After(now)
}
