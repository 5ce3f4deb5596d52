package schedule

import (
	"time"

	"github.com/circle97/beman-sub001/internal/models"
)

// Date strips the clock from t, keeping year/month/day in UTC. All recurrence
// arithmetic happens on these normalized day values.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextOccurrence maps a schedule's anchor date and repeat policy onto the
// concrete occurrence for today. For every policy except RepeatNone the result
// is >= today; RepeatNone returns the anchor verbatim even when it has passed.
//
// A yearly anchor of Feb 29 resolves to Feb 28 in non-leap years. A monthly
// anchor day past the end of a short month clamps to that month's last day.
// Both clamps are deterministic, so a schedule resolves to the same substitute
// date on every tick within the same cycle.
func NextOccurrence(eventDate time.Time, repeat models.RepeatType, today time.Time) time.Time {
	anchor := Date(eventDate)
	today = Date(today)

	switch repeat {
	case models.RepeatYearly:
		occ := clampedDate(today.Year(), anchor.Month(), anchor.Day())
		if occ.Before(today) {
			occ = clampedDate(today.Year()+1, anchor.Month(), anchor.Day())
		}
		return occ

	case models.RepeatMonthly:
		occ := clampedDate(today.Year(), today.Month(), anchor.Day())
		if occ.Before(today) {
			next := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			occ = clampedDate(next.Year(), next.Month(), anchor.Day())
		}
		return occ

	case models.RepeatWeekly:
		delta := (int(anchor.Weekday()) - int(today.Weekday()) + 7) % 7
		return today.AddDate(0, 0, delta)

	default: // RepeatNone and anything unrecognized: the single anchor occurrence
		return anchor
	}
}

// DaysUntil returns occurrence minus today in whole days. Negative only for
// one-off events whose single occurrence has already passed.
func DaysUntil(occurrence, today time.Time) int {
	return int(Date(occurrence).Sub(Date(today)).Hours() / 24)
}

// clampedDate builds year/month/day, pulling an overlong day back to the last
// day of the month instead of letting time.Date roll it forward.
func clampedDate(year int, month time.Month, day int) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
