package schedule

import (
	"fmt"
	"time"

	"github.com/circle97/beman-sub001/internal/models"
)

// DueFirings resolves which of a schedule's reminders are due within
// [today, today+lookaheadDays]. A lookahead of 0 means due exactly today.
// Terminal schedules never produce firings. A negative offset is a config
// error for this schedule alone; callers skip the schedule and move on.
func DueFirings(s models.Schedule, today time.Time, lookaheadDays int) ([]models.Firing, error) {
	if s.Status.Terminal() {
		return nil, nil
	}
	if lookaheadDays < 0 {
		lookaheadDays = 0
	}

	today = Date(today)
	occ := NextOccurrence(s.EventDate, s.Repeat(), today)

	// A one-off whose single occurrence has passed can no longer fire.
	if s.Repeat() == models.RepeatNone && occ.Before(today) {
		return nil, nil
	}

	horizon := today.AddDate(0, 0, lookaheadDays)
	var due []models.Firing
	seen := map[int]bool{}
	for _, offset := range s.ReminderOffsets {
		if offset < 0 {
			return nil, fmt.Errorf("schedule %d: negative reminder offset %d", s.ID, offset)
		}
		if seen[offset] {
			continue
		}
		seen[offset] = true

		fire := occ.AddDate(0, 0, -offset)
		if !fire.Before(today) && !fire.After(horizon) {
			due = append(due, models.Firing{ScheduleID: s.ID, Occurrence: occ, OffsetDays: offset})
		}
	}
	return due, nil
}
