// Package schedule decides whether a reminder is due at a given instant.
//
// Evaluation is a pure function of (reminder, now): no clocks, no storage.
// The trigger loop calls it once per tick (1-minute granularity), so the
// daily/weekly variants match on the exact HH:mm minute and rely on the
// last-triggered marker to avoid re-firing within the same day. Missed
// minutes (process downtime) are not backfilled.
package schedule

import (
	"fmt"
	"time"

	"remindd/internal/domain"
)

// IsDue reports whether r should fire at now. Quiet hours suppress due-ness
// outright; they never reschedule. A malformed schedule or quiet-hours
// window yields an error and the caller skips the reminder for this tick.
func IsDue(r *domain.Reminder, now time.Time) (bool, error) {
	if !r.IsActive {
		return false, nil
	}

	if r.HasQuietHours() {
		quiet, err := inQuietHours(r, now)
		if err != nil {
			return false, err
		}
		if quiet {
			return false, nil
		}
	}

	switch r.Schedule.Type {
	case domain.ScheduleInterval:
		return intervalDue(r, now)
	case domain.ScheduleDaily:
		return clockDue(r, now, nil)
	case domain.ScheduleWeekly:
		return clockDue(r, now, r.Schedule.Days)
	default:
		return false, fmt.Errorf("unknown schedule type %q", r.Schedule.Type)
	}
}

func intervalDue(r *domain.Reminder, now time.Time) (bool, error) {
	m := r.Schedule.IntervalMinutes
	if m <= 0 {
		return false, fmt.Errorf("interval schedule needs interval_minutes > 0")
	}
	if r.LastTriggered == nil {
		return true, nil
	}
	return now.Sub(*r.LastTriggered) >= time.Duration(m)*time.Minute, nil
}

// clockDue handles the daily and weekly variants. days == nil means every
// day; otherwise now's weekday must be a member.
func clockDue(r *domain.Reminder, now time.Time, days []int) (bool, error) {
	h, m, err := domain.ParseHHMM(r.Schedule.Time)
	if err != nil {
		return false, err
	}
	if now.Hour() != h || now.Minute() != m {
		return false, nil
	}
	if days != nil && !containsDay(days, int(now.Weekday())) {
		return false, nil
	}
	// Already fired today: the 1-minute tick can re-observe the matching
	// minute, so a same-day lastTriggered blocks a second firing.
	if r.LastTriggered != nil && !earlierDay(*r.LastTriggered, now) {
		return false, nil
	}
	return true, nil
}

func inQuietHours(r *domain.Reminder, now time.Time) (bool, error) {
	sh, sm, err := domain.ParseHHMM(r.QuietHoursStart)
	if err != nil {
		return false, fmt.Errorf("quiet hours start: %w", err)
	}
	eh, em, err := domain.ParseHHMM(r.QuietHoursEnd)
	if err != nil {
		return false, fmt.Errorf("quiet hours end: %w", err)
	}
	return InWindow(domain.MinuteOfDay(now), sh*60+sm, eh*60+em), nil
}

// InWindow returns true if a time-of-day (minutes since midnight) is inside
// the [from, to) window. Supports wrap-around windows like 22:00–06:00
// (from > to). A zero-length window matches nothing.
func InWindow(localM, fromM, toM int) bool {
	if fromM == toM {
		return false
	}
	if fromM < toM {
		return localM >= fromM && localM < toM
	}
	// wrap: [from..1440) U [0..to)
	return localM >= fromM || localM < toM
}

func containsDay(days []int, d int) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}

func earlierDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}
