package domain

import (
	"fmt"
	"time"
)

// Category classifies reminders and the notifications they produce.
type Category string

const (
	CategoryHydration  Category = "hydration"
	CategoryMovement   Category = "movement"
	CategorySleep      Category = "sleep"
	CategoryMedication Category = "medication"
	CategoryWorkout    Category = "workout"
	CategoryCustom     Category = "custom"
)

// ScheduleType selects the recurrence variant of a ScheduleConfig.
type ScheduleType string

const (
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleInterval ScheduleType = "interval"
)

// ScheduleConfig is a recurrence rule. Exactly one variant's fields are
// meaningful for a given Type:
//
//   - daily: Time ("HH:mm")
//   - weekly: Time plus Days (0=Sunday..6=Saturday)
//   - interval: IntervalMinutes, independent of wall-clock time-of-day
type ScheduleConfig struct {
	Type            ScheduleType `json:"type"`
	Time            string       `json:"time,omitempty"`
	Days            []int        `json:"days,omitempty"`
	IntervalMinutes int          `json:"interval_minutes,omitempty"`
}

// Validate checks that the fields required by the chosen variant are present
// and well-formed.
func (c ScheduleConfig) Validate() error {
	switch c.Type {
	case ScheduleDaily:
		if _, _, err := ParseHHMM(c.Time); err != nil {
			return err
		}
	case ScheduleWeekly:
		if _, _, err := ParseHHMM(c.Time); err != nil {
			return err
		}
		if len(c.Days) == 0 {
			return fmt.Errorf("weekly schedule needs at least one day")
		}
		for _, d := range c.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("invalid weekday %d, expected 0..6", d)
			}
		}
	case ScheduleInterval:
		if c.IntervalMinutes <= 0 {
			return fmt.Errorf("interval schedule needs interval_minutes > 0")
		}
	default:
		return fmt.Errorf("unknown schedule type %q", c.Type)
	}
	return nil
}

// Reminder is a user's recurring alert configuration. LastTriggered, once
// set, only moves forward; it is advanced by the trigger loop even when a
// firing is suppressed by preferences, so the once-per-period semantics
// survive gating.
type Reminder struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	Category        Category       `db:"category"`
	Title           string         `db:"title"`
	Message         string         `db:"message"`
	Schedule        ScheduleConfig `db:"-"`
	QuietHoursStart string         `db:"quiet_start"`
	QuietHoursEnd   string         `db:"quiet_end"`
	IsActive        bool           `db:"is_active"`
	LastTriggered   *time.Time     `db:"last_triggered"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// HasQuietHours reports whether both ends of the quiet window are set.
func (r *Reminder) HasQuietHours() bool {
	return r.QuietHoursStart != "" && r.QuietHoursEnd != ""
}

// Body returns the reminder's explicit message, falling back to the
// category default template when none is set.
func (r *Reminder) Body() string {
	if r.Message != "" {
		return r.Message
	}
	return DefaultBody(r.Category)
}

// DefaultBody returns the notification body template for a category.
func DefaultBody(c Category) string {
	switch c {
	case CategoryHydration:
		return "Time to drink some water!"
	case CategoryMovement:
		return "Time to get up and move around."
	case CategorySleep:
		return "Time to start winding down for bed."
	case CategoryMedication:
		return "Don't forget to take your medication."
	case CategoryWorkout:
		return "Time for your workout!"
	default:
		return "You have a reminder."
	}
}
