package domain

import "time"

// NotificationPreferences holds a user's per-category gates and channel
// toggles. A user without a stored row gets DefaultPreferences.
type NotificationPreferences struct {
	UserID            string    `db:"user_id"`
	HydrationEnabled  bool      `db:"hydration_enabled"`
	MovementEnabled   bool      `db:"movement_enabled"`
	SleepEnabled      bool      `db:"sleep_enabled"`
	MedicationEnabled bool      `db:"medication_enabled"`
	WorkoutEnabled    bool      `db:"workout_enabled"`
	PushEnabled       bool      `db:"push_enabled"`
	EmailEnabled      bool      `db:"email_enabled"`
	QuietHoursEnabled bool      `db:"quiet_hours_enabled"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// DefaultPreferences is the all-enabled baseline used when a user has no
// stored preferences.
func DefaultPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:            userID,
		HydrationEnabled:  true,
		MovementEnabled:   true,
		SleepEnabled:      true,
		MedicationEnabled: true,
		WorkoutEnabled:    true,
		PushEnabled:       true,
		EmailEnabled:      true,
		QuietHoursEnabled: true,
	}
}

// CategoryEnabled maps a category to its gate flag. Unknown categories are
// enabled: suppressing an unrecognized category could silently drop
// safety-relevant alerts.
func (p *NotificationPreferences) CategoryEnabled(c Category) bool {
	switch c {
	case CategoryHydration:
		return p.HydrationEnabled
	case CategoryMovement:
		return p.MovementEnabled
	case CategorySleep:
		return p.SleepEnabled
	case CategoryMedication:
		return p.MedicationEnabled
	case CategoryWorkout:
		return p.WorkoutEnabled
	default:
		return true
	}
}
