// Package store provides the persistence layer for reminders, notifications,
// devices, and notification preferences.
//
// The two pipeline loops consume a narrow slice of the interface (active
// reminder listing, pending notification batches, status transitions); the
// remaining operations serve the surrounding system's CRUD surface and the
// test suites. The store is the single source of truth and serializes
// conflicting writes; callers hold no cross-request locks.
package store

import (
	"context"
	"errors"
	"time"

	"remindd/internal/domain"
)

// ErrNotFound is returned when the targeted row does not exist or, for
// status updates, is no longer in a state the update may leave.
var ErrNotFound = errors.New("store: not found")

// PendingNotification is a queued notification joined with the owning
// user's push-capable devices, as consumed by the delivery loop.
type PendingNotification struct {
	Notification domain.Notification
	Devices      []domain.Device
}

// Store is the persistence API. Implementations must keep the notification
// status machine one-way (UpdateNotificationStatus only moves rows out of
// PENDING) and lastTriggered monotonically non-decreasing.
type Store interface {
	// Pipeline surface.
	ListActiveReminders(ctx context.Context) ([]domain.Reminder, error)
	UpdateReminderLastTriggered(ctx context.Context, id string, at time.Time) error
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListPendingNotifications(ctx context.Context, limit int) ([]PendingNotification, error)
	UpdateNotificationStatus(ctx context.Context, id string, status domain.NotificationStatus, sentAt *time.Time) error
	MarkStalePendingFailed(ctx context.Context, olderThan time.Time) (int64, error)
	GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreferences, error)

	// Surrounding-system surface.
	CreateReminder(ctx context.Context, r *domain.Reminder) error
	UpdateReminder(ctx context.Context, r *domain.Reminder) error
	DeleteReminder(ctx context.Context, id string) error
	GetReminder(ctx context.Context, id string) (*domain.Reminder, error)
	RegisterDevice(ctx context.Context, d *domain.Device) error
	RemoveDevice(ctx context.Context, id string) error
	UpsertPreferences(ctx context.Context, p *domain.NotificationPreferences) error
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)

	Close() error
}
