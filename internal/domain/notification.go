package domain

import "time"

// NotificationStatus is the delivery state of a notification.
//
// The machine is one-way: PENDING → SENT | DELIVERED | FAILED. Nothing
// leaves a terminal state; a retry is a new notification.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "PENDING"
	StatusSent      NotificationStatus = "SENT"
	StatusDelivered NotificationStatus = "DELIVERED"
	StatusFailed    NotificationStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s NotificationStatus) Terminal() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal step.
func (s NotificationStatus) CanTransition(next NotificationStatus) bool {
	return s == StatusPending && next.Terminal()
}

// Notification is a materialized, delivery-tracked message instance.
// Payload is opaque to the pipeline; producers use it to carry linkage
// such as the originating reminder id.
type Notification struct {
	ID        string             `db:"id"`
	UserID    string             `db:"user_id"`
	Type      Category           `db:"type"`
	Title     string             `db:"title"`
	Body      string             `db:"body"`
	Payload   map[string]string  `db:"-"`
	Status    NotificationStatus `db:"status"`
	CreatedAt time.Time          `db:"created_at"`
	SentAt    *time.Time         `db:"sent_at"`
}
