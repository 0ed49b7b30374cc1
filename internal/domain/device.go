package domain

import "time"

// Device is a user's registered push endpoint. An empty PushToken means the
// device has no push capability; the delivery loop only ever sees devices
// with a token because the store filters on it.
type Device struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	PushToken string    `db:"push_token"`
	Platform  string    `db:"platform"`
	CreatedAt time.Time `db:"created_at"`
}
