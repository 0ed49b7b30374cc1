// Package prefs gates notification creation on per-user preferences.
package prefs

import (
	"context"

	"github.com/rs/zerolog"

	"remindd/internal/domain"
)

// Reader is the slice of the store the gate needs.
type Reader interface {
	// GetPreferences returns nil when the user has no stored preferences.
	GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreferences, error)
}

// Gate answers "may this category be delivered to this user".
type Gate struct {
	store Reader
	log   zerolog.Logger
}

func NewGate(store Reader, log zerolog.Logger) *Gate {
	return &Gate{store: store, log: log.With().Str("component", "prefs").Logger()}
}

// Enabled loads the user's preferences and maps the category to its flag.
// Missing preferences fall back to the all-enabled baseline. A read error
// also falls back to enabled: dropping an alert because a preferences
// lookup failed is the worse failure mode.
func (g *Gate) Enabled(ctx context.Context, userID string, category domain.Category) bool {
	p, err := g.store.GetPreferences(ctx, userID)
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("preferences lookup failed, defaulting to enabled")
		return true
	}
	if p == nil {
		p = domain.DefaultPreferences(userID)
	}
	return p.CategoryEnabled(category)
}
