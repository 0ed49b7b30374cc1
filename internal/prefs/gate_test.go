package prefs

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"remindd/internal/domain"
)

type fakeReader struct {
	prefs map[string]*domain.NotificationPreferences
	err   error
}

func (f *fakeReader) GetPreferences(_ context.Context, userID string) (*domain.NotificationPreferences, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prefs[userID], nil
}

func TestGateDefaultsToEnabled(t *testing.T) {
	t.Parallel()
	g := NewGate(&fakeReader{}, zerolog.Nop())
	if !g.Enabled(context.Background(), "u1", domain.CategoryHydration) {
		t.Fatal("absent preferences should default to enabled")
	}
}

func TestGateRespectsCategoryFlag(t *testing.T) {
	t.Parallel()
	p := domain.DefaultPreferences("u1")
	p.MovementEnabled = false
	g := NewGate(&fakeReader{prefs: map[string]*domain.NotificationPreferences{"u1": p}}, zerolog.Nop())

	if g.Enabled(context.Background(), "u1", domain.CategoryMovement) {
		t.Fatal("disabled category should be gated off")
	}
	if !g.Enabled(context.Background(), "u1", domain.CategorySleep) {
		t.Fatal("other categories should stay enabled")
	}
}

func TestGateUnknownCategoryFailOpen(t *testing.T) {
	t.Parallel()
	p := domain.DefaultPreferences("u1")
	p.HydrationEnabled = false
	p.WorkoutEnabled = false
	g := NewGate(&fakeReader{prefs: map[string]*domain.NotificationPreferences{"u1": p}}, zerolog.Nop())

	if !g.Enabled(context.Background(), "u1", domain.Category("mystery")) {
		t.Fatal("unknown category must fail open")
	}
}

func TestGateReadErrorFailOpen(t *testing.T) {
	t.Parallel()
	g := NewGate(&fakeReader{err: errors.New("db locked")}, zerolog.Nop())
	if !g.Enabled(context.Background(), "u1", domain.CategoryMedication) {
		t.Fatal("store error must fail open")
	}
}
