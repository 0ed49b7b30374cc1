// Package trigger implements the reminder trigger loop: once per tick it
// evaluates every active reminder and materializes the due ones as PENDING
// notifications.
//
// Each reminder is processed independently; one reminder's store failure is
// logged and never aborts the rest of the tick. A firing that the
// preference gate suppresses still advances lastTriggered so the
// once-per-period semantics hold.
package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"remindd/internal/domain"
	"remindd/internal/schedule"
)

// Config controls the trigger loop.
type Config struct {
	Interval time.Duration // tick cadence, default 1m
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	return c
}

// Store is the slice of the persistence layer the loop needs.
type Store interface {
	ListActiveReminders(ctx context.Context) ([]domain.Reminder, error)
	UpdateReminderLastTriggered(ctx context.Context, id string, at time.Time) error
	CreateNotification(ctx context.Context, n *domain.Notification) error
}

// Gate decides whether a category may be delivered to a user.
type Gate interface {
	Enabled(ctx context.Context, userID string, category domain.Category) bool
}

// Snapshot is a point-in-time view of loop counters for the ops surface.
type Snapshot struct {
	Ticks        uint64        `json:"ticks"`
	Due          uint64        `json:"due"`
	Created      uint64        `json:"created"`
	Suppressed   uint64        `json:"suppressed"`
	Errors       uint64        `json:"errors"`
	LastTick     time.Time     `json:"last_tick"`
	LastDuration time.Duration `json:"last_duration_ns"`
}

type Service struct {
	cfg   Config
	store Store
	gate  Gate
	log   zerolog.Logger
	now   func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

func New(cfg Config, st Store, gate Gate, log zerolog.Logger) *Service {
	return &Service{
		cfg:   cfg.withDefaults(),
		store: st,
		gate:  gate,
		log:   log.With().Str("component", "trigger").Logger(),
		now:   time.Now,
	}
}

// Interval returns the configured tick cadence.
func (s *Service) Interval() time.Duration { return s.cfg.Interval }

// Snapshot returns a copy of the loop counters.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Tick runs one evaluation pass. Errors never escape: every per-reminder
// failure is logged and counted, and the tick itself is wrapped in a panic
// guard so a bad tick cannot kill the scheduling process.
func (s *Service) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in trigger tick")
		}
	}()

	start := s.now()
	now := start.UTC()

	reminders, err := s.store.ListActiveReminders(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("listing active reminders failed, will retry next tick")
		s.record(func(sn *Snapshot) { sn.Errors++ })
		s.finishTick(start)
		return
	}

	var due, created, suppressed, failed uint64
	for i := range reminders {
		if ctx.Err() != nil {
			break
		}
		r := &reminders[i]
		isDue, err := schedule.IsDue(r, now)
		if err != nil {
			// Malformed schedule: skip for this tick only, never deactivate.
			s.log.Warn().Err(err).Str("reminder_id", r.ID).Msg("schedule evaluation failed, skipping reminder this tick")
			failed++
			continue
		}
		if !isDue {
			continue
		}
		due++

		madeNotification, err := s.fire(ctx, r, now)
		if err != nil {
			s.log.Error().Err(err).Str("reminder_id", r.ID).Str("user_id", r.UserID).Msg("firing reminder failed")
			failed++
			continue
		}
		if madeNotification {
			created++
		} else {
			suppressed++
		}
	}

	s.record(func(sn *Snapshot) {
		sn.Due += due
		sn.Created += created
		sn.Suppressed += suppressed
		sn.Errors += failed
	})
	s.finishTick(start)

	if due > 0 || failed > 0 {
		s.log.Info().
			Int("reminders", len(reminders)).
			Uint64("due", due).
			Uint64("created", created).
			Uint64("suppressed", suppressed).
			Uint64("failed", failed).
			Dur("dur", time.Since(start)).
			Msg("trigger tick")
	} else {
		s.log.Debug().Int("reminders", len(reminders)).Dur("dur", time.Since(start)).Msg("trigger tick idle")
	}
}

// fire creates the notification (unless the gate suppresses it) and then
// advances lastTriggered. The advance happens in the same logical step as
// the creation; if it fails after a successful create we log and accept the
// at-least-once duplication risk rather than lose the advance silently.
func (s *Service) fire(ctx context.Context, r *domain.Reminder, now time.Time) (bool, error) {
	created := false
	if s.gate.Enabled(ctx, r.UserID, r.Category) {
		n := &domain.Notification{
			ID:        uuid.NewString(),
			UserID:    r.UserID,
			Type:      r.Category,
			Title:     r.Title,
			Body:      r.Body(),
			Payload:   map[string]string{"reminder_id": r.ID},
			Status:    domain.StatusPending,
			CreatedAt: now,
		}
		if err := s.store.CreateNotification(ctx, n); err != nil {
			// Without a notification there is nothing to protect from
			// double-firing; leave lastTriggered alone so the next
			// qualifying tick retries.
			return false, fmt.Errorf("create notification: %w", err)
		}
		created = true
	} else {
		s.log.Debug().Str("reminder_id", r.ID).Str("user_id", r.UserID).Str("category", string(r.Category)).Msg("firing suppressed by preferences")
	}

	if err := s.store.UpdateReminderLastTriggered(ctx, r.ID, now); err != nil {
		if created {
			// The notification exists; the next tick may fire again.
			s.log.Error().Err(err).Str("reminder_id", r.ID).Msg("lastTriggered advance failed after notification creation, duplicate firing possible")
			return true, nil
		}
		return false, fmt.Errorf("advance lastTriggered: %w", err)
	}
	return created, nil
}

func (s *Service) record(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}

func (s *Service) finishTick(start time.Time) {
	s.mu.Lock()
	s.snap.Ticks++
	s.snap.LastTick = start
	s.snap.LastDuration = time.Since(start)
	s.mu.Unlock()
}
