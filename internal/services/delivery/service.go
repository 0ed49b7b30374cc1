// Package delivery implements the notification delivery loop: it drains
// bounded batches of PENDING notifications, transitions their status, and
// fans sends out to each push-capable device of the owning user.
//
// Failure isolation is the hard invariant here: one notification's failure
// never affects its batch siblings, and one device's send failure never
// blocks the other devices of the same notification.
package delivery

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"remindd/internal/domain"
	"remindd/internal/push"
	"remindd/internal/store"
)

// Config controls the delivery loop.
type Config struct {
	Interval    time.Duration // tick cadence, default 10s
	BatchSize   int           // pending notifications per tick, default 100
	Workers     int           // parallel fan-out, default 4
	RatePerSec  int           // send rate limit; 0 disables
	SendTimeout time.Duration // per-device send bound, default 5s
	StaleAfter  time.Duration // pending-age cutoff for the sweep, default 24h
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 24 * time.Hour
	}
	return c
}

// Store is the slice of the persistence layer the loop needs.
type Store interface {
	ListPendingNotifications(ctx context.Context, limit int) ([]store.PendingNotification, error)
	UpdateNotificationStatus(ctx context.Context, id string, status domain.NotificationStatus, sentAt *time.Time) error
	MarkStalePendingFailed(ctx context.Context, olderThan time.Time) (int64, error)
}

// Snapshot is a point-in-time view of loop counters for the ops surface.
type Snapshot struct {
	Ticks        uint64        `json:"ticks"`
	Sent         uint64        `json:"sent"`
	Delivered    uint64        `json:"delivered"`
	Failed       uint64        `json:"failed"`
	SendErrors   uint64        `json:"send_errors"`
	LastTick     time.Time     `json:"last_tick"`
	LastBatch    int           `json:"last_batch"`
	LastDuration time.Duration `json:"last_duration_ns"`
}

type Service struct {
	cfg    Config
	store  Store
	sender push.Sender
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	limiter *rate.Limiter
	snap    Snapshot
}

func New(cfg Config, st Store, sender push.Sender, log zerolog.Logger) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:    cfg,
		store:  st,
		sender: sender,
		log:    log.With().Str("component", "delivery").Logger(),
		now:    time.Now,
	}
	if cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return s
}

// Interval returns the configured tick cadence.
func (s *Service) Interval() time.Duration { return s.cfg.Interval }

// StaleAfter returns the pending-age cutoff used by the sweep.
func (s *Service) StaleAfter() time.Duration { return s.cfg.StaleAfter }

// SetRate applies a new send rate limit; 0 removes the limit. Used by
// config hot reload.
func (s *Service) SetRate(perSec int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	} else {
		s.limiter = nil
	}
}

// Snapshot returns a copy of the loop counters.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Tick drains one batch. Workers fan the batch out; each notification is
// handled independently and a panic in one is contained to that item.
func (s *Service) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in delivery tick")
		}
	}()

	start := s.now()
	batch, err := s.store.ListPendingNotifications(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("listing pending notifications failed, will retry next tick")
		s.finishTick(start, 0)
		return
	}
	if len(batch) == 0 {
		s.finishTick(start, 0)
		return
	}

	workers := s.cfg.Workers
	if workers > len(batch) {
		workers = len(batch)
	}
	jobs := make(chan store.PendingNotification)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for item := range jobs {
				s.deliverOne(ctx, item)
			}
		}()
	}

feed:
	for _, item := range batch {
		select {
		case <-ctx.Done():
			// Shutdown: stop handing out work, let in-flight items finish.
			break feed
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	s.finishTick(start, len(batch))
	s.log.Info().Int("batch", len(batch)).Dur("dur", time.Since(start)).Msg("delivery tick")
}

// deliverOne applies the status transition and then fans out device sends.
// The transition is committed first: a later send failure is logged but
// never reverts the already-applied SENT state (a known gap, accepted until
// per-device delivery receipts exist).
func (s *Service) deliverOne(ctx context.Context, item store.PendingNotification) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Any("panic", r).Str("notification_id", item.Notification.ID).
				Str("stack", string(debug.Stack())).Msg("panic delivering notification")
		}
	}()

	n := item.Notification
	hasPush := len(item.Devices) > 0

	// No push channel means the in-app/badge delivery is already complete.
	target := domain.StatusDelivered
	if hasPush {
		target = domain.StatusSent
	}

	sentAt := s.now().UTC()
	if err := s.store.UpdateNotificationStatus(ctx, n.ID, target, &sentAt); err != nil {
		s.log.Error().Err(err).Str("notification_id", n.ID).Str("target", string(target)).Msg("status transition failed")
		// Best-effort FAILED follow-up; if that also fails the row stays
		// PENDING and the next tick retries (duplicate-send tolerant).
		if ferr := s.store.UpdateNotificationStatus(ctx, n.ID, domain.StatusFailed, nil); ferr != nil {
			s.log.Warn().Err(ferr).Str("notification_id", n.ID).Msg("FAILED follow-up write failed, leaving PENDING for retry")
		} else {
			s.record(func(sn *Snapshot) { sn.Failed++ })
		}
		return
	}

	if !hasPush {
		s.record(func(sn *Snapshot) { sn.Delivered++ })
		return
	}
	s.record(func(sn *Snapshot) { sn.Sent++ })

	msg := push.Message{Title: n.Title, Body: n.Body, Payload: n.Payload}
	for _, d := range item.Devices {
		if err := s.sendOne(ctx, d, msg); err != nil {
			// Per-device isolation: log and keep sending to the rest.
			s.log.Warn().Err(err).
				Str("notification_id", n.ID).
				Str("device_id", d.ID).
				Msg("push send failed")
			s.record(func(sn *Snapshot) { sn.SendErrors++ })
		}
	}
}

func (s *Service) sendOne(ctx context.Context, d domain.Device, msg push.Message) error {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return s.sender.Send(sctx, d.PushToken, msg)
}

// Sweep marks notifications stuck in PENDING past the stale cutoff as
// FAILED. Best-effort housekeeping on a slow cadence; keeps the pending
// scan bounded.
func (s *Service) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	count, err := s.store.MarkStalePendingFailed(ctx, cutoff)
	if err != nil {
		s.log.Warn().Err(err).Msg("stale pending sweep failed")
		return
	}
	if count > 0 {
		s.record(func(sn *Snapshot) { sn.Failed += uint64(count) })
		s.log.Info().Int64("count", count).Time("cutoff", cutoff).Msg("marked stale pending notifications as failed")
	}
}

func (s *Service) record(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}

func (s *Service) finishTick(start time.Time, batch int) {
	s.mu.Lock()
	s.snap.Ticks++
	s.snap.LastTick = start
	s.snap.LastBatch = batch
	s.snap.LastDuration = time.Since(start)
	s.mu.Unlock()
}
