package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"remindd/internal/domain"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "remindd.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testReminder(userID string) *domain.Reminder {
	return &domain.Reminder{
		ID:       uuid.NewString(),
		UserID:   userID,
		Category: domain.CategoryHydration,
		Title:    "Drink water",
		Schedule: domain.ScheduleConfig{Type: domain.ScheduleInterval, IntervalMinutes: 30},
		IsActive: true,
	}
}

func testNotification(userID string) *domain.Notification {
	return &domain.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		Type:    domain.CategoryHydration,
		Title:   "Drink water",
		Body:    "Time to drink some water!",
		Payload: map[string]string{"reminder_id": "r-123"},
		Status:  domain.StatusPending,
	}
}

func TestListActiveReminders(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	active := testReminder("u1")
	inactive := testReminder("u1")
	inactive.IsActive = false

	if err := st.CreateReminder(ctx, active); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.CreateReminder(ctx, inactive); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.ListActiveReminders(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Fatalf("expected only the active reminder, got %d rows", len(got))
	}
	if got[0].Schedule.Type != domain.ScheduleInterval || got[0].Schedule.IntervalMinutes != 30 {
		t.Fatalf("schedule did not round-trip: %+v", got[0].Schedule)
	}
}

func TestLastTriggeredMonotonic(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	r := testReminder("u1")
	if err := st.CreateReminder(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	if err := st.UpdateReminderLastTriggered(ctx, r.ID, first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Advancing forward works.
	if err := st.UpdateReminderLastTriggered(ctx, r.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("forward update: %v", err)
	}
	// Moving backwards is rejected.
	if err := st.UpdateReminderLastTriggered(ctx, r.ID, first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("backward update should be rejected, got %v", err)
	}

	got, err := st.GetReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastTriggered == nil || !got.LastTriggered.Equal(first.Add(time.Hour)) {
		t.Fatalf("lastTriggered = %v, want %v", got.LastTriggered, first.Add(time.Hour))
	}
}

func TestPendingBatchJoinsPushDevices(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	n := testNotification("u1")
	if err := st.CreateNotification(ctx, n); err != nil {
		t.Fatalf("create notification: %v", err)
	}
	withToken := &domain.Device{ID: uuid.NewString(), UserID: "u1", PushToken: "tok-1", Platform: "ios"}
	noToken := &domain.Device{ID: uuid.NewString(), UserID: "u1", Platform: "android"}
	otherUser := &domain.Device{ID: uuid.NewString(), UserID: "u2", PushToken: "tok-2"}
	for _, d := range []*domain.Device{withToken, noToken, otherUser} {
		if err := st.RegisterDevice(ctx, d); err != nil {
			t.Fatalf("register device: %v", err)
		}
	}

	batch, err := st.ListPendingNotifications(ctx, 100)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 pending notification, got %d", len(batch))
	}
	if got := batch[0].Notification; got.ID != n.ID || got.Payload["reminder_id"] != "r-123" {
		t.Fatalf("notification did not round-trip: %+v", got)
	}
	if len(batch[0].Devices) != 1 || batch[0].Devices[0].PushToken != "tok-1" {
		t.Fatalf("expected exactly the push-capable device of the owner, got %+v", batch[0].Devices)
	}
}

func TestPendingBatchLimit(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := st.CreateNotification(ctx, testNotification("u1")); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	batch, err := st.ListPendingNotifications(ctx, 3)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(batch))
	}
}

func TestStatusMachineIsOneWay(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	n := testNotification("u1")
	if err := st.CreateNotification(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}

	sentAt := time.Now().UTC()
	if err := st.UpdateNotificationStatus(ctx, n.ID, domain.StatusSent, &sentAt); err != nil {
		t.Fatalf("transition to SENT: %v", err)
	}
	// A second transition out of a terminal state is rejected.
	if err := st.UpdateNotificationStatus(ctx, n.ID, domain.StatusFailed, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("transition out of SENT should fail, got %v", err)
	}
	// PENDING → PENDING is not a legal step either.
	if err := st.UpdateNotificationStatus(ctx, n.ID, domain.StatusPending, nil); err == nil {
		t.Fatal("transition to PENDING should be rejected")
	}

	got, err := st.GetNotification(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusSent || got.SentAt == nil {
		t.Fatalf("status = %s, sentAt = %v", got.Status, got.SentAt)
	}
}

func TestMarkStalePendingFailed(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	old := testNotification("u1")
	old.CreatedAt = time.Now().Add(-48 * time.Hour).UTC()
	fresh := testNotification("u1")
	for _, n := range []*domain.Notification{old, fresh} {
		if err := st.CreateNotification(ctx, n); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	count, err := st.MarkStalePendingFailed(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 stale notification, got %d", count)
	}
	got, err := st.GetNotification(ctx, old.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("stale notification status = %s, want FAILED", got.Status)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	// Absent preferences are reported as nil, not an error.
	p, err := st.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil for absent preferences, got %+v", p)
	}

	want := domain.DefaultPreferences("u1")
	want.SleepEnabled = false
	if err := st.UpsertPreferences(ctx, want); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := st.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.SleepEnabled || !got.MedicationEnabled {
		t.Fatalf("preferences did not round-trip: %+v", got)
	}
}
