package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"remindd/internal/domain"
)

type fakeStore struct {
	mu            sync.Mutex
	reminders     []domain.Reminder
	notifications []domain.Notification
	listErr       error
	createErrFor  map[string]error // reminder id -> error on CreateNotification
	advanceErrFor map[string]error
}

func (f *fakeStore) ListActiveReminders(context.Context) ([]domain.Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Reminder, len(f.reminders))
	copy(out, f.reminders)
	return out, nil
}

func (f *fakeStore) UpdateReminderLastTriggered(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.advanceErrFor[id]; err != nil {
		return err
	}
	for i := range f.reminders {
		if f.reminders[i].ID == id {
			t := at
			f.reminders[i].LastTriggered = &t
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeStore) CreateNotification(_ context.Context, n *domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErrFor[n.Payload["reminder_id"]]; err != nil {
		return err
	}
	f.notifications = append(f.notifications, *n)
	return nil
}

func (f *fakeStore) created() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Notification, len(f.notifications))
	copy(out, f.notifications)
	return out
}

func (f *fakeStore) reminder(id string) domain.Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reminders {
		if r.ID == id {
			return r
		}
	}
	return domain.Reminder{}
}

type fakeGate struct{ disabled map[domain.Category]bool }

func (g *fakeGate) Enabled(_ context.Context, _ string, c domain.Category) bool {
	return !g.disabled[c]
}

func newService(st *fakeStore, gate Gate, now time.Time) *Service {
	s := New(Config{}, st, gate, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func dailyReminder(id string, category domain.Category, hhmm string) domain.Reminder {
	return domain.Reminder{
		ID:       id,
		UserID:   "u1",
		Category: category,
		Title:    "Reminder",
		Schedule: domain.ScheduleConfig{Type: domain.ScheduleDaily, Time: hhmm},
		IsActive: true,
	}
}

func TestDueReminderCreatesNotificationAndAdvances(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	r := dailyReminder("r1", domain.CategoryMedication, "09:00")
	r.Title = "Morning meds"
	st := &fakeStore{reminders: []domain.Reminder{r}}

	newService(st, &fakeGate{}, now).Tick(context.Background())

	created := st.created()
	if len(created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(created))
	}
	n := created[0]
	if n.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", n.Status)
	}
	if n.Title != "Morning meds" {
		t.Fatalf("title = %q", n.Title)
	}
	if n.Body != "Don't forget to take your medication." {
		t.Fatalf("default body = %q", n.Body)
	}
	if n.Payload["reminder_id"] != "r1" {
		t.Fatalf("payload = %v", n.Payload)
	}
	got := st.reminder("r1")
	if got.LastTriggered == nil || !got.LastTriggered.Equal(now) {
		t.Fatalf("lastTriggered = %v, want %v", got.LastTriggered, now)
	}
}

func TestSecondTickSameMinuteIsIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	st := &fakeStore{reminders: []domain.Reminder{dailyReminder("r1", domain.CategoryHydration, "08:00")}}
	svc := newService(st, &fakeGate{}, now)

	svc.Tick(context.Background())
	svc.Tick(context.Background())

	if got := len(st.created()); got != 1 {
		t.Fatalf("two ticks in the same minute created %d notifications, want 1", got)
	}
}

func TestSuppressedFiringStillAdvances(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	st := &fakeStore{reminders: []domain.Reminder{dailyReminder("r1", domain.CategoryMovement, "08:00")}}
	gate := &fakeGate{disabled: map[domain.Category]bool{domain.CategoryMovement: true}}

	svc := newService(st, gate, now)
	svc.Tick(context.Background())

	if got := len(st.created()); got != 0 {
		t.Fatalf("suppressed firing created %d notifications", got)
	}
	r := st.reminder("r1")
	if r.LastTriggered == nil || !r.LastTriggered.Equal(now) {
		t.Fatal("suppressed firing must still advance lastTriggered")
	}
	snap := svc.Snapshot()
	if snap.Suppressed != 1 || snap.Created != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPerReminderFailureIsolation(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	st := &fakeStore{
		reminders: []domain.Reminder{
			dailyReminder("r1", domain.CategoryHydration, "08:00"),
			dailyReminder("r2", domain.CategorySleep, "08:00"),
			dailyReminder("r3", domain.CategoryWorkout, "08:00"),
		},
		createErrFor: map[string]error{"r2": errors.New("store write failed")},
	}

	svc := newService(st, &fakeGate{}, now)
	svc.Tick(context.Background())

	created := st.created()
	if len(created) != 2 {
		t.Fatalf("expected siblings to survive, got %d notifications", len(created))
	}
	for _, n := range created {
		if n.Payload["reminder_id"] == "r2" {
			t.Fatal("failed reminder should not have a notification")
		}
	}
	// r2's creation failed, so its lastTriggered stays unset and the next
	// qualifying tick can retry.
	if st.reminder("r2").LastTriggered != nil {
		t.Fatal("failed creation must not advance lastTriggered")
	}
	if st.reminder("r1").LastTriggered == nil || st.reminder("r3").LastTriggered == nil {
		t.Fatal("successful siblings must advance")
	}
	if snap := svc.Snapshot(); snap.Errors != 1 {
		t.Fatalf("errors = %d, want 1", snap.Errors)
	}
}

func TestAdvanceFailureAfterCreationIsAccepted(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	st := &fakeStore{
		reminders:     []domain.Reminder{dailyReminder("r1", domain.CategoryHydration, "08:00")},
		advanceErrFor: map[string]error{"r1": errors.New("db locked")},
	}

	svc := newService(st, &fakeGate{}, now)
	svc.Tick(context.Background())

	// Creation succeeded and counts as such; the advance failure is logged,
	// accepting the duplicate-firing risk.
	if got := len(st.created()); got != 1 {
		t.Fatalf("expected notification despite advance failure, got %d", got)
	}
	if snap := svc.Snapshot(); snap.Created != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestMalformedScheduleSkippedNotFatal(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	bad := dailyReminder("bad", domain.CategoryCustom, "not-a-time")
	good := dailyReminder("good", domain.CategoryHydration, "08:00")
	st := &fakeStore{reminders: []domain.Reminder{bad, good}}

	svc := newService(st, &fakeGate{}, now)
	svc.Tick(context.Background())

	created := st.created()
	if len(created) != 1 || created[0].Payload["reminder_id"] != "good" {
		t.Fatalf("expected only the well-formed reminder to fire, got %+v", created)
	}
	// The bad reminder stays active for future ticks.
	if !st.reminder("bad").IsActive {
		t.Fatal("malformed reminder must not be deactivated")
	}
}

func TestListFailureRetriedNextTick(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	st := &fakeStore{
		reminders: []domain.Reminder{dailyReminder("r1", domain.CategoryHydration, "08:00")},
		listErr:   errors.New("transient read failure"),
	}
	svc := newService(st, &fakeGate{}, now)

	svc.Tick(context.Background())
	if len(st.created()) != 0 {
		t.Fatal("tick with failed list should create nothing")
	}

	st.mu.Lock()
	st.listErr = nil
	st.mu.Unlock()
	svc.Tick(context.Background())
	if len(st.created()) != 1 {
		t.Fatal("next tick should recover")
	}
}
