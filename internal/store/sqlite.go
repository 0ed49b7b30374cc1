package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"

	"remindd/internal/domain"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

type sqliteStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// timeFormat is how timestamps are persisted. Lexicographic order matches
// chronological order, which the status/stale queries rely on.
const timeFormat = time.RFC3339Nano

// Open opens (or creates) the SQLite database, applies pragmas, runs
// migrations, and returns the store.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite is a single-writer engine; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	st := &sqliteStore{db: db, log: log.With().Str("component", "store").Logger()}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- row types ----
//
// Timestamps live as RFC3339Nano TEXT in SQLite, so rows carry strings and
// are converted at the boundary.

type reminderRow struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	Category      string         `db:"category"`
	Title         string         `db:"title"`
	Message       string         `db:"message"`
	Schedule      string         `db:"schedule"`
	QuietStart    string         `db:"quiet_start"`
	QuietEnd      string         `db:"quiet_end"`
	IsActive      bool           `db:"is_active"`
	LastTriggered sql.NullString `db:"last_triggered"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

type notificationRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Type      string         `db:"type"`
	Title     string         `db:"title"`
	Body      string         `db:"body"`
	Payload   string         `db:"payload"`
	Status    string         `db:"status"`
	CreatedAt string         `db:"created_at"`
	SentAt    sql.NullString `db:"sent_at"`
}

type deviceRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	PushToken string `db:"push_token"`
	Platform  string `db:"platform"`
	CreatedAt string `db:"created_at"`
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r reminderRow) toDomain() (domain.Reminder, error) {
	var sched domain.ScheduleConfig
	if err := json.Unmarshal([]byte(r.Schedule), &sched); err != nil {
		return domain.Reminder{}, fmt.Errorf("reminder %s: decode schedule: %w", r.ID, err)
	}
	last, err := parseNullTime(r.LastTriggered)
	if err != nil {
		return domain.Reminder{}, fmt.Errorf("reminder %s: last_triggered: %w", r.ID, err)
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Reminder{}, fmt.Errorf("reminder %s: created_at: %w", r.ID, err)
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return domain.Reminder{}, fmt.Errorf("reminder %s: updated_at: %w", r.ID, err)
	}
	return domain.Reminder{
		ID:              r.ID,
		UserID:          r.UserID,
		Category:        domain.Category(r.Category),
		Title:           r.Title,
		Message:         r.Message,
		Schedule:        sched,
		QuietHoursStart: r.QuietStart,
		QuietHoursEnd:   r.QuietEnd,
		IsActive:        r.IsActive,
		LastTriggered:   last,
		CreatedAt:       created,
		UpdatedAt:       updated,
	}, nil
}

func (n notificationRow) toDomain() (domain.Notification, error) {
	var payload map[string]string
	if n.Payload != "" {
		if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
			return domain.Notification{}, fmt.Errorf("notification %s: decode payload: %w", n.ID, err)
		}
	}
	created, err := parseTime(n.CreatedAt)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("notification %s: created_at: %w", n.ID, err)
	}
	sent, err := parseNullTime(n.SentAt)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("notification %s: sent_at: %w", n.ID, err)
	}
	return domain.Notification{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      domain.Category(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		Payload:   payload,
		Status:    domain.NotificationStatus(n.Status),
		CreatedAt: created,
		SentAt:    sent,
	}, nil
}

func (d deviceRow) toDomain() (domain.Device, error) {
	created, err := parseTime(d.CreatedAt)
	if err != nil {
		return domain.Device{}, fmt.Errorf("device %s: created_at: %w", d.ID, err)
	}
	return domain.Device{
		ID:        d.ID,
		UserID:    d.UserID,
		PushToken: d.PushToken,
		Platform:  d.Platform,
		CreatedAt: created,
	}, nil
}

// ---- pipeline surface ----

func (s *sqliteStore) ListActiveReminders(ctx context.Context) ([]domain.Reminder, error) {
	var rows []reminderRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, category, title, message, schedule, quiet_start, quiet_end,
		        is_active, last_triggered, created_at, updated_at
		 FROM reminders WHERE is_active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Reminder, 0, len(rows))
	for _, r := range rows {
		rem, err := r.toDomain()
		if err != nil {
			// A single undecodable row must not take down the whole scan.
			s.log.Warn().Err(err).Str("reminder_id", r.ID).Msg("skipping undecodable reminder row")
			continue
		}
		out = append(out, rem)
	}
	return out, nil
}

func (s *sqliteStore) UpdateReminderLastTriggered(ctx context.Context, id string, at time.Time) error {
	ts := at.UTC().Format(timeFormat)
	// The guard keeps lastTriggered monotonically non-decreasing.
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET last_triggered = ?, updated_at = ?
		 WHERE id = ? AND (last_triggered IS NULL OR last_triggered <= ?)`,
		ts, ts, id, ts)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	payload := "{}"
	if len(n.Payload) > 0 {
		b, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payload = string(b)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = domain.StatusPending
	}
	var sentAt any
	if n.SentAt != nil {
		sentAt = n.SentAt.UTC().Format(timeFormat)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, user_id, type, title, body, payload, status, created_at, sent_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Body, payload, string(n.Status),
		n.CreatedAt.UTC().Format(timeFormat), sentAt)
	return err
}

func (s *sqliteStore) ListPendingNotifications(ctx context.Context, limit int) ([]PendingNotification, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, type, title, body, payload, status, created_at, sent_at
		 FROM notifications WHERE status = ? ORDER BY created_at LIMIT ?`,
		string(domain.StatusPending), limit)
	if err != nil {
		return nil, err
	}

	out := make([]PendingNotification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toDomain()
		if err != nil {
			s.log.Warn().Err(err).Str("notification_id", row.ID).Msg("skipping undecodable notification row")
			continue
		}
		devices, err := s.pushDevices(ctx, n.UserID)
		if err != nil {
			return nil, err
		}
		out = append(out, PendingNotification{Notification: n, Devices: devices})
	}
	return out, nil
}

func (s *sqliteStore) pushDevices(ctx context.Context, userID string) ([]domain.Device, error) {
	var rows []deviceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, push_token, platform, created_at
		 FROM devices WHERE user_id = ? AND push_token != '' ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Device, 0, len(rows))
	for _, d := range rows {
		dev, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, nil
}

func (s *sqliteStore) UpdateNotificationStatus(ctx context.Context, id string, status domain.NotificationStatus, sentAt *time.Time) error {
	if !domain.StatusPending.CanTransition(status) {
		return fmt.Errorf("illegal status transition to %q", status)
	}
	var sent any
	if sentAt != nil {
		sent = sentAt.UTC().Format(timeFormat)
	}
	// Guarding on PENDING keeps the state machine one-way even under races.
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, sent_at = ? WHERE id = ? AND status = ?`,
		string(status), sent, id, string(domain.StatusPending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) MarkStalePendingFailed(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ? WHERE status = ? AND created_at < ?`,
		string(domain.StatusFailed), string(domain.StatusPending),
		olderThan.UTC().Format(timeFormat))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	type prefsRow struct {
		UserID            string `db:"user_id"`
		HydrationEnabled  bool   `db:"hydration_enabled"`
		MovementEnabled   bool   `db:"movement_enabled"`
		SleepEnabled      bool   `db:"sleep_enabled"`
		MedicationEnabled bool   `db:"medication_enabled"`
		WorkoutEnabled    bool   `db:"workout_enabled"`
		PushEnabled       bool   `db:"push_enabled"`
		EmailEnabled      bool   `db:"email_enabled"`
		QuietHoursEnabled bool   `db:"quiet_hours_enabled"`
		UpdatedAt         string `db:"updated_at"`
	}
	var row prefsRow
	err := s.db.GetContext(ctx, &row,
		`SELECT user_id, hydration_enabled, movement_enabled, sleep_enabled, medication_enabled,
		        workout_enabled, push_enabled, email_enabled, quiet_hours_enabled, updated_at
		 FROM notification_preferences WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("preferences %s: updated_at: %w", userID, err)
	}
	return &domain.NotificationPreferences{
		UserID:            row.UserID,
		HydrationEnabled:  row.HydrationEnabled,
		MovementEnabled:   row.MovementEnabled,
		SleepEnabled:      row.SleepEnabled,
		MedicationEnabled: row.MedicationEnabled,
		WorkoutEnabled:    row.WorkoutEnabled,
		PushEnabled:       row.PushEnabled,
		EmailEnabled:      row.EmailEnabled,
		QuietHoursEnabled: row.QuietHoursEnabled,
		UpdatedAt:         updated,
	}, nil
}

// ---- surrounding-system surface ----

func (s *sqliteStore) CreateReminder(ctx context.Context, r *domain.Reminder) error {
	if err := r.Schedule.Validate(); err != nil {
		return err
	}
	sched, err := json.Marshal(r.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	var last any
	if r.LastTriggered != nil {
		last = r.LastTriggered.UTC().Format(timeFormat)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, user_id, category, title, message, schedule, quiet_start, quiet_end,
		                       is_active, last_triggered, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, string(r.Category), r.Title, r.Message, string(sched),
		r.QuietHoursStart, r.QuietHoursEnd, r.IsActive, last,
		r.CreatedAt.UTC().Format(timeFormat), r.UpdatedAt.UTC().Format(timeFormat))
	return err
}

func (s *sqliteStore) UpdateReminder(ctx context.Context, r *domain.Reminder) error {
	if err := r.Schedule.Validate(); err != nil {
		return err
	}
	sched, err := json.Marshal(r.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET category = ?, title = ?, message = ?, schedule = ?,
		        quiet_start = ?, quiet_end = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		string(r.Category), r.Title, r.Message, string(sched),
		r.QuietHoursStart, r.QuietHoursEnd, r.IsActive,
		time.Now().UTC().Format(timeFormat), r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reminder %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) GetReminder(ctx context.Context, id string) (*domain.Reminder, error) {
	var row reminderRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, user_id, category, title, message, schedule, quiet_start, quiet_end,
		        is_active, last_triggered, created_at, updated_at
		 FROM reminders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *sqliteStore) RegisterDevice(ctx context.Context, d *domain.Device) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices(id, user_id, push_token, platform, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET push_token = excluded.push_token, platform = excluded.platform`,
		d.ID, d.UserID, d.PushToken, d.Platform, d.CreatedAt.UTC().Format(timeFormat))
	return err
}

func (s *sqliteStore) RemoveDevice(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) UpsertPreferences(ctx context.Context, p *domain.NotificationPreferences) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences(user_id, hydration_enabled, movement_enabled, sleep_enabled,
		        medication_enabled, workout_enabled, push_enabled, email_enabled, quiet_hours_enabled, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		        hydration_enabled = excluded.hydration_enabled,
		        movement_enabled = excluded.movement_enabled,
		        sleep_enabled = excluded.sleep_enabled,
		        medication_enabled = excluded.medication_enabled,
		        workout_enabled = excluded.workout_enabled,
		        push_enabled = excluded.push_enabled,
		        email_enabled = excluded.email_enabled,
		        quiet_hours_enabled = excluded.quiet_hours_enabled,
		        updated_at = excluded.updated_at`,
		p.UserID, p.HydrationEnabled, p.MovementEnabled, p.SleepEnabled,
		p.MedicationEnabled, p.WorkoutEnabled, p.PushEnabled, p.EmailEnabled,
		p.QuietHoursEnabled, time.Now().UTC().Format(timeFormat))
	return err
}

func (s *sqliteStore) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, user_id, type, title, body, payload, status, created_at, sent_at
		 FROM notifications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	n, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *sqliteStore) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, type, title, body, payload, status, created_at, sent_at
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
