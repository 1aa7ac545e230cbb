package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
)

// Schedule is a recurring request: the engine re-runs request_text on the
// cron cadence under the owning session.
type Schedule struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id,omitempty"`
	RequestText string    `json:"request_text"`
	CronSpec    string    `json:"cron_spec"`
	NextRunAt   time.Time `json:"next_run_at"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateSchedule validates the cron spec and stores the schedule with its
// first fire time.
func (s *Store) CreateSchedule(ctx context.Context, sched Schedule) (Schedule, error) {
	expr, err := cronexpr.Parse(sched.CronSpec)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron spec %q: %w", sched.CronSpec, err)
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	sched.NextRunAt = expr.Next(time.Now())
	sched.Enabled = true
	sched.CreatedAt = time.Now()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO schedules (id, session_id, user_id, request_text, cron_spec, next_run_at, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sched.ID, sched.SessionID, sched.UserID, sched.RequestText, sched.CronSpec,
		sched.NextRunAt, sched.Enabled, sched.CreatedAt,
	)
	if err != nil {
		return Schedule{}, fmt.Errorf("inserting schedule: %w", err)
	}
	return sched, nil
}

// DueSchedules returns enabled schedules whose fire time has passed.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, session_id, user_id, request_text, cron_spec, next_run_at, enabled, created_at
		FROM schedules WHERE enabled AND next_run_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		var sched Schedule
		if err := rows.Scan(&sched.ID, &sched.SessionID, &sched.UserID, &sched.RequestText,
			&sched.CronSpec, &sched.NextRunAt, &sched.Enabled, &sched.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// AdvanceSchedule moves a fired schedule to its next cron occurrence.
func (s *Store) AdvanceSchedule(ctx context.Context, id, cronSpec string, after time.Time) error {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", cronSpec, err)
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE schedules SET next_run_at = $1 WHERE id = $2`,
		expr.Next(after), id)
	return err
}

// DisableSchedule stops future fires without deleting history.
func (s *Store) DisableSchedule(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET enabled = FALSE WHERE id = $1`, id)
	return err
}

// ListSchedules returns all schedules for a session.
func (s *Store) ListSchedules(ctx context.Context, sessionID string) ([]Schedule, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, session_id, user_id, request_text, cron_spec, next_run_at, enabled, created_at
		FROM schedules WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		var sched Schedule
		if err := rows.Scan(&sched.ID, &sched.SessionID, &sched.UserID, &sched.RequestText,
			&sched.CronSpec, &sched.NextRunAt, &sched.Enabled, &sched.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}
