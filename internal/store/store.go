// Package store persists finished runs and session history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/errandhq/errand/internal/orchestration"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunRecord is one persisted task with its sealed history.
type RunRecord struct {
	Task      orchestration.Task      `json:"task"`
	History   []orchestration.Entry   `json:"history"`
	Result    orchestration.RunResult `json:"result"`
	CreatedAt time.Time               `json:"created_at"`
}

// Store is the Postgres-backed run archive.
type Store struct {
	DB *sql.DB
}

// New constructs the store from environment variables, preferring
// DATABASE_URL.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the store using an explicit Postgres DSN. Schema is
// managed by the migrate command, not here.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SaveRun archives one sealed run. Called once per task by the orchestrator.
func (s *Store) SaveRun(ctx context.Context, task orchestration.Task, history []orchestration.Entry, result orchestration.RunResult) error {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO runs (trace_id, session_id, user_id, tenant, request_text, status, message, history, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (trace_id) DO NOTHING`,
		task.TraceID, task.SessionID, task.UserID, task.Tenant, task.RequestText,
		string(task.Status), result.Message, historyJSON, resultJSON, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", task.TraceID, err)
	}
	return nil
}

// GetRun loads one archived run by trace ID.
func (s *Store) GetRun(ctx context.Context, traceID string) (RunRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT trace_id, session_id, user_id, tenant, request_text, status, history, result, created_at
		FROM runs WHERE trace_id = $1`, traceID)
	return scanRun(row)
}

// ListRuns returns recent runs, optionally filtered by session, newest first.
func (s *Store) ListRuns(ctx context.Context, sessionID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT trace_id, session_id, user_id, tenant, request_text, status, history, result, created_at
		FROM runs`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, sessionID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec         RunRecord
		status      string
		historyJSON []byte
		resultJSON  []byte
	)
	err := row.Scan(
		&rec.Task.TraceID, &rec.Task.SessionID, &rec.Task.UserID, &rec.Task.Tenant,
		&rec.Task.RequestText, &status, &historyJSON, &resultJSON, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}
	rec.Task.Status = orchestration.TaskStatus(status)
	rec.Task.CreatedAt = rec.CreatedAt
	if err := json.Unmarshal(historyJSON, &rec.History); err != nil {
		return RunRecord{}, fmt.Errorf("decoding history for %s: %w", rec.Task.TraceID, err)
	}
	if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
		return RunRecord{}, fmt.Errorf("decoding result for %s: %w", rec.Task.TraceID, err)
	}
	return rec, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
