package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
	"github.com/shepherd/shepherd/internal/task/models"
)

// SQLiteStore is the durable Store implementation.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	normalizedPath := normalizeSQLitePath(dbPath)
	if err := ensureSQLiteDir(normalizedPath); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}
	if err := ensureSQLiteFile(normalizedPath); err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", normalizedPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func ensureSQLiteDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func ensureSQLiteFile(dbPath string) error {
	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

func normalizeSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		iterations_completed INTEGER NOT NULL DEFAULT 0,
		max_iterations INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_session_status ON tasks(session_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks(status, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = models.StatusQueued
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tasks (id, session_id, title, prompt, status, iterations_completed, max_iterations, created_at, updated_at)
		VALUES (:id, :session_id, :title, :prompt, :status, :iterations_completed, :max_iterations, :created_at, :updated_at)
	`, task)
	return err
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	err := s.db.GetContext(ctx, &task, s.db.Rebind(`
		SELECT * FROM tasks WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *SQLiteStore) GetActiveTaskForSession(ctx context.Context, sessionID string) (*models.Task, error) {
	var task models.Task
	err := s.db.GetContext(ctx, &task, s.db.Rebind(`
		SELECT * FROM tasks
		WHERE session_id = ? AND status IN ('queued', 'in_progress')
		ORDER BY created_at ASC
		LIMIT 1
	`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("active task for session", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *SQLiteStore) CompleteTask(ctx context.Context, id string) error {
	return s.UpdateStatus(ctx, id, models.StatusDone)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?
	`), status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.NotFound("task", id)
	}
	return nil
}

func (s *SQLiteStore) IncrementIterations(ctx context.Context, id string) (int, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE tasks
		SET iterations_completed = iterations_completed + 1, updated_at = ?
		WHERE id = ?
	`), time.Now().UTC(), id)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, apperrors.NotFound("task", id)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT iterations_completed FROM tasks WHERE id = ?
	`), id); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLiteStore) AssignNextQueued(ctx context.Context, sessionID string) (*models.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var task models.Task
	err = tx.GetContext(ctx, &task, tx.Rebind(`
		SELECT * FROM tasks
		WHERE status = 'queued' AND session_id = ''
		ORDER BY created_at ASC
		LIMIT 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.SessionID = sessionID
	task.Status = models.StatusInProgress
	task.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE tasks SET session_id = ?, status = ?, updated_at = ? WHERE id = ?
	`), task.SessionID, task.Status, task.UpdatedAt, task.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := s.db.SelectContext(ctx, &tasks, `
		SELECT * FROM tasks ORDER BY created_at DESC
	`); err != nil {
		return nil, err
	}
	return tasks, nil
}
