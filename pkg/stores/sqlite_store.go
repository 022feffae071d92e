package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/autoops/autoops/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.TaskStore backed by a local SQLite file.
// Each task record is read and written atomically as a whole JSON blob,
// so concurrent writes to different tasks never conflict.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

// NewSQLiteStore opens the database, applies pragmas, and runs migrations.
func NewSQLiteStore(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	cfg = cfg.withDefaults()

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db, path: cfg.Path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies the embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutTask inserts or replaces the task record.
func (s *SQLiteStore) PutTask(ctx context.Context, task *engine.Task) error {
	record, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	var completedAt any
	if task.CompletedAt != nil {
		completedAt = task.CompletedAt.UTC()
	}

	query := `
		INSERT INTO tasks (id, status, priority, record, created_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			record = excluded.record,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID, string(task.Status), string(task.Priority), string(record),
		task.CreatedAt.UTC(), completedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a task record by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*engine.Task, error) {
	var record string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM tasks WHERE id = ?", id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewPermanentError("task not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}

	var task engine.Task
	if err := json.Unmarshal([]byte(record), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", id, err)
	}
	return &task, nil
}

// ListTasks returns all stored task records, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*engine.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT record FROM tasks ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*engine.Task
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		var task engine.Task
		if err := json.Unmarshal([]byte(record), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task record: %w", err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task record. Deleting an absent record is not an
// error.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}
