// Package postgres provides a Postgres-backed task store for distributed
// deployments where several crawler nodes share one task table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StoreConfig controls the Postgres connection pool used for task rows.
type StoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store reads and writes task rows in Postgres.
type Store struct {
	pool  pgxPool
	table string
	now   func() time.Time
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("task_store.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawl_tasks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table, now: time.Now}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_tasks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, task weibo.Task) error {
	if task.ID == "" {
		return weibo.NewError(weibo.ErrKindConfiguration, "task id is required")
	}
	requestJSON, err := json.Marshal(task.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, state, progress, submitted_at, request)
VALUES ($1, $2, $3, $4, $5)`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		task.ID,
		string(task.State),
		task.Progress,
		task.Submitted.UTC(),
		requestJSON,
	); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTaskState transitions a task row. Entering processing stamps the
// start time; terminal states stamp the finish time.
func (s *Store) UpdateTaskState(ctx context.Context, taskID string, state weibo.TaskState, progress int, result *weibo.CrawlResult, errText string) error {
	var resultJSON []byte
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = encoded
	}
	now := s.now().UTC()

	var query string
	args := []any{taskID, string(state), progress, resultJSON, errText, now}
	switch state {
	case weibo.TaskStateProcessing:
		query = fmt.Sprintf(`
UPDATE %s
SET state = $2, progress = $3, result = $4, error_text = $5,
    started_at = COALESCE(started_at, $6)
WHERE id = $1`, s.table)
	case weibo.TaskStateComplete, weibo.TaskStateFailed:
		query = fmt.Sprintf(`
UPDATE %s
SET state = $2, progress = $3, result = $4, error_text = $5,
    finished_at = $6
WHERE id = $1`, s.table)
	default:
		query = fmt.Sprintf(`
UPDATE %s
SET state = $2, progress = $3, result = $4, error_text = $5
WHERE id = $1`, s.table)
		args = args[:5]
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return weibo.NewError(weibo.ErrKindNotFound, "task not found")
	}
	return nil
}

// SetTaskProgress advances the progress of a running task. Rows in a terminal
// state are left untouched.
func (s *Store) SetTaskProgress(ctx context.Context, taskID string, progress int) error {
	query := fmt.Sprintf(`
UPDATE %s
SET progress = GREATEST(progress, $2)
WHERE id = $1 AND state = $3`, s.table)
	if _, err := s.pool.Exec(ctx, query, taskID, progress, string(weibo.TaskStateProcessing)); err != nil {
		return fmt.Errorf("set task progress: %w", err)
	}
	return nil
}

// GetTask loads one task row.
func (s *Store) GetTask(ctx context.Context, taskID string) (weibo.Task, error) {
	query := fmt.Sprintf(`
SELECT id, state, progress, submitted_at, started_at, finished_at, request, result, error_text
FROM %s WHERE id = $1`, s.table)

	var (
		task        weibo.Task
		state       string
		started     *time.Time
		finished    *time.Time
		requestJSON []byte
		resultJSON  []byte
		errText     *string
	)
	row := s.pool.QueryRow(ctx, query, taskID)
	if err := row.Scan(&task.ID, &state, &task.Progress, &task.Submitted,
		&started, &finished, &requestJSON, &resultJSON, &errText); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return weibo.Task{}, weibo.NewError(weibo.ErrKindNotFound, "task not found")
		}
		return weibo.Task{}, fmt.Errorf("select task: %w", err)
	}
	task.State = weibo.TaskState(state)
	task.Started = started
	task.Finished = finished
	if errText != nil {
		task.ErrorText = *errText
	}
	if len(requestJSON) > 0 {
		if err := json.Unmarshal(requestJSON, &task.Request); err != nil {
			return weibo.Task{}, fmt.Errorf("decode request: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var result weibo.CrawlResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return weibo.Task{}, fmt.Errorf("decode result: %w", err)
		}
		task.Result = &result
	}
	return task, nil
}
