package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence"
)

// TaskRepository handles scheduled task records.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

// Create inserts a new task and fills in its assigned ID.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	now := time.Now().UnixMilli()
	task.CreateTime = now
	task.UpdateTime = now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (username, flow_type, flow_name, flow_id, status, crontab, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, task.Username, task.FlowType, task.FlowName, task.FlowID, task.Status, task.Crontab, task.CreateTime, task.UpdateTime)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.ErrDuplicateTask
		}

		return fmt.Errorf("failed to create task: %w", err)
	}

	task.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read task id: %w", err)
	}

	return nil
}

// Update rewrites the task's mutable fields.
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	task.UpdateTime = time.Now().UnixMilli()

	result, err := r.db.ExecContext(ctx, `
		UPDATE tasks
		SET flow_name = ?, status = ?, crontab = ?, update_time = ?
		WHERE id = ?
	`, task.FlowName, task.Status, task.Crontab, task.UpdateTime, task.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.ErrDuplicateTask
		}

		return fmt.Errorf("failed to update task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTaskNotFound
	}

	return nil
}

// Delete removes a task by ID.
func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTaskNotFound
	}

	return nil
}

const taskColumns = `
	id
  , username
  , flow_type
  , flow_name
  , flow_id
  , status
  , crontab
  , create_time
  , update_time
`

// GetByID returns a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := r.scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTaskNotFound
		}

		return nil, err
	}

	return task, nil
}

// GetAll returns every task. The scheduler reconciles against this set.
func (r *TaskRepository) GetAll(ctx context.Context) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY id ASC`

	return r.queryTasks(ctx, query)
}

// GetByUser returns all tasks owned by a user.
func (r *TaskRepository) GetByUser(ctx context.Context, username string) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE username = ? ORDER BY id ASC`

	return r.queryTasks(ctx, query, username)
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func (r *TaskRepository) scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task

	err := row.Scan(&task.ID, &task.Username, &task.FlowType, &task.FlowName,
		&task.FlowID, &task.Status, &task.Crontab, &task.CreateTime, &task.UpdateTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	return &task, nil
}
