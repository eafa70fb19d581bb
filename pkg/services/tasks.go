package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence"
)

// TaskService manages scheduled tasks. It only writes task rows; the
// scheduler observes them and reconciles its cron jobs.
type TaskService struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	validate    *validator.Validate
}

// NewTaskService creates a new task service.
func NewTaskService(logger *slog.Logger, p persistence.Persistence) *TaskService {
	return &TaskService{
		logger:      logger,
		persistence: p,
		validate:    validator.New(),
	}
}

// CreateTask validates and inserts a new task. The referenced flow must
// exist and the cron expression must parse; an empty crontab gets the
// default daily schedule.
func (s *TaskService) CreateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	if err := s.validateTask(ctx, task); err != nil {
		return nil, err
	}

	err := s.persistence.CreateTask(ctx, task)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "task created",
		"task_id", task.ID, "flow_id", task.FlowID, "crontab", task.Crontab)

	return task, nil
}

// UpdateTask validates and rewrites an existing task.
func (s *TaskService) UpdateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	if err := s.validateTask(ctx, task); err != nil {
		return nil, err
	}

	err := s.persistence.UpdateTask(ctx, task)
	if err != nil {
		return nil, err
	}

	return task, nil
}

// DeleteTask removes a task. The scheduler drops the corresponding cron job
// on its next reconciliation pass.
func (s *TaskService) DeleteTask(ctx context.Context, id int64) error {
	return s.persistence.DeleteTask(ctx, id)
}

// GetTask returns a task by ID.
func (s *TaskService) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	return s.persistence.TaskByID(ctx, id)
}

// ListTasks returns all tasks owned by a user.
func (s *TaskService) ListTasks(ctx context.Context, username string) ([]*models.Task, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	return s.persistence.TasksByUser(ctx, username)
}

func (s *TaskService) validateTask(ctx context.Context, task *models.Task) error {
	if task.FlowType == 0 {
		task.FlowType = models.FlowTypeFactor
	}

	if task.Crontab == "" {
		task.Crontab = models.DefaultCrontab
	}

	if err := s.validate.Struct(task); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}

	if err := task.Validate(); err != nil {
		return err
	}

	f, err := s.persistence.FlowByID(ctx, task.FlowID)
	if err != nil {
		return err
	}

	if task.FlowName == "" {
		task.FlowName = f.FlowName
	}

	return nil
}
