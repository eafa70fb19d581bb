// Package scheduler runs flows on cron schedules by reconciling task rows
// against an in-process cron runner.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/otelhelper"
	"github.com/quantbench/quantflow/pkg/protocol"
)

var tracer = otel.Tracer("quantflow/scheduler")

// DefaultScanInterval is the period between reconciliation scans.
const DefaultScanInterval = 5 * time.Second

// Timezone all cron expressions are evaluated in.
const Timezone = "Asia/Shanghai"

// TaskSource lists the task rows the scheduler reconciles against.
type TaskSource interface {
	Tasks(ctx context.Context) ([]*models.Task, error)
}

// FlowRunner resolves and executes flows on behalf of their owner.
type FlowRunner interface {
	GetFlowInfo(ctx context.Context, flowID string) (*models.Flow, error)
	RunFlow(ctx context.Context, flowID, user string, infoCB protocol.ProgressFunc) (map[string]any, error)
}

type scheduledJob struct {
	entryID cron.EntryID
	crontab string
}

// Scheduler polls the task table and keeps one cron job per running task.
// Tasks are only ever written by the API; the scheduler observes them.
// The process hosts a single scheduler instance.
type Scheduler struct {
	logger   *slog.Logger
	tasks    TaskSource
	runner   FlowRunner
	interval time.Duration

	cron   *cron.Cron
	jobs   map[int64]scheduledJob
	ticker *time.Ticker
	done   chan bool

	started bool
	mu      sync.RWMutex
	scanMu  sync.Mutex
}

var (
	instance *Scheduler
	once     sync.Once
)

// New returns the process-wide scheduler, creating it on first call.
// Subsequent calls return the same instance regardless of arguments.
func New(logger *slog.Logger, tasks TaskSource, runner FlowRunner, interval time.Duration) *Scheduler {
	once.Do(func() {
		instance = newScheduler(logger, tasks, runner, interval)
	})

	return instance
}

func newScheduler(logger *slog.Logger, tasks TaskSource, runner FlowRunner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultScanInterval
	}

	return &Scheduler{
		logger:   logger,
		tasks:    tasks,
		runner:   runner,
		interval: interval,
		jobs:     make(map[int64]scheduledJob),
	}
}

// Start begins the reconciliation loop. Safe to call more than once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	location, err := time.LoadLocation(Timezone)
	if err != nil {
		return fmt.Errorf("failed to load scheduler timezone: %w", err)
	}

	s.cron = cron.New(
		cron.WithLocation(location),
		cron.WithParser(models.CronParser),
	)
	s.cron.Start()

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan bool)
	s.started = true

	go s.loop(ctx)

	s.logger.Info("scheduler started", "scan_interval", s.interval, "timezone", Timezone)

	return nil
}

// Stop gracefully shuts down the scheduler, waiting for in-flight cron jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	if s.ticker != nil {
		s.ticker.Stop()
	}

	close(s.done)

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for running jobs")
	}

	s.jobs = make(map[int64]scheduledJob)
	s.started = false
	s.logger.Info("scheduler stopped")

	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	s.reconcile(ctx)

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile diffs the task table against the live cron jobs. A scan that
// starts while the previous one still runs is skipped.
func (s *Scheduler) reconcile(ctx context.Context) {
	if !s.scanMu.TryLock() {
		s.logger.Debug("previous reconciliation still running, skipping scan")

		return
	}
	defer s.scanMu.Unlock()

	tasks, err := s.tasks.Tasks(ctx)
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err)

		return
	}

	seen := make(map[int64]struct{}, len(tasks))

	for _, task := range tasks {
		seen[task.ID] = struct{}{}
		s.reconcileTask(ctx, task)
	}

	// drop jobs whose task row is gone
	for id, job := range s.jobs {
		if _, ok := seen[id]; ok {
			continue
		}

		s.cron.Remove(job.entryID)
		delete(s.jobs, id)
		s.logger.Info("unscheduled deleted task", "task_id", id)
	}
}

func (s *Scheduler) reconcileTask(ctx context.Context, task *models.Task) {
	job, scheduled := s.jobs[task.ID]

	if task.Status != models.TaskStatusRunning {
		if scheduled {
			s.cron.Remove(job.entryID)
			delete(s.jobs, task.ID)
			s.logger.Info("unscheduled stopped task", "task_id", task.ID, "flow_id", task.FlowID)
		}

		return
	}

	// validate before the unchanged-job shortcut: a flow deleted after
	// scheduling must unschedule its task on the next scan
	if _, err := models.CronParser.Parse(task.Crontab); err != nil {
		s.logger.Warn("task has invalid crontab, skipping",
			"task_id", task.ID, "crontab", task.Crontab)

		if scheduled {
			s.cron.Remove(job.entryID)
			delete(s.jobs, task.ID)
		}

		return
	}

	if _, err := s.runner.GetFlowInfo(ctx, task.FlowID); err != nil {
		s.logger.Warn("task references unknown flow, skipping",
			"task_id", task.ID, "flow_id", task.FlowID, "error", err)

		if scheduled {
			s.cron.Remove(job.entryID)
			delete(s.jobs, task.ID)
		}

		return
	}

	if scheduled && job.crontab == task.Crontab {
		return
	}

	if scheduled {
		s.cron.Remove(job.entryID)
	}

	entryID, err := s.cron.AddFunc(task.Crontab, s.fire(task.ID, task.FlowID, task.Username))
	if err != nil {
		s.logger.Error("failed to schedule task",
			"task_id", task.ID, "crontab", task.Crontab, "error", err)

		delete(s.jobs, task.ID)

		return
	}

	s.jobs[task.ID] = scheduledJob{entryID: entryID, crontab: task.Crontab}
	s.logger.Info("scheduled task",
		"task_id", task.ID, "flow_id", task.FlowID, "crontab", task.Crontab)
}

// fire returns the cron callback for one task. Run failures are logged and
// never propagate into the cron runner.
func (s *Scheduler) fire(taskID int64, flowID, user string) func() {
	return func() {
		ctx, span := otelhelper.StartSpan(context.Background(), tracer, "task.fire",
			attribute.String(otelhelper.TaskIDKey, strconv.FormatInt(taskID, 10)),
			attribute.String(otelhelper.FlowIDKey, flowID),
		)
		defer span.End()

		logger := s.logger.With("task_id", taskID, "flow_id", flowID)
		logger.Info("task fired")

		progress := func(message string, severity protocol.Severity) {
			logger.Info("flow progress", "severity", severity, "message", message)
		}

		_, err := s.runner.RunFlow(ctx, flowID, user, progress)
		if err != nil {
			otelhelper.SetError(span, err, attribute.String(otelhelper.FlowIDKey, flowID))
			logger.Error("scheduled flow run failed", "error", err)

			return
		}

		logger.Info("scheduled flow run finished")
	}
}
