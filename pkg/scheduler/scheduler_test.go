package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence"
	"github.com/quantbench/quantflow/pkg/protocol"
)

type fakeTasks struct {
	mu    sync.Mutex
	tasks []*models.Task
	scans int
}

func (f *fakeTasks) Tasks(ctx context.Context) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scans++

	out := make([]*models.Task, len(f.tasks))
	copy(out, f.tasks)

	return out, nil
}

func (f *fakeTasks) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.scans
}

func (f *fakeTasks) set(tasks ...*models.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tasks = tasks
}

type fakeRunner struct {
	mu    sync.Mutex
	flows map[string]bool
	runs  []string
}

func (f *fakeRunner) GetFlowInfo(ctx context.Context, flowID string) (*models.Flow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.flows[flowID] {
		return nil, persistence.ErrFlowNotFound
	}

	return &models.Flow{FlowID: flowID}, nil
}

func (f *fakeRunner) RunFlow(ctx context.Context, flowID, user string, infoCB protocol.ProgressFunc) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runs = append(f.runs, flowID)

	return map[string]any{}, nil
}

func testScheduler(t *testing.T, tasks *fakeTasks, runner *fakeRunner) *Scheduler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newScheduler(logger, tasks, runner, time.Second)

	location, err := time.LoadLocation(Timezone)
	require.NoError(t, err)

	s.cron = cron.New(cron.WithLocation(location), cron.WithParser(models.CronParser))
	t.Cleanup(func() { <-s.cron.Stop().Done() })

	return s
}

func runningTask(id int64, flowID, crontab string) *models.Task {
	return &models.Task{
		ID:       id,
		Username: "alice",
		FlowType: models.FlowTypeFactor,
		FlowID:   flowID,
		Status:   models.TaskStatusRunning,
		Crontab:  crontab,
	}
}

func TestReconcileSchedulesRunningTasks(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}
	s := testScheduler(t, tasks, runner)

	tasks.set(runningTask(1, "f1", "*/5 * * * *"))
	s.reconcile(context.Background())

	require.Len(t, s.jobs, 1)
	assert.Equal(t, "*/5 * * * *", s.jobs[1].crontab)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestReconcileIgnoresStoppedTasks(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}
	s := testScheduler(t, tasks, runner)

	task := runningTask(1, "f1", "*/5 * * * *")
	tasks.set(task)
	s.reconcile(context.Background())
	require.Len(t, s.jobs, 1)

	task.Status = models.TaskStatusStopped
	tasks.set(task)
	s.reconcile(context.Background())

	assert.Empty(t, s.jobs)
	assert.Empty(t, s.cron.Entries())
}

func TestReconcileReschedulesOnCrontabChange(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}
	s := testScheduler(t, tasks, runner)

	tasks.set(runningTask(1, "f1", "*/5 * * * *"))
	s.reconcile(context.Background())
	first := s.jobs[1].entryID

	tasks.set(runningTask(1, "f1", "0 9 * * *"))
	s.reconcile(context.Background())

	require.Len(t, s.jobs, 1)
	assert.NotEqual(t, first, s.jobs[1].entryID)
	assert.Equal(t, "0 9 * * *", s.jobs[1].crontab)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestReconcileDropsDeletedTasks(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}
	s := testScheduler(t, tasks, runner)

	tasks.set(runningTask(1, "f1", "*/5 * * * *"))
	s.reconcile(context.Background())
	require.Len(t, s.jobs, 1)

	tasks.set()
	s.reconcile(context.Background())

	assert.Empty(t, s.jobs)
	assert.Empty(t, s.cron.Entries())
}

func TestReconcileSkipsInvalidCrontab(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}
	s := testScheduler(t, tasks, runner)

	tasks.set(runningTask(1, "f1", "not a cron"))
	s.reconcile(context.Background())

	assert.Empty(t, s.jobs)
}

func TestReconcileUnschedulesWhenFlowDeleted(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}
	s := testScheduler(t, tasks, runner)

	tasks.set(runningTask(1, "f1", "*/5 * * * *"))
	s.reconcile(context.Background())
	require.Len(t, s.jobs, 1)

	runner.mu.Lock()
	delete(runner.flows, "f1")
	runner.mu.Unlock()

	s.reconcile(context.Background())

	assert.Empty(t, s.jobs, "deleting the flow unschedules its task on the next scan")
	assert.Empty(t, s.cron.Entries())
}

func TestReconcileSkipsUnknownFlows(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{}}
	s := testScheduler(t, tasks, runner)

	tasks.set(runningTask(1, "ghost", "*/5 * * * *"))
	s.reconcile(context.Background())

	assert.Empty(t, s.jobs)
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}
	s := testScheduler(t, tasks, runner)

	tasks.set(runningTask(1, "f1", "*/5 * * * *"))

	s.reconcile(context.Background())
	first := s.jobs[1].entryID

	s.reconcile(context.Background())

	assert.Equal(t, first, s.jobs[1].entryID, "unchanged task keeps its cron entry")
	assert.Len(t, s.cron.Entries(), 1)
}

func TestFireRunsFlowAndSwallowsErrors(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}
	s := testScheduler(t, tasks, runner)

	assert.NotPanics(t, func() { s.fire(1, "f1", "alice")() })

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"f1"}, runner.runs)
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newScheduler(logger, tasks, runner, 50*time.Millisecond)

	tasks.set(runningTask(1, "f1", "*/5 * * * *"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx), "second start is a no-op")

	assert.Eventually(t, func() bool {
		s.scanMu.Lock()
		defer s.scanMu.Unlock()

		return len(s.jobs) == 1
	}, 2*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	require.NoError(t, s.Stop(stopCtx))
	require.NoError(t, s.Stop(stopCtx), "second stop is a no-op")
}

func TestStopTerminatesScanLoop(t *testing.T) {
	t.Parallel()

	tasks := &fakeTasks{}
	runner := &fakeRunner{flows: map[string]bool{"f1": true}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newScheduler(logger, tasks, runner, 20*time.Millisecond)

	tasks.set(runningTask(1, "f1", "*/5 * * * *"))

	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return tasks.scanCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))

	after := tasks.scanCount()
	time.Sleep(100 * time.Millisecond)

	assert.LessOrEqual(t, tasks.scanCount(), after+1, "no further scans once the scheduler is stopped")
}
