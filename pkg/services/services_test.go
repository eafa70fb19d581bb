package services_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbench/quantflow/pkg/datasource"
	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence/sqlitedb"
	"github.com/quantbench/quantflow/pkg/protocol"
	"github.com/quantbench/quantflow/pkg/registry"
	"github.com/quantbench/quantflow/pkg/services"
)

func newTestServices(t *testing.T) (*services.FlowService, *services.TaskService) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	p, err := sqlitedb.NewPersistence(context.Background(), logger, filepath.Join(dir, "meta.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	catalog, err := datasource.Load(logger, "", dir)
	require.NoError(t, err)

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes()

	return services.NewFlowService(logger, p, reg, catalog), services.NewTaskService(logger, p)
}

func scriptFlow(username, content string) *models.Flow {
	return &models.Flow{
		Username: username,
		FlowName: "momentum",
		NodeList: []models.NodeSpec{
			{ID: "calc", NodeType: "script", Config: content},
		},
	}
}

const scriptV1 = `{"content": "function calc(inputs) { return {answer: 1}; }"}`

const scriptV2 = `{"content": "function calc(inputs) { return {answer: 2}; }"}`

func TestSaveFlowAssignsDefaults(t *testing.T) {
	t.Parallel()

	flows, _ := newTestServices(t)
	ctx := context.Background()

	saved, err := flows.SaveFlow(ctx, scriptFlow("alice", scriptV1))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.FlowID)
	assert.Equal(t, models.FlowTypeFactor, saved.FlowType)

	got, err := flows.GetFlowInfo(ctx, saved.FlowID)
	require.NoError(t, err)
	assert.Equal(t, "momentum", got.FlowName)
}

func TestSaveFlowValidation(t *testing.T) {
	t.Parallel()

	flows, _ := newTestServices(t)
	ctx := context.Background()

	_, err := flows.SaveFlow(ctx, nil)
	require.ErrorIs(t, err, services.ErrFlowNil)

	_, err = flows.SaveFlow(ctx, &models.Flow{FlowName: "no-owner"})
	assert.True(t, services.IsValidationError(err))
}

func TestListFlowsRequiresUsername(t *testing.T) {
	t.Parallel()

	flows, _ := newTestServices(t)

	_, err := flows.ListFlows(context.Background(), "")
	assert.ErrorIs(t, err, services.ErrEmptyUsername)
}

func TestSaveNodeRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	flows, _ := newTestServices(t)
	ctx := context.Background()

	saved, err := flows.SaveFlow(ctx, scriptFlow("alice", scriptV1))
	require.NoError(t, err)

	_, err = flows.SaveNode(ctx, &models.NodeConfig{
		FlowID:   saved.FlowID,
		NodeID:   "calc",
		NodeType: "teleport",
	})
	assert.True(t, services.IsValidationError(err))
}

func TestRunFlowUsesPublishedConfig(t *testing.T) {
	t.Parallel()

	flows, _ := newTestServices(t)
	ctx := context.Background()

	saved, err := flows.SaveFlow(ctx, scriptFlow("alice", scriptV1))
	require.NoError(t, err)

	answer := func() int64 {
		outputs, err := flows.RunFlow(ctx, saved.FlowID, "", nil)
		require.NoError(t, err)

		result, ok := outputs["calc"].(map[string]any)
		require.True(t, ok, "script output should be a record")

		got, ok := result["answer"].(int64)
		require.True(t, ok)

		return got
	}

	require.EqualValues(t, 1, answer())

	// a draft must not change execution until the flow is saved again
	_, err = flows.SaveNode(ctx, &models.NodeConfig{
		FlowID:   saved.FlowID,
		NodeID:   "calc",
		NodeType: "script",
		NodeCfg:  scriptV2,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, answer())

	latest, err := flows.GetNodeInfo(ctx, saved.FlowID, "calc")
	require.NoError(t, err)
	assert.True(t, latest.IsDraft)
	assert.Equal(t, scriptV2, latest.NodeCfg)

	_, err = flows.SaveFlow(ctx, saved)
	require.NoError(t, err)
	require.EqualValues(t, 2, answer())
}

func TestRunFlowReportsProgress(t *testing.T) {
	t.Parallel()

	flows, _ := newTestServices(t)
	ctx := context.Background()

	saved, err := flows.SaveFlow(ctx, scriptFlow("alice", scriptV1))
	require.NoError(t, err)

	var severities []protocol.Severity

	_, err = flows.RunFlow(ctx, saved.FlowID, "", func(message string, severity protocol.Severity) {
		severities = append(severities, severity)
	})
	require.NoError(t, err)

	require.NotEmpty(t, severities)
	assert.Equal(t, protocol.SeveritySuccess, severities[len(severities)-1])
}

func TestRunFlowUnknownFlow(t *testing.T) {
	t.Parallel()

	flows, _ := newTestServices(t)

	_, err := flows.RunFlow(context.Background(), "no-such-flow", "", nil)
	assert.True(t, services.IsNotFoundError(err))
}

func TestDiscardDrafts(t *testing.T) {
	t.Parallel()

	flows, _ := newTestServices(t)
	ctx := context.Background()

	saved, err := flows.SaveFlow(ctx, scriptFlow("alice", scriptV1))
	require.NoError(t, err)

	_, err = flows.SaveNode(ctx, &models.NodeConfig{
		FlowID:   saved.FlowID,
		NodeID:   "calc",
		NodeType: "script",
		NodeCfg:  scriptV2,
	})
	require.NoError(t, err)

	require.NoError(t, flows.DiscardDrafts(ctx, saved.FlowID))

	_, err = flows.GetNodeInfo(ctx, saved.FlowID, "calc")
	assert.True(t, services.IsNotFoundError(err))
}

func TestCreateTaskBackfillsFromFlow(t *testing.T) {
	t.Parallel()

	flows, tasks := newTestServices(t)
	ctx := context.Background()

	saved, err := flows.SaveFlow(ctx, scriptFlow("alice", scriptV1))
	require.NoError(t, err)

	task, err := tasks.CreateTask(ctx, &models.Task{
		Username: "alice",
		FlowID:   saved.FlowID,
		Status:   models.TaskStatusRunning,
	})
	require.NoError(t, err)

	assert.Positive(t, task.ID)
	assert.Equal(t, models.DefaultCrontab, task.Crontab)
	assert.Equal(t, "momentum", task.FlowName)
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	t.Parallel()

	flows, tasks := newTestServices(t)
	ctx := context.Background()

	saved, err := flows.SaveFlow(ctx, scriptFlow("alice", scriptV1))
	require.NoError(t, err)

	_, err = tasks.CreateTask(ctx, &models.Task{
		Username: "alice",
		FlowID:   saved.FlowID,
		Crontab:  "0 0 0 0 0 0",
	})
	assert.True(t, services.IsValidationError(err), "six-field crontab must be rejected")

	_, err = tasks.CreateTask(ctx, &models.Task{
		Username: "alice",
		FlowID:   "missing-flow",
	})
	assert.True(t, services.IsNotFoundError(err))
}
