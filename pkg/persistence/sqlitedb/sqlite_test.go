package sqlitedb_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence"
	"github.com/quantbench/quantflow/pkg/persistence/sqlitedb"
)

func openTestPersistence(t *testing.T) *sqlitedb.Persistence {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "meta.sqlite")

	p, err := sqlitedb.NewPersistence(context.Background(), logger, path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(context.Background()) })

	return p
}

func testFlow(id, name string) *models.Flow {
	return &models.Flow{
		FlowID:   id,
		Username: "alice",
		FlowType: models.FlowTypeFactor,
		FlowName: name,
		NodeList: []models.NodeSpec{
			{ID: "n1", NodeType: "script", Config: `{"content":"function calc(){return null}"}`},
		},
		EdgeList: []models.Edge{},
	}
}

func TestFlowRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := openTestPersistence(t)

	flow := testFlow("f1", "momentum")
	require.NoError(t, p.SaveFlow(ctx, flow))
	assert.Positive(t, flow.CreateTime)

	got, err := p.FlowByID(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "momentum", got.FlowName)
	assert.Equal(t, flow.NodeList, got.NodeList)

	byName, err := p.FlowByName(ctx, "alice", models.FlowTypeFactor, "momentum")
	require.NoError(t, err)
	assert.Equal(t, "f1", byName.FlowID)

	flows, err := p.FlowsByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, flows, 1)
}

func TestFlowNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := openTestPersistence(t)

	_, err := p.FlowByID(ctx, "ghost")
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)

	err = p.DeleteFlow(ctx, "ghost")
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestDuplicateFlowName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := openTestPersistence(t)

	require.NoError(t, p.SaveFlow(ctx, testFlow("f1", "momentum")))

	err := p.SaveFlow(ctx, testFlow("f2", "momentum"))
	assert.ErrorIs(t, err, persistence.ErrDuplicateFlowName)

	// resaving the same flow id is an update, not a duplicate
	assert.NoError(t, p.SaveFlow(ctx, testFlow("f1", "momentum")))
}

func TestNodeDraftVersioning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := openTestPersistence(t)

	require.NoError(t, p.SaveFlow(ctx, testFlow("f1", "momentum")))

	draft := &models.NodeConfig{NodeID: "n1", FlowID: "f1", NodeType: "script", NodeCfg: "v1"}
	require.NoError(t, p.SaveNodeDraft(ctx, draft))
	assert.Equal(t, 1, draft.Version)
	assert.True(t, draft.IsDraft)

	// a second save overwrites the draft in place
	draft2 := &models.NodeConfig{NodeID: "n1", FlowID: "f1", NodeType: "script", NodeCfg: "v1-edited"}
	require.NoError(t, p.SaveNodeDraft(ctx, draft2))
	assert.Equal(t, 1, draft2.Version)

	latest, err := p.LatestNodeConfig(ctx, "f1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "v1-edited", latest.NodeCfg)
	assert.True(t, latest.IsDraft)

	// nothing published yet
	_, err = p.LatestPublishedNodeConfig(ctx, "f1", "n1")
	assert.ErrorIs(t, err, persistence.ErrNodeConfigNotFound)
}

func TestSaveFlowPromotesDrafts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := openTestPersistence(t)

	flow := testFlow("f1", "momentum")
	require.NoError(t, p.SaveFlow(ctx, flow))

	draft := &models.NodeConfig{NodeID: "n1", FlowID: "f1", NodeType: "script", NodeCfg: "v1"}
	require.NoError(t, p.SaveNodeDraft(ctx, draft))

	require.NoError(t, p.SaveFlow(ctx, flow))

	published, err := p.LatestPublishedNodeConfig(ctx, "f1", "n1")
	require.NoError(t, err)
	assert.Equal(t, 1, published.Version)
	assert.False(t, published.IsDraft)

	// the next draft goes to version 2, above every published version
	next := &models.NodeConfig{NodeID: "n1", FlowID: "f1", NodeType: "script", NodeCfg: "v2"}
	require.NoError(t, p.SaveNodeDraft(ctx, next))
	assert.Equal(t, 2, next.Version)

	latest, err := p.LatestNodeConfig(ctx, "f1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.NodeCfg)
	assert.True(t, latest.IsDraft)

	// published lookup still resolves version 1
	published, err = p.LatestPublishedNodeConfig(ctx, "f1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "v1", published.NodeCfg)
}

func TestDeleteNodeDrafts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := openTestPersistence(t)

	flow := testFlow("f1", "momentum")
	require.NoError(t, p.SaveFlow(ctx, flow))

	draft := &models.NodeConfig{NodeID: "n1", FlowID: "f1", NodeType: "script", NodeCfg: "v1"}
	require.NoError(t, p.SaveNodeDraft(ctx, draft))
	require.NoError(t, p.SaveFlow(ctx, flow))

	discarded := &models.NodeConfig{NodeID: "n1", FlowID: "f1", NodeType: "script", NodeCfg: "v2-unsaved"}
	require.NoError(t, p.SaveNodeDraft(ctx, discarded))

	require.NoError(t, p.DeleteNodeDrafts(ctx, "f1"))

	latest, err := p.LatestNodeConfig(ctx, "f1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "v1", latest.NodeCfg, "published config survives draft discard")
}

func TestDeleteFlowRemovesNodeConfigs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := openTestPersistence(t)

	require.NoError(t, p.SaveFlow(ctx, testFlow("f1", "momentum")))
	require.NoError(t, p.SaveNodeDraft(ctx, &models.NodeConfig{NodeID: "n1", FlowID: "f1", NodeType: "script"}))

	require.NoError(t, p.DeleteFlow(ctx, "f1"))

	_, err := p.LatestNodeConfig(ctx, "f1", "n1")
	assert.ErrorIs(t, err, persistence.ErrNodeConfigNotFound)
}

func TestUserTableMetaVersioning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := openTestPersistence(t)

	cols := []models.ColumnInfo{{FieldName: "symbol", FieldType: "string", IsPrimaryKey: true}}

	meta := &models.UserTableMeta{User: "alice", DBName: "alice_data", TableName: "signals", ColumnsInfo: cols}
	require.NoError(t, p.SaveUserTableMeta(ctx, meta))
	assert.Equal(t, 1, meta.Version)

	latest, err := p.LatestUserTableMeta(ctx, "alice", "alice_data", "signals")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.SameColumns(cols))

	cols2 := append(cols, models.ColumnInfo{FieldName: "score", FieldType: "float"})
	require.NoError(t, p.SaveUserTableMeta(ctx, &models.UserTableMeta{
		User: "alice", DBName: "alice_data", TableName: "signals", ColumnsInfo: cols2,
	}))

	latest, err = p.LatestUserTableMeta(ctx, "alice", "alice_data", "signals")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	history, err := p.UserTableMetaHistory(ctx, "alice", "alice_data", "signals")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)

	missing, err := p.LatestUserTableMeta(ctx, "alice", "alice_data", "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTaskCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := openTestPersistence(t)

	task := &models.Task{
		Username: "alice",
		FlowType: models.FlowTypeFactor,
		FlowName: "momentum",
		FlowID:   "f1",
		Status:   models.TaskStatusRunning,
		Crontab:  "*/5 * * * *",
	}

	require.NoError(t, p.CreateTask(ctx, task))
	assert.Positive(t, task.ID)

	dup := &models.Task{Username: "alice", FlowType: models.FlowTypeFactor, FlowID: "f1", Crontab: "*/5 * * * *"}
	assert.ErrorIs(t, p.CreateTask(ctx, dup), persistence.ErrDuplicateTask)

	// same flow under a different crontab is allowed
	other := &models.Task{Username: "alice", FlowType: models.FlowTypeFactor, FlowID: "f1", Crontab: "0 9 * * *"}
	require.NoError(t, p.CreateTask(ctx, other))

	task.Status = models.TaskStatusStopped
	require.NoError(t, p.UpdateTask(ctx, task))

	got, err := p.TaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusStopped, got.Status)

	all, err := p.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byUser, err := p.TasksByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	require.NoError(t, p.DeleteTask(ctx, task.ID))
	_, err = p.TaskByID(ctx, task.ID)
	assert.ErrorIs(t, err, persistence.ErrTaskNotFound)

	assert.ErrorIs(t, p.DeleteTask(ctx, task.ID), persistence.ErrTaskNotFound)
}
