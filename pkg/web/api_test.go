package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbench/quantflow/pkg/datasource"
	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence/sqlitedb"
	"github.com/quantbench/quantflow/pkg/registry"
	"github.com/quantbench/quantflow/pkg/services"
	"github.com/quantbench/quantflow/pkg/web"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	persistence, err := sqlitedb.NewPersistence(context.Background(), logger, filepath.Join(dir, "meta.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = persistence.Close(context.Background()) })

	catalog, err := datasource.Load(logger, "", dir)
	require.NoError(t, err)

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes()

	flowService := services.NewFlowService(logger, persistence, reg, catalog)
	taskService := services.NewTaskService(logger, persistence)

	return web.NewAPI(logger, flowService, taskService, reg).App()
}

func doJSON(t *testing.T, app *fiber.App, method, target string, payload any) *http.Response {
	t.Helper()

	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	})

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func saveTestFlow(t *testing.T, app *fiber.App) models.Flow {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/flows", map[string]any{
		"username":  "alice",
		"flow_name": "momentum",
		"node_list": []map[string]any{
			{
				"id":        "calc",
				"node_type": "script",
				"config":    `{"content": "function calc(inputs) { return {answer: 1}; }"}`,
			},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var saved models.Flow

	decodeBody(t, resp, &saved)
	require.NotEmpty(t, saved.FlowID)

	return saved
}

func TestRootEndpoint(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "QuantFlow API", string(body))
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetFlowsRequiresUsername(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/flows", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFlowLifecycle(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	saved := saveTestFlow(t, app)

	resp := doJSON(t, app, http.MethodGet, "/flows?username=alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Flows []models.Flow `json:"flows"`
	}

	decodeBody(t, resp, &listing)
	require.Len(t, listing.Flows, 1)
	assert.Equal(t, "momentum", listing.Flows[0].FlowName)

	resp = doJSON(t, app, http.MethodGet, "/flows/"+saved.FlowID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodDelete, "/flows/"+saved.FlowID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/flows/"+saved.FlowID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetFlowNotFound(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/flows/no-such-flow", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSaveFlowRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	saveTestFlow(t, app)

	resp := doJSON(t, app, http.MethodPost, "/flows", map[string]any{
		"username":  "alice",
		"flow_name": "momentum",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestNodeDraftEndpoints(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	saved := saveTestFlow(t, app)

	resp := doJSON(t, app, http.MethodPost, "/flows/"+saved.FlowID+"/nodes/calc", map[string]any{
		"node_type": "script",
		"node_cfg":  `{"content": "function calc(inputs) { return {answer: 2}; }"}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/flows/"+saved.FlowID+"/nodes/calc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg models.NodeConfig

	decodeBody(t, resp, &cfg)
	assert.True(t, cfg.IsDraft)
	assert.Equal(t, 1, cfg.Version)

	resp = doJSON(t, app, http.MethodDelete, "/flows/"+saved.FlowID+"/drafts", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/flows/"+saved.FlowID+"/nodes/calc", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSaveNodeRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	saved := saveTestFlow(t, app)

	resp := doJSON(t, app, http.MethodPost, "/flows/"+saved.FlowID+"/nodes/calc", map[string]any{
		"node_type": "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunFlowEndpoint(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	saved := saveTestFlow(t, app)

	resp := doJSON(t, app, http.MethodPost, "/flows/"+saved.FlowID+"/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result web.RunFlowResponse

	decodeBody(t, resp, &result)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.Messages)
}

func TestRunFlowNotFound(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/flows/no-such-flow/run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	saved := saveTestFlow(t, app)

	resp := doJSON(t, app, http.MethodPost, "/tasks", map[string]any{
		"username": "alice",
		"flow_id":  saved.FlowID,
		"crontab":  "*/5 * * * *",
		"status":   1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Task

	decodeBody(t, resp, &created)
	require.Positive(t, created.ID)
	assert.Equal(t, "momentum", created.FlowName)

	taskURL := "/tasks/" + strconv.FormatInt(created.ID, 10)

	resp = doJSON(t, app, http.MethodPost, "/tasks", map[string]any{
		"username": "alice",
		"flow_id":  saved.FlowID,
		"crontab":  "*/5 * * * *",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPatch, taskURL, map[string]any{"status": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Task

	decodeBody(t, resp, &updated)
	assert.Equal(t, models.TaskStatusStopped, updated.Status)

	resp = doJSON(t, app, http.MethodDelete, taskURL, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, taskURL, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTaskRejectsInvalidCrontab(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	saved := saveTestFlow(t, app)

	resp := doJSON(t, app, http.MethodPost, "/tasks", map[string]any{
		"username": "alice",
		"flow_id":  saved.FlowID,
		"crontab":  "0 0 0 0 0 0",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNodeKindsEndpoint(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/node-kinds", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		NodeKinds []web.NodeKindResponse `json:"node_kinds"`
	}

	decodeBody(t, resp, &listing)
	assert.Len(t, listing.NodeKinds, 6)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
	}

	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
}
