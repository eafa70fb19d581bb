// Package web provides HTTP handlers and REST API endpoints for flow and
// task management.
package web

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/protocol"
	"github.com/quantbench/quantflow/pkg/registry"
	"github.com/quantbench/quantflow/pkg/services"
)

type APIHandlers struct {
	flowService *services.FlowService
	taskService *services.TaskService
	validator   *validator.Validate
	registry    *registry.Registry
}

func NewAPIHandlers(
	flowService *services.FlowService,
	taskService *services.TaskService,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		flowService: flowService,
		taskService: taskService,
		validator:   validator,
		registry:    registry,
	}
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	username := c.Query("username")
	if username == "" {
		return badRequest(c, "username query parameter is required")
	}

	flows, err := h.flowService.ListFlows(c.Context(), username)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows})
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	f, err := h.flowService.GetFlowInfo(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(f)
}

func (h *APIHandlers) SaveFlow(c fiber.Ctx) error {
	var req SaveFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	f := &models.Flow{
		FlowID:   req.FlowID,
		Username: req.Username,
		FlowType: req.FlowType,
		FlowName: req.FlowName,
		NodeList: req.NodeList,
		EdgeList: req.EdgeList,
		Desc:     req.Desc,
	}

	saved, err := h.flowService.SaveFlow(c.Context(), f)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(saved)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	err := h.flowService.DeleteFlow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SaveNode(c fiber.Ctx) error {
	flowID := c.Params("id")
	nodeID := c.Params("nodeId")

	if flowID == "" || nodeID == "" {
		return badRequest(c, "Flow ID and node ID are required")
	}

	var req SaveNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	cfg := &models.NodeConfig{
		NodeID:   nodeID,
		FlowID:   flowID,
		NodeType: req.NodeType,
		NodeCfg:  req.NodeCfg,
	}

	saved, err := h.flowService.SaveNode(c.Context(), cfg)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(saved)
}

func (h *APIHandlers) GetNode(c fiber.Ctx) error {
	flowID := c.Params("id")
	nodeID := c.Params("nodeId")

	if flowID == "" || nodeID == "" {
		return badRequest(c, "Flow ID and node ID are required")
	}

	cfg, err := h.flowService.GetNodeInfo(c.Context(), flowID, nodeID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cfg)
}

func (h *APIHandlers) DiscardDrafts(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	err := h.flowService.DiscardDrafts(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RunFlow executes the flow synchronously and returns the collected
// progress messages.
func (h *APIHandlers) RunFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	user := c.Query("username")

	var (
		mu       sync.Mutex
		messages []ProgressMessage
	)

	progress := func(message string, severity protocol.Severity) {
		mu.Lock()
		defer mu.Unlock()

		messages = append(messages, ProgressMessage{
			Message:  message,
			Severity: string(severity),
		})
	}

	_, err := h.flowService.RunFlow(c.Context(), id, user, progress)
	if err != nil {
		if services.IsNotFoundError(err) {
			return notFound(c, err.Error())
		}

		return c.Status(fiber.StatusUnprocessableEntity).JSON(RunFlowResponse{
			FlowID:   id,
			Success:  false,
			Error:    err.Error(),
			Messages: messages,
		})
	}

	return c.JSON(RunFlowResponse{
		FlowID:   id,
		Success:  true,
		Messages: messages,
	})
}

func (h *APIHandlers) GetTasks(c fiber.Ctx) error {
	username := c.Query("username")
	if username == "" {
		return badRequest(c, "username query parameter is required")
	}

	tasks, err := h.taskService.ListTasks(c.Context(), username)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"tasks": tasks})
}

func (h *APIHandlers) GetTask(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Task ID must be an integer")
	}

	task, err := h.taskService.GetTask(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) CreateTask(c fiber.Ctx) error {
	var req CreateTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	task := &models.Task{
		Username: req.Username,
		FlowID:   req.FlowID,
		Crontab:  req.Crontab,
		Status:   models.TaskStatus(req.Status),
	}

	created, err := h.taskService.CreateTask(c.Context(), task)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateTask(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Task ID must be an integer")
	}

	var req UpdateTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskService.GetTask(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Crontab != nil {
		task.Crontab = *req.Crontab
	}

	if req.Status != nil {
		task.Status = models.TaskStatus(*req.Status)
	}

	updated, err := h.taskService.UpdateTask(c.Context(), task)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteTask(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Task ID must be an integer")
	}

	err = h.taskService.DeleteTask(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetNodeKinds lists the registered node kinds with their config schemas.
func (h *APIHandlers) GetNodeKinds(c fiber.Ctx) error {
	factories := h.registry.NodeKinds()

	kinds := make([]NodeKindResponse, 0, len(factories))
	for _, factory := range factories {
		kinds = append(kinds, NodeKindResponse{
			ID:          factory.ID(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	return c.JSON(fiber.Map{"node_kinds": kinds})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	persistenceCheck, ok := h.flowService.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if !ok {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"persistence": persistenceCheck,
		},
	})
}
