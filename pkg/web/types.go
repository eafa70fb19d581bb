// Package web provides HTTP request and response types for the flow API.
package web

import "github.com/quantbench/quantflow/pkg/models"

// SaveFlowRequest represents the request body for creating or updating a flow.
// An empty FlowID creates a new flow.
type SaveFlowRequest struct {
	FlowID   string            `json:"flow_id"`
	Username string            `json:"username"  validate:"required"`
	FlowType models.FlowType   `json:"flow_type"`
	FlowName string            `json:"flow_name" validate:"required,min=1"`
	NodeList []models.NodeSpec `json:"node_list"`
	EdgeList []models.Edge     `json:"edge_list"`
	Desc     string            `json:"desc"`
}

// SaveNodeRequest represents the request body for saving a node's draft
// configuration.
type SaveNodeRequest struct {
	NodeType string `json:"node_type" validate:"required"`
	NodeCfg  string `json:"node_cfg"`
}

// CreateTaskRequest represents the request body for scheduling a flow.
type CreateTaskRequest struct {
	Username string `json:"username" validate:"required"`
	FlowID   string `json:"flow_id"  validate:"required"`
	Crontab  string `json:"crontab"`
	Status   int    `json:"status"   validate:"oneof=0 1"`
}

// UpdateTaskRequest represents the request body for updating a task.
// Nil fields are left unchanged.
type UpdateTaskRequest struct {
	Crontab *string `json:"crontab,omitempty"`
	Status  *int    `json:"status,omitempty" validate:"omitempty,oneof=0 1"`
}

// ProgressMessage is one observability message emitted during a flow run.
type ProgressMessage struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// RunFlowResponse represents the result of a synchronous flow run.
type RunFlowResponse struct {
	FlowID   string            `json:"flow_id"`
	Success  bool              `json:"success"`
	Error    string            `json:"error,omitempty"`
	Messages []ProgressMessage `json:"messages"`
}

// NodeKindResponse describes one registered node kind.
type NodeKindResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}
