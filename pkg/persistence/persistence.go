// Package persistence provides the metadata storage abstraction for flows,
// node configurations, user-table schemas and tasks.
package persistence

import (
	"context"

	"github.com/quantbench/quantflow/pkg/models"
)

type Persistence interface {
	// SaveFlow inserts or updates the flow row and, in the same
	// transaction, promotes every draft node config of the flow to
	// published.
	SaveFlow(ctx context.Context, flow *models.Flow) error
	FlowByID(ctx context.Context, flowID string) (*models.Flow, error)
	FlowByName(ctx context.Context, username string, flowType models.FlowType, flowName string) (*models.Flow, error)
	FlowsByUser(ctx context.Context, username string) ([]*models.Flow, error)
	DeleteFlow(ctx context.Context, flowID string) error

	// SaveNodeDraft overwrites the existing draft for (flow, node) in
	// place, or inserts a new draft at max version + 1.
	SaveNodeDraft(ctx context.Context, cfg *models.NodeConfig) error
	// LatestNodeConfig returns the row with the greatest version,
	// draft included.
	LatestNodeConfig(ctx context.Context, flowID, nodeID string) (*models.NodeConfig, error)
	// LatestPublishedNodeConfig returns the greatest non-draft version.
	LatestPublishedNodeConfig(ctx context.Context, flowID, nodeID string) (*models.NodeConfig, error)
	DeleteNodeDrafts(ctx context.Context, flowID string) error

	// SaveUserTableMeta inserts a new schema version at max version + 1.
	SaveUserTableMeta(ctx context.Context, meta *models.UserTableMeta) error
	// LatestUserTableMeta returns the greatest version, or nil when the
	// table has no recorded schema.
	LatestUserTableMeta(ctx context.Context, user, dbName, tableName string) (*models.UserTableMeta, error)
	UserTableMetaHistory(ctx context.Context, user, dbName, tableName string) ([]*models.UserTableMeta, error)

	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id int64) error
	TaskByID(ctx context.Context, id int64) (*models.Task, error)
	Tasks(ctx context.Context) ([]*models.Task, error)
	TasksByUser(ctx context.Context, username string) ([]*models.Task, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
