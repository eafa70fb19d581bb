// Package sqlitedb provides the SQLite persistence implementation for flows,
// node configurations, user-table schemas and tasks.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	flowRepo       *FlowRepository
	nodeConfigRepo *NodeConfigRepository
	userTableRepo  *UserTableRepository
	taskRepo       *TaskRepository
}

// NewPersistence opens (or creates) the metadata database at path and runs
// pending migrations. An empty path opens an in-memory database.
func NewPersistence(ctx context.Context, logger *slog.Logger, path string) (*Persistence, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}

		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}

	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	nodeConfigRepo := NewNodeConfigRepository(database, logger)

	persistence := &Persistence{
		db:             database,
		logger:         logger,
		flowRepo:       NewFlowRepository(database, logger, nodeConfigRepo),
		nodeConfigRepo: nodeConfigRepo,
		userTableRepo:  NewUserTableRepository(database, logger),
		taskRepo:       NewTaskRepository(database, logger),
	}

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return persistence, nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS flows (
				flow_id     TEXT PRIMARY KEY,
				username    TEXT NOT NULL,
				flow_type   INTEGER NOT NULL,
				flow_name   TEXT NOT NULL,
				node_list   TEXT NOT NULL DEFAULT '[]',
				edge_list   TEXT NOT NULL DEFAULT '[]',
				"desc"      TEXT NOT NULL DEFAULT '',
				create_time INTEGER NOT NULL,
				update_time INTEGER NOT NULL,
				UNIQUE (username, flow_type, flow_name)
			);

			CREATE TABLE IF NOT EXISTS flow_node_configs (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				node_id     TEXT NOT NULL,
				flow_id     TEXT NOT NULL,
				node_type   TEXT NOT NULL,
				node_cfg    TEXT NOT NULL DEFAULT '',
				version     INTEGER NOT NULL,
				is_draft    INTEGER NOT NULL DEFAULT 0,
				create_time INTEGER NOT NULL,
				update_time INTEGER NOT NULL,
				UNIQUE (flow_id, node_id, version)
			);

			CREATE TABLE IF NOT EXISTS user_table_meta (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				username     TEXT NOT NULL,
				db_name      TEXT NOT NULL,
				table_name   TEXT NOT NULL,
				db_path      TEXT NOT NULL DEFAULT '',
				version      INTEGER NOT NULL,
				columns_info TEXT NOT NULL DEFAULT '[]',
				create_time  INTEGER NOT NULL,
				update_time  INTEGER NOT NULL,
				UNIQUE (username, db_name, table_name, version)
			);

			CREATE TABLE IF NOT EXISTS tasks (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				username    TEXT NOT NULL,
				flow_type   INTEGER NOT NULL,
				flow_name   TEXT NOT NULL DEFAULT '',
				flow_id     TEXT NOT NULL,
				status      INTEGER NOT NULL DEFAULT 0,
				crontab     TEXT NOT NULL,
				create_time INTEGER NOT NULL,
				update_time INTEGER NOT NULL,
				UNIQUE (username, flow_type, flow_id, crontab)
			);
		`,
	}
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) SaveFlow(ctx context.Context, flow *models.Flow) error {
	return p.flowRepo.Save(ctx, flow)
}

func (p *Persistence) FlowByID(ctx context.Context, flowID string) (*models.Flow, error) {
	return p.flowRepo.GetByID(ctx, flowID)
}

func (p *Persistence) FlowByName(ctx context.Context, username string, flowType models.FlowType, flowName string) (*models.Flow, error) {
	return p.flowRepo.GetByName(ctx, username, flowType, flowName)
}

func (p *Persistence) FlowsByUser(ctx context.Context, username string) ([]*models.Flow, error) {
	return p.flowRepo.GetByUser(ctx, username)
}

func (p *Persistence) DeleteFlow(ctx context.Context, flowID string) error {
	return p.flowRepo.Delete(ctx, flowID)
}

func (p *Persistence) SaveNodeDraft(ctx context.Context, cfg *models.NodeConfig) error {
	return p.nodeConfigRepo.SaveDraft(ctx, cfg)
}

func (p *Persistence) LatestNodeConfig(ctx context.Context, flowID, nodeID string) (*models.NodeConfig, error) {
	return p.nodeConfigRepo.Latest(ctx, flowID, nodeID)
}

func (p *Persistence) LatestPublishedNodeConfig(ctx context.Context, flowID, nodeID string) (*models.NodeConfig, error) {
	return p.nodeConfigRepo.LatestPublished(ctx, flowID, nodeID)
}

func (p *Persistence) DeleteNodeDrafts(ctx context.Context, flowID string) error {
	return p.nodeConfigRepo.DeleteDrafts(ctx, flowID)
}

func (p *Persistence) SaveUserTableMeta(ctx context.Context, meta *models.UserTableMeta) error {
	return p.userTableRepo.Save(ctx, meta)
}

func (p *Persistence) LatestUserTableMeta(ctx context.Context, user, dbName, tableName string) (*models.UserTableMeta, error) {
	return p.userTableRepo.Latest(ctx, user, dbName, tableName)
}

func (p *Persistence) UserTableMetaHistory(ctx context.Context, user, dbName, tableName string) ([]*models.UserTableMeta, error) {
	return p.userTableRepo.History(ctx, user, dbName, tableName)
}

func (p *Persistence) CreateTask(ctx context.Context, task *models.Task) error {
	return p.taskRepo.Create(ctx, task)
}

func (p *Persistence) UpdateTask(ctx context.Context, task *models.Task) error {
	return p.taskRepo.Update(ctx, task)
}

func (p *Persistence) DeleteTask(ctx context.Context, id int64) error {
	return p.taskRepo.Delete(ctx, id)
}

func (p *Persistence) TaskByID(ctx context.Context, id int64) (*models.Task, error) {
	return p.taskRepo.GetByID(ctx, id)
}

func (p *Persistence) Tasks(ctx context.Context) ([]*models.Task, error) {
	return p.taskRepo.GetAll(ctx)
}

func (p *Persistence) TasksByUser(ctx context.Context, username string) ([]*models.Task, error) {
	return p.taskRepo.GetByUser(ctx, username)
}
