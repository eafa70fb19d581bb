package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence"
)

// NodeConfigRepository handles versioned node configuration records.
type NodeConfigRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNodeConfigRepository creates a new node config repository.
func NewNodeConfigRepository(db *sql.DB, logger *slog.Logger) *NodeConfigRepository {
	return &NodeConfigRepository{db: db, logger: logger}
}

// SaveDraft overwrites the existing draft for (flow, node) in place, or
// inserts a new draft at max version + 1 when none exists.
func (r *NodeConfigRepository) SaveDraft(ctx context.Context, cfg *models.NodeConfig) error {
	now := time.Now().Unix()

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	var draftVersion int

	err = transaction.QueryRowContext(ctx,
		"SELECT version FROM flow_node_configs WHERE flow_id = ? AND node_id = ? AND is_draft = 1",
		cfg.FlowID, cfg.NodeID).Scan(&draftVersion)

	switch {
	case err == nil:
		_, err = transaction.ExecContext(ctx, `
			UPDATE flow_node_configs
			SET node_type = ?, node_cfg = ?, update_time = ?
			WHERE flow_id = ? AND node_id = ? AND is_draft = 1
		`, cfg.NodeType, cfg.NodeCfg, now, cfg.FlowID, cfg.NodeID)
		if err != nil {
			_ = transaction.Rollback()

			return fmt.Errorf("failed to update draft: %w", err)
		}

		cfg.Version = draftVersion
		cfg.UpdateTime = now
	case errors.Is(err, sql.ErrNoRows):
		var maxVersion int

		err = transaction.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(version), 0) FROM flow_node_configs WHERE flow_id = ? AND node_id = ?",
			cfg.FlowID, cfg.NodeID).Scan(&maxVersion)
		if err != nil {
			_ = transaction.Rollback()

			return fmt.Errorf("failed to query max version: %w", err)
		}

		cfg.Version = maxVersion + 1
		cfg.IsDraft = true
		cfg.CreateTime = now
		cfg.UpdateTime = now

		_, err = transaction.ExecContext(ctx, `
			INSERT INTO flow_node_configs (node_id, flow_id, node_type, node_cfg, version, is_draft, create_time, update_time)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		`, cfg.NodeID, cfg.FlowID, cfg.NodeType, cfg.NodeCfg, cfg.Version, cfg.CreateTime, cfg.UpdateTime)
		if err != nil {
			_ = transaction.Rollback()

			return fmt.Errorf("failed to insert draft: %w", err)
		}
	default:
		_ = transaction.Rollback()

		return fmt.Errorf("failed to query draft: %w", err)
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit draft save: %w", err)
	}

	return nil
}

const nodeConfigColumns = `
	node_id
  , flow_id
  , node_type
  , node_cfg
  , version
  , is_draft
  , create_time
  , update_time
`

// Latest returns the node config with the greatest version, draft included.
func (r *NodeConfigRepository) Latest(ctx context.Context, flowID, nodeID string) (*models.NodeConfig, error) {
	query := `
		SELECT ` + nodeConfigColumns + `
		FROM flow_node_configs
		WHERE flow_id = ? AND node_id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	return r.scanConfig(r.db.QueryRowContext(ctx, query, flowID, nodeID))
}

// LatestPublished returns the greatest non-draft version of the node config.
func (r *NodeConfigRepository) LatestPublished(ctx context.Context, flowID, nodeID string) (*models.NodeConfig, error) {
	query := `
		SELECT ` + nodeConfigColumns + `
		FROM flow_node_configs
		WHERE flow_id = ? AND node_id = ? AND is_draft = 0
		ORDER BY version DESC
		LIMIT 1
	`

	return r.scanConfig(r.db.QueryRowContext(ctx, query, flowID, nodeID))
}

// DeleteDrafts discards every draft config of the flow.
func (r *NodeConfigRepository) DeleteDrafts(ctx context.Context, flowID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM flow_node_configs WHERE flow_id = ? AND is_draft = 1", flowID)
	if err != nil {
		return fmt.Errorf("failed to delete drafts: %w", err)
	}

	return nil
}

// promoteDrafts flips every draft of the flow to published. Runs inside the
// caller's transaction so flow save and promotion are atomic.
func (r *NodeConfigRepository) promoteDrafts(ctx context.Context, transaction *sql.Tx, flowID string, now int64) error {
	_, err := transaction.ExecContext(ctx,
		"UPDATE flow_node_configs SET is_draft = 0, update_time = ? WHERE flow_id = ? AND is_draft = 1",
		now, flowID)

	return err
}

func (r *NodeConfigRepository) scanConfig(row rowScanner) (*models.NodeConfig, error) {
	var cfg models.NodeConfig

	err := row.Scan(&cfg.NodeID, &cfg.FlowID, &cfg.NodeType, &cfg.NodeCfg,
		&cfg.Version, &cfg.IsDraft, &cfg.CreateTime, &cfg.UpdateTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNodeConfigNotFound
		}

		return nil, fmt.Errorf("failed to scan node config: %w", err)
	}

	return &cfg, nil
}
