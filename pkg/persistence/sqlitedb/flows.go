package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/persistence"
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db         *sql.DB
	logger     *slog.Logger
	nodeConfig *NodeConfigRepository
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger, nodeConfig *NodeConfigRepository) *FlowRepository {
	return &FlowRepository{db: db, logger: logger, nodeConfig: nodeConfig}
}

// Save inserts or updates the flow row and promotes the flow's draft node
// configs to published in the same transaction.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().Unix()
	if flow.CreateTime == 0 {
		flow.CreateTime = now
	}

	flow.UpdateTime = now

	nodeList, err := json.Marshal(flow.NodeList)
	if err != nil {
		return fmt.Errorf("failed to marshal node list: %w", err)
	}

	edgeList, err := json.Marshal(flow.EdgeList)
	if err != nil {
		return fmt.Errorf("failed to marshal edge list: %w", err)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO flows (flow_id, username, flow_type, flow_name, node_list, edge_list, "desc", create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (flow_id) DO UPDATE SET
			flow_name   = excluded.flow_name,
			node_list   = excluded.node_list,
			edge_list   = excluded.edge_list,
			"desc"      = excluded."desc",
			update_time = excluded.update_time
	`

	_, err = transaction.ExecContext(ctx, query,
		flow.FlowID, flow.Username, flow.FlowType, flow.FlowName,
		string(nodeList), string(edgeList), flow.Desc, flow.CreateTime, flow.UpdateTime)
	if err != nil {
		_ = transaction.Rollback()

		if isUniqueViolation(err) {
			return persistence.ErrDuplicateFlowName
		}

		return fmt.Errorf("failed to save flow: %w", err)
	}

	err = r.nodeConfig.promoteDrafts(ctx, transaction, flow.FlowID, now)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to promote draft node configs: %w", err)
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit flow save: %w", err)
	}

	return nil
}

const flowColumns = `
	flow_id
  , username
  , flow_type
  , flow_name
  , node_list
  , edge_list
  , "desc"
  , create_time
  , update_time
`

// GetByID returns a flow by its ID.
func (r *FlowRepository) GetByID(ctx context.Context, flowID string) (*models.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE flow_id = ?`

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, flowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	return flow, nil
}

// GetByName returns a flow by its unique (username, flow_type, flow_name) key.
func (r *FlowRepository) GetByName(ctx context.Context, username string, flowType models.FlowType, flowName string) (*models.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE username = ? AND flow_type = ? AND flow_name = ?`

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, username, flowType, flowName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	return flow, nil
}

// GetByUser returns all flows owned by a user, most recently updated first.
func (r *FlowRepository) GetByUser(ctx context.Context, username string) ([]*models.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE username = ? ORDER BY update_time DESC`

	rows, err := r.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

// Delete removes the flow and all of its node configs.
func (r *FlowRepository) Delete(ctx context.Context, flowID string) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := transaction.ExecContext(ctx, "DELETE FROM flows WHERE flow_id = ?", flowID)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to delete flow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		_ = transaction.Rollback()

		return persistence.ErrFlowNotFound
	}

	_, err = transaction.ExecContext(ctx, "DELETE FROM flow_node_configs WHERE flow_id = ?", flowID)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to delete node configs: %w", err)
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit flow delete: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *FlowRepository) scanFlow(row rowScanner) (*models.Flow, error) {
	var (
		flow     models.Flow
		nodeList string
		edgeList string
	)

	err := row.Scan(&flow.FlowID, &flow.Username, &flow.FlowType, &flow.FlowName,
		&nodeList, &edgeList, &flow.Desc, &flow.CreateTime, &flow.UpdateTime)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(nodeList), &flow.NodeList); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node list: %w", err)
	}

	if err := json.Unmarshal([]byte(edgeList), &flow.EdgeList); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edge list: %w", err)
	}

	return &flow, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
