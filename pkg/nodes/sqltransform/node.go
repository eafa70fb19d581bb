// Package sqltransform provides the SQL transform node: inputs registered
// as temporary tables in an in-memory analytical database, then one SELECT.
package sqltransform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/protocol"
	"github.com/quantbench/quantflow/pkg/storage"
)

// SQLTransformNode registers every input under its edge label and runs the
// configured query against them.
type SQLTransformNode struct {
	id     string
	query  string
	logger *slog.Logger
}

func NewSQLTransformNode(id string, config map[string]any, deps protocol.Dependencies) (*SQLTransformNode, error) {
	query, ok := config["content"].(string)
	if !ok || query == "" {
		return nil, errors.New("missing required field 'content'")
	}

	return &SQLTransformNode{id: id, query: query, logger: deps.Logger}, nil
}

func (n *SQLTransformNode) ID() string {
	return n.id
}

func (n *SQLTransformNode) Type() string {
	return "sql_transform"
}

func (n *SQLTransformNode) Execute(ctx context.Context, inputs map[string]any, progress protocol.ProgressFunc) (any, error) {
	store, err := storage.Open(ctx, n.logger, storage.EngineDuckDB, "")
	if err != nil {
		return nil, fmt.Errorf("failed to open transform database: %w", err)
	}

	defer func() { _ = store.Close() }()

	for label, value := range inputs {
		frame, err := models.FrameOf(value)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", label, err)
		}

		if err := store.RegisterFrame(ctx, label, frame); err != nil {
			return nil, err
		}
	}

	result, err := store.Query(ctx, n.query)
	if err != nil {
		return nil, fmt.Errorf("sql transform failed: %w", err)
	}

	progress(fmt.Sprintf("sql transform %s returned %d rows", n.id, result.Len()), protocol.SeverityInfo)

	return result, nil
}
