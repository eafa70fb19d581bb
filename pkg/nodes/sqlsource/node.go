// Package sqlsource provides the SQL source node: a single SELECT against a
// named data source.
package sqlsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantbench/quantflow/pkg/protocol"
)

// SQLSourceNode executes its configured query against a named data source
// and emits the result as a frame. It must be a source node; the executor
// enforces in-degree zero.
type SQLSourceNode struct {
	id         string
	dataSource string
	query      string
	user       string
	sources    protocol.SourceResolver
}

func NewSQLSourceNode(id string, config map[string]any, deps protocol.Dependencies) (*SQLSourceNode, error) {
	dataSource, ok := config["data_source"].(string)
	if !ok || dataSource == "" {
		return nil, errors.New("missing required field 'data_source'")
	}

	query, ok := config["content"].(string)
	if !ok || query == "" {
		return nil, errors.New("missing required field 'content'")
	}

	if deps.Sources == nil {
		return nil, errors.New("no data source resolver configured")
	}

	return &SQLSourceNode{
		id:         id,
		dataSource: dataSource,
		query:      query,
		user:       deps.User,
		sources:    deps.Sources,
	}, nil
}

func (n *SQLSourceNode) ID() string {
	return n.id
}

func (n *SQLSourceNode) Type() string {
	return "sql_source"
}

func (n *SQLSourceNode) Execute(ctx context.Context, inputs map[string]any, progress protocol.ProgressFunc) (any, error) {
	store, err := n.sources.OpenSource(ctx, n.dataSource, n.user)
	if err != nil {
		return nil, fmt.Errorf("failed to open data source %s: %w", n.dataSource, err)
	}

	defer func() { _ = store.Close() }()

	frame, err := store.Query(ctx, n.query)
	if err != nil {
		return nil, fmt.Errorf("query against %s failed: %w", n.dataSource, err)
	}

	progress(fmt.Sprintf("sql source %s returned %d rows", n.id, frame.Len()), protocol.SeverityInfo)

	return frame, nil
}
