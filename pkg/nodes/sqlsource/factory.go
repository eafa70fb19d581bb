package sqlsource

import (
	"context"

	"github.com/quantbench/quantflow/pkg/protocol"
)

// SQLSourceNodeFactory creates SQLSourceNode instances.
type SQLSourceNodeFactory struct{}

func (f *SQLSourceNodeFactory) Create(ctx context.Context, id string, config map[string]any, deps protocol.Dependencies) (protocol.Node, error) {
	return NewSQLSourceNode(id, config, deps)
}

func (f *SQLSourceNodeFactory) ID() string {
	return "sql_source"
}

func (f *SQLSourceNodeFactory) Name() string {
	return "SQL Source"
}

func (f *SQLSourceNodeFactory) Description() string {
	return "Runs a single SELECT against a named data source and emits the result frame"
}

func (f *SQLSourceNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"data_source": map[string]any{
				"type":        "string",
				"description": "Name of a catalog data source, or the reserved user-data source",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "SELECT statement to execute",
			},
		},
		"required": []string{"data_source", "content"},
	}
}

func NewSQLSourceNodeFactory() protocol.NodeFactory {
	return &SQLSourceNodeFactory{}
}
