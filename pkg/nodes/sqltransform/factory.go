package sqltransform

import (
	"context"

	"github.com/quantbench/quantflow/pkg/protocol"
)

// SQLTransformNodeFactory creates SQLTransformNode instances.
type SQLTransformNodeFactory struct{}

func (f *SQLTransformNodeFactory) Create(ctx context.Context, id string, config map[string]any, deps protocol.Dependencies) (protocol.Node, error) {
	return NewSQLTransformNode(id, config, deps)
}

func (f *SQLTransformNodeFactory) ID() string {
	return "sql_transform"
}

func (f *SQLTransformNodeFactory) Name() string {
	return "SQL Transform"
}

func (f *SQLTransformNodeFactory) Description() string {
	return "Registers each input as a temporary table named by its edge label and runs a SELECT over them"
}

func (f *SQLTransformNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "SELECT referencing inputs by edge label",
			},
		},
		"required": []string{"content"},
	}
}

func NewSQLTransformNodeFactory() protocol.NodeFactory {
	return &SQLTransformNodeFactory{}
}
