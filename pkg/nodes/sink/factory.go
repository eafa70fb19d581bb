package sink

import (
	"context"

	"github.com/quantbench/quantflow/pkg/protocol"
)

// SinkNodeFactory creates SinkNode instances.
type SinkNodeFactory struct{}

func (f *SinkNodeFactory) Create(ctx context.Context, id string, config map[string]any, deps protocol.Dependencies) (protocol.Node, error) {
	return NewSinkNode(id, config, deps)
}

func (f *SinkNodeFactory) ID() string {
	return "db_sink"
}

func (f *SinkNodeFactory) Name() string {
	return "DB Sink"
}

func (f *SinkNodeFactory) Description() string {
	return "Upserts tabular input into a user sink table, creating or evolving the schema as needed"
}

func (f *SinkNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_create_table": map[string]any{"type": "boolean"},
			"table_name":      map[string]any{"type": "string"},
			"field_config": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"field_name":          map[string]any{"type": "string"},
						"field_type":          map[string]any{"type": "string", "enum": []string{"string", "float", "int", "bool", "datetime"}},
						"description":         map[string]any{"type": "string"},
						"is_primary_key":      map[string]any{"type": "boolean"},
						"is_nullable":         map[string]any{"type": "boolean"},
						"input_field_mapping": map[string]any{"type": "string"},
					},
					"required": []string{"field_name", "field_type"},
				},
			},
		},
		"required": []string{"table_name", "field_config"},
	}
}

func NewSinkNodeFactory() protocol.NodeFactory {
	return &SinkNodeFactory{}
}
