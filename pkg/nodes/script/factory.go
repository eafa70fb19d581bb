package script

import (
	"context"

	"github.com/quantbench/quantflow/pkg/protocol"
)

// ScriptNodeFactory creates ScriptNode instances.
type ScriptNodeFactory struct{}

func (f *ScriptNodeFactory) Create(ctx context.Context, id string, config map[string]any, deps protocol.Dependencies) (protocol.Node, error) {
	return NewScriptNode(id, config)
}

func (f *ScriptNodeFactory) ID() string {
	return "script"
}

func (f *ScriptNodeFactory) Name() string {
	return "Script Transform"
}

func (f *ScriptNodeFactory) Description() string {
	return "Runs user script code defining calc(inputs); edge labels are bound as globals and as properties of the calc argument"
}

func (f *ScriptNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "Script source defining a top-level calc function",
			},
		},
		"required": []string{"content"},
	}
}

func NewScriptNodeFactory() protocol.NodeFactory {
	return &ScriptNodeFactory{}
}
