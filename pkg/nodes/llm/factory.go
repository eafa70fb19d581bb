package llm

import (
	"context"

	"github.com/quantbench/quantflow/pkg/protocol"
)

// LLMNodeFactory creates LLMNode instances.
type LLMNodeFactory struct{}

func (f *LLMNodeFactory) Create(ctx context.Context, id string, config map[string]any, deps protocol.Dependencies) (protocol.Node, error) {
	return NewLLMNode(id, config, deps)
}

func (f *LLMNodeFactory) ID() string {
	return "llm"
}

func (f *LLMNodeFactory) Name() string {
	return "LLM Transform"
}

func (f *LLMNodeFactory) Description() string {
	return "Completes a prompt template per input row and merges the model's JSON object back into the row"
}

func (f *LLMNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"model_id":        map[string]any{"type": "string"},
					"api_key":         map[string]any{"type": "string"},
					"prompt_template": map[string]any{"type": "string"},
				},
				"required": []string{"model_id", "prompt_template"},
			},
		},
		"required": []string{"content"},
	}
}

func NewLLMNodeFactory() protocol.NodeFactory {
	return &LLMNodeFactory{}
}
